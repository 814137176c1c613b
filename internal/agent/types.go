package agent

import (
	"strings"

	"github.com/Iron-Ham/twinbattle/internal/twin"
)

// Role parameterizes the shared cognition loop.
type Role string

const (
	RoleAttacker Role = "attacker"
	RoleDefender Role = "defender"
)

// Team returns the team that plays role.
func (r Role) Team() twin.Team {
	if r == RoleDefender {
		return twin.Blue
	}
	return twin.Red
}

// RoleFor returns the role played by team.
func RoleFor(team twin.Team) Role {
	if team == twin.Blue {
		return RoleDefender
	}
	return RoleAttacker
}

// AttackType is the closed set of finding categories.
type AttackType string

const (
	AttackBufferOverflow   AttackType = "buffer_overflow"
	AttackMemoryCorruption AttackType = "memory_corruption"
	AttackSQLInjection     AttackType = "sql_injection"
	AttackCommandInjection AttackType = "command_injection"
	AttackXSS              AttackType = "xss"
	AttackPathTraversal    AttackType = "path_traversal"
	AttackAuthBypass       AttackType = "auth_bypass"
	AttackCryptoWeakness   AttackType = "crypto_weakness"
	AttackInfoDisclosure   AttackType = "info_disclosure"
	AttackDenialOfService  AttackType = "denial_of_service"
	AttackBackdoor         AttackType = "backdoor"
	AttackOther            AttackType = "other"
)

var attackAliases = map[string]AttackType{
	"buffer_overflow":        AttackBufferOverflow,
	"stack_overflow":         AttackBufferOverflow,
	"heap_overflow":          AttackBufferOverflow,
	"memory_corruption":      AttackMemoryCorruption,
	"use_after_free":         AttackMemoryCorruption,
	"double_free":            AttackMemoryCorruption,
	"sql_injection":          AttackSQLInjection,
	"sqli":                   AttackSQLInjection,
	"command_injection":      AttackCommandInjection,
	"os_command_injection":   AttackCommandInjection,
	"rce":                    AttackCommandInjection,
	"xss":                    AttackXSS,
	"cross_site_scripting":   AttackXSS,
	"path_traversal":         AttackPathTraversal,
	"directory_traversal":    AttackPathTraversal,
	"auth_bypass":            AttackAuthBypass,
	"authentication_bypass":  AttackAuthBypass,
	"crypto_weakness":        AttackCryptoWeakness,
	"weak_crypto":            AttackCryptoWeakness,
	"info_disclosure":        AttackInfoDisclosure,
	"information_disclosure": AttackInfoDisclosure,
	"hardcoded_secret":       AttackInfoDisclosure,
	"denial_of_service":      AttackDenialOfService,
	"dos":                    AttackDenialOfService,
	"backdoor":               AttackBackdoor,
}

// ParseAttackType maps a tool-reported category onto the closed set.
// Unrecognized values become AttackOther.
func ParseAttackType(s string) AttackType {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if t, ok := attackAliases[key]; ok {
		return t
	}
	return AttackOther
}

// DefenseType is the closed set of patch categories.
type DefenseType string

const (
	DefenseBoundsCheck      DefenseType = "bounds_check"
	DefenseMemorySafety     DefenseType = "memory_safety"
	DefenseInputValidation  DefenseType = "input_validation"
	DefenseOutputEncoding   DefenseType = "output_encoding"
	DefenseAccessControl    DefenseType = "access_control"
	DefenseCryptoHardening  DefenseType = "crypto_hardening"
	DefenseSecretRemoval    DefenseType = "secret_removal"
	DefenseRateLimiting     DefenseType = "rate_limiting"
	DefenseCodeRemoval      DefenseType = "code_removal"
	DefenseGenericHardening DefenseType = "generic_hardening"
)

var defenseFor = map[AttackType]DefenseType{
	AttackBufferOverflow:   DefenseBoundsCheck,
	AttackMemoryCorruption: DefenseMemorySafety,
	AttackSQLInjection:     DefenseInputValidation,
	AttackCommandInjection: DefenseInputValidation,
	AttackPathTraversal:    DefenseInputValidation,
	AttackXSS:              DefenseOutputEncoding,
	AttackAuthBypass:       DefenseAccessControl,
	AttackCryptoWeakness:   DefenseCryptoHardening,
	AttackInfoDisclosure:   DefenseSecretRemoval,
	AttackDenialOfService:  DefenseRateLimiting,
	AttackBackdoor:         DefenseCodeRemoval,
}

// DefenseFor returns the usual defense against t.
func DefenseFor(t AttackType) DefenseType {
	if d, ok := defenseFor[t]; ok {
		return d
	}
	return DefenseGenericHardening
}

// ParseDefenseType maps a tool-reported patch type onto the closed set,
// falling back to the usual defense for the finding.
func ParseDefenseType(s string, against AttackType) DefenseType {
	d := DefenseType(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DefenseBoundsCheck, DefenseMemorySafety, DefenseInputValidation, DefenseOutputEncoding,
		DefenseAccessControl, DefenseCryptoHardening, DefenseSecretRemoval, DefenseRateLimiting,
		DefenseCodeRemoval, DefenseGenericHardening:
		return d
	}
	return DefenseFor(against)
}

// Severity of a finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps tool output onto Severity. Unknown values are low.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium, "moderate":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Weight is the scoring multiplier for s.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Finding is one vulnerability the Attacker found in its twin.
type Finding struct {
	ID          string     `json:"id"`
	Type        AttackType `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	FilePath    string     `json:"file_path,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// IssueText is what the Defender hands the patch tool.
func (f Finding) IssueText() string {
	var sb strings.Builder
	sb.WriteString(string(f.Type))
	if f.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Description)
	}
	if f.FilePath != "" {
		sb.WriteString(" (")
		sb.WriteString(f.FilePath)
		sb.WriteString(")")
	}
	return sb.String()
}

// Patch is the Defender's response to one Finding.
type Patch struct {
	ID                     string      `json:"id"`
	FindingID              string      `json:"finding_id"`
	Type                   DefenseType `json:"type"`
	Diff                   string      `json:"diff,omitempty"`
	Verified               bool        `json:"verified"`
	FunctionalityPreserved bool        `json:"functionality_preserved"`
}
