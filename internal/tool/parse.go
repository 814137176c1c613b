package tool

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFindings accepts either {"findings": [...]} or a bare array. Entries
// without a type and description are dropped. Unparseable input returns no
// findings and an error describing why.
func ParseFindings(stdout string) ([]AuditFinding, error) {
	data := strings.TrimSpace(stdout)
	if data == "" {
		return nil, nil
	}

	var raw []json.RawMessage
	switch data[0] {
	case '[':
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("malformed findings array: %w", err)
		}
	case '{':
		var wrapper struct {
			Findings []json.RawMessage `json:"findings"`
		}
		if err := json.Unmarshal([]byte(data), &wrapper); err != nil {
			return nil, fmt.Errorf("malformed findings document: %w", err)
		}
		raw = wrapper.Findings
	default:
		return nil, fmt.Errorf("audit output is not JSON")
	}

	findings := make([]AuditFinding, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		var f AuditFinding
		if err := json.Unmarshal(r, &f); err != nil {
			dropped++
			continue
		}
		f.Type = strings.TrimSpace(f.Type)
		f.Description = strings.TrimSpace(f.Description)
		if f.Type == "" && f.Description == "" {
			dropped++
			continue
		}
		findings = append(findings, f)
	}
	if dropped > 0 {
		return findings, fmt.Errorf("dropped %d malformed finding(s)", dropped)
	}
	return findings, nil
}
