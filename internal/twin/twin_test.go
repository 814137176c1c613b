package twin

import (
	"testing"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"git_worktree", ModeGitWorktree, false},
		{"docker", ModeDocker, false},
		{" QEMU ", ModeQEMU, false},
		{"copy", ModeCopy, false},
		{"vm", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) expected error", tt.in)
				}
				if !errors.Is(err, errors.ErrInvalidMode) {
					t.Errorf("ParseMode(%q) error = %v, want ErrInvalidMode", tt.in, err)
				}
				if !errors.IsSetupError(err) {
					t.Errorf("invalid mode should be a setup error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTeamOpponent(t *testing.T) {
	if Red.Opponent() != Blue || Blue.Opponent() != Red {
		t.Error("Opponent() should swap teams")
	}
	if teams := Teams(); len(teams) != 2 || teams[0] != Red {
		t.Errorf("Teams() = %v, want red first", teams)
	}
}

func TestOptionsNaming(t *testing.T) {
	opts := Options{BattleID: "0123456789ABCDEF", Root: "/data/twins/b"}
	if got := opts.TeamDir(Red); got != "/data/twins/b/red" {
		t.Errorf("TeamDir(red) = %q", got)
	}
	if got := opts.ContainerName(Blue); got != "twinbattle-0123456789ab-blue" {
		t.Errorf("ContainerName(blue) = %q", got)
	}
}

func TestNewBackend(t *testing.T) {
	for _, mode := range []Mode{ModeGitWorktree, ModeDocker, ModeCopy} {
		b, err := NewBackend(mode, Options{Target: t.TempDir(), Root: t.TempDir()})
		if err != nil {
			t.Fatalf("NewBackend(%s) error = %v", mode, err)
		}
		if b.Mode() != mode {
			t.Errorf("NewBackend(%s).Mode() = %s", mode, b.Mode())
		}
	}

	if _, err := NewBackend("vm", Options{}); !errors.Is(err, errors.ErrInvalidMode) {
		t.Errorf("NewBackend(vm) error = %v, want ErrInvalidMode", err)
	}
}
