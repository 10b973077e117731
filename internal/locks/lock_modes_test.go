package locks_test

import (
	"testing"

	"github.com/lockplane/lockstep/internal/locks"
)

func TestLockModeProperties(t *testing.T) {
	tests := []struct {
		mode         locks.LockMode
		name         string
		blocksReads  bool
		blocksWrites bool
		impact       locks.ImpactLevel
	}{
		{locks.LockAccessShare, "ACCESS SHARE", false, false, locks.ImpactNone},
		{locks.LockRowShare, "ROW SHARE", false, false, locks.ImpactNone},
		{locks.LockRowExclusive, "ROW EXCLUSIVE", false, false, locks.ImpactNone},
		{locks.LockShareUpdateExclusive, "SHARE UPDATE EXCLUSIVE", false, false, locks.ImpactLow},
		{locks.LockShare, "SHARE", false, true, locks.ImpactMedium},
		{locks.LockShareRowExclusive, "SHARE ROW EXCLUSIVE", false, true, locks.ImpactHigh},
		{locks.LockExclusive, "EXCLUSIVE", false, true, locks.ImpactHigh},
		{locks.LockAccessExclusive, "ACCESS EXCLUSIVE", true, true, locks.ImpactHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.name {
				t.Errorf("String() = %v, want %v", got, tt.name)
			}
			if got := tt.mode.BlocksReads(); got != tt.blocksReads {
				t.Errorf("BlocksReads() = %v, want %v", got, tt.blocksReads)
			}
			if got := tt.mode.BlocksWrites(); got != tt.blocksWrites {
				t.Errorf("BlocksWrites() = %v, want %v", got, tt.blocksWrites)
			}
			if got := tt.mode.ImpactLevel(); got != tt.impact {
				t.Errorf("ImpactLevel() = %v, want %v", got, tt.impact)
			}
		})
	}

	unknown := locks.LockMode(42)
	if got := unknown.String(); got != "UNKNOWN(42)" {
		t.Errorf("String() of unknown mode = %v", got)
	}
	if !unknown.BlocksReads() || unknown.ImpactLevel() != locks.ImpactHigh {
		t.Error("an unknown mode should be treated as the strongest")
	}
}

func TestLockModeBlocked(t *testing.T) {
	tests := []struct {
		mode locks.LockMode
		want string
	}{
		{locks.LockRowExclusive, ""},
		{locks.LockShareUpdateExclusive, ""},
		{locks.LockShare, "writes"},
		{locks.LockExclusive, "writes"},
		{locks.LockAccessExclusive, "reads and writes"},
	}
	for _, tt := range tests {
		if got := tt.mode.Blocked(); got != tt.want {
			t.Errorf("%v.Blocked() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestImpactLevelString(t *testing.T) {
	for level, want := range map[locks.ImpactLevel]string{
		locks.ImpactNone:   "NONE",
		locks.ImpactLow:    "LOW",
		locks.ImpactMedium: "MEDIUM",
		locks.ImpactHigh:   "HIGH",
	} {
		if got := level.String(); got != want {
			t.Errorf("ImpactLevel(%d).String() = %v, want %v", level, got, want)
		}
	}
}
