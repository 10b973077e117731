package locks

import "fmt"

// LockMode is a Postgres table-level lock mode. The constants run from the
// weakest to the strongest, so a step's lock is the max over its statements.
// https://www.postgresql.org/docs/current/explicit-locking.html
type LockMode int

const (
	LockAccessShare LockMode = iota
	LockRowShare
	LockRowExclusive
	LockShareUpdateExclusive
	LockShare
	LockShareRowExclusive
	LockExclusive
	LockAccessExclusive
)

// ImpactLevel grades how badly a held lock stalls application traffic on
// the same table.
type ImpactLevel int

const (
	ImpactNone ImpactLevel = iota
	ImpactLow
	ImpactMedium
	ImpactHigh
)

type modeInfo struct {
	name   string
	impact ImpactLevel
	// what application queries queue behind the lock while it is held
	stalls traffic
}

type traffic int

const (
	stallsNothing traffic = iota
	stallsWrites
	stallsAll
)

var lockModes = [...]modeInfo{
	LockAccessShare:          {"ACCESS SHARE", ImpactNone, stallsNothing},
	LockRowShare:             {"ROW SHARE", ImpactNone, stallsNothing},
	LockRowExclusive:         {"ROW EXCLUSIVE", ImpactNone, stallsNothing},
	LockShareUpdateExclusive: {"SHARE UPDATE EXCLUSIVE", ImpactLow, stallsNothing},
	LockShare:                {"SHARE", ImpactMedium, stallsWrites},
	LockShareRowExclusive:    {"SHARE ROW EXCLUSIVE", ImpactHigh, stallsWrites},
	LockExclusive:            {"EXCLUSIVE", ImpactHigh, stallsWrites},
	LockAccessExclusive:      {"ACCESS EXCLUSIVE", ImpactHigh, stallsAll},
}

func (l LockMode) info() (modeInfo, bool) {
	if l < 0 || int(l) >= len(lockModes) {
		return modeInfo{}, false
	}
	return lockModes[l], true
}

func (l LockMode) String() string {
	if m, ok := l.info(); ok {
		return m.name
	}
	return fmt.Sprintf("UNKNOWN(%d)", l)
}

// BlocksReads reports whether plain SELECTs on the table wait for the lock.
func (l LockMode) BlocksReads() bool {
	m, ok := l.info()
	return !ok || m.stalls == stallsAll
}

// BlocksWrites reports whether INSERT, UPDATE and DELETE wait for the lock.
func (l LockMode) BlocksWrites() bool {
	m, ok := l.info()
	return !ok || m.stalls >= stallsWrites
}

// Blocked names the traffic the lock holds up, for warnings: "reads and
// writes", "writes" or "".
func (l LockMode) Blocked() string {
	switch {
	case l.BlocksReads():
		return "reads and writes"
	case l.BlocksWrites():
		return "writes"
	default:
		return ""
	}
}

// ImpactLevel treats modes it does not know as the worst case.
func (l LockMode) ImpactLevel() ImpactLevel {
	if m, ok := l.info(); ok {
		return m.impact
	}
	return ImpactHigh
}

func (i ImpactLevel) String() string {
	switch i {
	case ImpactNone:
		return "NONE"
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}
