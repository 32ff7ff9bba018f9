package sysprobe

import "context"

// Metrics is one snapshot of the host's headline numbers.
type Metrics struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	LoadPerCPU    float64
}

// UnitState describes one systemd unit at a point in time.
type UnitState struct {
	Name        string
	Exists      bool
	ActiveState string // active, activating, failed, inactive, ...
	SubState    string
}

// JournalRecord is one journal entry yielded by a cursor read.
type JournalRecord struct {
	Cursor   string
	Priority int // syslog priority, 0 (emerg) to 7 (debug)
	Unit     string
	Message  string
}

// Source is the abstract signal source the trigger layer reads from.
// Implementations must isolate failures: one failing probe returns its
// own error without poisoning the others.
type Source interface {
	// MetricsSnapshot returns the current headline metrics.
	MetricsSnapshot(ctx context.Context) (Metrics, error)

	// UnitStatus reports the state of one systemd unit. A unit that
	// does not exist is reported with Exists=false, not an error.
	UnitStatus(ctx context.Context, name string) (UnitState, error)

	// JournalAfter returns all records strictly after cursor, plus the
	// new cursor. An empty cursor means "5 minutes ago".
	JournalAfter(ctx context.Context, cursor string) (string, []JournalRecord, error)
}
