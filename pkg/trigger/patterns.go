package trigger

import (
	"regexp"

	"github.com/wardenhq/warden/pkg/models"
)

// LogPattern pairs a compiled journal regex with the event it raises.
// Patterns are checked in order; the first match wins.
type LogPattern struct {
	Regex       *regexp.Regexp
	Severity    models.Severity
	Description string
}

// DefaultLogPatterns covers the failure signatures worth waking the
// review layer for. All matching is case-insensitive.
func DefaultLogPatterns() []LogPattern {
	mk := func(expr string, sev models.Severity, desc string) LogPattern {
		return LogPattern{
			Regex:       regexp.MustCompile("(?i)" + expr),
			Severity:    sev,
			Description: desc,
		}
	}
	return []LogPattern{
		mk(`out of memory|oom-?kill`, models.SeverityCritical, "Out of memory condition"),
		mk(`kernel panic`, models.SeverityCritical, "Kernel panic"),
		mk(`no space left on device`, models.SeverityHigh, "Filesystem full"),
		mk(`read-?only file ?system`, models.SeverityHigh, "Filesystem remounted read-only"),
		mk(`segfault|segmentation fault`, models.SeverityHigh, "Process segfault"),
		mk(`i/o error|ata error|medium error`, models.SeverityHigh, "Disk I/O error"),
		mk(`failed to start`, models.SeverityMedium, "Unit failed to start"),
		mk(`authentication failure|failed password`, models.SeverityMedium, "Authentication failure"),
		mk(`temperature above threshold|thermal throttling`, models.SeverityMedium, "Thermal throttling"),
		mk(`connection refused.*repeated|too many open files`, models.SeverityMedium, "Resource exhaustion"),
	}
}
