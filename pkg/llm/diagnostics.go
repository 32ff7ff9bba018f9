package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Diagnose returns a short human-readable snapshot of the backend's
// health. It is attached to user-visible failure messages.
func Diagnose(ctx context.Context, b Backend) string {
	var sb strings.Builder
	sb.WriteString("backend diagnostics:\n")
	fmt.Fprintf(&sb, "  available: %v\n", b.IsAvailable(ctx))
	fmt.Fprintf(&sb, "  checked_at: %s\n", time.Now().UTC().Format(time.RFC3339))

	if mem := hostMemorySummary(); mem != "" {
		fmt.Fprintf(&sb, "  memory: %s\n", mem)
	}
	return sb.String()
}

// hostMemorySummary reads total and available memory from /proc/meminfo.
// Best effort; returns "" on any failure.
func hostMemorySummary() string {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return ""
	}
	var total, avail string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = fields[1] + " kB total"
		case "MemAvailable:":
			avail = fields[1] + " kB available"
		}
	}
	if total == "" {
		return ""
	}
	if avail == "" {
		return total
	}
	return total + ", " + avail
}
