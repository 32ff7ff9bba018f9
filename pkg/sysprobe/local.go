package sysprobe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LocalSource reads signals from the machine it runs on: /proc for
// metrics, systemctl for unit state, journalctl for log records.
type LocalSource struct {
	rootPath string // filesystem whose usage is reported, default "/"

	prevIdle  uint64
	prevTotal uint64
}

// NewLocalSource creates a source probing the local host.
func NewLocalSource() *LocalSource {
	return &LocalSource{rootPath: "/"}
}

// MetricsSnapshot gathers cpu, memory, disk and load figures. Each
// probe fails independently; the first failure is returned but the
// remaining fields are still populated where possible.
func (s *LocalSource) MetricsSnapshot(ctx context.Context) (Metrics, error) {
	var m Metrics
	var firstErr error

	cpu, err := s.cpuPercent()
	if err != nil {
		firstErr = fmt.Errorf("cpu probe: %w", err)
	} else {
		m.CPUPercent = cpu
	}

	mem, err := memoryPercent()
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("memory probe: %w", err)
	} else if err == nil {
		m.MemoryPercent = mem
	}

	disk, err := diskPercent(s.rootPath)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("disk probe: %w", err)
	} else if err == nil {
		m.DiskPercent = disk
	}

	load, err := loadPerCPU()
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("load probe: %w", err)
	} else if err == nil {
		m.LoadPerCPU = load
	}

	return m, firstErr
}

// cpuPercent derives utilisation from the delta between this and the
// previous read of /proc/stat. The first call reports against boot
// totals, which is close enough for threshold checks.
func (s *LocalSource) cpuPercent() (float64, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected /proc/stat format")
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return 0, err
		}
		total += v
		if i == 3 || i == 4 { // idle + iowait
			idle += v
		}
	}

	dTotal := total - s.prevTotal
	dIdle := idle - s.prevIdle
	s.prevTotal, s.prevIdle = total, idle
	if dTotal == 0 {
		return 0, nil
	}
	return 100 * float64(dTotal-dIdle) / float64(dTotal), nil
}

func memoryPercent() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	var total, avail float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			avail = v
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("MemTotal not found in /proc/meminfo")
	}
	return 100 * (total - avail) / total, nil
}

func diskPercent(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := float64(st.Blocks) * float64(st.Bsize)
	if total == 0 {
		return 0, fmt.Errorf("statfs reported zero blocks for %s", path)
	}
	free := float64(st.Bavail) * float64(st.Bsize)
	return 100 * (total - free) / total, nil
}

func loadPerCPU() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	load1, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	cpus := runtime.NumCPU()
	if cpus == 0 {
		cpus = 1
	}
	return load1 / float64(cpus), nil
}

// UnitStatus queries systemctl for one unit's state.
func (s *LocalSource) UnitStatus(ctx context.Context, name string) (UnitState, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "show", name,
		"--property=LoadState,ActiveState,SubState", "--no-pager").Output()
	if err != nil {
		return UnitState{Name: name}, fmt.Errorf("systemctl show %s: %w", name, err)
	}

	state := UnitState{Name: name}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch key {
		case "LoadState":
			state.Exists = value != "not-found"
		case "ActiveState":
			state.ActiveState = value
		case "SubState":
			state.SubState = value
		}
	}
	return state, nil
}

// journalEntry is the subset of journalctl -o json output we read.
type journalEntry struct {
	Cursor   string `json:"__CURSOR"`
	Priority string `json:"PRIORITY"`
	Unit     string `json:"_SYSTEMD_UNIT"`
	Message  any    `json:"MESSAGE"`
}

// JournalAfter reads journal records after the cursor. With no cursor
// it starts from five minutes ago.
func (s *LocalSource) JournalAfter(ctx context.Context, cursor string) (string, []JournalRecord, error) {
	args := []string{"-o", "json", "--no-pager", "-q"}
	if cursor != "" {
		args = append(args, "--after-cursor", cursor)
	} else {
		args = append(args, "--since", time.Now().Add(-5*time.Minute).Format("2006-01-02 15:04:05"))
	}

	out, err := exec.CommandContext(ctx, "journalctl", args...).Output()
	if err != nil {
		return cursor, nil, fmt.Errorf("journalctl: %w", err)
	}

	var records []JournalRecord
	newCursor := cursor
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		prio := 6
		if p, err := strconv.Atoi(entry.Priority); err == nil {
			prio = p
		}
		msg := ""
		switch v := entry.Message.(type) {
		case string:
			msg = v
		case []any:
			// Binary messages arrive as byte arrays.
			b := make([]byte, 0, len(v))
			for _, x := range v {
				if f, ok := x.(float64); ok {
					b = append(b, byte(f))
				}
			}
			msg = string(b)
		}
		records = append(records, JournalRecord{
			Cursor:   entry.Cursor,
			Priority: prio,
			Unit:     entry.Unit,
			Message:  msg,
		})
		if entry.Cursor != "" {
			newCursor = entry.Cursor
		}
	}
	return newCursor, records, nil
}
