package tools

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

// defaultCommandTimeout accommodates host rebuilds.
const defaultCommandTimeout = time.Hour

// safeCommands is the allow-list applied in safe mode, matched against
// the command's first token.
var safeCommands = map[string]bool{
	"journalctl": true, "systemctl": true, "df": true, "free": true,
	"ps": true, "ss": true, "netstat": true, "du": true, "ls": true,
	"cat": true, "uptime": true, "uname": true, "lscpu": true,
	"nvidia-smi": true, "ping": true, "ip": true, "who": true,
}

func (c *Catalogue) executeCommand(ctx context.Context, args map[string]any) models.ToolResult {
	command := argString(args, "command", "")
	if command == "" {
		return models.ToolResult{Success: false, Error: "command is required"}
	}
	if c.safeMode {
		first := strings.Fields(command)
		if len(first) == 0 || !safeCommands[first[0]] {
			return models.ToolResult{Success: false,
				Error: fmt.Sprintf("command %q not permitted in safe mode", command)}
		}
	}

	timeout := time.Duration(argInt(args, "timeout", int(defaultCommandTimeout.Seconds()))) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return models.ToolResult{Success: false, Output: string(out),
			Error: fmt.Sprintf("command timed out after %s", timeout)}
	}
	if err != nil {
		return models.ToolResult{Success: false, Output: string(out), Error: err.Error()}
	}
	return models.ToolResult{Success: true, Output: string(out)}
}

func (c *Catalogue) readFile(args map[string]any) models.ToolResult {
	path := argString(args, "path", "")
	if path == "" {
		return models.ToolResult{Success: false, Error: "path is required"}
	}
	maxLines := argInt(args, "max_lines", 500)

	info, err := os.Stat(path)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("%s is not a regular file", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	lines := strings.Split(string(data), "\n")
	truncated := false
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		truncated = true
	}
	out := strings.Join(lines, "\n")
	if truncated {
		out += fmt.Sprintf("\n... [truncated at %d lines]", maxLines)
	}
	return models.ToolResult{Success: true, Output: out}
}

func (c *Catalogue) checkServiceStatus(ctx context.Context, args map[string]any) models.ToolResult {
	name := argString(args, "name", "")
	if name == "" {
		return models.ToolResult{Success: false, Error: "name is required"}
	}

	var sb strings.Builder
	run := func(label string, cmd ...string) {
		out, _ := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
		fmt.Fprintf(&sb, "%s: %s\n", label, strings.TrimSpace(string(out)))
	}
	run("active", "systemctl", "is-active", name)
	run("enabled", "systemctl", "is-enabled", name)
	run("status", "systemctl", "status", name, "--no-pager", "--lines=0")
	run("recent logs", "journalctl", "-u", name, "-n", "10", "--no-pager", "-q")

	return models.ToolResult{Success: true, Output: sb.String()}
}

func (c *Catalogue) viewLogs(ctx context.Context, args map[string]any) models.ToolResult {
	cmdArgs := []string{"--no-pager", "-q", "-n", fmt.Sprint(argInt(args, "lines", 50))}
	if unit := argString(args, "unit", ""); unit != "" {
		cmdArgs = append(cmdArgs, "-u", unit)
	}
	if prio := argString(args, "priority", ""); prio != "" {
		cmdArgs = append(cmdArgs, "-p", prio)
	}

	out, err := exec.CommandContext(ctx, "journalctl", cmdArgs...).CombinedOutput()
	if err != nil {
		return models.ToolResult{Success: false, Output: string(out), Error: err.Error()}
	}
	return models.ToolResult{Success: true, Output: string(out)}
}

func (c *Catalogue) getSystemMetrics(ctx context.Context) models.ToolResult {
	var sb strings.Builder
	for _, probe := range [][]string{
		{"uptime"},
		{"free", "-h"},
		{"df", "-h", "/"},
	} {
		out, err := exec.CommandContext(ctx, probe[0], probe[1:]...).CombinedOutput()
		if err != nil {
			continue
		}
		sb.Write(out)
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return models.ToolResult{Success: false, Error: "no metric probes succeeded"}
	}
	return models.ToolResult{Success: true, Output: sb.String()}
}

func (c *Catalogue) getHardwareInfo(ctx context.Context) models.ToolResult {
	var sb strings.Builder
	if out, err := exec.CommandContext(ctx, "lscpu").CombinedOutput(); err == nil {
		sb.Write(out)
	} else if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		sb.Write(data)
	}
	if out, err := exec.CommandContext(ctx, "uname", "-a").CombinedOutput(); err == nil {
		sb.Write(out)
	}
	if sb.Len() == 0 {
		return models.ToolResult{Success: false, Error: "no hardware probes succeeded"}
	}
	return models.ToolResult{Success: true, Output: sb.String()}
}

func (c *Catalogue) getGPUMetrics(ctx context.Context) models.ToolResult {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader").CombinedOutput()
	if err != nil {
		return models.ToolResult{Success: false, Error: "no GPU metrics available: " + err.Error()}
	}
	return models.ToolResult{Success: true, Output: string(out)}
}

func (c *Catalogue) listDirectory(args map[string]any) models.ToolResult {
	path := argString(args, "path", "")
	if path == "" {
		return models.ToolResult{Success: false, Error: "path is required"}
	}
	showHidden := argBool(args, "show_hidden", false)

	entries, err := os.ReadDir(path)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	for _, e := range entries {
		name := e.Name()
		if !showHidden && strings.HasPrefix(name, ".") {
			continue
		}
		size := int64(0)
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		kind := "f"
		if e.IsDir() {
			kind = "d"
		}
		fmt.Fprintf(&sb, "%s %10d %s\n", kind, size, filepath.Join(path, name))
	}
	return models.ToolResult{Success: true, Output: sb.String()}
}

func (c *Catalogue) checkNetwork(ctx context.Context, args map[string]any) models.ToolResult {
	host := argString(args, "host", "")
	if host == "" {
		return models.ToolResult{Success: false, Error: "host is required"}
	}

	switch method := argString(args, "method", "ping"); method {
	case "ping":
		out, err := exec.CommandContext(ctx, "ping", "-c", "3", "-W", "2", host).CombinedOutput()
		if err != nil {
			return models.ToolResult{Success: false, Output: string(out), Error: err.Error()}
		}
		return models.ToolResult{Success: true, Output: string(out)}

	case "http":
		url := host
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "http://" + url
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return models.ToolResult{Success: false, Error: err.Error()}
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return models.ToolResult{Success: false, Error: err.Error()}
		}
		resp.Body.Close()
		return models.ToolResult{Success: true,
			Output: fmt.Sprintf("%s responded with %s", url, resp.Status)}

	default:
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown method %q", method)}
	}
}

func (c *Catalogue) retrieveCachedOutput(args map[string]any) models.ToolResult {
	id := argString(args, "cache_id", "")
	if id == "" {
		return models.ToolResult{Success: false, Error: "cache_id is required"}
	}
	if c.cache == nil {
		return models.ToolResult{Success: false, Error: "tool cache not configured"}
	}
	text, err := c.cache.Get(id, argInt(args, "max_chars", 10000))
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	return models.ToolResult{Success: true, Output: text}
}

func (c *Catalogue) sendNotification(ctx context.Context, args map[string]any) models.ToolResult {
	title := argString(args, "title", "")
	message := argString(args, "message", "")
	if title == "" || message == "" {
		return models.ToolResult{Success: false, Error: "title and message are required"}
	}
	priority := argString(args, "priority", "default")
	if err := c.notifier.Send(ctx, title, message, priority); err != nil {
		return models.ToolResult{Success: false, Error: err.Error()}
	}
	return models.ToolResult{Success: true, Output: "notification sent"}
}
