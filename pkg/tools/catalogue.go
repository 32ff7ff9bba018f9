// Package tools is the fixed catalogue of read-oriented probes exposed
// to the meta layer's tool-calling loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/notify"
)

// Kind enumerates every tool in the catalogue. Dispatch switches over
// Kind exhaustively, so a new tool that misses a handler fails loudly
// in tests rather than silently at runtime.
type Kind int

// Tool kinds.
const (
	KindExecuteCommand Kind = iota
	KindReadFile
	KindCheckServiceStatus
	KindViewLogs
	KindGetSystemMetrics
	KindGetHardwareInfo
	KindGetGPUMetrics
	KindListDirectory
	KindCheckNetwork
	KindRetrieveCachedOutput
	KindSendNotification
)

// Name returns the wire name the model calls the tool by.
func (k Kind) Name() string {
	switch k {
	case KindExecuteCommand:
		return "execute_command"
	case KindReadFile:
		return "read_file"
	case KindCheckServiceStatus:
		return "check_service_status"
	case KindViewLogs:
		return "view_logs"
	case KindGetSystemMetrics:
		return "get_system_metrics"
	case KindGetHardwareInfo:
		return "get_hardware_info"
	case KindGetGPUMetrics:
		return "get_gpu_metrics"
	case KindListDirectory:
		return "list_directory"
	case KindCheckNetwork:
		return "check_network"
	case KindRetrieveCachedOutput:
		return "retrieve_cached_output"
	case KindSendNotification:
		return "send_notification"
	}
	return fmt.Sprintf("unknown_tool_%d", int(k))
}

// AllKinds lists the catalogue in a stable order.
func AllKinds() []Kind {
	return []Kind{
		KindExecuteCommand,
		KindReadFile,
		KindCheckServiceStatus,
		KindViewLogs,
		KindGetSystemMetrics,
		KindGetHardwareInfo,
		KindGetGPUMetrics,
		KindListDirectory,
		KindCheckNetwork,
		KindRetrieveCachedOutput,
		KindSendNotification,
	}
}

// KindByName resolves a wire name back to its Kind.
func KindByName(name string) (Kind, bool) {
	for _, k := range AllKinds() {
		if k.Name() == name {
			return k, true
		}
	}
	return 0, false
}

// Catalogue binds the tool kinds to their runtime dependencies.
type Catalogue struct {
	cache    *Cache
	notifier notify.Notifier
	safeMode bool
}

// New creates the catalogue. safeMode restricts execute_command to an
// allow-list of base commands.
func New(cache *Cache, notifier notify.Notifier, safeMode bool) *Catalogue {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Catalogue{cache: cache, notifier: notifier, safeMode: safeMode}
}

// Cache exposes the output cache shared with the meta layer.
func (c *Catalogue) Cache() *Cache { return c.cache }

// Defs returns the catalogue in the shape the inference backend expects.
func (c *Catalogue) Defs() []models.ToolDef {
	defs := make([]models.ToolDef, 0, len(AllKinds()))
	for _, k := range AllKinds() {
		defs = append(defs, models.ToolDef{
			Type: "function",
			Function: models.ToolDefFunction{
				Name:        k.Name(),
				Description: describe(k),
				Parameters:  schema(k),
			},
		})
	}
	return defs
}

func describe(k Kind) string {
	switch k {
	case KindExecuteCommand:
		return "Run a shell command on the host and return its output. Long-running commands are allowed; default timeout is one hour."
	case KindReadFile:
		return "Read a text file from the host, up to max_lines lines."
	case KindCheckServiceStatus:
		return "Report a systemd unit's active/enabled state, status text and recent log lines."
	case KindViewLogs:
		return "Read journal entries, optionally filtered by unit and priority."
	case KindGetSystemMetrics:
		return "Return uptime, memory and disk usage summaries."
	case KindGetHardwareInfo:
		return "Return CPU and hardware details. Best effort."
	case KindGetGPUMetrics:
		return "Return GPU utilisation and memory if a GPU is present. Best effort."
	case KindListDirectory:
		return "List a directory's entries with sizes."
	case KindCheckNetwork:
		return "Check reachability of a host via ping or http."
	case KindRetrieveCachedOutput:
		return "Retrieve the full output behind a cache id returned by an earlier summarised tool result."
	case KindSendNotification:
		return "Send a notification to the operator."
	}
	return ""
}

func schema(k Kind) json.RawMessage {
	switch k {
	case KindExecuteCommand:
		return json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"integer","description":"seconds, default 3600"}},"required":["command"]}`)
	case KindReadFile:
		return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"max_lines":{"type":"integer","default":500}},"required":["path"]}`)
	case KindCheckServiceStatus:
		return json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	case KindViewLogs:
		return json.RawMessage(`{"type":"object","properties":{"unit":{"type":"string"},"lines":{"type":"integer","default":50},"priority":{"type":"string"}}}`)
	case KindGetSystemMetrics, KindGetHardwareInfo, KindGetGPUMetrics:
		return json.RawMessage(`{"type":"object","properties":{}}`)
	case KindListDirectory:
		return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"show_hidden":{"type":"boolean","default":false}},"required":["path"]}`)
	case KindCheckNetwork:
		return json.RawMessage(`{"type":"object","properties":{"host":{"type":"string"},"method":{"type":"string","enum":["ping","http"]}},"required":["host"]}`)
	case KindRetrieveCachedOutput:
		return json.RawMessage(`{"type":"object","properties":{"cache_id":{"type":"string"},"max_chars":{"type":"integer","default":10000}},"required":["cache_id"]}`)
	case KindSendNotification:
		return json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"message":{"type":"string"},"priority":{"type":"string"}},"required":["title","message"]}`)
	}
	return json.RawMessage(`{"type":"object"}`)
}

// Dispatch runs the named tool. Tools are total: every failure comes
// back as a structured result, never an error.
func (c *Catalogue) Dispatch(ctx context.Context, name string, args map[string]any) models.ToolResult {
	kind, ok := KindByName(name)
	if !ok {
		return models.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
	}

	switch kind {
	case KindExecuteCommand:
		return c.executeCommand(ctx, args)
	case KindReadFile:
		return c.readFile(args)
	case KindCheckServiceStatus:
		return c.checkServiceStatus(ctx, args)
	case KindViewLogs:
		return c.viewLogs(ctx, args)
	case KindGetSystemMetrics:
		return c.getSystemMetrics(ctx)
	case KindGetHardwareInfo:
		return c.getHardwareInfo(ctx)
	case KindGetGPUMetrics:
		return c.getGPUMetrics(ctx)
	case KindListDirectory:
		return c.listDirectory(args)
	case KindCheckNetwork:
		return c.checkNetwork(ctx, args)
	case KindRetrieveCachedOutput:
		return c.retrieveCachedOutput(args)
	case KindSendNotification:
		return c.sendNotification(ctx, args)
	}
	return models.ToolResult{Success: false, Error: fmt.Sprintf("no handler for tool %q", name)}
}

// Argument helpers. Model-produced arguments arrive as generic JSON.

func argString(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}
