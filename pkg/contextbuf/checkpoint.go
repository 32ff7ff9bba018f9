package contextbuf

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// checkpoint is the on-disk shape of a saved buffer.
type checkpoint struct {
	Entries         []*Entry `json:"entries"`
	NextSeq         int      `json:"next_seq"`
	CurrentTokens   int      `json:"current_tokens"`
	TokensSaved     int      `json:"tokens_saved"`
	CompressionRuns int      `json:"compression_runs"`
	Dropped         int      `json:"dropped"`
}

// Save checkpoints the buffer to path. Called on clean shutdown and on
// demand.
func (b *Buffer) Save(path string) error {
	b.mu.Lock()
	cp := checkpoint{
		Entries:         b.entries,
		NextSeq:         b.nextSeq,
		CurrentTokens:   b.currentTokens,
		TokensSaved:     b.tokensSaved,
		CompressionRuns: b.compressionRuns,
		Dropped:         b.dropped,
	}
	b.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load restores a checkpoint. A missing file leaves the buffer empty;
// a corrupt one is logged and replaced with an empty buffer.
func (b *Buffer) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("Corrupt context checkpoint, starting empty", "path", path, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = cp.Entries
	b.nextSeq = cp.NextSeq
	b.currentTokens = cp.CurrentTokens
	b.tokensSaved = cp.TokensSaved
	b.compressionRuns = cp.CompressionRuns
	b.dropped = cp.Dropped
	return nil
}
