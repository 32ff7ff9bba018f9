package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/llmqueue"
)

func newWorkerCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the standalone LLM queue worker",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := loadConfig()
			if err != nil {
				slog.Error("Unrecoverable initialization failure", "error", err)
				os.Exit(2)
			}

			queue, err := llmqueue.Open(filepath.Join(cfg.StateDir, "queues", "ollama"))
			if err != nil {
				slog.Error("Failed to open queue directory", "error", err)
				os.Exit(2)
			}
			backend := llm.NewOllamaBackend(cfg.Inference.BackendURL)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			worker := llmqueue.NewWorker(queue, backend, retention)
			worker.Start(ctx)
			<-ctx.Done()
			worker.Stop()
			fmt.Printf("worker stopped after %d requests\n", worker.Processed())
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", time.Hour, "age past which finished requests are evicted")
	return cmd
}
