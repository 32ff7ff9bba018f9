package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/pkg/executor"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/llmqueue"
	"github.com/wardenhq/warden/pkg/meta"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/notify"
	"github.com/wardenhq/warden/pkg/tools"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

// buildExecutor wires just enough for the approval commands: the
// executor plus the learning hook. Operator sessions may not be able
// to write the queue directory, so dispatch degrades to direct calls.
func buildExecutor() (*executor.Executor, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	backend := llm.NewOllamaBackend(cfg.Inference.BackendURL)
	queue, err := llmqueue.Open(filepath.Join(cfg.StateDir, "queues", "ollama"))
	if err != nil {
		queue = nil
	}
	dispatcher := llmqueue.NewDispatcher(queue, backend, models.PriorityInteractive, 0)

	var reflect executor.ReflectFunc
	cleanup := func() {}
	vectors, err := vectorstore.Open(filepath.Join(cfg.StateDir, "vectors.db"))
	if err == nil {
		catalogue := tools.New(
			tools.NewCache(filepath.Join(cfg.StateDir, "tool_cache")),
			notify.LogNotifier{},
			true,
		)
		reflect = meta.New(dispatcher, catalogue, vectors, cfg.Inference.MetaModel).Reflect
		cleanup = func() {
			if cerr := vectors.Close(); cerr != nil {
				slog.Warn("Failed to close vector store", "error", cerr)
			}
		}
	} else {
		slog.Warn("Vector store unavailable, approvals will not record knowledge", "error", err)
	}

	return executor.New(cfg, reflect), cleanup, nil
}

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List proposals awaiting approval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			exec, cleanup, err := buildExecutor()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := exec.PendingApprovals()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("approval queue is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tENQUEUED\tTYPE\tRISK\tACTION")
			for i, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					i,
					e.EnqueuedAt.Format("2006-01-02 15:04"),
					e.Proposal.ActionType,
					e.Proposal.RiskLevel,
					e.Proposal.ProposedAction)
			}
			return w.Flush()
		},
	}
}

func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <index>",
		Short: "Approve and execute a queued proposal",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid index %q\n", args[0])
				os.Exit(1)
			}
			exec, cleanup, err := buildExecutor()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			defer cleanup()

			result, err := exec.Approve(cmd.Context(), index)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
				os.Exit(1)
			}
			fmt.Println(result.Output)
			if !result.Succeeded() {
				if result.Error != "" {
					fmt.Fprintln(os.Stderr, result.Error)
				}
				os.Exit(1)
			}
		},
	}
}

func newRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <index>",
		Short: "Reject a queued proposal without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			exec, cleanup, err := buildExecutor()
			if err != nil {
				return err
			}
			defer cleanup()

			entry, err := exec.Reject(index)
			if err != nil {
				return err
			}
			fmt.Printf("rejected: %s\n", entry.Proposal.ProposedAction)
			return nil
		},
	}
}
