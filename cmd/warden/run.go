package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/pkg/cleanup"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/contextbuf"
	"github.com/wardenhq/warden/pkg/executor"
	"github.com/wardenhq/warden/pkg/llm"
	"github.com/wardenhq/warden/pkg/llmqueue"
	"github.com/wardenhq/warden/pkg/meta"
	"github.com/wardenhq/warden/pkg/models"
	"github.com/wardenhq/warden/pkg/notify"
	"github.com/wardenhq/warden/pkg/orchestrator"
	"github.com/wardenhq/warden/pkg/review"
	"github.com/wardenhq/warden/pkg/sysprobe"
	"github.com/wardenhq/warden/pkg/timeseries"
	"github.com/wardenhq/warden/pkg/tools"
	"github.com/wardenhq/warden/pkg/tracker"
	"github.com/wardenhq/warden/pkg/trigger"
	"github.com/wardenhq/warden/pkg/vectorstore"
)

// agent is the fully wired set of components behind the run command.
type agent struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	monitor      *trigger.Monitor
	executor     *executor.Executor
	worker       *llmqueue.Worker
	janitor      *cleanup.Service
	backend      llm.Backend
	vectors      *vectorstore.Store
	metrics      *timeseries.Client
}

func newRunCmd() *cobra.Command {
	var (
		mode        string
		autonomy    string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent, once or continuously",
		Run: func(cmd *cobra.Command, _ []string) {
			a, err := buildAgent(cmd.Context(), autonomy)
			if err != nil {
				slog.Error("Unrecoverable initialization failure", "error", err)
				os.Exit(2)
			}
			defer a.shutdown()

			switch mode {
			case "once":
				a.orchestrator.Restore()
				a.orchestrator.RunOnce(cmd.Context())
				a.orchestrator.Checkpoint()
				stats := a.monitor.Stats()
				slog.Info("Trigger pass complete",
					"triggers_fired", stats.TriggersFired,
					"patterns_matched", stats.PatternsMatched,
					"model_classifications", stats.ModelClassifications)
			case "continuous":
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				if metricsAddr != "" {
					serveMetrics(metricsAddr)
				}
				if a.worker != nil {
					a.worker.Start(ctx)
					defer a.worker.Stop()
				}
				a.janitor.Start(ctx)
				defer a.janitor.Stop()
				a.orchestrator.Run(ctx)
			default:
				slog.Error("Unknown mode", "mode", mode)
				os.Exit(2)
			}
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "continuous", "once or continuous")
	cmd.Flags().StringVar(&autonomy, "autonomy", "", "override the configured autonomy level")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus endpoint, empty disables it")
	return cmd
}

// buildAgent wires every layer bottom-up: stores first, then the
// orchestrator. Degraded stores are tolerated; an unwritable state
// directory or an absent backend is fatal.
func buildAgent(ctx context.Context, autonomyOverride string) (*agent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if autonomyOverride != "" {
		level := config.AutonomyLevel(autonomyOverride)
		switch level {
		case config.AutonomyObserve, config.AutonomySuggest, config.AutonomyAutoSafe, config.AutonomyAutoFull:
			cfg.AutonomyLevel = level
		default:
			return nil, fmt.Errorf("unknown autonomy level %q", autonomyOverride)
		}
	}

	if err := os.MkdirAll(filepath.Join(cfg.StateDir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("state directory is not writable: %w", err)
	}

	backend := llm.NewOllamaBackend(cfg.Inference.BackendURL)
	if !backend.IsAvailable(ctx) {
		slog.Warn("Inference backend unavailable at startup", "diagnostics", llm.Diagnose(ctx, backend))
	}

	queue, err := llmqueue.Open(filepath.Join(cfg.StateDir, "queues", "ollama"))
	if err != nil {
		slog.Warn("LLM queue unavailable, using direct backend calls", "error", err)
		queue = nil
	}
	dispatcher := llmqueue.NewDispatcher(queue, backend, models.PriorityAutonomous, 0)

	vectors, err := vectorstore.Open(filepath.Join(cfg.StateDir, "vectors.db"))
	if err != nil {
		slog.Warn("Vector store unavailable, continuing without semantic recall", "error", err)
		vectors = nil
	}

	var recorder contextbuf.Recorder
	var metrics *timeseries.Client
	if cfg.TimeSeries.DSN != "" {
		metrics, err = timeseries.NewClient(ctx, cfg.TimeSeries.DSN, cfg.Hostname)
		if err != nil {
			slog.Warn("Time-series store unavailable, metric history disabled", "error", err)
		} else {
			recorder = metrics
		}
	}

	buffer := contextbuf.New(cfg.Hostname, cfg.ContextSize, cfg.Inference.ModelCapacity, recorder)
	if vectors != nil {
		buffer.SetSimilarityStore(vectors)
	}

	var issues *tracker.Tracker
	if vectors != nil {
		issues = tracker.New(vectors, cfg.StateDir)
	}

	notifier := notify.LogNotifier{}
	catalogue := tools.New(
		tools.NewCache(filepath.Join(cfg.StateDir, "tool_cache")),
		notifier,
		cfg.AutonomyLevel != config.AutonomyAutoFull,
	)

	metaLayer := meta.New(dispatcher, catalogue, vectors, cfg.Inference.MetaModel)
	exec := executor.New(cfg, metaLayer.Reflect)
	reviewer := review.New(dispatcher, exec, cfg.Inference.ReviewModel, cfg.StateDir)
	monitor := trigger.NewMonitor(cfg, sysprobe.NewLocalSource(), dispatcher)

	var issueTracker orchestrator.IssueTracker
	if issues != nil {
		issueTracker = issues
	}
	orch := orchestrator.New(cfg, monitor, buffer, reviewer, metaLayer, issueTracker, notifier)

	var worker *llmqueue.Worker
	if queue != nil {
		worker = llmqueue.NewWorker(queue, backend, time.Hour)
	}

	var retentionMetrics cleanup.MetricsStore
	if metrics != nil {
		retentionMetrics = metrics
	}
	var retentionQueue cleanup.RequestQueue
	if queue != nil {
		retentionQueue = queue
	}
	janitor := cleanup.NewService(retentionMetrics, retentionQueue,
		filepath.Join(cfg.StateDir, "tool_cache"), cfg.TimeSeries.RetentionDays)

	return &agent{
		cfg:          cfg,
		orchestrator: orch,
		monitor:      monitor,
		executor:     exec,
		worker:       worker,
		janitor:      janitor,
		backend:      backend,
		vectors:      vectors,
		metrics:      metrics,
	}, nil
}

func (a *agent) shutdown() {
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			slog.Warn("Failed to close vector store", "error", err)
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			slog.Warn("Failed to close time-series store", "error", err)
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Warn("Metrics endpoint stopped", "error", err)
		}
	}()
	slog.Info("Serving Prometheus metrics", "addr", addr)
}
