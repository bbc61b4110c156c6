package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/gate"
	"github.com/shaiso/Conveyor/internal/logstore"
	"github.com/shaiso/Conveyor/internal/notify"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo/memory"
	"github.com/shaiso/Conveyor/internal/runner"
)

// ExecOptions — параметры локального выполнения манифеста.
type ExecOptions struct {
	ManifestPath string
	Params       map[string]string

	// GateDir — каталог file gates. Решения принимаются командой
	// `conveyor gate decide --dir GATE_DIR ...` из другого терминала.
	GateDir string
	WorkDir string
	LogDir  string

	// Notify — log, values, webhook или none.
	Notify     string
	ValuesDir  string
	ValuesKey  string
	GitCommit  bool
	GitPush    bool
	WebhookURL string

	// AutoApprove одобряет каждый gate сразу после открытия.
	AutoApprove bool

	MaxParallelTasks int
	TimeUnit         time.Duration
	GatePollInterval time.Duration

	Logger *slog.Logger
}

// ExecResult — итог локального run.
type ExecResult struct {
	Run        *domain.Run
	Promotions []domain.Promotion
	Logs       logstore.Store
}

// Exec выполняет манифест в текущем процессе: хранилища в памяти,
// gates в файлах, задачи через runner.
func Exec(ctx context.Context, opts ExecOptions, out *Output) (*ExecResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p, err := engine.LoadManifestFile(opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	if err := engine.Validate(p); err != nil {
		return nil, err
	}

	pipelines := memory.NewPipelines()
	if err := pipelines.Register(ctx, p); err != nil {
		return nil, err
	}

	runs := memory.NewRuns()
	run := domain.NewRun(p, engine.MergeParams(opts.Params), domain.TriggerCLI)
	if err := runs.Create(ctx, run); err != nil {
		return nil, err
	}

	gateDir := opts.GateDir
	if gateDir == "" {
		gateDir = filepath.Join(os.TempDir(), "conveyor", "gates")
	}
	gates, err := gate.NewFileStore(gateDir, logger)
	if err != nil {
		return nil, err
	}

	var logs logstore.Store = logstore.NewMemoryStore()
	if opts.LogDir != "" {
		if logs, err = logstore.NewFileStore(opts.LogDir); err != nil {
			return nil, err
		}
	}

	recorder := notify.NewRecorder()
	notifier, err := execNotifier(opts, logger)
	if err != nil {
		return nil, err
	}

	taskRunner := runner.New(runner.Config{
		Registry: runner.NewRegistry(runner.NewCommandExecutor(opts.WorkDir), notify.Multi{notifier, recorder}),
		Logs:     logs,
		Logger:   logger,
	})

	pollInterval := opts.GatePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	coordinator := orchestrator.NewCoordinator(orchestrator.CoordinatorConfig{
		Runs:             runs,
		Gates:            gates,
		Runner:           taskRunner,
		MaxParallelTasks: opts.MaxParallelTasks,
		TimeUnit:         opts.TimeUnit,
		GatePollInterval: pollInterval,
		OnGateOpen: func(g *domain.Gate) {
			if opts.AutoApprove {
				if _, err := gates.Decide(context.WithoutCancel(ctx), g.Key(), domain.DecisionApproved, "auto-approve"); err != nil {
					logger.Warn("auto-approve failed", "gate", g.Key().String(), "error", err)
				}
				return
			}
			out.Success(fmt.Sprintf("Waiting for approval of %q until %s:\n  conveyor gate decide --dir %s %s %s approved",
				g.Name, g.Deadline.Format(time.RFC3339), gates.Dir(), g.RunID, g.Name))
		},
		Logger: logger,
	})

	if err := coordinator.Execute(ctx, run, p); err != nil {
		return nil, err
	}

	final, err := runs.GetByID(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return nil, err
	}

	return &ExecResult{Run: final, Promotions: recorder.Promotions(), Logs: logs}, nil
}

func execNotifier(opts ExecOptions, logger *slog.Logger) (notify.Notifier, error) {
	switch strings.ToLower(opts.Notify) {
	case "", "log":
		return notify.LogNotifier{Logger: logger}, nil
	case "none":
		return notify.NotifierFunc(func(context.Context, domain.Promotion) error { return nil }), nil
	case "values":
		if opts.ValuesDir == "" {
			return nil, fmt.Errorf("--values-dir is required for values notifier")
		}
		n := notify.NewValuesNotifier(opts.ValuesDir, logger)
		if opts.ValuesKey != "" {
			n.KeyPath = opts.ValuesKey
		}
		n.Git = notify.GitOptions{Enabled: opts.GitCommit || opts.GitPush, Push: opts.GitPush}
		return n, nil
	case "webhook":
		if opts.WebhookURL == "" {
			return nil, fmt.Errorf("--webhook-url is required for webhook notifier")
		}
		return notify.NewWebhookNotifier(opts.WebhookURL), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q (log, values, webhook, none)", opts.Notify)
	}
}

// NewExecCmd создаёт команду локального выполнения манифеста.
func NewExecCmd(outputFn func() *Output) *cobra.Command {
	var opts ExecOptions
	var params []string
	var showLogs bool

	cmd := &cobra.Command{
		Use:   "exec MANIFEST",
		Short: "Run a pipeline manifest locally without the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			opts.ManifestPath = args[0]
			opts.Params = parsed
			if opts.Logger == nil {
				opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			res, err := Exec(ctx, opts, out)
			if err != nil {
				return err
			}

			run := res.Run
			printTasks(out, execTasks(run))
			for _, promo := range res.Promotions {
				out.Success(fmt.Sprintf("Promoted %s to %s", promo.Version, promo.Environment))
			}

			if showLogs {
				for _, name := range run.TaskNames() {
					t := run.Task(name)
					if t.LogRef == "" {
						continue
					}
					data, err := res.Logs.Get(context.WithoutCancel(ctx), t.LogRef)
					if err != nil {
						continue
					}
					out.Success("--- " + name + " ---")
					out.Raw(data)
				}
			}

			if run.Status != domain.RunStatusSucceeded {
				if run.FailedTask != "" {
					return fmt.Errorf("run %s %s: task %s: %s", run.ID, run.Status, run.FailedTask, run.Reason)
				}
				return fmt.Errorf("run %s %s", run.ID, run.Status)
			}

			out.Success(fmt.Sprintf("Run %s succeeded", run.ID))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&params, "param", nil, "Run params as KEY=VALUE (repeatable)")
	f.StringVar(&opts.GateDir, "gate-dir", "", "Directory for approval gate files (default $TMPDIR/conveyor/gates)")
	f.StringVar(&opts.WorkDir, "workdir", "", "Working directory for task commands")
	f.StringVar(&opts.LogDir, "log-dir", "", "Keep task output in this directory")
	f.StringVar(&opts.Notify, "notify", "log", "Promotion notifier: log, values, webhook, none")
	f.StringVar(&opts.ValuesDir, "values-dir", "", "Directory with values-<env>.yaml files (values notifier)")
	f.StringVar(&opts.ValuesKey, "values-key", "", "Dotted key to rewrite (default image.tag)")
	f.BoolVar(&opts.GitCommit, "git-commit", false, "Commit rewritten values files")
	f.BoolVar(&opts.GitPush, "git-push", false, "Commit and push rewritten values files")
	f.StringVar(&opts.WebhookURL, "webhook-url", "", "Promotion webhook URL (webhook notifier)")
	f.BoolVar(&opts.AutoApprove, "yes", false, "Approve every gate automatically")
	f.IntVar(&opts.MaxParallelTasks, "parallel", 0, "Maximum parallel tasks per tier (0 = unlimited)")
	f.BoolVar(&showLogs, "show-logs", false, "Print task output after the run")

	return cmd
}

func execTasks(run *domain.Run) []TaskResponse {
	names := run.TaskNames()
	tasks := make([]TaskResponse, len(names))
	for i, name := range names {
		t := run.Task(name)
		tasks[i] = TaskResponse{
			Name:       t.Name,
			Status:     string(t.Status),
			Reason:     string(t.Reason),
			SkippedBy:  t.SkippedBy,
			ExitCode:   t.ExitCode,
			Attempts:   t.Attempts,
			Error:      t.Error,
			DurationMs: t.Duration().Milliseconds(),
		}
	}
	return tasks
}

// formatExit — код выхода для таблиц.
func formatExit(code *int) string {
	if code == nil {
		return ""
	}
	return strconv.Itoa(*code)
}
