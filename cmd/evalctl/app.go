package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/nadmax/searcheval/internal/client"
	"github.com/nadmax/searcheval/internal/config"
	"github.com/nadmax/searcheval/internal/launcher"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/notify"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/repository"
	"github.com/spf13/cobra"
)

var errNoArchive = errors.New("report archive is not configured (set POSTGRES_DSN)")

// archiveOpener opens the report archive behind dsn.
type archiveOpener func(ctx context.Context, dsn string) (repository.ReportArchive, error)

type app struct {
	configPath  string
	backendURL  string
	jsonOut     bool
	openArchive archiveOpener

	cfg    *config.Config
	log    *logger.Logger
	client *client.Client
}

func newRootCmd(openArchive archiveOpener) *cobra.Command {
	a := &app{openArchive: openArchive}

	rootCmd := &cobra.Command{
		Use:   "evalctl",
		Short: "Drive search relevance evaluation jobs",
		Long: `evalctl talks to the search evaluation backend. It launches query generation,
candidate generation and LLM judgment jobs and follows them until they finish,
records manual relevance judgments, and reads, compares and archives reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.backendURL, "backend", "", "Evaluation backend URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(a.newGenerateQueriesCmd())
	rootCmd.AddCommand(a.newGenerateCandidatesCmd())
	rootCmd.AddCommand(a.newEvaluateLLMCmd())
	rootCmd.AddCommand(a.newEvaluateCmd())
	rootCmd.AddCommand(a.newTasksCmd())
	rootCmd.AddCommand(a.newQueriesCmd())
	rootCmd.AddCommand(a.newJudgeCmd())
	rootCmd.AddCommand(a.newReportsCmd())

	return rootCmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backendURL != "" {
		cfg.Backend.URL = a.backendURL
	}

	a.cfg = cfg
	a.log = logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	a.client = client.New(client.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	})
	return nil
}

// newLauncher builds a launcher that reports job progress on cmd's stderr.
func (a *app) newLauncher(cmd *cobra.Command) *launcher.Launcher {
	return launcher.New(a.client, launcher.Config{
		Interval:  a.cfg.Poll.Interval,
		Timeout:   a.cfg.Poll.Timeout,
		Logger:    a.log,
		Observers: []poller.Observer{newProgressPrinter(cmd.ErrOrStderr())},
		Notifier:  notify.NewLogNotifier(a.log),
	})
}

func (a *app) archive(ctx context.Context) (repository.ReportArchive, error) {
	if a.cfg.Postgres.DSN == "" {
		return nil, errNoArchive
	}
	return a.openArchive(ctx, a.cfg.Postgres.DSN)
}

func openPostgresArchive(ctx context.Context, dsn string) (repository.ReportArchive, error) {
	repo, err := repository.NewPostgresReportRepository(dsn)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// render prints v as JSON when --json is set and through table otherwise.
func (a *app) render(cmd *cobra.Command, v any, table func(w io.Writer)) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

// progressPrinter prints a line whenever a tracked job changes state or progress.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	last map[int64]string
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, last: make(map[int64]string)}
}

func (p *progressPrinter) Observe(s poller.Snapshot) {
	line := fmt.Sprintf("[%s] task %d: %s %d%%", s.Kind, s.TaskID, s.State, s.Progress)
	if s.Message != "" {
		line += " " + s.Message
	}
	if s.Error != "" {
		line += " (" + s.Error + ")"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last[s.TaskID] == line {
		return
	}
	p.last[s.TaskID] = line
	fmt.Fprintln(p.w, line)
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}
