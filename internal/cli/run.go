package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/ppiankov/grantwatch/internal/digest"
	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/logger"
	"github.com/ppiankov/grantwatch/internal/metrics"
	"github.com/ppiankov/grantwatch/internal/notify"
	"github.com/ppiankov/grantwatch/internal/pipeline"
	"github.com/ppiankov/grantwatch/internal/privacy"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/ppiankov/grantwatch/internal/store"
	"github.com/spf13/cobra"
)

// DefaultNoNewsExitCode is the exit status of a run that found nothing new.
const DefaultNoNewsExitCode = 3

var (
	runSource         string
	runDryRun         bool
	runFormat         string
	runNoNewsExitCode int
	runMetricsFile    string
	noColor           bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape every source once and notify new announcements",
	Args:  cobra.NoArgs,
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "only scrape the source with this name")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print payloads instead of posting, never update the seen-set")
	runCmd.Flags().StringVar(&runFormat, "format", "terminal", "summary format: terminal, json")
	runCmd.Flags().IntVar(&runNoNewsExitCode, "no-news-exit-code", DefaultNoNewsExitCode, "exit status when nothing new was found")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write a Prometheus textfile here after the run (overrides metrics.textfile)")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(runCmd)
}

// newLogger is swapped in tests.
var newLogger = func(cfg *config.Config) (logger.Logger, error) {
	return logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func runAction(cmd *cobra.Command, _ []string) error {
	formatter, err := summaryFormatter(runFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	secrets := cfg.Secrets()

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	sources, err := pipeline.BuildSources(cfg.Sources, source.DefaultRegistry())
	if err != nil {
		return err
	}
	sources, err = pipeline.Select(sources, runSource)
	if err != nil {
		return err
	}

	sink, err := newSink(cfg)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return privacy.ScrubError(fmt.Errorf("open store: %w", err), secrets...)
	}
	defer func() { _ = st.Close() }()

	runner := pipeline.NewRunner(st, fetch.NewHTTP(fetchConfig(cfg)), sink, log, pipeline.Options{
		Batch:    digest.Options{MaxLen: cfg.Notify.MaxLen, Header: cfg.Notify.Header},
		Parallel: cfg.Fetch.Parallel,
		Interval: cfg.Notify.Interval.Duration,
		DryRun:   runDryRun,
	})

	started := time.Now()
	rep, runErr := runner.Run(ctx, sources)
	writeMetrics(cfg, rep, started, log)

	if err := formatter.Format(os.Stdout, rep.Summary(cfg.Notify.MaxLen)); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}

	if runErr != nil {
		return &ExitError{Code: 1, Err: privacy.ScrubError(runErr, secrets...)}
	}
	if rep.Outcome == pipeline.OutcomeNoNews && runNoNewsExitCode != 0 {
		return &ExitError{Code: runNoNewsExitCode}
	}
	return nil
}

// writeMetrics records the run in the textfile, if one is configured. A
// failed write only warns; the run itself already happened.
func writeMetrics(cfg *config.Config, rep *pipeline.Report, started time.Time, log logger.Logger) {
	path := runMetricsFile
	if path == "" {
		path = cfg.ResolvePath(cfg.Metrics.Textfile)
	}
	if path == "" {
		return
	}
	rec := metrics.New()
	rec.Observe(rep, started, time.Now())
	if err := rec.WriteTextfile(path); err != nil {
		log.Warn("metrics not written", logger.String("path", path), logger.Error(err))
	}
}

func summaryFormatter(format string) (digest.Formatter, error) {
	switch format {
	case "terminal", "":
		return digest.NewTerminal(!noColor), nil
	case "json":
		return digest.NewJSON(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal or json)", format)
	}
}

// newSink posts to the webhook, or prints payloads on a dry run. JSON
// summaries own stdout, so dry-run payloads go to stderr then.
func newSink(cfg *config.Config) (notify.Sink, error) {
	if runDryRun {
		var w io.Writer = os.Stdout
		if runFormat == "json" {
			w = os.Stderr
		}
		return notify.NewWriter(w), nil
	}
	if err := cfg.RequireWebhook(); err != nil {
		return nil, err
	}
	d, err := notify.NewDiscord(cfg.Notify.WebhookURL, cfg.Notify.Username, cfg.Notify.Timeout.Duration)
	if err != nil {
		return nil, privacy.ScrubError(err, cfg.Secrets()...)
	}
	return d, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.ResolvePath(cfg.Storage.Path),
		RedisAddress:  cfg.Storage.Redis.Address,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
		RedisKey:      cfg.Storage.Redis.Key,
	})
}

func fetchConfig(cfg *config.Config) fetch.Config {
	return fetch.Config{
		Timeout:       cfg.Fetch.Timeout.Duration,
		Attempts:      cfg.Fetch.Retries,
		Backoff:       cfg.Fetch.Backoff.Duration,
		RetryStatuses: cfg.Fetch.RetryStatuses,
		UserAgent:     cfg.Fetch.UserAgent,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
