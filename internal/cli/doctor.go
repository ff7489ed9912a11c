package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/pipeline"
	"github.com/ppiankov/grantwatch/internal/privacy"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/spf13/cobra"
)

var doctorFetch bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and the seen store",
	Args:  cobra.NoArgs,
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFetch, "fetch", false, "also fetch every source and count extracted entries")
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return errors.New("some checks failed")
	}
	printCheck(true, "config.yaml (%d sources, %s storage)", len(cfg.Sources), cfg.Storage.Driver)
	secrets := cfg.Secrets()

	// Webhook secret
	if err := cfg.RequireWebhook(); err != nil {
		printCheck(false, "webhook: %v", err)
		ok = false
	} else {
		printCheck(true, "webhook ($%s is set)", cfg.Notify.WebhookURLEnv)
	}

	// Seen store
	ctx := commandContext(cmd)
	st, err := openStore(ctx, cfg)
	if err != nil {
		printCheck(false, "seen store: %v", privacy.ScrubError(err, secrets...))
		ok = false
	} else {
		defer func() { _ = st.Close() }()
		if set, err := st.Load(ctx); err != nil {
			printCheck(false, "seen store: %v", privacy.ScrubError(err, secrets...))
			ok = false
		} else {
			printCheck(true, "seen store (%d links)", set.Len())
		}
	}

	// Extractors
	reg := source.DefaultRegistry()
	var sources []pipeline.Source
	for _, s := range cfg.Sources {
		ex, err := reg.New(s.Kind, s.Params)
		if err != nil {
			printCheck(false, "source %s: %v", s.Name, err)
			ok = false
			continue
		}
		sources = append(sources, pipeline.Source{Name: s.Name, URL: s.URL, Kind: s.Kind, Extractor: ex})
	}
	if len(sources) == len(cfg.Sources) {
		printCheck(true, "extractors (%d sources)", len(sources))
	}

	// Live probe (info-level, non-fatal)
	if doctorFetch {
		fmt.Println()
		f := fetch.NewHTTP(fetchConfig(cfg))
		for _, s := range sources {
			page, err := f.Fetch(ctx, s.URL)
			if err != nil {
				printInfo("%s: %v", s.Name, err)
				continue
			}
			entries, err := s.Extractor.Extract(page)
			if err != nil {
				printInfo("%s: %v", s.Name, err)
				continue
			}
			printInfo("%s: %d entries", s.Name, len(entries))
		}
	}

	if !ok {
		return errors.New("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
