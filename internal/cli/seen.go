package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/ppiankov/grantwatch/internal/privacy"
	"github.com/ppiankov/grantwatch/internal/store"
	"github.com/ppiankov/grantwatch/internal/urlnorm"
	"github.com/spf13/cobra"
)

var seenFormat string

var seenCmd = &cobra.Command{
	Use:   "seen",
	Short: "Show the seen-set size and links per host",
	Args:  cobra.NoArgs,
	RunE:  seenAction,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>...",
	Short: "Report whether links are in the seen-set and when they were first seen",
	Args:  cobra.MinimumNArgs(1),
	RunE:  checkAction,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <url>...",
	Short: "Remove links from the seen-set so they are announced again",
	Args:  cobra.MinimumNArgs(1),
	RunE:  forgetAction,
}

func init() {
	seenCmd.Flags().StringVar(&seenFormat, "format", "terminal", "output format: terminal, json")
	seenCmd.AddCommand(checkCmd, forgetCmd)
	rootCmd.AddCommand(seenCmd)
}

// locatedStore is a store backed by a local file.
type locatedStore interface {
	Path() string
}

// firstSeenStore records when each link entered the seen-set.
type firstSeenStore interface {
	FirstSeen(ctx context.Context, link string) (time.Time, error)
}

func storeLocation(st store.Store) string {
	if ls, ok := st.(locatedStore); ok {
		return ls.Path()
	}
	return ""
}

// HostCount is the number of seen links on one host.
type HostCount struct {
	Host       string `json:"host"`
	Links      int    `json:"links"`
	Configured bool   `json:"configured"`
}

func seenAction(cmd *cobra.Command, _ []string) error {
	if seenFormat != "terminal" && seenFormat != "json" && seenFormat != "" {
		return fmt.Errorf("unknown format %q (want terminal or json)", seenFormat)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := commandContext(cmd)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return privacy.ScrubError(fmt.Errorf("open store: %w", err), cfg.Secrets()...)
	}
	defer func() { _ = st.Close() }()

	set, err := st.Load(ctx)
	if err != nil {
		return privacy.ScrubError(err, cfg.Secrets()...)
	}

	hosts := countHosts(set, configuredHosts(cfg))
	location := storeLocation(st)
	if seenFormat == "json" {
		return printSeenJSON(os.Stdout, location, set.Len(), hosts)
	}
	printSeen(os.Stdout, cfg.Storage.Driver, location, set.Len(), hosts)
	return nil
}

func checkAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := commandContext(cmd)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return privacy.ScrubError(fmt.Errorf("open store: %w", err), cfg.Secrets()...)
	}
	defer func() { _ = st.Close() }()

	set, err := st.Load(ctx)
	if err != nil {
		return privacy.ScrubError(err, cfg.Secrets()...)
	}
	fs, _ := st.(firstSeenStore)

	for _, raw := range args {
		link := urlnorm.Normalize(raw)
		if !set.Has(link) {
			fmt.Printf("  not seen: %s\n", link)
			continue
		}
		if fs == nil {
			fmt.Printf("  seen: %s\n", link)
			continue
		}
		at, err := fs.FirstSeen(ctx, link)
		if err != nil {
			return privacy.ScrubError(err, cfg.Secrets()...)
		}
		if at.IsZero() {
			fmt.Printf("  seen: %s\n", link)
			continue
		}
		fmt.Printf("  seen: %s (first seen %s)\n", link, at.UTC().Format(time.RFC3339))
	}
	return nil
}

func forgetAction(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := commandContext(cmd)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return privacy.ScrubError(fmt.Errorf("open store: %w", err), cfg.Secrets()...)
	}
	defer func() { _ = st.Close() }()

	set, err := st.Load(ctx)
	if err != nil {
		return privacy.ScrubError(err, cfg.Secrets()...)
	}

	removed := 0
	for _, raw := range args {
		if set.Remove(raw) {
			removed++
			fmt.Printf("  - %s\n", urlnorm.Normalize(raw))
		} else {
			fmt.Printf("  not seen: %s\n", urlnorm.Normalize(raw))
		}
	}
	if removed == 0 {
		fmt.Println("Nothing removed.")
		return nil
	}

	if err := st.Save(ctx, set); err != nil {
		return privacy.ScrubError(err, cfg.Secrets()...)
	}
	fmt.Printf("Removed %d links, %d remain.\n", removed, set.Len())
	return nil
}

func configuredHosts(cfg *config.Config) map[string]bool {
	hosts := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if h := urlnorm.Host(s.URL); h != "" {
			hosts[h] = true
		}
	}
	return hosts
}

// countHosts groups links by host, busiest first.
func countHosts(set store.Set, configured map[string]bool) []HostCount {
	counts := make(map[string]int)
	for link := range set {
		counts[urlnorm.Host(link)]++
	}

	out := make([]HostCount, 0, len(counts))
	for h, n := range counts {
		out = append(out, HostCount{Host: h, Links: n, Configured: configured[h]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Links != out[j].Links {
			return out[i].Links > out[j].Links
		}
		return out[i].Host < out[j].Host
	})
	return out
}

type jsonSeenOutput struct {
	Location string      `json:"location,omitempty"`
	Links    int         `json:"links"`
	Hosts    []HostCount `json:"hosts"`
}

func printSeenJSON(w io.Writer, location string, total int, hosts []HostCount) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSeenOutput{Location: location, Links: total, Hosts: hosts})
}

func printSeen(w io.Writer, driver, location string, total int, hosts []HostCount) {
	fmt.Fprintf(w, "grantwatch seen-set (%s): %d links on %d hosts\n", driver, total, len(hosts))
	if location != "" {
		fmt.Fprintf(w, "Location: %s\n", location)
	}
	if total == 0 {
		fmt.Fprintln(w, "No links seen yet. Run 'grantwatch run' first.")
		return
	}
	fmt.Fprintln(w)

	// Widths are in runes; internationalized hosts are multi-byte.
	width := len("Host")
	for _, h := range hosts {
		if n := utf8.RuneCountInString(h.Host); n > width {
			width = n
		}
	}
	if width > 50 {
		width = 50
	}

	fmt.Fprintf(w, "  %-*s  %5s\n", width, "Host", "Links")
	for _, h := range hosts {
		name := h.Host
		if name == "" {
			name = "(no host)"
		}
		if r := []rune(name); len(r) > width {
			name = string(r[:width-1]) + "…"
		}
		note := ""
		if !h.Configured {
			note = "  (no configured source)"
		}
		fmt.Fprintf(w, "  %-*s  %5d%s\n", width, name, h.Links, note)
	}
}
