package digest

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// TerminalFormatter formats a run summary for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Format writes one line per source followed by the delivery and
// persistence outcome.
func (f *TerminalFormatter) Format(w io.Writer, in SummaryInput) error {
	found, fresh, failed := in.totals()

	header := fmt.Sprintf("grantwatch: %d sources, %d found, %d new", len(in.Sources), found, fresh)
	if failed > 0 {
		header += fmt.Sprintf(", %d failed", failed)
	}
	if in.DryRun {
		header += " (dry run)"
	}
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range in.Sources {
		if s.Err != "" {
			fmt.Fprintf(tw, "  %s\t%s\n", s.Name, f.red("error: "+s.Err))
			continue
		}
		fmt.Fprintf(tw, "  %s\tfound %d\tnew %d\n", s.Name, s.Found, s.New)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if in.Payloads == 0 {
		fmt.Fprintln(w, "No new announcements.")
	} else {
		line := fmt.Sprintf("Notify: %d/%d payloads delivered", in.Delivered, in.Payloads)
		if in.Oversized > 0 {
			line += fmt.Sprintf(" (%d over the size limit)", in.Oversized)
		}
		if in.Delivered == in.Payloads {
			fmt.Fprintln(w, f.green(line))
		} else {
			fmt.Fprintln(w, f.red(line))
		}
	}

	fmt.Fprintln(w, f.persistLine(in))
	fmt.Fprintf(w, "Result: %s\n", in.Outcome)
	return nil
}

func (f *TerminalFormatter) persistLine(in SummaryInput) string {
	switch {
	case in.PersistErr != "":
		return f.red("Seen-set: save FAILED: " + in.PersistErr)
	case in.Persisted:
		return f.green(fmt.Sprintf("Seen-set: updated (%d links)", in.SeenLinks))
	case in.DryRun:
		return f.dim("Seen-set: unchanged (dry run)")
	case in.Payloads == 0:
		return f.dim(fmt.Sprintf("Seen-set: unchanged (%d links)", in.SeenLinks))
	default:
		return f.yellow("Seen-set: unchanged (delivery failed)")
	}
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) wrap(code, s string) string {
	if !f.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *TerminalFormatter) bold(s string) string   { return f.wrap("1", s) }
func (f *TerminalFormatter) green(s string) string  { return f.wrap("32", s) }
func (f *TerminalFormatter) yellow(s string) string { return f.wrap("33", s) }
func (f *TerminalFormatter) red(s string) string    { return f.wrap("31", s) }
func (f *TerminalFormatter) dim(s string) string    { return f.wrap("2", s) }
