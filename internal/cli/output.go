package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"upkeep/internal/recurrence"
)

// render writes v as json or yaml, or calls text for the default format.
func render(w io.Writer, format string, v any, text func(w io.Writer) error) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "", "text":
		return text(w)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// dueLabel renders a date with its distance from now, e.g. "2024-04-01 (3 days ago)".
func dueLabel(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", recurrence.FormatDate(t), humanize.RelTime(*t, now, "ago", "from now"))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// parseDateFlag parses an optional YYYY-MM-DD flag value.
func parseDateFlag(name, v string) (*time.Time, error) {
	t, err := recurrence.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: want YYYY-MM-DD: %w", name, err)
	}
	return t, nil
}
