// Package tui renders command output for the terminal.
// Simple and streaming, no full-screen interface.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/plateflow/plateflow/internal/model"
	"github.com/plateflow/plateflow/pkg/ingest"
	"github.com/plateflow/plateflow/pkg/store"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Header prints the program banner.
func Header(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  PLATEFLOW")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Dose-response plate data ingestion"))
	fmt.Fprintln(w)
}

// Results prints one line per file followed by a summary.
func Results(w io.Writer, results []ingest.Result) {
	fmt.Fprintln(w)
	var (
		ok    int
		total ingest.Counts
		took  time.Duration
	)
	for _, r := range results {
		took += r.Duration
		if r.Success {
			ok++
			total.Plates += r.Counts.Plates
			total.Wells += r.Counts.Wells
			total.WellDrugs += r.Counts.WellDrugs
			total.Measurements += r.Counts.Measurements
			fmt.Fprintf(w, "  %s %s %s\n",
				successStyle.Render("✓"),
				titleStyle.Render(r.FileName),
				mutedStyle.Render(fmt.Sprintf("%s/%s  %d plates, %d wells, %s readings  %s",
					r.FileFormat, r.Decoder, r.Counts.Plates, r.Counts.Wells,
					formatNumber(int64(r.Counts.Measurements)), formatDuration(r.Duration))))
			continue
		}
		fmt.Fprintf(w, "  %s %s %s\n", accentStyle.Render("✗"), titleStyle.Render(r.FileName), r.Error)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render(rule))
	status := successStyle.Render(fmt.Sprintf("%d/%d files ingested", ok, len(results)))
	if ok < len(results) {
		status = accentStyle.Render(fmt.Sprintf("%d/%d files ingested", ok, len(results)))
	}
	fmt.Fprintf(w, "  %s\n", status)
	fmt.Fprintf(w, "  %s %d plates, %d wells, %d drug slots, %s readings %s\n",
		mutedStyle.Render("Added:"), total.Plates, total.Wells, total.WellDrugs,
		formatNumber(int64(total.Measurements)), mutedStyle.Render("("+formatDuration(took)+")"))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

// Datasets prints a dataset listing.
func Datasets(w io.Writer, datasets []*model.Dataset) {
	if len(datasets) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No datasets."))
		return
	}
	for _, d := range datasets {
		line := fmt.Sprintf("  %s %s %s", codeStyle.Render(d.ID), titleStyle.Render(d.Name),
			mutedStyle.Render(d.Owner+" "+d.CreatedAt.Format(time.RFC3339)))
		if d.Deleted() {
			line += " " + accentStyle.Render("deleted")
		}
		fmt.Fprintln(w, line)
	}
}

// Plates prints per-plate counts of one dataset.
func Plates(w io.Writer, d *model.Dataset, plates []store.PlateSummary) {
	fmt.Fprintf(w, "  %s %s\n", titleStyle.Render(d.Name), mutedStyle.Render(d.ID))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	if len(plates) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No plates."))
		return
	}
	for _, p := range plates {
		annotated := ""
		if p.Plate.LastAnnotated != nil {
			annotated = " annotated " + p.Plate.LastAnnotated.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %-20s %s %s\n",
			p.Plate.Name,
			mutedStyle.Render(fmt.Sprintf("%dx%d", p.Plate.Height, p.Plate.Width)),
			fmt.Sprintf("%d wells, %s readings, %d assays, %d timepoints%s",
				p.Wells, formatNumber(int64(p.Measurements)), p.Assays, p.Timepoints, annotated))
	}
}

// Confirm asks a yes/no question; anything but y or yes is no.
func Confirm(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprint(w, prompt)
	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		return false
	}
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar over a number of files.
func ShowProgress(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressFunc advances bar as files settle, for ingest.Options.Progress.
func ProgressFunc(bar *progressbar.ProgressBar) func(done, total int, r ingest.Result) {
	return func(done, _ int, r ingest.Result) {
		bar.Describe(r.FileName)
		_ = bar.Set(done)
	}
}
