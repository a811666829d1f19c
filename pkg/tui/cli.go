// Package tui renders catalog listings and export progress.
// Simple, streaming, no complex TUI - just clean output.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
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
)

// PrintHeader prints the banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  RUNSTREAM") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Document-stream catalog for experiment runs"))
}

// RunRow is one line of the `ls` listing.
type RunRow struct {
	UID     string
	ScanID  int64
	Time    float64
	Open    bool
	Streams []string
}

// PrintRunTable renders the run listing.
func PrintRunTable(rows []RunRow) {
	if len(rows) == 0 {
		fmt.Println(mutedStyle.Render("  No runs found."))
		return
	}

	fmt.Println()
	fmt.Printf("  %s\n", mutedStyle.Render(fmt.Sprintf("%-38s %8s  %-19s %-6s %s",
		"UID", "SCAN", "START", "STATE", "STREAMS")))
	for _, r := range rows {
		state := successStyle.Render("closed")
		if r.Open {
			state = accentStyle.Render("open  ")
		}
		fmt.Printf("  %-38s %8d  %-19s %s %s\n",
			titleStyle.Render(fmt.Sprintf("%-38s", r.UID)),
			r.ScanID,
			formatTime(r.Time),
			state,
			mutedStyle.Render(strings.Join(r.Streams, ", ")))
	}
	fmt.Println()
	fmt.Println(mutedStyle.Render(fmt.Sprintf("  %d run(s)", len(rows))))
}

// ExportReport summarizes a finished export.
type ExportReport struct {
	OutputPath string
	Rows       int
	Columns    int
	Duration   time.Duration
}

// PrintExportReport prints results after an export.
func PrintExportReport(report ExportReport) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ EXPORT COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Output:"), titleStyle.Render(report.OutputPath))
	fmt.Printf("  %s %s rows × %d columns\n",
		mutedStyle.Render("Shape:"), formatNumber(int64(report.Rows)), report.Columns)
	if report.Duration > 0 {
		throughput := float64(report.Rows) / report.Duration.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(report.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s rows/sec)", formatNumber(int64(throughput)))))
	}
	fmt.Println()
}

// PrintError prints a failure line.
func PrintError(err error) {
	fmt.Println(accentStyle.Render("  ✗ " + err.Error()))
}

func formatTime(epoch float64) string {
	if epoch == 0 {
		return "-"
	}
	return time.Unix(int64(epoch), 0).UTC().Format("2006-01-02 15:04:05")
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

// ShowProgress creates a progress bar for an export pass.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
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

// Spinner shows a simple loading indicator.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Printf("\r%s %s\n", successStyle.Render("✓"), message)
			return
		default:
			fmt.Printf("\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}
