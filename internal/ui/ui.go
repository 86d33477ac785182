// Package ui renders refiner progress and history on the console
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rskrny/aipromptai/pkg/refiner"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	reportStyle  = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("8"))
)

// UI writes styled messages to out and errors to err.
type UI struct {
	out io.Writer
	err io.Writer
}

// New creates a UI on stdout and stderr
func New() *UI {
	return NewWithWriters(os.Stdout, os.Stderr)
}

// NewWithWriters creates a UI on the given writers
func NewWithWriters(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

// Success prints a success message
func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.out, successStyle.Render("✓ "+msg))
}

// Error prints an error message to the error writer
func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

// Warning prints a warning message
func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.out, warningStyle.Render("⚠ "+msg))
}

// Info prints an info message
func (ui *UI) Info(msg string) {
	fmt.Fprintln(ui.out, infoStyle.Render("ℹ "+msg))
}

// Subtle prints a muted message
func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.out, subtleStyle.Render(msg))
}

// Println prints a plain line
func (ui *UI) Println(msg string) {
	fmt.Fprintln(ui.out, msg)
}

// Header prints a section header
func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

// Separator prints a horizontal rule
func (ui *UI) Separator() {
	fmt.Fprintln(ui.out, subtleStyle.Render(strings.Repeat("─", 60)))
}

// KeyValue prints an indented key-value pair
func (ui *UI) KeyValue(key, value string) {
	fmt.Fprintf(ui.out, "  %s: %s\n", subtleStyle.Render(key), value)
}

// Failure prints err with its suggestion, when it carries one.
func (ui *UI) Failure(err error) {
	ui.Error(err.Error())
	if s := refiner.GetSuggestion(err); s != "" {
		fmt.Fprintln(ui.err, reportStyle.Render(s))
	}
}

// Iteration prints one finished iteration.
func (ui *UI) Iteration(it refiner.Iteration) {
	line := fmt.Sprintf("Iteration %d: %s", it.Ordinal, it.Deployment)
	switch {
	case it.HasArtifact():
		ui.Success(line + ", screenshot captured")
	case it.Deployment == refiner.DeployOutcomeSucceeded:
		ui.Warning(line + ", no screenshot")
	case it.Deployment == refiner.DeployOutcomeSkipped:
		ui.Warning(line)
	default:
		ui.Error(line)
	}
	if report := it.Report(); report != "" {
		fmt.Fprintln(ui.out, reportStyle.Render(report))
	}
}

// Outcome prints the final state of a run.
func (ui *UI) Outcome(o refiner.Outcome) {
	ui.Separator()
	switch o.State {
	case refiner.StateApproved:
		ui.Success(fmt.Sprintf("Approved after %d iteration(s)", len(o.Iterations)))
	case refiner.StateExhausted:
		ui.Warning(fmt.Sprintf("Iteration limit reached after %d iteration(s)", len(o.Iterations)))
	default:
		ui.Warning(fmt.Sprintf("Run %s", strings.ToLower(o.State.String())))
	}
	ui.KeyValue("run", o.RunID)
	if o.LiveURL != "" {
		ui.KeyValue("live at", o.LiveURL)
	}
}

// Table prints aligned columns
type Table struct {
	ui      *UI
	headers []string
	rows    [][]string
}

// NewTable creates a new table
func (ui *UI) NewTable(headers ...string) *Table {
	return &Table{ui: ui, headers: headers}
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	cell := func(s string, i int) string {
		return lipgloss.NewStyle().Width(widths[i]).Render(s)
	}

	parts := make([]string, len(t.headers))
	for i, header := range t.headers {
		parts[i] = cell(header, i)
	}
	t.ui.Println(headerStyle.Render(strings.Join(parts, " │ ")))

	for i, w := range widths {
		parts[i] = strings.Repeat("─", w)
	}
	t.ui.Println(subtleStyle.Render(strings.Join(parts, "─┼─")))

	for _, row := range t.rows {
		for i := range t.headers {
			s := ""
			if i < len(row) {
				s = row[i]
			}
			parts[i] = cell(s, i)
		}
		t.ui.Println(strings.Join(parts, " │ "))
	}
}

// Timestamp formats t for tables, or "-" when zero.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
