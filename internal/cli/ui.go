package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/depscan/pkg/lookup"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - links
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// =============================================================================
// Public Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleHighlight for emphasized values.
	StyleHighlight = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleLink for URLs.
	StyleLink = lipgloss.NewStyle().Foreground(colorBlue).Underline(true)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	// StyleError for failed rows.
	StyleError = lipgloss.NewStyle().Foreground(colorRed)
)

// =============================================================================
// Internal Styles
// =============================================================================

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleHeader = lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	styleBorder = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// Icons
// =============================================================================

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconPending = "…"
	iconCached  = "cached"
	iconFresh   = "fresh"
)

// =============================================================================
// Status Output
// =============================================================================

// printSuccess prints a success message.
func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconSuccess.Render(iconSuccess) + " " + msg)
}

// printError prints an error message.
func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconError.Render(iconError) + " " + msg)
}

// printWarning prints a warning message.
func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconWarning.Render(iconWarning) + " " + StyleWarning.Render(msg))
}

// printInfo prints an info/status message.
func printInfo(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(styleIconInfo.Render(iconInfo) + " " + msg)
}

// printDetail prints a detail line (indented).
func printDetail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println("  " + StyleDim.Render(msg))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Println(keyStyle.Render(key) + " " + StyleValue.Render(value))
}

// =============================================================================
// Results Table
// =============================================================================

const (
	colStatus = iota
	colName
	colKind
	colWanted
	colLatest
	colDescription
)

// resultsTable renders results as a bordered table. descWidth truncates the
// description column; zero leaves it untouched. cursor highlights one row,
// -1 for none.
func resultsTable(results []lookup.Result, descWidth, cursor int) *table.Table {
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			statusIcon(r),
			r.Name,
			r.Kind.Label(),
			dash(r.Specifier),
			dash(r.Version),
			truncate(r.Description, descWidth),
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers("", "Package", "Group", "Wanted", "Latest", "Description").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return styleHeader
			}
			if row < 0 || row >= len(results) {
				return lipgloss.NewStyle()
			}
			return cellStyle(results[row], col, row == cursor)
		})
}

func cellStyle(r lookup.Result, col int, selected bool) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)
	if selected {
		base = base.Bold(true)
	}
	switch col {
	case colStatus:
		switch r.Status {
		case lookup.StatusError:
			return base.Foreground(colorRed)
		case lookup.StatusPending:
			return base.Foreground(colorCyan)
		}
		return base.Foreground(colorGreen)
	case colName:
		if selected {
			return base.Foreground(colorCyan)
		}
		return base.Foreground(colorWhite)
	case colKind, colWanted:
		return base.Foreground(colorGray)
	case colLatest:
		if r.Satisfies != nil && !*r.Satisfies {
			return base.Foreground(colorYellow)
		}
		return base.Foreground(colorWhite)
	case colDescription:
		switch r.Status {
		case lookup.StatusError:
			return base.Foreground(colorRed)
		case lookup.StatusPending:
			return base.Foreground(colorDim)
		}
		return base.Foreground(colorGray)
	}
	return base
}

func statusIcon(r lookup.Result) string {
	switch r.Status {
	case lookup.StatusPending:
		return iconPending
	case lookup.StatusError:
		return iconError
	}
	return iconSuccess
}

// summaryLine renders "12 packages · 2 errors · 5 cached".
func summaryLine(results []lookup.Result) string {
	var errs, cached, outdated int
	for _, r := range results {
		if r.Status == lookup.StatusError {
			errs++
		}
		if r.Cached {
			cached++
		}
		if r.Satisfies != nil && !*r.Satisfies {
			outdated++
		}
	}

	parts := []string{fmt.Sprintf("%d packages", len(results))}
	if errs > 0 {
		parts = append(parts, StyleError.Render(fmt.Sprintf("%d errors", errs)))
	}
	if outdated > 0 {
		parts = append(parts, StyleWarning.Render(fmt.Sprintf("%d outside range", outdated)))
	}
	if cached > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", cached, iconCached))
	} else {
		parts = append(parts, iconFresh)
	}
	return strings.Join(parts, StyleDim.Render(" · "))
}

// =============================================================================
// Utilities
// =============================================================================

func dash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// truncate shortens s to n runes with an ellipsis. n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
