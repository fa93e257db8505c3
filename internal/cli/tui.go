package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/manifest"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// tuiCommand creates the interactive results command.
func (c *CLI) tuiCommand() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "tui [file|-]",
		Short: "Browse lookup results interactively",
		Long: `Open an interactive results table. Type package names (or load a
package.json) to look them up, filter with fuzzy search as you type, and
switch between all, dependency and devDependency tabs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var initial, label string
			if len(args) == 1 {
				text, err := readInput(args, "", os.Stdin)
				if err != nil {
					return err
				}
				initial, label = text, args[0]
			}
			return c.runTUI(cmd.Context(), initial, label, noCache)
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "start with the cache disabled")
	return cmd
}

func (c *CLI) runTUI(ctx context.Context, initial, label string, noCache bool) error {
	e, err := c.openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	// Log lines would tear the alternate screen.
	c.Logger.SetOutput(io.Discard)
	defer c.Logger.SetOutput(os.Stderr)

	var prog atomic.Pointer[tea.Program]
	orch := e.orchestrator(c.Logger, lookup.WithObserver(func(s lookup.Snapshot) {
		// Observers run inside orchestrator calls, some of which come from
		// Update itself; Send must not block the event loop.
		if p := prog.Load(); p != nil {
			go p.Send(snapshotMsg(s))
		}
	}))
	orch.SetUseCache(!noCache)

	m := newResultsModel(ctx, orch, initial, label)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	prog.Store(p)

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// =============================================================================
// resultsModel - Interactive lookup table
// =============================================================================

type focusArea int

const (
	focusTable focusArea = iota
	focusInput
	focusSearch
)

// kindTabs are cycled by the tab key. The empty kind is "all".
var kindTabs = []manifest.Kind{"", manifest.KindDependency, manifest.KindDevDependency}

type (
	snapshotMsg  lookup.Snapshot
	submittedMsg struct{ err error }
)

// resultsModel is the bubbletea model for the results table.
type resultsModel struct {
	ctx  context.Context
	orch *lookup.Orchestrator
	snap lookup.Snapshot

	initial string
	label   string

	focus  focusArea
	input  textinput.Model
	search textinput.Model
	tab    int

	cursor int
	offset int
	width  int
	height int
}

func newResultsModel(ctx context.Context, orch *lookup.Orchestrator, initial, label string) resultsModel {
	input := textinput.New()
	input.Prompt = "Packages › "
	input.Placeholder = "react lodash express"
	input.CharLimit = 4096

	search := textinput.New()
	search.Prompt = "Search   › "
	search.Placeholder = "press / to filter"

	m := resultsModel{
		ctx:     ctx,
		orch:    orch,
		snap:    orch.Snapshot(),
		initial: initial,
		label:   label,
		input:   input,
		search:  search,
		height:  24,
	}
	if initial == "" {
		m.focus = focusInput
		m.input.Focus()
	}
	return m
}

func (m resultsModel) Init() tea.Cmd {
	if m.initial != "" {
		return m.submit(m.initial)
	}
	return textinput.Blink
}

func (m resultsModel) submit(text string) tea.Cmd {
	orch, ctx := m.orch, m.ctx
	return func() tea.Msg {
		_, err := orch.Start(ctx, text)
		return submittedMsg{err: err}
	}
}

func (m resultsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		s := lookup.Snapshot(msg)
		if s.Revision > m.snap.Revision {
			m.snap = s
			m.clampCursor()
		}
		return m, nil

	case submittedMsg:
		// Errors already landed in the snapshot via the observer.
		m.snap = m.orch.Snapshot()
		m.cursor, m.offset = 0, 0
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-16, 10)
		m.search.Width = max(msg.Width-16, 10)
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.focus {
		case focusInput:
			return m.updateInput(msg)
		case focusSearch:
			return m.updateSearch(msg)
		}
		return m.updateTable(msg)
	}
	return m, nil
}

func (m resultsModel) updateTable(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "/":
		m.focus = focusSearch
		return m, m.search.Focus()
	case "i":
		m.focus = focusInput
		return m, m.input.Focus()
	case "tab":
		m.tab = (m.tab + 1) % len(kindTabs)
		m.cursor, m.offset = 0, 0
	case "shift+tab":
		m.tab = (m.tab + len(kindTabs) - 1) % len(kindTabs)
		m.cursor, m.offset = 0, 0
	case "c":
		m.orch.SetUseCache(!m.snap.UseCache)
		m.snap = m.orch.Snapshot()
	case "r":
		if strings.TrimSpace(m.snap.Input) != "" {
			return m, m.submit(m.snap.Input)
		}
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.clampCursor()
	case "down", "j":
		m.cursor++
		m.clampCursor()
	}
	return m, nil
}

func (m resultsModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.input.Blur()
		m.focus = focusTable
		return m, nil
	case "enter":
		text := m.input.Value()
		m.orch.SetInput(text)
		m.input.Blur()
		m.focus = focusTable
		m.label = ""
		return m, m.submit(text)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m resultsModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "enter":
		m.search.Blur()
		m.focus = focusTable
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if q := m.search.Value(); q != m.snap.Search {
		m.orch.SetSearch(q)
		m.snap = m.orch.Snapshot()
		m.cursor, m.offset = 0, 0
	}
	return m, cmd
}

// rows returns the results shown under the current tab and search.
func (m resultsModel) rows() []lookup.Result {
	return m.snap.FilteredKind(kindTabs[m.tab])
}

// pageSize is the number of table rows that fit below the header chrome.
func (m resultsModel) pageSize() int {
	return max(m.height-12, 3)
}

func (m *resultsModel) clampCursor() {
	n := len(m.rows())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	page := m.pageSize()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+page {
		m.offset = m.cursor - page + 1
	}
}

func (m resultsModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render(appName))
	b.WriteString(listDimStyle.Render("  ·  " + m.statusText()))
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	if m.label != "" && m.focus != focusInput {
		b.WriteString(listDimStyle.Render("  " + m.label))
	}
	b.WriteString("\n")
	b.WriteString(m.search.View())
	b.WriteString("\n\n")

	b.WriteString(m.tabsView())
	b.WriteString("\n")

	rows := m.rows()
	switch {
	case m.snap.Err != "":
		b.WriteString(StyleError.Render(iconError + " " + m.snap.Err))
		b.WriteString("\n")
	case len(m.snap.Results) == 0:
		b.WriteString(listDimStyle.Render("  Enter package names or paste a package.json"))
		b.WriteString("\n")
	case len(rows) == 0:
		b.WriteString(listDimStyle.Render("  No packages match"))
		b.WriteString("\n")
	default:
		end := min(m.offset+m.pageSize(), len(rows))
		visible := rows[m.offset:end]
		desc := max(m.width-70, 20)
		b.WriteString(resultsTable(visible, desc, m.cursor-m.offset).Render())
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.cursor+1, len(rows))))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(listDimStyle.Render(m.helpText()))
	return b.String()
}

func (m resultsModel) statusText() string {
	cache := "cache on"
	if !m.snap.UseCache {
		cache = "cache off"
	}
	parts := []string{cache}
	switch {
	case m.snap.Loading:
		c := m.snap.Counts()
		parts = append(parts, fmt.Sprintf("loading %d/%d", c.All-c.Pending, c.All))
	case m.snap.Phase == lookup.PhaseSettled:
		parts = append(parts, summaryLine(m.snap.Results))
	}
	return strings.Join(parts, "  ·  ")
}

func (m resultsModel) tabsView() string {
	c := m.snap.Counts()
	labels := []string{
		fmt.Sprintf("All (%d)", c.All),
		fmt.Sprintf("Dependencies (%d)", c.Dependencies),
		fmt.Sprintf("Dev Dependencies (%d)", c.DevDependencies),
	}
	for i, l := range labels {
		if i == m.tab {
			labels[i] = listSelectedStyle.Render("▸ " + l)
		} else {
			labels[i] = listNormalStyle.Render("  " + l)
		}
	}
	return strings.Join(labels, "   ")
}

func (m resultsModel) helpText() string {
	switch m.focus {
	case focusInput:
		return "⏎ look up  esc back"
	case focusSearch:
		return "type to filter  ⏎/esc done"
	}
	return "↑/↓ navigate  tab kind  / search  i input  c cache  r reload  q quit"
}
