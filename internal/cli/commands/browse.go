package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/greenwatch-labs/greenghost/internal/state"
)

// NewBrowseCommand creates the browse command.
func NewBrowseCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse pipeline runs interactively",
		Long: `Open a terminal browser over recorded pipeline runs. Enter drills into
the step results of the selected run, esc goes back, q quits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBrowse(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of runs to load")
	return cmd
}

func runBrowse(cmd *cobra.Command, limit int) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := cmdCtx.Store.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded yet")
		return nil
	}

	p := tea.NewProgram(newBrowseModel(cmdCtx.Store, runs),
		tea.WithContext(cmd.Context()), tea.WithOutput(cmd.OutOrStdout()))
	_, err = p.Run()
	return err
}

const (
	viewRuns = iota
	viewSteps
)

type browseStyles struct {
	title lipgloss.Style
	help  lipgloss.Style
	fail  lipgloss.Style
}

// newBrowseStyles picks colored styles only when the terminal supports
// them; piped or dumb terminals get plain text.
func newBrowseStyles() browseStyles {
	if termenv.ColorProfile() == termenv.Ascii {
		return browseStyles{
			title: lipgloss.NewStyle().Bold(true),
			help:  lipgloss.NewStyle(),
			fail:  lipgloss.NewStyle(),
		}
	}
	return browseStyles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36")),
		help:  lipgloss.NewStyle().Faint(true),
		fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// stepsMsg carries the step runs loaded for one selected run.
type stepsMsg struct {
	runID string
	steps []*state.StepRun
	err   error
}

type browseModel struct {
	store  state.Store
	runs   []*state.Run
	view   int
	runID  string
	table  table.Model
	steps  table.Model
	styles browseStyles
	err    error
}

func newBrowseModel(store state.Store, runs []*state.Run) browseModel {
	columns := []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Env", Width: 8},
		{Title: "Status", Width: 10},
		{Title: "Started", Width: 20},
	}
	rows := make([]table.Row, len(runs))
	for i, r := range runs {
		rows[i] = table.Row{shortRunID(r.ID), r.Environment, string(r.Status),
			r.StartedAt.Format(time.RFC3339)}
	}
	t := table.New(table.WithColumns(columns), table.WithRows(rows),
		table.WithFocused(true), table.WithHeight(tableHeight(len(rows))))
	return browseModel{store: store, runs: runs, table: t, styles: newBrowseStyles()}
}

func (m browseModel) Init() tea.Cmd { return nil }

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.view == viewRuns && len(m.runs) > 0 {
				return m, m.loadSteps(m.runs[m.table.Cursor()].ID)
			}
		case "esc":
			if m.view == viewSteps {
				m.view = viewRuns
				m.err = nil
				return m, nil
			}
		}
	case stepsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.runID = msg.runID
		m.steps = newStepsTable(msg.steps)
		m.view = viewSteps
		m.err = nil
		return m, nil
	}

	var cmd tea.Cmd
	if m.view == viewRuns {
		m.table, cmd = m.table.Update(msg)
	} else {
		m.steps, cmd = m.steps.Update(msg)
	}
	return m, cmd
}

func (m browseModel) View() string {
	var b strings.Builder
	if m.view == viewRuns {
		b.WriteString(m.styles.title.Render("Pipeline runs") + "\n")
		b.WriteString(m.table.View() + "\n")
		b.WriteString(m.styles.help.Render("enter: steps  q: quit") + "\n")
	} else {
		b.WriteString(m.styles.title.Render("Run "+shortRunID(m.runID)) + "\n")
		b.WriteString(m.steps.View() + "\n")
		b.WriteString(m.styles.help.Render("esc: back  q: quit") + "\n")
	}
	if m.err != nil {
		b.WriteString(m.styles.fail.Render("error: "+m.err.Error()) + "\n")
	}
	return b.String()
}

// loadSteps fetches step runs off the update loop, bubbletea style.
func (m browseModel) loadSteps(runID string) tea.Cmd {
	return func() tea.Msg {
		steps, err := m.store.GetStepRunsForRun(runID)
		return stepsMsg{runID: runID, steps: steps, err: err}
	}
}

func newStepsTable(steps []*state.StepRun) table.Model {
	columns := []table.Column{
		{Title: "Step", Width: 10},
		{Title: "Status", Width: 10},
		{Title: "Rows", Width: 8},
		{Title: "Duration", Width: 10},
		{Title: "Error", Width: 40},
	}
	rows := make([]table.Row, len(steps))
	for i, s := range steps {
		rows[i] = table.Row{s.Step, string(s.Status),
			strconv.FormatInt(s.RowsAffected, 10),
			fmt.Sprintf("%dms", s.ExecutionMS), s.Error}
	}
	return table.New(table.WithColumns(columns), table.WithRows(rows),
		table.WithFocused(true), table.WithHeight(tableHeight(len(rows))))
}

func tableHeight(rows int) int {
	return min(rows+1, 15)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
