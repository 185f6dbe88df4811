package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/pipestatus/internal/execution"
	"github.com/mpataki/pipestatus/internal/models"
	"github.com/mpataki/pipestatus/internal/orchestrator"
	"github.com/mpataki/pipestatus/internal/status"
)

type View int

const (
	ViewPipelineList View = iota
	ViewPipelineDetail
)

const refreshInterval = 2 * time.Second

type App struct {
	orchestrator *orchestrator.Orchestrator

	view            View
	pipelines       []orchestrator.Summary
	selectedIdx     int
	detail          *status.PipelineStatus
	selectedExecIdx int

	keys keyMap
	help help.Model
	now  func() time.Time

	width  int
	height int
	err    error
	notice string
}

func NewApp(orch *orchestrator.Orchestrator) *App {
	return &App{
		orchestrator: orch,
		view:         ViewPipelineList,
		keys:         defaultKeys(),
		help:         help.New(),
		now:          time.Now,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadPipelines, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasActivePipelines() bool {
	for _, p := range a.pipelines {
		if p.State.Active() {
			return true
		}
	}
	return a.detail != nil && a.detail.State().Active()
}

func (a *App) selected() (orchestrator.Summary, bool) {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.pipelines) {
		return orchestrator.Summary{}, false
	}
	return a.pipelines[a.selectedIdx], true
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case pipelinesLoadedMsg:
		a.pipelines = msg.pipelines
		a.err = msg.err
		if a.selectedIdx >= len(a.pipelines) {
			a.selectedIdx = max(len(a.pipelines)-1, 0)
		}
		return a, nil

	case tickMsg:
		if !a.hasActivePipelines() {
			return a, a.tickCmd()
		}
		if a.view == ViewPipelineDetail && a.detail != nil {
			return a, tea.Batch(a.loadDetail(a.detail.PipelineID()), a.tickCmd())
		}
		return a, tea.Batch(a.loadPipelines, a.tickCmd())

	case detailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.detail = msg.status
			a.view = ViewPipelineDetail
			if a.selectedExecIdx >= len(a.detail.Executions()) {
				a.selectedExecIdx = 0
			}
		}
		return a, nil

	case queuedMsg:
		a.err = msg.err
		switch {
		case msg.err != nil:
		case msg.queued:
			a.notice = fmt.Sprintf("queued %s (%s)", msg.pipelineID, shortID(msg.executionID))
		default:
			a.notice = fmt.Sprintf("%s not queued: already running or invalid", msg.pipelineID)
		}
		if a.view == ViewPipelineDetail {
			return a, a.loadDetail(msg.pipelineID)
		}
		return a, a.loadPipelines

	case deregisteredMsg:
		a.err = msg.err
		if msg.err == nil {
			a.notice = "deregistered " + msg.pipelineID
		}
		a.view = ViewPipelineList
		a.detail = nil
		return a, a.loadPipelines
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, a.keys.Quit) && msg.String() == "ctrl+c" {
		return a, tea.Quit
	}
	switch a.view {
	case ViewPipelineList:
		return a.handleListKey(msg)
	case ViewPipelineDetail:
		return a.handleDetailKey(msg)
	}
	return a, nil
}

func (a *App) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit

	case key.Matches(msg, a.keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case key.Matches(msg, a.keys.Down):
		if a.selectedIdx < len(a.pipelines)-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, a.keys.Enter):
		if p, ok := a.selected(); ok {
			a.selectedExecIdx = 0
			return a, a.loadDetail(p.PipelineID)
		}

	case key.Matches(msg, a.keys.Refresh):
		a.notice = ""
		return a, a.loadPipelines

	case key.Matches(msg, a.keys.Queue):
		if p, ok := a.selected(); ok {
			return a, a.queue(p.PipelineID)
		}

	case key.Matches(msg, a.keys.Deregister):
		if p, ok := a.selected(); ok {
			return a, a.deregister(p.PipelineID)
		}
	}

	return a, nil
}

func (a *App) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Back), key.Matches(msg, a.keys.Quit):
		a.view = ViewPipelineList
		a.detail = nil
		a.selectedExecIdx = 0
		return a, a.loadPipelines

	case key.Matches(msg, a.keys.Up):
		if a.selectedExecIdx > 0 {
			a.selectedExecIdx--
		}

	case key.Matches(msg, a.keys.Down):
		if a.detail != nil && a.selectedExecIdx < len(a.detail.Executions())-1 {
			a.selectedExecIdx++
		}

	case key.Matches(msg, a.keys.Refresh):
		if a.detail != nil {
			return a, a.loadDetail(a.detail.PipelineID())
		}

	case key.Matches(msg, a.keys.Queue):
		if a.detail != nil {
			return a, a.queue(a.detail.PipelineID())
		}

	case key.Matches(msg, a.keys.Deregister):
		if a.detail != nil {
			return a, a.deregister(a.detail.PipelineID())
		}
	}

	return a, nil
}

func (a *App) View() string {
	switch a.view {
	case ViewPipelineList:
		return a.viewPipelineList()
	case ViewPipelineDetail:
		return a.viewPipelineDetail()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	stateRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	stateSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stateFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateInvalid   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	stateIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (a *App) viewPipelineList() string {
	s := titleStyle.Render("Pipelines") + "\n\n"

	if a.err != nil {
		s += errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}
	if a.notice != "" {
		s += dimStyle.Render(a.notice) + "\n"
	}

	if len(a.pipelines) == 0 {
		s += "No pipelines registered. Run 'pipestatus sync' first.\n"
	} else {
		for i, p := range a.pipelines {
			line := a.formatPipelineLine(p)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case p.State == models.StateInvalid:
				line = "  " + dimStyle.Render(line)
			default:
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + a.help.View(a.keys.listHelp())
	return s
}

func (a *App) formatPipelineLine(p orchestrator.Summary) string {
	dirty := " "
	if p.Dirty && p.State != models.StateInvalid {
		dirty = "*"
	}
	age := "-"
	if p.LastExecution != nil && p.LastExecution.QueueTime() != nil {
		age = formatAge(a.now().Sub(*p.LastExecution.QueueTime()))
	}
	return fmt.Sprintf("%-30s %s %s  %5s  %s", truncate(p.PipelineID, 30), dirty, formatState(p.State), age, truncate(p.Title, 30))
}

func formatState(state models.State) string {
	label := fmt.Sprintf("%-9s", strings.ToLower(string(state)))
	switch state {
	case models.StateQueued:
		return stateRunning.Render("◌ " + label)
	case models.StateRunning:
		return stateRunning.Render("● " + label)
	case models.StateSucceeded:
		return stateSucceeded.Render("✓ " + label)
	case models.StateFailed:
		return stateFailed.Render("✗ " + label)
	case models.StateInvalid:
		return stateInvalid.Render("⚠ " + label)
	default:
		return stateIdle.Render("○ " + label)
	}
}

func (a *App) viewPipelineDetail() string {
	if a.detail == nil {
		return "No pipeline selected"
	}
	st := a.detail

	s := titleStyle.Render(st.PipelineID()) + "  " + formatState(st.State()) + "\n\n"
	if title, ok := st.Details()["title"].(string); ok {
		s += title + "\n\n"
	}
	if path, ok := st.SourceSpec()["path"].(string); ok {
		s += labelStyle.Render("Source: ") + dimStyle.Render(path) + "\n"
	}
	s += labelStyle.Render("Cache hash: ") + dimStyle.Render(st.CacheHash())
	if st.Dirty() {
		s += "  " + stateRunning.Render("dirty")
	}
	s += "\n\n"

	if errs := st.Errors(); len(errs) > 0 {
		s += "Errors\n──────\n"
		for _, e := range errs {
			s += errorStyle.Render("  "+e) + "\n"
		}
		s += "\n"
	}

	s += "Executions\n──────────\n"
	execs := st.Executions()
	if len(execs) == 0 {
		s += "(no executions yet)\n"
	}
	for i, ex := range execs {
		line := a.formatExecutionLine(ex)
		if i == a.selectedExecIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	if a.err != nil {
		s += "\n" + errorStyle.Render(fmt.Sprintf("Error: %v", a.err)) + "\n"
	}
	if a.notice != "" {
		s += "\n" + dimStyle.Render(a.notice) + "\n"
	}

	s += "\n" + a.help.View(a.keys.detailHelp())
	return s
}

func (a *App) formatExecutionLine(ex status.Execution) string {
	outcome := stateIdle.Render("◌")
	switch {
	case ex.Success() != nil && *ex.Success():
		outcome = stateSucceeded.Render("✓")
	case ex.Success() != nil:
		outcome = stateFailed.Render("✗")
	case ex.StartTime() != nil:
		outcome = stateRunning.Render("●")
	}

	line := fmt.Sprintf("%s  %s", shortID(ex.ID()), outcome)

	if full, ok := ex.(*execution.Execution); ok {
		line += fmt.Sprintf("  %-10s", full.Trigger())
		if d := full.Duration(); d > 0 {
			if ex.FinishTime() == nil {
				line += "  " + stateRunning.Render(formatDuration(d)+"...")
			} else {
				line += "  " + dimStyle.Render(formatDuration(d))
			}
		}
		if q := full.QueueTime(); q != nil {
			line += "  " + dimStyle.Render(formatAge(a.now().Sub(*q))+" ago")
		}
	}
	if errs := ex.ErrorLog(); len(errs) > 0 {
		line += "  " + errorStyle.Render(truncate(errs[0], 40))
	}
	return line
}

// Messages

type pipelinesLoadedMsg struct {
	pipelines []orchestrator.Summary
	err       error
}

type detailMsg struct {
	status *status.PipelineStatus
	err    error
}

type queuedMsg struct {
	pipelineID  string
	executionID string
	queued      bool
	err         error
}

type deregisteredMsg struct {
	pipelineID string
	err        error
}

// Commands

func (a *App) loadPipelines() tea.Msg {
	pipelines, err := a.orchestrator.List(context.Background())
	return pipelinesLoadedMsg{pipelines: pipelines, err: err}
}

func (a *App) loadDetail(pipelineID string) tea.Cmd {
	return func() tea.Msg {
		st, err := a.orchestrator.Status(context.Background(), pipelineID)
		return detailMsg{status: st, err: err}
	}
}

func (a *App) queue(pipelineID string) tea.Cmd {
	return func() tea.Msg {
		executionID, queued, err := a.orchestrator.Queue(context.Background(), pipelineID, models.TriggerManual)
		return queuedMsg{pipelineID: pipelineID, executionID: executionID, queued: queued, err: err}
	}
}

func (a *App) deregister(pipelineID string) tea.Cmd {
	return func() tea.Msg {
		err := a.orchestrator.Deregister(context.Background(), pipelineID)
		return deregisteredMsg{pipelineID: pipelineID, err: err}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
