// Package tui is the terminal drift review: it lists the sessions whose
// calendar events were deleted or moved and lets the user resolve them.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/service"
	"github.com/theakshaypant/studysync/internal/util"
)

// Reviewer is the part of the calendar service the review needs.
type Reviewer interface {
	CheckChanges(ctx context.Context, userID uuid.UUID) (service.DriftReport, error)
	ResolveDrift(ctx context.Context, userID, sessionID uuid.UUID, choice service.DriftChoice) error
}

// KeyMap defines the keybindings for the review.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Accept     key.Binding
	Keep       key.Binding
	Refresh    key.Binding
	Tab        key.Binding
	Quit       key.Binding
	Help       key.Binding
}

var DefaultKeyMap = KeyMap{
	Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "up")),
	Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓", "down")),
	ScrollUp:   key.NewBinding(key.WithKeys("ctrl+u", "pgup"), key.WithHelp("ctrl+u", "scroll up")),
	ScrollDown: key.NewBinding(key.WithKeys("ctrl+d", "pgdown"), key.WithHelp("ctrl+d", "scroll down")),
	Accept:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "accept calendar time")),
	Keep:       key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "push planned time")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "check again")),
	Tab:        key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch panel")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
}

// PanelFocus selects the panel shown in compact mode.
type PanelFocus int

const (
	FocusList PanelFocus = iota
	FocusDetail
)

// Model is the Bubble Tea model of the review.
type Model struct {
	svc    Reviewer
	userID uuid.UUID

	changes     []service.Change
	resolved    map[uuid.UUID]string
	selectedIdx int
	loading     bool
	err         error
	status      string

	width, height int
	listWidth     int
	detailWidth   int
	contentHeight int
	keys          KeyMap
	listView      viewport.Model
	detailView    viewport.Model
	viewportReady bool
	compactMode   bool
	focusedPanel  PanelFocus
	showHelp      bool
}

// NewModel creates a review for userID.
func NewModel(svc Reviewer, userID uuid.UUID) Model {
	return Model{
		svc:      svc,
		userID:   userID,
		resolved: map[uuid.UUID]string{},
		keys:     DefaultKeyMap,
		loading:  true,
	}
}

type changesLoadedMsg struct {
	report service.DriftReport
	err    error
}

type resolvedMsg struct {
	sessionID uuid.UUID
	choice    service.DriftChoice
	err       error
}

func (m Model) loadChanges() tea.Cmd {
	return func() tea.Msg {
		report, err := m.svc.CheckChanges(context.Background(), m.userID)
		return changesLoadedMsg{report: report, err: err}
	}
}

func (m Model) resolve(id uuid.UUID, choice service.DriftChoice) tea.Cmd {
	return func() tea.Msg {
		err := m.svc.ResolveDrift(context.Background(), m.userID, id, choice)
		return resolvedMsg{sessionID: id, choice: choice, err: err}
	}
}

// Init starts the first check.
func (m Model) Init() tea.Cmd {
	return m.loadChanges()
}

func (m *Model) calculateLayout() {
	height := max(m.height, 10)
	m.contentHeight = max(height-6, 5)

	m.compactMode = m.width < 70
	if m.compactMode {
		m.listWidth = max(m.width-4, 20)
		m.detailWidth = m.listWidth
		return
	}
	m.listWidth = min(max(m.width*40/100, 30), 60)
	m.detailWidth = max(m.width-m.listWidth-5, 35)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.calculateLayout()
		lw, lh := max(m.listWidth-4, 10), max(m.contentHeight-4, 1)
		dw, dh := max(m.detailWidth-4, 10), max(m.contentHeight-4, 1)
		if !m.viewportReady {
			m.listView = viewport.New(lw, lh)
			m.detailView = viewport.New(dw, dh)
			m.viewportReady = true
		} else {
			m.listView.Width, m.listView.Height = lw, lh
			m.detailView.Width, m.detailView.Height = dw, dh
		}
		m.refresh()
		return m, nil

	case changesLoadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.changes = msg.report.Changes
			m.resolved = map[uuid.UUID]string{}
			m.selectedIdx = 0
			m.status = summary(msg.report)
		}
		m.refresh()
		return m, nil

	case resolvedMsg:
		if msg.err != nil {
			m.status = ErrorStyle.Render("Failed: " + msg.err.Error())
		} else {
			label := "calendar time accepted"
			if msg.choice == service.KeepLocal {
				label = "planned time pushed"
			}
			m.resolved[msg.sessionID] = label
			m.status = StatusStyle.Render("✓ " + label)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = true
		case key.Matches(msg, m.keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh()
				m.detailView.GotoTop()
			}
		case key.Matches(msg, m.keys.Down):
			if m.selectedIdx < len(m.changes)-1 {
				m.selectedIdx++
				m.refresh()
				m.detailView.GotoTop()
			}
		case key.Matches(msg, m.keys.ScrollUp):
			m.detailView.ViewUp()
		case key.Matches(msg, m.keys.ScrollDown):
			m.detailView.ViewDown()
		case key.Matches(msg, m.keys.Tab):
			if m.compactMode {
				if m.focusedPanel == FocusList {
					m.focusedPanel = FocusDetail
				} else {
					m.focusedPanel = FocusList
				}
			}
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.loadChanges()
		case key.Matches(msg, m.keys.Accept):
			return m, m.choose(service.AcceptRemote)
		case key.Matches(msg, m.keys.Keep):
			return m, m.choose(service.KeepLocal)
		}
		return m, nil
	}
	return m, nil
}

// choose resolves the selected change. A deleted event has no calendar time
// to accept; pushing the planned time recreates it.
func (m *Model) choose(choice service.DriftChoice) tea.Cmd {
	c, ok := m.selected()
	if !ok {
		return nil
	}
	if _, done := m.resolved[c.SessionID]; done {
		m.status = "Already resolved"
		return nil
	}
	if c.Type == service.DeletedEvent && choice == service.AcceptRemote {
		m.status = "The event was deleted; the session stays marked as missed"
		m.resolved[c.SessionID] = "kept as missed"
		m.refresh()
		return nil
	}
	m.status = "Working..."
	return m.resolve(c.SessionID, choice)
}

func (m Model) selected() (service.Change, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.changes) {
		return service.Change{}, false
	}
	return m.changes[m.selectedIdx], true
}

func summary(r service.DriftReport) string {
	if len(r.Changes) == 0 {
		return "Your calendar matches your study plan"
	}
	return fmt.Sprintf("%d deleted, %d moved", r.DeletedSessions, r.ModifiedSessions)
}

func (m *Model) refresh() {
	if !m.viewportReady {
		return
	}
	m.updateListContent()
	m.updateDetailContent()
	m.scrollListToSelection()
}

// View renders the review.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var content string
	switch {
	case m.loading:
		content = lipgloss.NewStyle().
			Width(m.width-4).
			Height(m.contentHeight).
			Align(lipgloss.Center, lipgloss.Center).
			Render("Checking your calendar...")
	case m.err != nil:
		content = lipgloss.NewStyle().
			Width(m.width - 4).
			Height(m.contentHeight).
			Foreground(errorColor).
			Render(fmt.Sprintf("Error: %v", m.err))
	case m.compactMode:
		switch {
		case m.showHelp:
			content = m.renderHelpPanel()
		case m.focusedPanel == FocusList:
			content = m.renderListPanel()
		default:
			content = m.renderDetailPanel()
		}
	default:
		right := m.renderDetailPanel()
		if m.showHelp {
			right = m.renderHelpPanel()
		}
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.renderListPanel(), " ", right)
	}

	return AppStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), content, m.renderHelp()),
	)
}

func (m Model) renderHeader() string {
	title := HeaderStyle.Render("StudySync drift review")
	status := lipgloss.NewStyle().Foreground(mutedColor).Render(m.status)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
}

func (m *Model) updateListContent() {
	if len(m.changes) == 0 {
		m.listView.SetContent(NormalItemStyle.Render("No changes"))
		return
	}
	items := make([]string, len(m.changes))
	for i, c := range m.changes {
		items[i] = m.renderListItem(c, i == m.selectedIdx, m.listView.Width)
	}
	m.listView.SetContent(strings.Join(items, "\n"))
}

func (m *Model) scrollListToSelection() {
	top := m.listView.YOffset
	switch {
	case m.selectedIdx < top:
		m.listView.SetYOffset(m.selectedIdx)
	case m.selectedIdx >= top+m.listView.Height:
		m.listView.SetYOffset(m.selectedIdx - m.listView.Height + 1)
	}
}

func (m Model) renderListItem(c service.Change, selected bool, maxWidth int) string {
	badge := MovedBadgeStyle.Render("MOV")
	if c.Type == service.DeletedEvent {
		badge = DeletedBadgeStyle.Render("DEL")
	}
	when := TimeStyle.Render(c.EventTime.Local().Format("Jan 2 15:04"))
	title := util.TruncateText(c.SessionTitle, max(maxWidth-21, 10))
	line := fmt.Sprintf("%s %s %s", badge, when, title)

	_, done := m.resolved[c.SessionID]
	switch {
	case selected:
		return SelectedItemStyle.Render(line)
	case done:
		return ResolvedItemStyle.Render(line)
	default:
		return NormalItemStyle.Render(line)
	}
}

func (m *Model) updateDetailContent() {
	c, ok := m.selected()
	if !ok {
		m.detailView.SetContent("")
		return
	}
	width := m.detailView.Width
	lines := []string{
		TitleStyle.Render(ansi.Wordwrap(c.SessionTitle, width, "")),
		renderField("Planned", formatTime(c.EventTime)),
	}
	if c.Type == service.DeletedEvent {
		lines = append(lines, renderField("Calendar", ErrorStyle.Render("event deleted")))
	} else if c.RemoteStart != nil {
		lines = append(lines, renderField("Calendar", formatTime(*c.RemoteStart)))
		lines = append(lines, renderField("Moved by", formatDelta(c.RemoteStart.Sub(c.EventTime))))
	}
	lines = append(lines, renderField("Event ID", util.TruncateText(c.ExternalEventID, max(width-13, 8))))
	lines = append(lines, "", ActionStyle.Render(ansi.Wordwrap(c.SuggestedAction, width, "")))
	if label, done := m.resolved[c.SessionID]; done {
		lines = append(lines, "", StatusStyle.Render("✓ "+label))
	}
	m.detailView.SetContent(strings.Join(lines, "\n"))
}

func (m Model) renderListPanel() string {
	header := lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("Changes")
	if len(m.changes) > 0 {
		header += lipgloss.NewStyle().Foreground(mutedColor).
			Render(fmt.Sprintf(" (%d/%d)", m.selectedIdx+1, len(m.changes)))
	}
	return ListPanelStyle.Width(m.listWidth).Height(m.contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, m.listView.View()),
	)
}

func (m Model) renderDetailPanel() string {
	if len(m.changes) == 0 {
		return DetailPanelStyle.Width(m.detailWidth).Height(m.contentHeight).Render(
			lipgloss.NewStyle().Foreground(mutedColor).Render("Nothing to review"),
		)
	}
	header := lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("Session")
	return DetailPanelStyle.Width(m.detailWidth).Height(m.contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, "", m.detailView.View()),
	)
}

func (m Model) renderHelp() string {
	keys := []string{
		HelpKeyStyle.Render("↑/↓") + " nav",
		HelpKeyStyle.Render("a") + " accept",
		HelpKeyStyle.Render("p") + " push",
		HelpKeyStyle.Render("r") + " recheck",
		HelpKeyStyle.Render("tab") + " panel",
		HelpKeyStyle.Render("q") + " quit",
	}
	full := strings.Join(keys, "  •  ")
	if lipgloss.Width(full) > m.width-4 {
		return HelpStyle.Render(HelpKeyStyle.Render("?") + " help")
	}
	return HelpStyle.Render(full)
}

func (m Model) renderHelpPanel() string {
	header := lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("Keyboard Shortcuts")
	lines := []string{
		"",
		HelpKeyStyle.Render("  ↑ / ↓      ") + " Select change",
		HelpKeyStyle.Render("  ctrl+u/d   ") + " Scroll details",
		HelpKeyStyle.Render("  a          ") + " Move the session to the calendar time",
		HelpKeyStyle.Render("  p          ") + " Write the planned time back to the calendar",
		HelpKeyStyle.Render("  r          ") + " Check the calendar again",
		HelpKeyStyle.Render("  tab        ") + " Switch panel",
		HelpKeyStyle.Render("  q / ctrl+c ") + " Quit",
		"",
		lipgloss.NewStyle().Foreground(mutedColor).Italic(true).Render("  Press any key to close"),
	}
	width := m.detailWidth
	if m.compactMode {
		width = m.listWidth
	}
	return DetailPanelStyle.Width(width).Height(m.contentHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, strings.Join(lines, "\n")),
	)
}

func renderField(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func formatTime(t time.Time) string {
	return t.Local().Format("Mon, Jan 2 3:04 PM")
}

func formatDelta(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign, d = "-", -d
	}
	h, m := int(d.Hours()), int(d.Minutes())%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%s%dh %dm", sign, h, m)
	case h > 0:
		return fmt.Sprintf("%s%dh", sign, h)
	}
	return fmt.Sprintf("%s%dm", sign, m)
}
