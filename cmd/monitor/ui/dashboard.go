package ui

import (
	"fmt"
	"strings"
	"time"

	"chunk-relay/transfer"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const retryDelay = 3 * time.Second

// SessionEntry is the latest known state of one transfer session.
type SessionEntry struct {
	SessionID string
	FileName  string
	Status    transfer.Status
	Percent   float64
	Message   string
	UpdatedAt time.Time
}

// Finished reports whether no further results are expected.
func (e SessionEntry) Finished() bool {
	return e.Status == transfer.StatusCompleted || e.Status == transfer.StatusFailed
}

type DashboardModel struct {
	Feed     *Feed
	Table    table.Model
	Bar      progress.Model
	Sessions map[string]*SessionEntry
	Order    []string
	Err      error
}

func NewDashboardModel(feed *Feed, width, height int) DashboardModel {
	columns := []table.Column{
		{Title: "Session", Width: 10},
		{Title: "File", Width: 30},
		{Title: "Status", Width: 12},
		{Title: "Progress", Width: 9},
		{Title: "Message", Width: 40},
		{Title: "Updated", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(tableHeight(height)),
	)

	sStyle := table.DefaultStyles()
	sStyle.Header = sStyle.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	sStyle.Selected = sStyle.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(sStyle)

	bar := progress.New(progress.WithDefaultGradient())
	if width > 10 {
		bar.Width = width - 10
	}

	return DashboardModel{
		Feed:     feed,
		Table:    t,
		Bar:      bar,
		Sessions: make(map[string]*SessionEntry),
	}
}

func tableHeight(height int) int {
	if height-12 < 3 {
		return 3
	}
	return height - 12
}

func (m DashboardModel) Init() tea.Cmd {
	return m.next()
}

func (m DashboardModel) next() tea.Cmd {
	if m.Feed == nil {
		return nil
	}
	return m.Feed.Next()
}

func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Table.SetHeight(tableHeight(msg.Height))
		if msg.Width > 10 {
			m.Bar.Width = msg.Width - 10
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.clearFinished()
			return m, nil
		}

	case ResultMsg:
		m.Err = nil
		m.apply(msg.Record)
		return m, m.next()

	case idleMsg:
		return m, m.next()

	case errMsg:
		m.Err = msg
		return m, tea.Tick(retryDelay, func(time.Time) tea.Msg { return idleMsg{} })
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

// apply folds one result record into the session list.
func (m *DashboardModel) apply(rec transfer.ResultRecord) {
	e, ok := m.Sessions[rec.SessionID]
	if !ok {
		e = &SessionEntry{SessionID: rec.SessionID}
		m.Sessions[rec.SessionID] = e
		m.Order = append(m.Order, rec.SessionID)
	}
	// a late progress record never reopens a finished session
	if e.Finished() && rec.Status == transfer.StatusInProgress {
		return
	}
	e.FileName = rec.FileName
	e.Status = rec.Status
	e.Message = rec.Message
	e.UpdatedAt = rec.ProcessedAt
	switch rec.Status {
	case transfer.StatusCompleted:
		e.Percent = 100
	case transfer.StatusInProgress:
		if pct, ok := ParseProgress(rec.Message); ok {
			e.Percent = pct
		}
	}
	m.refresh()
}

func (m *DashboardModel) clearFinished() {
	kept := m.Order[:0]
	for _, id := range m.Order {
		if m.Sessions[id].Finished() {
			delete(m.Sessions, id)
			continue
		}
		kept = append(kept, id)
	}
	m.Order = kept
	m.refresh()
}

func (m *DashboardModel) refresh() {
	rows := make([]table.Row, 0, len(m.Order))
	for _, id := range m.Order {
		e := m.Sessions[id]
		rows = append(rows, table.Row{
			shortID(e.SessionID),
			e.FileName,
			string(e.Status),
			fmt.Sprintf("%.1f%%", e.Percent),
			e.Message,
			updatedAt(e.UpdatedAt),
		})
	}
	m.Table.SetRows(rows)
	if c := m.Table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.Table.SetCursor(len(rows) - 1)
	}
}

// Selected returns the entry under the cursor, if any.
func (m DashboardModel) Selected() *SessionEntry {
	c := m.Table.Cursor()
	if c < 0 || c >= len(m.Order) {
		return nil
	}
	return m.Sessions[m.Order[c]]
}

// ParseProgress reads the percentage out of a "progress: 42.0%" message.
func ParseProgress(message string) (float64, bool) {
	var pct float64
	if _, err := fmt.Sscanf(message, "progress: %f%%", &pct); err != nil {
		return 0, false
	}
	return pct, true
}

func updatedAt(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (m DashboardModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Chunk Relay - Transfer Sessions") + "\n\n")
	b.WriteString(m.Table.View())
	b.WriteString("\n\n")

	if e := m.Selected(); e != nil {
		b.WriteString(m.Bar.ViewAs(e.Percent/100) + "\n")
		line := fmt.Sprintf("%s  %s", e.FileName, e.SessionID)
		switch e.Status {
		case transfer.StatusCompleted:
			line = completedStyle.Render(line)
		case transfer.StatusFailed:
			line = failedStyle.Render(line)
		default:
			line = statusMessageStyle(line)
		}
		b.WriteString(line + "\n\n")
	}

	b.WriteString(blurredStyle.Render("Press 'c' to clear finished, 'q' to quit, up/down to navigate"))
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return docStyle.Render(b.String())
}
