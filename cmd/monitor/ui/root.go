package ui

import tea "github.com/charmbracelet/bubbletea"

type RootModel struct {
	Dashboard DashboardModel
	Quitting  bool
}

func NewRootModel(feed *Feed) RootModel {
	return RootModel{Dashboard: NewDashboardModel(feed, 100, 30)}
}

func (m RootModel) Init() tea.Cmd {
	return m.Dashboard.Init()
}

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok && (k.Type == tea.KeyCtrlC || k.String() == "q") {
		m.Quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.Dashboard, cmd = m.Dashboard.Update(msg)
	return m, cmd
}

func (m RootModel) View() string {
	if m.Quitting {
		return "Bye!\n"
	}
	return m.Dashboard.View()
}
