package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ajtruex/agenttrafficcontrol/internal/work"
	"github.com/ajtruex/agenttrafficcontrol/internal/work/resolver"
)

const logPanelLines = 6

var (
	labelStyleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleBlocked  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleDefault  = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	panelBorderStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	noticeStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	panelTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	footerStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	pickerHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	emptyPanelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	metricsLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Width(16)
	metricsValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EEEEEE")).Bold(true)
	tableHeaderStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#444444")).BorderBottom(true).Bold(true)
	tableSelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3B4A6B"))
)

func newItemTable() table.Model {
	columns := []table.Column{
		{Title: "Item", Width: 16},
		{Title: "Sector", Width: 9},
		{Title: "Status", Width: 12},
		{Title: "Agent", Width: 10},
		{Title: "Done", Width: 6},
		{Title: "ETA", Width: 7},
		{Title: "TPS", Width: 6},
		{Title: "Waiting on", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = tableHeaderStyle
	styles.Selected = tableSelectedStyle
	t.SetStyles(styles)
	return t
}

// itemRows renders items in plan order.
func itemRows(state work.State) []table.Row {
	items := state.OrderedItems()
	res := resolver.Resolve(state.Items, state.Order)
	rows := make([]table.Row, 0, len(items))
	for _, item := range items {
		agent := item.AgentID
		if agent == "" {
			agent = "-"
		}
		eta := "-"
		if item.EtaMs != nil && item.Status == work.StatusInProgress {
			eta = fmt.Sprintf("%.1fs", *item.EtaMs/1000)
		}
		tps := "-"
		if item.Status == work.StatusInProgress {
			tps = fmt.Sprintf("%.0f", item.TPS)
		}
		rows = append(rows, table.Row{
			item.ID,
			string(item.Sector),
			string(item.Status),
			agent,
			fmt.Sprintf("%d%%", percent(item.TokensDone, item.EstTokens)),
			eta,
			tps,
			waitingOn(res, item.ID),
		})
	}
	return rows
}

// waitingOn names what holds a queued item back.
func waitingOn(res resolver.Resolution, id string) string {
	node, ok := res.Node(id)
	if !ok {
		return "-"
	}
	switch node.State {
	case resolver.NodeStateCyclic:
		return "cycle"
	case resolver.NodeStateWaiting:
		if len(node.BlockedBy) == 0 {
			return "-"
		}
		if extra := len(node.BlockedBy) - 1; extra > 0 {
			return fmt.Sprintf("%s +%d", node.BlockedBy[0], extra)
		}
		return node.BlockedBy[0]
	}
	return "-"
}

func percent(done, total float64) int {
	if total <= 0 {
		return 0
	}
	p := int(done / total * 100)
	return min(100, max(0, p))
}

// View renders the console.
func (a *App) View() string {
	if a.state == statePlanPicker {
		hint := pickerHintStyle.Render("enter: load plan · esc: back")
		return lipgloss.JoinVertical(lipgloss.Left, a.planMenu.View(), hint)
	}
	sections := []string{a.renderHeader()}
	if a.notice != "" {
		sections = append(sections, noticeStyle.Render(a.notice))
	}
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		panelBorderStyle.Render(a.items.View()),
		panelBorderStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			a.renderMetrics(),
			"",
			a.renderSectors(),
			"",
			a.renderAgents(),
		)),
	)
	sections = append(sections, top)
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	sections = append(sections,
		footerStyle.Render(a.statusMsg),
		a.help.View(a.keys),
	)
	return strings.Join(sections, "\n")
}

func (a *App) renderHeader() string {
	title := headerStyle.Render("⬡ AGENT TRAFFIC CONTROL")
	plan := a.view.Plan
	if plan == "" {
		plan = "-"
	}
	detail := detailTextStyle.Render(fmt.Sprintf("  plan %s · seed %q · %sx · %s",
		plan, a.view.Seed, formatSpeed(a.speed), a.source))
	return title + detail
}

func (a *App) renderMetrics() string {
	m := a.view.Metrics
	rows := [][2]string{
		{"Tick", fmt.Sprintf("%d", a.lastTick)},
		{"Active agents", fmt.Sprintf("%d", m.ActiveAgents)},
		{"Tokens", fmt.Sprintf("%.0f", m.TotalTokens)},
		{"Spend", fmt.Sprintf("$%.4f", m.TotalSpendUSD)},
		{"Live TPS", fmt.Sprintf("%.1f", m.LiveTPS)},
		{"Live $/s", fmt.Sprintf("$%.5f", m.LiveSpendPerS)},
	}
	lines := []string{panelTitleStyle.Render("METRICS")}
	for _, row := range rows {
		lines = append(lines, metricsLabelStyle.Render(row[0])+metricsValueStyle.Render(row[1]))
	}
	lines = append(lines, "", a.bar.ViewAs(clampUnit(m.CompletionRate)))
	return strings.Join(lines, "\n")
}

// renderSectors summarizes completion per sector in the sector's color.
func (a *App) renderSectors() string {
	type tally struct{ done, total int }
	counts := map[work.Sector]*tally{}
	for _, item := range a.view.Items {
		if item == nil {
			continue
		}
		t, ok := counts[item.Sector]
		if !ok {
			t = &tally{}
			counts[item.Sector] = t
		}
		t.total++
		if item.Status == work.StatusDone {
			t.done++
		}
	}
	lines := []string{panelTitleStyle.Render("SECTORS")}
	for _, sector := range work.Sectors {
		t, ok := counts[sector]
		if !ok {
			continue
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(sector.Color()))
		lines = append(lines, style.Render(fmt.Sprintf("%-9s %d/%d", sector, t.done, t.total)))
	}
	if len(lines) == 1 {
		lines = append(lines, emptyPanelStyle.Render("No plan loaded"))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderAgents() string {
	agents := make([]*work.Agent, 0, len(a.view.Agents))
	for _, agent := range a.view.Agents {
		if agent != nil {
			agents = append(agents, agent)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].SpawnedAt != agents[j].SpawnedAt {
			return agents[i].SpawnedAt < agents[j].SpawnedAt
		}
		return agents[i].ID < agents[j].ID
	})
	lines := []string{panelTitleStyle.Render("AGENTS")}
	if len(agents) == 0 {
		lines = append(lines, emptyPanelStyle.Render("Airspace clear"))
		return strings.Join(lines, "\n")
	}
	for _, agent := range agents {
		style := labelStyleDefault
		if item, ok := a.view.Items[agent.WorkItemID]; ok && item != nil {
			style = statusStyle(item.Status)
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s → %s", agent.ID, agent.WorkItemID)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil || len(a.logLines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := panelTitleStyle.Render(fmt.Sprintf("LOG · %s (%d)", fileName, a.logTotal))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(a.logLines, "\n"))
	return panelBorderStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func statusStyle(status work.Status) lipgloss.Style {
	switch status {
	case work.StatusDone:
		return labelStyleDone
	case work.StatusInProgress:
		return labelStyleRunning
	case work.StatusBlocked:
		return labelStyleBlocked
	default:
		return labelStyleDefault
	}
}

func clampUnit(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func keyMatches(msg tea.KeyMsg, binding key.Binding) bool {
	return key.Matches(msg, binding)
}
