// Package tui provides a Bubble Tea viewer for AIOP reports.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/aiop/internal/aiop"
	"github.com/fakeyudi/aiop/internal/session"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	stepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	// Selected row in the Errors list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabTimeline
	tabMetrics
	tabErrors
	tabArtifacts
	tabMetadata
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Timeline", "Metrics", "Errors", "Artifacts", "Metadata",
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	doc       *aiop.Document
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	// Errors tab: cursor position and expanded set
	errCursor   int
	expandedErr map[int]bool
}

// New creates a viewer for doc read from filename.
func New(doc *aiop.Document, filename string) Model {
	return Model{
		doc:         doc,
		filename:    filepath.Base(filename),
		sortAsc:     true,
		expandedErr: make(map[int]bool),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuild(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabErrors && m.errCursor > 0 {
				m.errCursor--
				m.rebuild(tabErrors)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabErrors && m.errCursor < len(m.doc.Evidence.Errors)-1 {
				m.errCursor++
				m.rebuild(tabErrors)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabErrors && len(m.doc.Evidence.Errors) > 0 {
				if m.expandedErr[m.errCursor] {
					delete(m.expandedErr, m.errCursor)
				} else {
					m.expandedErr[m.errCursor] = true
				}
				m.rebuild(tabErrors)
				return m, nil
			}
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  aiop  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	switch m.activeTab {
	case tabTimeline:
		dir := "oldest first"
		if !m.sortAsc {
			dir = "newest first"
		}
		hint += "  s sort (" + dir + ")"
	case tabErrors:
		hint += "  ↑/↓ select  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuild(t tabID) {
	if m.ready {
		m.viewports[t].SetContent(m.renderTab(t))
	}
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabTimeline:
		return m.renderTimeline()
	case tabMetrics:
		return m.renderMetrics()
	case tabErrors:
		return m.renderErrors()
	case tabArtifacts:
		return m.renderArtifacts()
	case tabMetadata:
		return m.renderMetadata()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
}

func statusBadge(status string) string {
	switch status {
	case "completed":
		return okStyle.Render(status)
	case "failed":
		return errorStyle.Render(status)
	default:
		return warnStyle.Render(status)
	}
}

func (m *Model) renderSummary() string {
	d := m.doc
	var sb strings.Builder
	sb.WriteString(heading("Run"))
	row(&sb, "Session:", d.Run.SessionID)
	row(&sb, "Status:", statusBadge(d.Run.Status))
	if d.Run.StartedAt != "" {
		row(&sb, "Started:", d.Run.StartedAt)
	}
	if d.Run.CompletedAt != "" {
		row(&sb, "Completed:", d.Run.CompletedAt)
	}
	row(&sb, "Duration:", aiop.FormatDuration(d.Run.DurationMS))

	sb.WriteString(heading("Pipeline"))
	row(&sb, "Name:", orNone(d.Pipeline.Name))
	row(&sb, "Manifest:", d.Pipeline.ManifestHash)
	row(&sb, "Steps:", fmt.Sprint(d.Pipeline.StepCount))
	if len(d.Semantic.Components) > 0 {
		row(&sb, "Components:", strings.Join(d.Semantic.Components, ", "))
	}

	sb.WriteString(heading("Narrative"))
	sb.WriteString("  " + d.Narrative.Summary + "\n\n")
	for _, h := range d.Narrative.Highlights {
		sb.WriteString(bullet(h))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	t := m.doc.Evidence.Timeline
	var sb strings.Builder
	dir := "oldest first"
	if !m.sortAsc {
		dir = "newest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%d shown, %s)", len(t.Items), dir)))
	switch {
	case t.Annexed:
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d of %d events; %d records in %s", len(t.Items), t.TotalCount, t.AnnexedCount, t.AnnexFile)) + "\n\n")
	case t.Truncated:
		sb.WriteString(warnStyle.Render(fmt.Sprintf("  truncated: %d events dropped", t.DroppedEvents)) + "\n\n")
	}
	if len(t.Items) == 0 {
		sb.WriteString(dimStyle.Render("  (no events)") + "\n")
		return sb.String()
	}

	items := make([]session.Event, len(t.Items))
	copy(items, t.Items)
	if !m.sortAsc {
		// Events are in file order; reversing keeps ties stable.
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	for _, e := range items {
		sb.WriteString(eventLine(e) + "\n")
	}
	return sb.String()
}

func eventLine(e session.Event) string {
	line := "  " + timeStyle.Render(orDash(e.Timestamp)) + "  " + e.Name
	if e.StepID != "" {
		line += "  " + stepStyle.Render(e.StepID)
	}
	return line
}

func (m *Model) renderMetrics() string {
	mt := m.doc.Evidence.Metrics
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Metrics (%d series)", mt.TotalSeries)))
	switch {
	case mt.AnnexFile != "":
		sb.WriteString(dimStyle.Render("  aggregates only; samples are in "+mt.AnnexFile) + "\n\n")
	case mt.Truncated:
		sb.WriteString(warnStyle.Render(fmt.Sprintf("  truncated: %d series reduced to aggregates", mt.DroppedSeries)) + "\n\n")
	}
	if len(mt.Steps) == 0 {
		sb.WriteString(dimStyle.Render("  (no metrics)") + "\n")
		return sb.String()
	}
	for _, st := range mt.Steps {
		sb.WriteString("  " + stepStyle.Render(st.StepID) + "\n")
		for _, a := range st.Metrics {
			unit := ""
			if a.Unit != "" {
				unit = " " + a.Unit
			}
			sb.WriteString(fmt.Sprintf("    %-24s count=%d  sum=%g  last=%s%s\n", a.Name, a.Count, a.Sum, a.Last, unit))
		}
		sb.WriteString("\n")
	}
	if len(mt.Series) > 0 {
		sb.WriteString(heading("Top series"))
		for _, s := range mt.Series {
			sb.WriteString(bullet(fmt.Sprintf("%s/%s  %d samples", s.StepID, s.Name, s.Count)))
		}
	}
	return sb.String()
}

func (m *Model) renderErrors() string {
	errs := m.doc.Evidence.Errors
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Errors (%d)", len(errs))))
	if len(errs) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, e := range errs {
		toggle := dimStyle.Render("  ▶ ")
		if m.expandedErr[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		line := toggle + eventLine(e)
		if i == m.errCursor && m.width > 2 {
			line = selectedRowStyle.Width(m.width - 2).Render(line)
		}
		sb.WriteString(line + "\n")
		if m.expandedErr[i] {
			sb.WriteString(renderFields(e.Extra))
		}
	}
	return sb.String()
}

// renderFields lists the extra fields of an event in key order.
func renderFields(extra map[string]any) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("        %s: %v", k, extra[k])) + "\n")
	}
	return sb.String()
}

func (m *Model) renderArtifacts() string {
	arts := m.doc.Evidence.Artifacts
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Artifacts (%d)", len(arts))))
	if len(arts) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, a := range arts {
		sb.WriteString(fmt.Sprintf("  %-9s %10d  %s\n", a.Kind, a.Size, a.Name))
	}
	return sb.String()
}

func (m *Model) renderMetadata() string {
	md := m.doc.Metadata
	var sb strings.Builder
	sb.WriteString(heading("Report"))
	row(&sb, "Format:", md.AIOPFormat)
	row(&sb, "Generated:", md.GeneratedAt)
	row(&sb, "Size:", fmt.Sprintf("%d bytes", md.SizeBytes))
	truncated := okStyle.Render("no")
	if md.Truncated {
		truncated = warnStyle.Render("yes")
	}
	row(&sb, "Truncated:", truncated)

	sb.WriteString(heading("Configuration"))
	keys := make([]string, 0, len(md.ConfigEffective))
	for k := range md.ConfigEffective {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := md.ConfigEffective[k]
		sb.WriteString(fmt.Sprintf("  %-18s %-20v %s\n", k, e.Value, dimStyle.Render(string(e.Source))))
	}

	if md.Annex != nil {
		sb.WriteString(heading("Annex (" + md.Annex.Compress + ")"))
		for _, f := range md.Annex.Files {
			sb.WriteString(bullet(fmt.Sprintf("%s  %d records  %d bytes", f.Name, f.RecordCount, f.ByteSize)))
		}
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return dimStyle.Render("(none)")
	}
	return s
}

// Plain renders every tab one after another, for non-interactive output.
func Plain(doc *aiop.Document, filename string) string {
	m := New(doc, filename)
	var sb strings.Builder
	sb.WriteString("aiop  " + m.filename + "\n")
	for i := tabID(0); i < tabCount; i++ {
		sb.WriteString("\n== " + tabNames[i] + " ==\n")
		sb.WriteString(m.renderTab(i))
	}
	return sb.String()
}

// Run starts the viewer for doc.
func Run(doc *aiop.Document, filename string) error {
	p := tea.NewProgram(New(doc, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
