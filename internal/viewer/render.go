package viewer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/layout"
	"pkt.systems/groundstation/internal/widgets"
)

// GridColumns is the number of span units in one row.
const GridColumns = catalog.MaxSpan

const minCellWidth = 12

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
	cellStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render draws the visible widgets as a grid width columns wide.
func (d *Dashboard) Render(width int) string {
	if width < GridColumns*minCellWidth {
		width = GridColumns * minCellWidth
	}
	header := headerStyle.Render("groundstation")
	if d.clientID != "" {
		header += dimStyle.Render("  client " + string(d.clientID))
	}
	if !d.permitted {
		return lipgloss.JoinVertical(lipgloss.Left, header, dimStyle.Render("waiting for permissions..."))
	}
	visible := d.Visible()
	header += dimStyle.Render(fmt.Sprintf("  %d/%d widgets", len(visible), len(d.layout.Instances())))
	if len(visible) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, dimStyle.Render("no widgets permitted"))
	}
	unit := width / GridColumns
	lines := []string{header}
	for _, row := range packRows(visible) {
		cells := make([]string, 0, len(row))
		for _, inst := range row {
			cells = append(cells, d.renderCell(inst, inst.Span*unit))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// packRows fills rows left to right, wrapping when the next span would
// overflow the grid.
func packRows(instances []layout.Instance) [][]layout.Instance {
	var rows [][]layout.Instance
	var row []layout.Instance
	used := 0
	for _, inst := range instances {
		span := catalog.ClampSpan(inst.Span)
		if used+span > GridColumns && len(row) > 0 {
			rows = append(rows, row)
			row, used = nil, 0
		}
		row = append(row, inst)
		used += span
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func (d *Dashboard) renderCell(inst layout.Instance, outer int) string {
	// border and padding take four columns
	inner := outer - 4
	if inner < 1 {
		inner = 1
	}
	def := inst.Definition
	title := def.Title
	if title == "" {
		title = string(def.Name)
	}
	body := []string{titleStyle.Render(truncate(title, inner))}
	snapshot, _ := d.fanout.Latest()
	if def.Render == catalog.RenderChart {
		body = append(body, d.chartLines(inst, inner)...)
	} else {
		for _, line := range widgets.Lines(def, snapshot) {
			body = append(body, truncate(line, inner))
		}
	}
	return cellStyle.Width(outer - 2).Render(strings.Join(body, "\n"))
}

func (d *Dashboard) chartLines(inst layout.Instance, inner int) []string {
	series, ok := d.Series(inst.ID)
	if !ok || series.Window().Len() == 0 {
		return []string{widgets.Placeholder}
	}
	points := series.Window().Points()
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.V
	}
	last := points[len(points)-1].V
	value := widgets.FormatValue(last, true, inst.Definition.Precision)
	if inst.Definition.Unit != "" {
		value += " " + inst.Definition.Unit
	}
	return []string{
		widgets.Sparkline(values, inner, widgets.ChartRange[0], widgets.ChartRange[1]),
		truncate(value, inner),
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
