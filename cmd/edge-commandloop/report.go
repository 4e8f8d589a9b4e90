package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/st-keller/edge-commandloop/standard"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(1).PaddingRight(1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))

	statusStyles = map[string]lipgloss.Style{
		"healthy":   lipgloss.NewStyle().Foreground(lipgloss.Color("#32CD32")),
		"degraded":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB347")),
		"unhealthy": lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5E5E")),
	}

	tableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	tableCell = lipgloss.NewStyle().Padding(0, 1)

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

func renderTable(headers []string, widths []int, rows [][]string) string {
	headerCells := make([]string, len(headers))
	for i, h := range headers {
		headerCells[i] = tableHeader.Width(widths[i]).MaxWidth(widths[i]).Render(h)
	}
	lines := []string{lipgloss.JoinHorizontal(lipgloss.Left, headerCells...)}

	for _, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = tableCell.Width(widths[j]).MaxWidth(widths[j]).Render(cell)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left, cells...))
	}
	return tableStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// printReport writes the connectivity table and diagnostic counts gathered
// during a run.
func printReport(out io.Writer, cycles, failures int64, stats []standard.ExchangeStats, logs *standard.RecentLogs) {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		status := s.Status
		if style, ok := statusStyles[status]; ok {
			status = style.Render(status)
		}
		rows = append(rows, []string{
			s.Label,
			status,
			fmt.Sprintf("%d", s.TotalCalls),
			fmt.Sprintf("%.1f%%", s.SuccessRate*100),
			fmt.Sprintf("%d/%d/%d", s.LatencyP50, s.LatencyP95, s.LatencyP99),
		})
	}

	sections := []string{
		titleStyle.Render("Command Loop Report"),
		labelStyle.Render(fmt.Sprintf("cycles: %d (%d failed)", cycles, failures)),
	}
	if len(rows) > 0 {
		sections = append(sections, renderTable(
			[]string{"Exchange", "Status", "Calls", "Success", "p50/p95/p99 ms"},
			[]int{12, 12, 8, 10, 16},
			rows,
		))
	}
	if logs != nil {
		sections = append(sections, labelStyle.Render(fmt.Sprintf(
			"diagnostics: %d error, %d warn, %d info",
			logs.Count(standard.LevelError), logs.Count(standard.LevelWarn), logs.Count(standard.LevelInfo),
		)))
		for _, s := range stats {
			for _, e := range s.RecentErrors {
				sections = append(sections, statusStyles["unhealthy"].Render("  "+s.Label+": "+e))
			}
		}
	}

	fmt.Fprintln(out, lipgloss.JoinVertical(lipgloss.Left, sections...))
}
