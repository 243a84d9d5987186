package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Swind/go-task-engine/core"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Width(18)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B7280")).
			Padding(0, 1)
)

func row(key string, value any) string {
	return keyStyle.Render(key) + fmt.Sprint(value)
}

// renderSummary formats a workload summary as two boxed sections.
func renderSummary(s summary) string {
	failedTotal := 0
	kinds := make([]string, 0, len(s.Failed))
	for k, n := range s.Failed {
		failedTotal += n
		kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
	}
	sort.Strings(kinds)

	failed := okStyle.Render("0")
	if failedTotal > 0 {
		failed = failStyle.Render(fmt.Sprintf("%d (%s)", failedTotal, strings.Join(kinds, ", ")))
	}
	shutdown := okStyle.Render("clean")
	if s.ShutdownErr != nil {
		shutdown = failStyle.Render(s.ShutdownErr.Error())
	}

	throughput := 0.0
	if s.Elapsed > 0 {
		throughput = float64(s.Submitted) / s.Elapsed.Seconds()
	}

	stats := strings.Join([]string{
		titleStyle.Render(fmt.Sprintf("engine %s (%s pool, %s delivery)", s.Engine, s.Kind, s.Dispatch)),
		row("submitted", s.Submitted),
		row("completed", okStyle.Render(fmt.Sprint(s.Completed))),
		row("failed", failed),
		row("elapsed", s.Elapsed.Round(time.Millisecond)),
		row("throughput", fmt.Sprintf("%.1f jobs/s", throughput)),
		row("workers", s.Snapshot.Workers),
		row("tasks reused", fmt.Sprintf("%d of %d", s.Snapshot.TasksReused, s.Snapshot.TasksReused+s.Snapshot.TasksAllocated)),
		row("shutdown", shutdown),
	}, "\n")

	sections := []string{boxStyle.Render(stats)}
	if len(s.Recent) > 0 {
		lines := []string{titleStyle.Render("recent executions")}
		for _, r := range s.Recent {
			status := okStyle.Render(r.Status.String())
			if r.Status == core.StatusFailed {
				status = failStyle.Render(r.Status.String() + "/" + r.Kind)
			}
			lines = append(lines, fmt.Sprintf("#%-5d %-12s %-10s %-20s %v",
				r.TaskID, r.Name, status, r.Worker, r.Duration.Round(time.Microsecond)))
		}
		sections = append(sections, boxStyle.Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
