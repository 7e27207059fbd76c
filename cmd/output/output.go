// Package output renders read models for the terminal.
package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Status colours a status name: green for success, red for terminal
// failure, amber while a stage runs.
func Status(s status.Status) string {
	switch {
	case s.IsSuccess():
		return successStyle.Render(s.String())
	case s.IsTerminal():
		return failureStyle.Render(s.String())
	case s == status.DryRunInProgress || s == status.BuildInProgress:
		return activeStyle.Render(s.String())
	default:
		return s.String()
	}
}

// Candidates renders buildable units in claim order.
func Candidates(candidates []*readiness.Candidate) string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.Name,
			string(c.Kind),
			Status(c.Status()),
			strconv.Itoa(c.AttemptCount),
			strconv.FormatInt(c.DependencyCount, 10),
			timestamp(c.Freshness()),
		})
	}
	return render([]string{"ID", "NAME", "KIND", "STATUS", "ATTEMPTS", "DEPS", "FRESHNESS"}, rows)
}

// Units renders build units with their last error.
func Units(units models.BuildUnits) string {
	rows := make([][]string, 0, len(units))
	for _, u := range units {
		rows = append(rows, []string{
			strconv.FormatInt(u.ID, 10),
			u.Name,
			string(u.Kind),
			Status(status.Status(u.StatusID)),
			strconv.Itoa(u.AttemptCount),
			truncate(u.Error, 60),
		})
	}
	return render([]string{"ID", "NAME", "KIND", "STATUS", "ATTEMPTS", "ERROR"}, rows)
}

// Commits renders commits with their evaluation attempts.
func Commits(commits models.Commits) string {
	rows := make([][]string, 0, len(commits))
	for _, c := range commits {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			c.Hash,
			timestamp(c.Timestamp),
			strconv.Itoa(c.AttemptCount),
		})
	}
	return render([]string{"ID", "HASH", "TIMESTAMP", "ATTEMPTS"}, rows)
}

func render(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return fmt.Sprintln(t.Render())
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
