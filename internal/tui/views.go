package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
)

const maxErrorLines = 5

// View renders the watcher.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	title := m.theme.Title.Render("Task " + m.id.String())
	if m.task == nil {
		body := m.theme.StatusPending.Render("loading...")
		if m.lastError != nil {
			body = m.theme.StatusError.Render(m.lastError.Error())
		}
		return lipgloss.JoinVertical(lipgloss.Left, title, body, "", m.help.View(m.keymap))
	}

	sections := []string{
		title,
		m.renderSummary(),
		m.progress.ViewAs(m.task.Progress()),
		m.renderCounts(),
	}
	if errs := m.renderErrors(); errs != "" {
		sections = append(sections, errs)
	}
	if m.showLog && len(m.lines) > 0 {
		sections = append(sections, m.theme.RoundedBox.Render(m.theme.Code.Render(strings.Join(m.lines, "\n"))))
	}
	if m.notice != "" {
		sections = append(sections, m.theme.StatusInfo.Render(m.notice))
	}
	if m.lastError != nil {
		sections = append(sections, m.theme.StatusError.Render(m.lastError.Error()))
	}
	sections = append(sections, "", m.help.View(m.keymap))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderSummary() string {
	t := m.task
	parts := []string{
		m.statusStyle(t.Status).Render(string(t.Status)),
		m.theme.Normal.Render(string(t.Type)),
		m.theme.Subtitle.Render("client " + t.ClientID),
	}
	if t.CancelRequested && !t.Status.IsTerminal() {
		parts = append(parts, m.theme.StatusWarning.Render("cancelling"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderCounts() string {
	t := m.task
	line := fmt.Sprintf("%d/%d processed, %d errors", t.ProcessedCount, t.TransactionCount, t.ErrorCount)
	if elapsed := elapsedSince(t, time.Now()); elapsed != "" {
		line += ", running " + elapsed
	}
	if t.HeartbeatAt != nil && t.Status == model.TaskProcessing {
		line += ", heartbeat " + units.HumanDuration(time.Since(*t.HeartbeatAt)) + " ago"
	}
	return m.theme.Subtitle.Render(line)
}

func (m Model) renderErrors() string {
	if len(m.task.ErrorDetails) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.task.ErrorDetails))
	for k := range m.task.ErrorDetails {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, maxErrorLines+1)
	for i, k := range keys {
		if i == maxErrorLines {
			lines = append(lines, fmt.Sprintf("... and %d more", len(keys)-maxErrorLines))
			break
		}
		lines = append(lines, k+": "+m.task.ErrorDetails[k])
	}
	return m.theme.StatusError.Render(strings.Join(lines, "\n"))
}

func (m Model) statusStyle(s model.TaskStatus) lipgloss.Style {
	switch s {
	case model.TaskCompleted:
		return m.theme.StatusSuccess
	case model.TaskFailed:
		return m.theme.StatusError
	case model.TaskProcessing:
		return m.theme.StatusInfo
	default:
		return m.theme.StatusPending
	}
}

func elapsedSince(t *model.ProcessingTask, now time.Time) string {
	if t.StartedAt == nil {
		return ""
	}
	end := now
	if t.FinishedAt != nil {
		end = *t.FinishedAt
	}
	return units.HumanDuration(end.Sub(*t.StartedAt))
}
