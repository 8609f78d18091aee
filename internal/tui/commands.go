package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/ledgerflow/internal/task"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

const loadTimeout = 10 * time.Second

// poll reloads the task and the tail of its log.
func (m Model) poll() tea.Cmd {
	source, id, n := m.source, m.id, m.config.LogLines
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		t, err := source.GetTask(ctx, id)
		if err != nil {
			return taskLoadedMsg{err: fmt.Errorf("failed to load task: %w", err)}
		}
		if t.LogPath == "" || n == 0 {
			return taskLoadedMsg{task: t}
		}

		lines, err := task.Tail(t.LogPath, n)
		return taskLoadedMsg{task: t, lines: lines, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.config.PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) requestCancel() tea.Cmd {
	canceller, id := m.canceller, m.id
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		_, err := canceller.Cancel(ctx, []uuid.UUID{id})
		return cancelRequestedMsg{err: err}
	}
}
