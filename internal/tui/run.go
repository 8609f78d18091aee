package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/ledgerflow/internal/model"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// Watch runs the watcher until the user quits or ctx is cancelled, and
// returns the last task state it observed.
func Watch(ctx context.Context, source TaskSource, canceller Canceller, id uuid.UUID, opts ...Option) (*model.ProcessingTask, error) {
	if source == nil {
		return nil, fmt.Errorf("task source is required")
	}

	p := tea.NewProgram(
		NewModel(source, canceller, id, opts...),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("watcher failed: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected watcher model %T", final)
	}
	return m.Task(), nil
}
