// Package tui implements an interactive watcher for a running task.
package tui

import (
	"context"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/tui/themes"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// TaskSource loads the watched task.
type TaskSource interface {
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
}

// Canceller requests cancellation of tasks.
type Canceller interface {
	Cancel(ctx context.Context, ids []uuid.UUID) (int, error)
}

// Model holds the watcher state.
type Model struct {
	theme     themes.Theme
	source    TaskSource
	canceller Canceller
	lastError error
	task      *model.ProcessingTask
	keymap    KeyMap
	notice    string
	lines     []string
	help      help.Model
	progress  progress.Model
	config    Config
	width     int
	id        uuid.UUID
	showLog   bool
	quitting  bool
}

// NewModel creates a watcher for one task. canceller may be nil, which
// disables the cancel key.
func NewModel(source TaskSource, canceller Canceller, id uuid.UUID, opts ...Option) Model {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 40

	keymap := DefaultKeyMap()
	keymap.Cancel.SetEnabled(canceller != nil)

	return Model{
		theme:     cfg.Theme,
		source:    source,
		canceller: canceller,
		keymap:    keymap,
		help:      help.New(),
		progress:  prog,
		config:    cfg,
		id:        id,
		showLog:   cfg.ShowLog,
	}
}

// Task returns the most recently loaded task.
func (m Model) Task() *model.ProcessingTask {
	return m.task
}

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return m.poll()
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, min(msg.Width-4, 60))

	case taskLoadedMsg:
		m.lastError = msg.err
		if msg.task != nil {
			m.task = msg.task
			m.lines = msg.lines
		}
		if m.config.ExitOnDone && m.task != nil && m.task.Status.IsTerminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.tick()

	case tickMsg:
		return m, m.poll()

	case cancelRequestedMsg:
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		m.notice = "cancellation requested"
		return m, m.poll()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.Quit), key.Matches(msg, m.keymap.ForceQuit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keymap.Refresh):
		return m, m.poll()
	case key.Matches(msg, m.keymap.ToggleLog):
		m.showLog = !m.showLog
	case key.Matches(msg, m.keymap.Cancel):
		if m.task != nil && !m.task.Status.IsTerminal() {
			return m, m.requestCancel()
		}
	}
	return m, nil
}
