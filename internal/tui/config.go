package tui

import (
	"time"

	"github.com/Veraticus/ledgerflow/internal/tui/themes"
)

// Config holds watcher configuration.
type Config struct {
	Theme        themes.Theme
	PollInterval time.Duration
	LogLines     int
	ShowLog      bool
	// ExitOnDone quits once the task reaches a terminal status.
	ExitOnDone bool
}

// Option is a functional option for configuring the watcher.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Theme:        themes.Default,
		PollInterval: time.Second,
		LogLines:     15,
		ShowLog:      true,
	}
}

// WithTheme sets the color theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) {
		c.Theme = theme
	}
}

// WithPollInterval sets how often the task is reloaded.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithLogLines sets how many log lines are tailed.
func WithLogLines(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.LogLines = n
		}
	}
}

// WithExitOnDone quits the watcher when the task finishes.
func WithExitOnDone(exit bool) Option {
	return func(c *Config) {
		c.ExitOnDone = exit
	}
}
