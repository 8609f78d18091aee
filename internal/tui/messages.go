package tui

import (
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
)

type taskLoadedMsg struct {
	err   error
	task  *model.ProcessingTask
	lines []string
}

type tickMsg time.Time

type cancelRequestedMsg struct {
	err error
}
