package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/Veraticus/ledgerflow/internal/task"
	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type taskView struct {
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	HeartbeatAt  *time.Time        `json:"heartbeat_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	ErrorDetails map[string]string `json:"error_details,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Type         string            `json:"type"`
	ClientID     string            `json:"client_id"`
	Elapsed      string            `json:"elapsed,omitempty"`
	Transactions int               `json:"transaction_count"`
	Processed    int               `json:"processed_count"`
	Errors       int               `json:"error_count"`
	RunCount     int               `json:"run_count"`
	Progress     float64           `json:"progress"`
	Cancelling   bool              `json:"cancel_requested"`
}

func newTaskView(t *model.ProcessingTask, now time.Time) taskView {
	v := taskView{
		ID:           t.ID.String(),
		Status:       string(t.Status),
		Type:         string(t.Type),
		ClientID:     t.ClientID,
		Transactions: t.TransactionCount,
		Processed:    t.ProcessedCount,
		Errors:       t.ErrorCount,
		RunCount:     t.RunCount,
		Progress:     t.Progress(),
		Cancelling:   t.CancelRequested,
		ErrorDetails: t.ErrorDetails,
		Metadata:     t.Metadata,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		HeartbeatAt:  t.HeartbeatAt,
		FinishedAt:   t.FinishedAt,
	}
	if t.StartedAt != nil {
		end := now
		if t.FinishedAt != nil {
			end = *t.FinishedAt
		}
		v.Elapsed = units.HumanDuration(end.Sub(*t.StartedAt))
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": units.HumanDuration(time.Since(s.startTime)),
	})
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.TaskFilter{ClientID: q.Get("client")}

	if status := q.Get("status"); status != "" {
		switch st := model.TaskStatus(status); st {
		case model.TaskPending, model.TaskProcessing, model.TaskCompleted, model.TaskFailed:
			filter.Status = st
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+strconv.Quote(status))
			return
		}
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	tasks, err := s.tasks.ListTasks(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	now := time.Now()
	views := make([]taskView, len(tasks))
	for i := range tasks {
		views[i] = newTaskView(&tasks[i], now)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views, "count": len(views)})
}

func (s *Server) lookupTask(w http.ResponseWriter, r *http.Request) (*model.ProcessingTask, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid task id")
		return nil, false
	}

	t, err := s.tasks.GetTask(r.Context(), id)
	if errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("loading task", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil, false
	}
	return t, true
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(t, time.Now()))
}

func (s *Server) handleTaskLog(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTask(w, r)
	if !ok {
		return
	}

	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "lines must be a positive integer")
			return
		}
		n = min(parsed, maxLogLines)
	}

	resp := map[string]any{"task_id": t.ID.String(), "path": t.LogPath, "lines": []string{}}
	if t.LogPath == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	lines, err := task.Tail(t.LogPath, n)
	if err != nil {
		s.logger.Error("reading task log", "task_id", t.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if lines != nil {
		resp["lines"] = lines
	}
	if info, err := os.Stat(t.LogPath); err == nil {
		resp["size"] = units.HumanSize(float64(info.Size()))
	}
	writeJSON(w, http.StatusOK, resp)
}
