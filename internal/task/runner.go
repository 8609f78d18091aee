package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// ErrorPrefix marks worker stderr lines in the task log.
const ErrorPrefix = "[ERROR] "

// Runner errors.
var (
	ErrTaskNotPending = errors.New("task is not pending")
	ErrNotRunning     = errors.New("task is not supervised by this runner")
)

// RunnerStore is the persistence a Runner needs.
type RunnerStore interface {
	GetTask(ctx context.Context, id uuid.UUID) (*model.ProcessingTask, error)
	StartTask(ctx context.Context, id uuid.UUID, logPath string) error
	TransitionTask(ctx context.Context, id uuid.UUID, from, to model.TaskStatus, details map[string]string) error
}

// CommandFunc builds the worker command for a task.
type CommandFunc func(id uuid.UUID, logPath string) (*exec.Cmd, error)

// WorkerCommand returns a CommandFunc that re-executes the current binary
// as "<exe> [args...] worker <id> --log-file <path>".
func WorkerCommand(args ...string) CommandFunc {
	return func(id uuid.UUID, logPath string) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		argv := append(append([]string{}, args...), "worker", id.String(), "--log-file", logPath)
		return exec.Command(exe, argv...), nil //nolint:gosec // re-executing ourselves
	}
}

type process struct {
	done    chan struct{}
	err     error
	waiters int
	// reap drops the entry on exit when no Wait call is pending.
	reap bool
}

// Runner starts workers as child processes and supervises them. A
// supervised worker's stdout and stderr are copied into the task log and a
// non-zero exit fails the task if the worker did not finish it.
type Runner struct {
	store   RunnerStore
	command CommandFunc
	logger  *slog.Logger
	running map[uuid.UUID]*process
	logDir  string
	workDir string
	mu      sync.Mutex
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCommand overrides how worker processes are built.
func WithCommand(fn CommandFunc) RunnerOption {
	return func(r *Runner) {
		r.command = fn
	}
}

// WithWorkDir sets the worker's working directory.
func WithWorkDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.workDir = dir
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner writing task logs under logDir.
func NewRunner(store RunnerStore, logDir string, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		logDir:  logDir,
		command: WorkerCommand(),
		logger:  slog.Default(),
		running: make(map[uuid.UUID]*process),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start moves a pending task to processing and spawns its worker. With
// detach set the worker writes straight to the log and outlives this
// process; otherwise it is supervised until it exits and its result is
// kept for Wait.
func (r *Runner) Start(ctx context.Context, id uuid.UUID, detach bool) error {
	return r.start(ctx, id, detach, false)
}

// Spawn starts a supervised worker whose exit nobody collects. Its entry is
// dropped as soon as it exits unless a Wait call is pending.
func (r *Runner) Spawn(ctx context.Context, id uuid.UUID) error {
	return r.start(ctx, id, false, true)
}

func (r *Runner) start(ctx context.Context, id uuid.UUID, detach, reap bool) error {
	task, err := r.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != model.TaskPending {
		return fmt.Errorf("task %s is %s: %w", id, task.Status, ErrTaskNotPending)
	}

	log, err := OpenLog(r.logDir, id)
	if err != nil {
		return err
	}

	if err := r.store.StartTask(ctx, id, log.Path()); err != nil {
		_ = log.Close()
		if errors.Is(err, common.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrTaskNotPending, err)
		}
		return err
	}
	_ = log.WriteLine("", fmt.Sprintf("=== run %d of task %s ===", task.RunCount+1, id))

	cmd, err := r.command(id, log.Path())
	if err != nil {
		return r.abort(ctx, id, log, err)
	}
	cmd.Dir = r.workDir
	setProcessGroup(cmd)

	if detach {
		cmd.Stdout = log.file
		cmd.Stderr = log.file
		if err := cmd.Start(); err != nil {
			return r.abort(ctx, id, log, err)
		}
		r.logger.Info("worker started", "task_id", id, "pid", cmd.Process.Pid, "detached", true)
		_ = cmd.Process.Release()
		return log.Close()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.abort(ctx, id, log, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.abort(ctx, id, log, err)
	}
	if err := cmd.Start(); err != nil {
		return r.abort(ctx, id, log, err)
	}
	r.logger.Info("worker started", "task_id", id, "pid", cmd.Process.Pid)

	p := &process{done: make(chan struct{}), reap: reap}
	r.mu.Lock()
	r.running[id] = p
	r.mu.Unlock()

	go r.supervise(id, cmd, log, stdout, stderr, p)
	return nil
}

func (r *Runner) supervise(id uuid.UUID, cmd *exec.Cmd, log *Log, stdout, stderr io.Reader, p *process) {
	defer r.exited(id, p)

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := copyLines(stdout, log, ""); err != nil {
			r.logger.Warn("reading worker stdout", "task_id", id, "error", err)
		}
	})
	wg.Go(func() {
		if err := copyLines(stderr, log, ErrorPrefix); err != nil {
			r.logger.Warn("reading worker stderr", "task_id", id, "error", err)
		}
	})
	wg.Wait()

	p.err = cmd.Wait()
	defer func() { _ = log.Close() }()

	if p.err == nil {
		r.logger.Info("worker exited", "task_id", id)
		return
	}

	r.logger.Error("worker exited with error", "task_id", id, "error", p.err)
	_ = log.WriteLine(ErrorPrefix, fmt.Sprintf("worker exited: %v", p.err))

	ctx := context.Background()
	task, err := r.store.GetTask(ctx, id)
	if err != nil || task.Status != model.TaskProcessing {
		return
	}
	details := map[string]string{"error": fmt.Sprintf("worker exited: %v", p.err)}
	if err := r.store.TransitionTask(ctx, id, model.TaskProcessing, model.TaskFailed, details); err != nil &&
		!errors.Is(err, common.ErrConflict) {
		r.logger.Error("failed to mark task failed", "task_id", id, "error", err)
	}
}

// abort fails a task whose worker could not be started.
func (r *Runner) abort(ctx context.Context, id uuid.UUID, log *Log, cause error) error {
	defer func() { _ = log.Close() }()
	_ = log.WriteLine(ErrorPrefix, fmt.Sprintf("failed to start worker: %v", cause))

	details := map[string]string{"error": fmt.Sprintf("failed to start worker: %v", cause)}
	if err := r.store.TransitionTask(context.WithoutCancel(ctx), id, model.TaskProcessing, model.TaskFailed, details); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("failed to start worker: %w", cause)
}

func (r *Runner) exited(id uuid.UUID, p *process) {
	r.mu.Lock()
	defer r.mu.Unlock()

	close(p.done)
	if p.reap && p.waiters == 0 {
		r.forget(id, p)
	}
}

// forget removes p from the running set. Callers hold r.mu.
func (r *Runner) forget(id uuid.UUID, p *process) {
	if r.running[id] == p {
		delete(r.running, id)
	}
}

// Wait blocks until the supervised worker for id exits and returns its exit
// error. The worker is forgotten once Wait returns its result.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	p, ok := r.running[id]
	if ok {
		p.waiters++
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	select {
	case <-p.done:
		r.mu.Lock()
		p.waiters--
		r.forget(id, p)
		r.mu.Unlock()
		return p.err
	case <-ctx.Done():
		r.mu.Lock()
		p.waiters--
		select {
		case <-p.done:
			if p.reap && p.waiters == 0 {
				r.forget(id, p)
			}
		default:
		}
		r.mu.Unlock()
		return ctx.Err()
	}
}

// Tracked returns the number of workers whose entries are still held,
// finished or not.
func (r *Runner) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Active returns the number of supervised workers still running.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.running {
		select {
		case <-p.done:
		default:
			n++
		}
	}
	return n
}
