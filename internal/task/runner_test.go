package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperCommand runs TestHelperProcess in place of the real worker.
func helperCommand(mode string) CommandFunc {
	return func(id uuid.UUID, logPath string) (*exec.Cmd, error) {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", //nolint:gosec // test binary
			"worker", id.String(), "--log-file", logPath)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd, nil
	}
}

func TestHelperProcess(_ *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	fmt.Printf("worker invoked with %s\n", strings.Join(args[1:], " "))
	fmt.Fprintln(os.Stderr, "search backend timeout")

	if os.Getenv("HELPER_MODE") == "fail" {
		os.Exit(3)
	}
	os.Exit(0)
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunnerSupervisedSuccess(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := createTask(t, db, model.TaskPayeeLookup, "-1.00")
	logDir := t.TempDir()

	r := NewRunner(db.Storage, logDir, WithCommand(helperCommand("ok")), WithWorkDir(t.TempDir()))
	require.NoError(t, r.Start(ctx, task.ID, false))
	require.NoError(t, r.Wait(ctx, task.ID))
	assert.Zero(t, r.Active())

	got, err := db.Storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	// The helper never finishes the task itself; that is the worker's job.
	assert.Equal(t, model.TaskProcessing, got.Status)
	assert.Equal(t, LogPath(logDir, task.ID), got.LogPath)
	assert.Equal(t, 1, got.RunCount)

	content := readLog(t, got.LogPath)
	assert.Contains(t, content, fmt.Sprintf("worker %s --log-file %s", task.ID, got.LogPath))
	assert.Contains(t, content, ErrorPrefix+"search backend timeout")
}

func TestRunnerSupervisedFailure(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := createTask(t, db, model.TaskPayeeLookup, "-1.00")

	r := NewRunner(db.Storage, t.TempDir(), WithCommand(helperCommand("fail")))
	require.NoError(t, r.Start(ctx, task.ID, false))

	err := r.Wait(ctx, task.ID)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())

	got, err := db.Storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Contains(t, got.ErrorDetails["error"], "worker exited")
	assert.Contains(t, readLog(t, got.LogPath), ErrorPrefix+"worker exited")
}

func TestRunnerDetached(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := createTask(t, db, model.TaskPayeeLookup, "-1.00")
	logDir := t.TempDir()

	r := NewRunner(db.Storage, logDir, WithCommand(helperCommand("ok")))
	require.NoError(t, r.Start(ctx, task.ID, true))
	assert.ErrorIs(t, r.Wait(ctx, task.ID), ErrNotRunning)

	path := LogPath(logDir, task.ID)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "search backend timeout")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunnerRejectsNonPendingTasks(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := startedTask(t, db, model.TaskPayeeLookup, "-1.00")

	r := NewRunner(db.Storage, t.TempDir(), WithCommand(helperCommand("ok")))
	assert.ErrorIs(t, r.Start(ctx, task.ID, false), ErrTaskNotPending)
}

func TestRunnerCommandError(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := createTask(t, db, model.TaskPayeeLookup, "-1.00")

	boom := errors.New("no executable")
	r := NewRunner(db.Storage, t.TempDir(), WithCommand(func(uuid.UUID, string) (*exec.Cmd, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, r.Start(ctx, task.ID, false), boom)

	got, err := db.Storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, got.Status)
	assert.Contains(t, got.ErrorDetails["error"], "no executable")
}

func TestSchedulerStartNext(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	first := createTask(t, db, model.TaskPayeeLookup, "-1.00")
	time.Sleep(10 * time.Millisecond)
	createTask(t, db, model.TaskPayeeLookup, "-2.00")

	r := NewRunner(db.Storage, t.TempDir(), WithCommand(helperCommand("ok")))
	s, err := NewScheduler(SchedulerConfig{ReconcileSpec: "*/5 * * * *", AutoRunSpec: "* * * * *"},
		NewReconciler(db.Storage, 0, nil), r, db.Storage, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries())

	started, err := s.StartNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, started.ID)

	// Nobody waits on scheduler-started workers, so their entries go away.
	require.Eventually(t, func() bool {
		return r.Active() == 0 && r.Tracked() == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, r.Wait(ctx, started.ID), ErrNotRunning)
}

func TestRunnerSpawnPrunesOnExit(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{name: "clean exit", mode: "ok"},
		{name: "failed exit", mode: "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := testutil.SetupTestDB(t)
			r := NewRunner(db.Storage, t.TempDir(), WithCommand(helperCommand(tt.mode)))

			for _, amount := range []string{"-1.00", "-2.00", "-3.00"} {
				task := createTask(t, db, model.TaskPayeeLookup, amount)
				require.NoError(t, r.Spawn(ctx, task.ID))
			}

			require.Eventually(t, func() bool {
				return r.Tracked() == 0
			}, 5*time.Second, 20*time.Millisecond)
			assert.Zero(t, r.Active())
		})
	}
}

func TestRunnerStartKeepsResultForWait(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	task := createTask(t, db, model.TaskPayeeLookup, "-1.00")

	r := NewRunner(db.Storage, t.TempDir(), WithCommand(helperCommand("fail")))
	require.NoError(t, r.Start(ctx, task.ID, false))
	require.Eventually(t, func() bool { return r.Active() == 0 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, r.Tracked())

	var exitErr *exec.ExitError
	require.ErrorAs(t, r.Wait(ctx, task.ID), &exitErr)
	assert.Zero(t, r.Tracked())
}

func TestSchedulerInvalidSpec(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, err := NewScheduler(SchedulerConfig{ReconcileSpec: "every minute"},
		NewReconciler(db.Storage, 0, nil), NewRunner(db.Storage, t.TempDir()), db.Storage, nil)
	assert.Error(t, err)
}
