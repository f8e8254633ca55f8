//go:build unix

package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newShellExecutor(t *testing.T) *Executor {
	t.Helper()
	dir := t.TempDir()
	p := NewLocalProvisioner(filepath.Join(dir, "env"), WithRuntime(RuntimeShell))
	reg := NewRegistry(WithKillGrace(time.Second))
	e := NewExecutor(p, WithRegistry(reg), WithWorkDir(dir))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecuteCompletes(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "echo hi", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "process_0", res.JobID)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Running)
	assert.Equal(t, "0", res.Status())
	assert.Equal(t, 0, e.Registry().Len(), "finished job should not stay registered")
}

func TestExecuteCapturesStderrAndExitCode(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "echo out\necho oops >&2\nexit 3", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "3", res.Status())
}

func TestExecuteTimeoutLeavesJobRunning(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "sleep 30", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Running)
	assert.Equal(t, StatusRunning, res.Status())
	assert.Equal(t, RunningMessage, res.Stdout)
	assert.Equal(t, "", res.Stderr)

	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job, "background job must stay registered")
	assert.False(t, job.Exited())

	require.NoError(t, e.Terminate(res.JobID))
	assert.Nil(t, e.Registry().Get(res.JobID))
	assert.True(t, job.Exited())

	err = e.Terminate(res.JobID)
	assert.True(t, errors.Is(err, ErrNoSuchJob))
}

func TestExecuteKillsWholeProcessGroup(t *testing.T) {
	e := newShellExecutor(t)
	marker := filepath.Join(t.TempDir(), "child.pid")

	code := "sleep 30 &\necho $! > " + marker + "\nwait\n"
	res, err := e.Execute(context.Background(), code, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Running)

	var childPID string
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		childPID = strings.TrimSpace(string(data))
		return err == nil && childPID != ""
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Terminate(res.JobID))

	require.Eventually(t, func() bool {
		return processGone(childPID)
	}, 2*time.Second, 20*time.Millisecond, "child in the job's group should be gone")
}

func readPID(t *testing.T, marker string) string {
	t.Helper()
	var pid string
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		pid = strings.TrimSpace(string(data))
		return err == nil && pid != ""
	}, 2*time.Second, 20*time.Millisecond)
	return pid
}

func TestTerminateClearsGroupAfterLeaderExits(t *testing.T) {
	e := newShellExecutor(t)
	marker := filepath.Join(t.TempDir(), "child.pid")

	// The background sleep keeps stdout open, so the job outlives the wait
	// even though the shell exits at once.
	code := "sleep 60 &\necho $! > " + marker + "\nexit 0\n"
	res, err := e.Execute(context.Background(), code, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Running)
	childPID := readPID(t, marker)

	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job)
	require.Eventually(t, job.Exited, 5*time.Second, 20*time.Millisecond)

	err = e.Terminate(res.JobID)
	require.ErrorIs(t, err, ErrNoSuchJob)
	assert.Contains(t, err.Error(), "already exited")

	require.Eventually(t, func() bool {
		return processGone(childPID)
	}, 2*time.Second, 20*time.Millisecond, "child left in the group should be killed")
}

func TestReapClearsGroupOfExitedJob(t *testing.T) {
	e := newShellExecutor(t)
	marker := filepath.Join(t.TempDir(), "child.pid")

	code := "sleep 60 &\necho $! > " + marker + "\nexit 0\n"
	res, err := e.Execute(context.Background(), code, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Running)
	childPID := readPID(t, marker)

	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job)
	require.Eventually(t, job.Exited, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, []string{res.JobID}, e.Registry().Reap())
	require.Eventually(t, func() bool {
		return processGone(childPID)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFinishedJobLeavesNothingInItsGroup(t *testing.T) {
	e := newShellExecutor(t)
	marker := filepath.Join(t.TempDir(), "child.pid")

	// Detached output lets the shell finish inside the wait.
	code := "sleep 60 >/dev/null 2>&1 &\necho $! > " + marker + "\n"
	res, err := e.Execute(context.Background(), code, 5*time.Second)
	require.NoError(t, err)
	require.False(t, res.Running)
	assert.Equal(t, 0, res.ExitCode)
	assert.Zero(t, e.Registry().Len())

	childPID := readPID(t, marker)
	require.Eventually(t, func() bool {
		return processGone(childPID)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCloseStopsJobsConcurrently(t *testing.T) {
	e := newShellExecutor(t)

	for range 3 {
		res, err := e.Execute(context.Background(), "trap '' TERM\nsleep 30\n", 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, res.Running)
	}

	start := time.Now()
	require.NoError(t, e.Close())
	// Each job ignores SIGTERM and waits out the one second grace period.
	assert.Less(t, time.Since(start), 2500*time.Millisecond)
	assert.Zero(t, e.Registry().Len())
}

// processGone reports whether pid no longer runs. Zombies awaiting an
// init that never reaps them count as gone.
func processGone(pid string) bool {
	n, err := strconv.Atoi(pid)
	if err != nil {
		return false
	}
	if err := unix.Kill(n, 0); err == unix.ESRCH {
		return true
	}
	stat, err := os.ReadFile("/proc/" + pid + "/stat")
	if err != nil {
		return false
	}
	_, rest, ok := strings.Cut(string(stat), ") ")
	return ok && strings.HasPrefix(rest, "Z")
}

func TestExecuteIdentifiersAreDistinct(t *testing.T) {
	e := newShellExecutor(t)

	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		res, err := e.Execute(context.Background(), "true", 5*time.Second)
		require.NoError(t, err)
		assert.False(t, seen[res.JobID], "identifier %s reused", res.JobID)
		seen[res.JobID] = true
	}
	assert.Len(t, seen, 4)
}

func TestExecuteWritesPerJobSource(t *testing.T) {
	e := newShellExecutor(t)

	first, err := e.Execute(context.Background(), "echo one", 5*time.Second)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), "echo two", 5*time.Second)
	require.NoError(t, err)

	env, err := e.provisioner.Ensure(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.JobsDir(), first.JobID+".sh"))
	require.NoError(t, err)
	assert.Equal(t, "echo one", string(data))
	data, err = os.ReadFile(filepath.Join(env.JobsDir(), second.JobID+".sh"))
	require.NoError(t, err)
	assert.Equal(t, "echo two", string(data))
}

func TestExecuteContextCancelledDuringWait(t *testing.T) {
	e := newShellExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := e.Execute(ctx, "sleep 30", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Running)
	assert.NotNil(t, e.Registry().Get(res.JobID), "cancelled wait must not kill the job")
}

func TestStatusReportsFinishedBackgroundJob(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "sleep 0.3\necho done", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Running)

	running, err := e.Status(res.JobID)
	require.NoError(t, err)
	assert.True(t, running.Running)

	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job)
	<-job.Done()

	final, err := e.Status(res.JobID)
	require.NoError(t, err)
	assert.False(t, final.Running)
	assert.Equal(t, "done\n", final.Stdout)
	assert.Equal(t, 0, final.ExitCode)
	assert.Nil(t, e.Registry().Get(res.JobID), "status of a finished job reaps it")

	_, err = e.Status(res.JobID)
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestTerminateExitedJobReportsNoSuchJob(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "sleep 0.2", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.Running)

	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job)
	<-job.Done()

	err = e.Terminate(res.JobID)
	require.ErrorIs(t, err, ErrNoSuchJob)
	assert.Contains(t, err.Error(), "already exited")
	assert.Nil(t, e.Registry().Get(res.JobID))
}

func TestExecuteReapsStaleJobs(t *testing.T) {
	e := newShellExecutor(t)

	res, err := e.Execute(context.Background(), "sleep 0.2", 20*time.Millisecond)
	require.NoError(t, err)
	job := e.Registry().Get(res.JobID)
	require.NotNil(t, job)
	<-job.Done()

	_, err = e.Execute(context.Background(), "true", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, e.Registry().Get(res.JobID))
	assert.Empty(t, e.Jobs())
}

func TestStopMessages(t *testing.T) {
	e := newShellExecutor(t)

	assert.Equal(t, "No running process found with ID process_9.", e.Stop("process_9"))

	res, err := e.Execute(context.Background(), "sleep 30", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "Process "+res.JobID+" has been stopped.", e.Stop(res.JobID))
}

func TestJobsAndClose(t *testing.T) {
	e := newShellExecutor(t)

	a, err := e.Execute(context.Background(), "sleep 30", 50*time.Millisecond)
	require.NoError(t, err)
	b, err := e.Execute(context.Background(), "sleep 30", 50*time.Millisecond)
	require.NoError(t, err)

	jobs := e.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, a.JobID, jobs[0].ID)
	assert.Equal(t, b.JobID, jobs[1].ID)
	assert.True(t, jobs[0].Running)
	assert.NotZero(t, jobs[0].PID)

	require.NoError(t, e.Close())
	assert.Equal(t, 0, e.Registry().Len())
}

func TestExecuteSetupError(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalProvisioner(filepath.Join(dir, "env"),
		WithRuntime(RuntimeShell), WithInterpreter("definitely-not-a-shell"))
	e := NewExecutor(p)

	_, err := e.Execute(context.Background(), "echo hi", time.Second)
	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, 0, e.Registry().Len())
}

func TestExecutePython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	dir := t.TempDir()
	p := NewLocalProvisioner(filepath.Join(dir, "code_execution_env"))
	e := NewExecutor(p, WithWorkDir(dir))
	t.Cleanup(func() { _ = e.Close() })

	res, err := e.Execute(context.Background(), "print('hi')", 60*time.Second)
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		t.Skipf("venv unavailable: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, "process_0", res.JobID)
	assert.Equal(t, "hi\n", res.Stdout)
	assert.Equal(t, "", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}
