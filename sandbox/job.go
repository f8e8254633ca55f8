package sandbox

import (
	"bytes"
	"errors"
	"os/exec"
	"sync"
	"time"
)

// Job is a launched process tracked by the Registry. Callers outside this
// package only ever see its identifier and JobInfo snapshots.
type Job struct {
	ID         string
	SourcePath string
	Started    time.Time

	cmd    *exec.Cmd
	pgid   int
	stdout *syncBuffer
	stderr *syncBuffer

	done     chan struct{}
	exitCode int
	waitErr  error
	ended    time.Time
}

func newJob(id, sourcePath string, cmd *exec.Cmd, stdout, stderr *syncBuffer) *Job {
	return &Job{
		ID:         id,
		SourcePath: sourcePath,
		Started:    time.Now(),
		cmd:        cmd,
		pgid:       processGroupID(cmd),
		stdout:     stdout,
		stderr:     stderr,
		done:       make(chan struct{}),
		exitCode:   -1,
	}
}

// PID returns the OS process id of the job's group leader.
func (j *Job) PID() int {
	if j.cmd == nil || j.cmd.Process == nil {
		return 0
	}
	return j.cmd.Process.Pid
}

// wait blocks until the process exits and records its status. It must be
// called exactly once, after the job is registered.
func (j *Job) wait() {
	err := j.cmd.Wait()
	code := -1
	if j.cmd.ProcessState != nil {
		code = j.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		j.waitErr = err
	}
	j.exitCode = code
	j.ended = time.Now()
	close(j.done)
}

// Done is closed once the process has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Exited reports whether the process has exited.
func (j *Job) Exited() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Info returns a point-in-time snapshot of the job.
func (j *Job) Info() JobInfo {
	info := JobInfo{
		ID:      j.ID,
		PID:     j.PID(),
		Started: j.Started,
		Running: true,
	}
	if j.Exited() {
		info.Running = false
		code := j.exitCode
		info.ExitCode = &code
		info.Ended = j.ended
	}
	return info
}

// result builds an Execution Result from the job's current state.
func (j *Job) result() *Result {
	if !j.Exited() {
		return &Result{JobID: j.ID, Stdout: j.stdout.String(), Stderr: j.stderr.String(), Running: true}
	}
	return &Result{
		JobID:    j.ID,
		Stdout:   j.stdout.String(),
		Stderr:   j.stderr.String(),
		ExitCode: j.exitCode,
	}
}

// JobInfo is a snapshot of a tracked job.
type JobInfo struct {
	ID       string    `json:"id"`
	PID      int       `json:"pid"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended,omitempty"`
	Running  bool      `json:"running"`
	ExitCode *int      `json:"exit_code,omitempty"`
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers;
// os/exec copies pipe output from its own goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
