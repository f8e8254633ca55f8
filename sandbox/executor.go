package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// DefaultTimeout is how long Execute waits before handing a job off to
	// the background.
	DefaultTimeout = 10 * time.Second

	// RunningMessage is the stdout placeholder for a job still running when
	// its wait timed out.
	RunningMessage = "Process started and running in the background."

	// StatusRunning is the textual status of a job that has not exited.
	StatusRunning = "Running"
)

// Result is the outcome of an execution request. A Running result is not
// final; the job can be queried or stopped by JobID.
type Result struct {
	JobID    string `json:"job_id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Running  bool   `json:"running"`
}

// Status returns "Running" or the decimal exit code.
func (r *Result) Status() string {
	if r.Running {
		return StatusRunning
	}
	return strconv.Itoa(r.ExitCode)
}

// Executor runs source code as independent processes inside a provisioned
// environment.
type Executor struct {
	provisioner Provisioner
	registry    *Registry
	workDir     string
	timeout     time.Duration
	logger      *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRegistry shares a registry between executors.
func WithRegistry(r *Registry) ExecutorOption {
	return func(e *Executor) { e.registry = r }
}

// WithWorkDir sets the working directory of launched jobs.
func WithWorkDir(dir string) ExecutorOption {
	return func(e *Executor) { e.workDir = dir }
}

// WithDefaultTimeout sets the wait used when Execute is given a zero timeout.
func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor that provisions through p.
func NewExecutor(p Provisioner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		provisioner: p,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry(WithRegistryLogger(e.logger))
	}
	return e
}

// Registry returns the registry tracking this executor's jobs.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute persists code to a per-job source file and launches it in its own
// process group. It waits up to timeout for the process to exit; if it does
// not, the job stays registered and a Running result is returned. The job is
// registered before the wait begins.
//
// If ctx is cancelled during the wait the job is left running and the
// Running result is returned together with ctx.Err().
func (e *Executor) Execute(ctx context.Context, code string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}

	env, err := e.provisioner.Ensure(ctx)
	if err != nil {
		var setupErr *SetupError
		if errors.As(err, &setupErr) {
			return nil, err
		}
		return nil, &SetupError{Cause: err}
	}

	e.registry.Reap()
	id := e.registry.NextID()

	sourcePath := filepath.Join(env.JobsDir(), id+env.SourceExt)
	if err := os.WriteFile(sourcePath, []byte(code), 0644); err != nil {
		return nil, &SpawnError{JobID: id, Op: "write source", Cause: err}
	}

	cmd := env.Command(sourcePath)
	cmd.Dir = e.workDir
	cmd.Env = env.Environ(filterEnvironment(os.Environ()))
	configureProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{JobID: id, Op: "start", Cause: err}
	}

	job := newJob(id, sourcePath, cmd, stdout, stderr)
	e.registry.Register(job)
	go job.wait()

	e.logger.Info("job started", "job_id", id, "pid", job.PID(), "timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-job.Done():
		e.registry.release(id)
		res := job.result()
		if job.waitErr != nil {
			e.logger.Warn("job wait failed", "job_id", id, "error", job.waitErr)
		}
		e.logger.Info("job finished", "job_id", id, "exit_code", res.ExitCode)
		return res, nil
	case <-timer.C:
		e.logger.Info("job running in background", "job_id", id, "pid", job.PID())
		return runningResult(id), nil
	case <-ctx.Done():
		e.logger.Info("wait cancelled, job left running", "job_id", id, "pid", job.PID())
		return runningResult(id), ctx.Err()
	}
}

func runningResult(id string) *Result {
	return &Result{JobID: id, Stdout: RunningMessage, Running: true}
}

// Status returns the current state of a tracked job. A running job reports
// the output captured so far; a finished job reports its final output and is
// removed from the registry.
func (e *Executor) Status(id string) (*Result, error) {
	job := e.registry.Get(id)
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchJob, id)
	}
	res := job.result()
	if !res.Running {
		e.registry.release(id)
		e.logger.Debug("reaped finished job on status", "job_id", id, "exit_code", res.ExitCode)
	}
	return res, nil
}

// Terminate stops a tracked job's process group.
func (e *Executor) Terminate(id string) error {
	return e.registry.Terminate(id)
}

// Stop terminates a job and returns a human-readable outcome.
func (e *Executor) Stop(id string) string {
	if err := e.Terminate(id); err != nil {
		if errors.Is(err, ErrNoSuchJob) {
			return fmt.Sprintf("No running process found with ID %s.", id)
		}
		return fmt.Sprintf("Error stopping process %s: %v", id, err)
	}
	return fmt.Sprintf("Process %s has been stopped.", id)
}

// Jobs reaps exited jobs and lists the remaining ones.
func (e *Executor) Jobs() []JobInfo {
	e.registry.Reap()
	return e.registry.List()
}

// Close terminates every tracked job.
func (e *Executor) Close() error {
	stopped := e.registry.TerminateAll()
	if len(stopped) > 0 {
		e.logger.Info("terminated background jobs", "count", len(stopped), "job_ids", stopped)
	}
	return nil
}
