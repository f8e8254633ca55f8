package sandbox

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultKillGrace is how long Terminate waits after SIGTERM before
// escalating to SIGKILL.
const DefaultKillGrace = 3 * time.Second

// Registry maps job identifiers to live processes. It is the only holder of
// process handles; an entry is removed only together with its process group
// (terminated here, or observed exited and reaped with the group cleared).
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	allocated int
	killGrace time.Duration
	logger    *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithKillGrace sets the SIGTERM to SIGKILL escalation delay.
func WithKillGrace(d time.Duration) RegistryOption {
	return func(r *Registry) { r.killGrace = d }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		jobs:      make(map[string]*Job),
		killGrace: DefaultKillGrace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NextID allocates a fresh job identifier. Identifiers count allocations, so
// they match the registry size until something is removed and are never
// reused within the registry's lifetime.
func (r *Registry) NextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("process_%d", r.allocated)
	r.allocated++
	return id
}

// Register inserts a job. A reused identifier replaces the previous entry.
func (r *Registry) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Get returns the job for id, or nil.
func (r *Registry) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// List returns snapshots of all tracked jobs ordered by start time.
func (r *Registry) List() []JobInfo {
	r.mu.Lock()
	infos := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		infos = append(infos, job.Info())
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Started.Equal(infos[j].Started) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// release drops a job whose exit has been observed and clears anything the
// job left running in its process group.
func (r *Registry) release(id string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if ok {
		r.clearGroup(job)
	}
}

// clearGroup kills processes remaining in an exited job's group.
func (r *Registry) clearGroup(job *Job) {
	if err := killJob(job); err != nil {
		r.logger.Warn("clearing process group", "job_id", job.ID, "pid", job.PID(), "error", err)
	}
}

// Reap removes every job whose process has exited, kills whatever is left in
// their process groups and returns their identifiers.
func (r *Registry) Reap() []string {
	r.mu.Lock()
	var reaped []*Job
	for id, job := range r.jobs {
		if job.Exited() {
			delete(r.jobs, id)
			reaped = append(reaped, job)
		}
	}
	r.mu.Unlock()

	sort.Slice(reaped, func(i, j int) bool { return reaped[i].ID < reaped[j].ID })
	ids := make([]string, len(reaped))
	for i, job := range reaped {
		r.clearGroup(job)
		ids[i] = job.ID
		r.logger.Debug("reaped exited job", "job_id", job.ID)
	}
	return ids
}

// Terminate signals the job's process group, removes the entry and waits up
// to the kill grace period for the process to exit, escalating to SIGKILL.
// Unknown identifiers, and jobs whose leader already exited on its own, yield
// ErrNoSuchJob; the group of an exited job is still cleared.
func (r *Registry) Terminate(id string) error {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSuchJob, id)
	}
	delete(r.jobs, id)
	r.mu.Unlock()

	return r.stop(job)
}

// stop terminates a job already removed from the registry.
func (r *Registry) stop(job *Job) error {
	if job.Exited() {
		r.clearGroup(job)
		return fmt.Errorf("%w: %s already exited", ErrNoSuchJob, job.ID)
	}

	if err := terminateJob(job); err != nil {
		r.logger.Warn("terminate failed, killing", "job_id", job.ID, "pid", job.PID(), "error", err)
	}

	select {
	case <-job.Done():
		// The leader is gone; children that ignored SIGTERM are not.
		r.clearGroup(job)
	case <-time.After(r.killGrace):
		r.logger.Warn("job ignored SIGTERM, killing", "job_id", job.ID, "pid", job.PID())
		if err := killJob(job); err != nil {
			return fmt.Errorf("killing %s: %w", job.ID, err)
		}
		<-job.Done()
	}

	r.logger.Info("job terminated", "job_id", job.ID, "pid", job.PID())
	return nil
}

// TerminateAll terminates every tracked job concurrently, so the whole call
// takes at most one kill grace period, and returns the identifiers that were
// stopped.
func (r *Registry) TerminateAll() []string {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for id, job := range r.jobs {
		jobs = append(jobs, job)
		delete(r.jobs, id)
	}
	r.mu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	stopped := make([]bool, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopped[i] = r.stop(job) == nil
		}()
	}
	wg.Wait()

	var ids []string
	for i, job := range jobs {
		if stopped[i] {
			ids = append(ids, job.ID)
		}
	}
	return ids
}
