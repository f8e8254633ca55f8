// Package automode drives a chat session through repeated steps until the
// model declares the task complete, an iteration cap is reached or the
// caller cancels.
package automode

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/martinemde/autocoder/agent"
	"github.com/martinemde/autocoder/conversation"
)

const (
	// DefaultMaxIterations caps a run when the caller gives no limit.
	DefaultMaxIterations = 25

	// DefaultStallWindow is how many recent replies are compared for
	// repetition.
	DefaultStallWindow = 3

	// ContinuePrompt is the input for every step after the first.
	ContinuePrompt = "Continue with the next step. Or STOP by saying 'AUTOMODE_COMPLETE' if you think you've achieved the results established in the original request."

	// InterruptedReply closes a conversation left on an unanswered user
	// turn by an interruption.
	InterruptedReply = "Automode interrupted. How can I assist you further?"

	sentinel = agent.CompletionSentinel
)

// ErrAlreadyRunning is returned when Run is called on an active driver.
var ErrAlreadyRunning = errors.New("automode already running")

// State is the driver's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateActive      State = "active"
	StateCompleted   State = "completed"
	StateCapReached  State = "cap_reached"
	StateInterrupted State = "interrupted"
	StateFailed      State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCapReached, StateInterrupted, StateFailed:
		return true
	}
	return false
}

// Stepper runs one chat step. *agent.Session implements it.
type Stepper interface {
	Chat(ctx context.Context, input string) (*agent.Reply, error)
}

// automodeAware steppers adjust their prompt while a run is active.
type automodeAware interface {
	SetAutomode(on bool)
}

// Step describes one finished iteration.
type Step struct {
	Iteration     int
	MaxIterations int
	Input         string
	Reply         *agent.Reply
}

// Outcome is the result of a run.
type Outcome struct {
	State      State
	Iterations int
	// LastReply is the reply of the final completed step, if any.
	LastReply *agent.Reply
	// Err is the completion failure that ended a Failed run.
	Err error
}

// Driver runs the continuation loop. Steps never overlap.
type Driver struct {
	stepper     Stepper
	conv        *conversation.Conversation
	emitter     *agent.EventEmitter
	logger      *slog.Logger
	stallWindow int
	onStep      func(Step)

	mu        sync.Mutex
	state     State
	iteration int
	max       int
}

// Option configures a Driver.
type Option func(*Driver)

// WithStallWindow sets how many recent replies are checked for repetition.
// Zero disables stall detection.
func WithStallWindow(n int) Option {
	return func(d *Driver) { d.stallWindow = n }
}

// WithEmitter sends driver events to e.
func WithEmitter(e *agent.EventEmitter) Option {
	return func(d *Driver) { d.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithStepHook calls fn after every iteration that produced a reply.
func WithStepHook(fn func(Step)) Option {
	return func(d *Driver) { d.onStep = fn }
}

// NewDriver creates a driver. conv is the conversation the stepper writes
// to; it receives the acknowledgement turn on interruption and may be nil.
func NewDriver(stepper Stepper, conv *conversation.Conversation, opts ...Option) *Driver {
	d := &Driver{
		stepper:     stepper,
		conv:        conv,
		logger:      slog.Default(),
		stallWindow: DefaultStallWindow,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Active reports whether a run is in progress.
func (d *Driver) Active() bool {
	return d.State() == StateActive
}

// Iteration returns the number of iterations completed in the current or
// last run.
func (d *Driver) Iteration() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iteration
}

// MaxIterations returns the cap of the current or last run.
func (d *Driver) MaxIterations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.max
}

// Run sends goal as the first input and keeps stepping with ContinuePrompt.
// It stops when a reply carries the completion sentinel (Completed), after
// maxIterations steps without it (CapReached), when ctx is cancelled
// (Interrupted) or when a step fails (Failed). maxIterations <= 0 means
// DefaultMaxIterations. Background jobs started during the run are left
// alone.
func (d *Driver) Run(ctx context.Context, goal string, maxIterations int) Outcome {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	d.mu.Lock()
	if d.state == StateActive {
		d.mu.Unlock()
		return Outcome{State: StateFailed, Err: ErrAlreadyRunning}
	}
	d.state = StateActive
	d.iteration = 0
	d.max = maxIterations
	d.mu.Unlock()

	if a, ok := d.stepper.(automodeAware); ok {
		a.SetAutomode(true)
		defer a.SetAutomode(false)
	}

	d.emit(agent.EventAutomodeStart, map[string]any{"max_iterations": maxIterations, "goal": goal})
	d.logger.Info("automode started", "max_iterations", maxIterations)

	out := d.loop(ctx, goal, maxIterations)

	d.mu.Lock()
	d.state = out.State
	d.mu.Unlock()

	data := map[string]any{"state": string(out.State), "iterations": out.Iterations}
	if out.Err != nil {
		data["error"] = out.Err.Error()
	}
	d.emit(agent.EventAutomodeEnd, data)
	d.logger.Info("automode ended", "state", out.State, "iterations", out.Iterations)
	return out
}

func (d *Driver) loop(ctx context.Context, goal string, maxIterations int) Outcome {
	input := goal
	var sigs []string
	var last *agent.Reply

	for {
		if ctx.Err() != nil {
			return d.interrupted(last)
		}

		reply, err := d.stepper.Chat(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return d.interrupted(last)
			}
			d.logger.Warn("automode step failed", "iteration", d.Iteration()+1, "error", err)
			return Outcome{State: StateFailed, Iterations: d.Iteration(), LastReply: last, Err: err}
		}
		last = reply

		d.mu.Lock()
		d.iteration++
		n := d.iteration
		d.mu.Unlock()

		d.emit(agent.EventAutomodeStep, map[string]any{"iteration": n, "max_iterations": maxIterations})
		d.logger.Debug("automode iteration completed", "iteration", n)
		if d.onStep != nil {
			d.onStep(Step{Iteration: n, MaxIterations: maxIterations, Input: input, Reply: reply})
		}

		if reply.Complete || strings.Contains(reply.Text, sentinel) {
			return Outcome{State: StateCompleted, Iterations: n, LastReply: reply}
		}
		if n >= maxIterations {
			return Outcome{State: StateCapReached, Iterations: n, LastReply: reply}
		}
		if ctx.Err() != nil {
			return d.interrupted(last)
		}

		input = ContinuePrompt
		if d.stallWindow > 0 {
			sigs = append(sigs, replySignature(reply.Text))
			if detectStall(sigs, d.stallWindow) {
				note := stallNote(d.stallWindow)
				input = ContinuePrompt + "\n\n" + note
				d.emit(agent.EventStallDetected, map[string]any{"iteration": n, "message": note})
				d.logger.Warn("automode stall detected", "iteration", n, "window", d.stallWindow)
				sigs = sigs[:0]
			}
		}
	}
}

func (d *Driver) interrupted(last *agent.Reply) Outcome {
	if d.conv != nil && d.conv.AcknowledgeDangling(InterruptedReply) {
		d.logger.Debug("acknowledged dangling user turn after interruption")
	}
	return Outcome{State: StateInterrupted, Iterations: d.Iteration(), LastReply: last}
}

func (d *Driver) emit(kind agent.EventKind, data map[string]any) {
	if d.emitter != nil {
		d.emitter.Emit(kind, data)
	}
}
