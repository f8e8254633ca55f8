package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/autocoder/command"
	"github.com/martinemde/autocoder/conversation"
	"github.com/martinemde/autocoder/llm"
	"github.com/martinemde/autocoder/sandbox"
)

// CompletionSentinel in a reply tells the automode driver the task is done.
const CompletionSentinel = "AUTOMODE_COMPLETE"

// Runner executes code and manages background jobs. *sandbox.Executor
// implements it.
type Runner interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.Result, error)
	Status(id string) (*sandbox.Result, error)
	Stop(id string) string
}

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Model         string        `json:"model"`
	Provider      string        `json:"provider,omitempty"`
	ExecTimeout   time.Duration `json:"exec_timeout"`
	OutputLimit   int           `json:"output_limit"`
	LineLimit     int           `json:"line_limit"`
	ContextWindow int           `json:"context_window"`
	WorkDir       string        `json:"work_dir,omitempty"`
	Runtime       string        `json:"runtime,omitempty"`
	// SystemPrompt replaces the generated prompt when set.
	SystemPrompt string `json:"system_prompt,omitempty"`
	// UserInstructions are appended last to the generated prompt.
	UserInstructions string `json:"user_instructions,omitempty"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ExecTimeout:   sandbox.DefaultTimeout,
		OutputLimit:   DefaultOutputCharLimit,
		LineLimit:     DefaultOutputLineLimit,
		ContextWindow: llm.DefaultContextWindow,
	}
}

// Reply is the outcome of one chat step.
type Reply struct {
	Text string
	// Complete is set when the model's own text carries the completion
	// sentinel.
	Complete bool
	// Operation is the operation performed during the step, if any.
	Operation *command.Operation
	// Direct is set when the input itself was an operation and the model
	// was not consulted.
	Direct bool
	Usage     llm.Usage
}

// Session runs chat steps against a shared conversation. Chat calls are
// serialized.
type Session struct {
	id        string
	completer llm.Completer
	conv      *conversation.Conversation
	detector  command.Detector
	workspace *command.Workspace
	runner    Runner
	emitter   *EventEmitter
	logger    *slog.Logger
	config    SessionConfig
	automode  bool

	step sync.Mutex
	mu   sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithDetector sets the operation detector. Without one, no operations are
// detected.
func WithDetector(d command.Detector) Option {
	return func(s *Session) { s.detector = d }
}

// WithWorkspace sets the workspace for file operations.
func WithWorkspace(w *command.Workspace) Option {
	return func(s *Session) { s.workspace = w }
}

// WithRunner sets the code runner.
func WithRunner(r Runner) Option {
	return func(s *Session) { s.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithEmitter replaces the session's event emitter.
func WithEmitter(e *EventEmitter) Option {
	return func(s *Session) { s.emitter = e }
}

// NewSession creates a session over conv. A nil conv starts a fresh
// conversation and a nil config uses DefaultSessionConfig.
func NewSession(completer llm.Completer, conv *conversation.Conversation, config *SessionConfig, opts ...Option) *Session {
	id := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = llm.ContextWindow(cfg.Model)
	}
	if conv == nil {
		conv = conversation.New()
	}

	s := &Session{
		id:        id,
		completer: completer,
		conv:      conv,
		config:    cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = NewEventEmitter(id, 256)
	}
	s.logger = s.logger.With("session_id", id)
	s.emitter.Emit(EventSessionStart, map[string]any{"model": cfg.Model})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Conversation returns the shared conversation state.
func (s *Session) Conversation() *conversation.Conversation { return s.conv }

// Emitter returns the session's event emitter.
func (s *Session) Emitter() *EventEmitter { return s.emitter }

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Config returns a copy of the configuration.
func (s *Session) Config() SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// SetAutomode toggles the automode note in the system prompt.
func (s *Session) SetAutomode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.automode = on
}

// Reset clears the conversation and its token counters.
func (s *Session) Reset() {
	s.conv.Reset()
	s.emitter.Emit(EventReset, nil)
	s.logger.Info("conversation reset")
}

// Close ends the session's event stream.
func (s *Session) Close() {
	s.emitter.Emit(EventSessionEnd, nil)
	s.emitter.Close()
}

// SystemPrompt returns the system prompt for the next request.
func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.SystemPrompt != "" {
		return s.config.SystemPrompt
	}
	return BuildSystemPrompt(PromptOptions{
		WorkDir:      s.config.WorkDir,
		Model:        s.config.Model,
		Runtime:      s.config.Runtime,
		ExecTimeout:  s.config.ExecTimeout,
		Automode:     s.automode,
		Instructions: s.config.UserInstructions,
	})
}

// Chat runs one step. An operation detected in input is performed instead of
// calling the model. Otherwise the model is asked for a reply, and an
// operation detected in that reply is performed with its result appended to
// the reply text. The user turn and the reply are recorded together; a
// completion failure records nothing and returns an *llm.CompletionError.
func (s *Session) Chat(ctx context.Context, input string) (*Reply, error) {
	s.step.Lock()
	defer s.step.Unlock()

	s.emitter.Emit(EventUserInput, map[string]any{"content": input})

	if op, ok := s.detect(input); ok {
		result := s.perform(ctx, op)
		s.conv.AppendExchange(input, result, llm.Usage{})
		return &Reply{Text: result, Operation: &op, Direct: true}, nil
	}

	cfg := s.Config()
	req := llm.Request{
		Model:    cfg.Model,
		Provider: cfg.Provider,
		Messages: append(append([]llm.Message{llm.SystemMessage(s.SystemPrompt())}, s.conv.Messages()...), llm.UserMessage(input)),
	}

	resp, err := s.completer.Complete(ctx, req)
	if err != nil {
		var cerr *llm.CompletionError
		if !errors.As(err, &cerr) {
			cerr = llm.Classify(cfg.Provider, err)
		}
		s.emitter.Emit(EventError, map[string]any{"error": cerr.Error(), "kind": string(cerr.Kind)})
		s.logger.Warn("completion failed", "kind", cerr.Kind, "error", cerr)
		return nil, cerr
	}

	text := resp.Text
	reply := &Reply{
		Complete: strings.Contains(text, CompletionSentinel),
		Usage:    resp.Usage,
	}
	if op, ok := s.detect(text); ok {
		result := s.perform(ctx, op)
		text += "\n\nFile operation result: " + result
		reply.Operation = &op
	}
	reply.Text = text

	s.conv.AppendExchange(input, text, resp.Usage)
	s.emitter.Emit(EventAssistantText, map[string]any{
		"text":          text,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
	s.checkContextUsage()
	return reply, nil
}

func (s *Session) detect(text string) (command.Operation, bool) {
	if s.detector == nil {
		return command.Operation{}, false
	}
	return s.detector.Detect(text)
}

// perform carries out an operation and returns its human-readable result.
func (s *Session) perform(ctx context.Context, op command.Operation) string {
	s.emitter.Emit(EventOperationStart, map[string]any{"operation": op.String()})
	s.logger.Info("performing operation", "operation", op.String())

	result := s.performOp(ctx, op)

	s.emitter.Emit(EventOperationEnd, map[string]any{"operation": op.String(), "result": result})
	cfg := s.Config()
	limit := cfg.OutputLimit
	if op.Kind == command.KindRead {
		limit = max(limit, DefaultReadCharLimit)
	}
	return truncate(result, limit, cfg.LineLimit)
}

func (s *Session) performOp(ctx context.Context, op command.Operation) string {
	if op.Kind.IsFileOp() {
		if s.workspace == nil {
			return "File operations are not available."
		}
		result, _ := s.workspace.Apply(op)
		return result
	}

	if s.runner == nil {
		return "Code execution is not available."
	}
	switch op.Kind {
	case command.KindRun:
		res, err := s.runner.Execute(ctx, op.Content, s.Config().ExecTimeout)
		if err != nil && res == nil {
			return describeExecError(err)
		}
		return FormatResult(res)
	case command.KindStop:
		return s.runner.Stop(op.JobID)
	case command.KindStatus:
		res, err := s.runner.Status(op.JobID)
		if err != nil {
			if errors.Is(err, sandbox.ErrNoSuchJob) {
				return fmt.Sprintf("No running process found with ID %s.", op.JobID)
			}
			return fmt.Sprintf("Error checking process %s: %v", op.JobID, err)
		}
		return FormatResult(res)
	}
	return fmt.Sprintf("Unsupported operation: %s", op.Kind)
}

func describeExecError(err error) string {
	var setupErr *sandbox.SetupError
	if errors.As(err, &setupErr) {
		return fmt.Sprintf("Error setting up execution environment: %v", err)
	}
	return fmt.Sprintf("Error executing code: %v", err)
}

// FormatResult renders an execution result for the user and the model.
func FormatResult(res *sandbox.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Process ID: %s\n", res.JobID)
	fmt.Fprintf(&sb, "Status: %s\n", res.Status())
	if res.Running {
		sb.WriteString(res.Stdout)
		if res.Stdout != sandbox.RunningMessage {
			sb.WriteString("\n(still running)")
		}
		return sb.String()
	}
	fmt.Fprintf(&sb, "Stdout:\n%s", res.Stdout)
	if res.Stderr != "" {
		fmt.Fprintf(&sb, "\nStderr:\n%s", res.Stderr)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ContextUsage reports token counters and the share of the context window
// they represent, in percent.
func (s *Session) ContextUsage() (usage llm.Usage, window int, percent float64) {
	usage = s.conv.Usage()
	window = s.Config().ContextWindow
	if window > 0 {
		percent = float64(usage.Total()) / float64(window) * 100
	}
	return usage, window, percent
}

// checkContextUsage warns once usage passes 80% of the context window.
func (s *Session) checkContextUsage() {
	usage, window, pct := s.ContextUsage()
	if window > 0 && pct > 80 {
		s.emitter.Emit(EventContextWarning, map[string]any{
			"message": fmt.Sprintf("Context usage at ~%d%% of context window", int(pct)),
			"tokens":  usage.Total(),
		})
	}
}
