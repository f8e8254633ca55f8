package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/autocoder/agent"
	"github.com/martinemde/autocoder/automode"
	"github.com/martinemde/autocoder/command"
	"github.com/martinemde/autocoder/config"
	"github.com/martinemde/autocoder/llm"
)

// replyCompleter answers with replies in order, or with err. It keeps every
// request it sees.
type replyCompleter struct {
	replies  []string
	err      error
	requests []llm.Request
}

func (c *replyCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.replies) == 0 {
		return &llm.Response{Text: "nothing more"}, nil
	}
	text := c.replies[0]
	c.replies = c.replies[1:]
	return &llm.Response{Text: text, Usage: llm.Usage{InputTokens: 100, OutputTokens: 20}}, nil
}

func newTestApp(t *testing.T, c llm.Completer) (*app, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Sandbox.Dir = filepath.Join(dir, "env")
	cfg.Sandbox.Runtime = "sh"

	var out, errOut bytes.Buffer
	u := newUI(&out, &errOut)
	log, err := newLogger(cfg, &errOut)
	require.NoError(t, err)
	executor, err := newExecutor(cfg, log, dir)
	require.NoError(t, err)

	scfg := agent.DefaultSessionConfig()
	scfg.Model = "test-model"
	scfg.SystemPrompt = "system"
	scfg.ContextWindow = 1000
	sess := agent.NewSession(c, nil, &scfg,
		agent.WithDetector(command.Chain{command.Structured{}, command.Natural{}}),
		agent.WithWorkspace(command.NewWorkspace(dir)),
		agent.WithRunner(executor),
		agent.WithLogger(log.Logger),
	)

	a := &app{cfg: cfg, log: log, executor: executor, session: sess, ui: u}
	a.driver = automode.NewDriver(sess, sess.Conversation(),
		automode.WithEmitter(sess.Emitter()),
		automode.WithStepHook(a.showStep),
	)
	t.Cleanup(a.Close)
	return a, &out, dir
}

func runREPL(t *testing.T, a *app, saveDir string, lines ...string) {
	t.Helper()
	r := &repl{
		app:     a,
		lines:   readLines(strings.NewReader(strings.Join(lines, "\n"))),
		sigs:    make(chan os.Signal),
		saveDir: saveDir,
	}
	require.NoError(t, r.run(context.Background()))
}

func TestREPLSession(t *testing.T) {
	a, out, dir := newTestApp(t, &replyCompleter{replies: []string{"step one", "All done AUTOMODE_COMPLETE"}})

	runREPL(t, a, dir,
		"create a file named notes.txt with content: hello",
		"jobs",
		"automode 3",
		"write the code",
		"save chat",
		"reset",
		"exit",
	)
	text := out.String()

	assert.Contains(t, text, "[File Operation Result] File created: notes.txt")
	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Contains(t, text, "[Jobs] No background jobs.")
	assert.Contains(t, text, "Entering automode with 3 iterations.")
	assert.Contains(t, text, "[AI's Response] step one")
	assert.Contains(t, text, "Continuation iteration 1 completed.")
	assert.NotContains(t, text, "Continuation iteration 2 completed.")
	assert.Contains(t, text, "[Automode] Automode completed.")
	assert.Contains(t, text, "Exited automode. Returning to regular chat.")
	assert.Contains(t, text, "Input: 200, Output: 40, Total: 240")

	saved, err := filepath.Glob(filepath.Join(dir, "Chat_*.md"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Contains(t, text, "Chat saved to "+saved[0])
	chat, err := os.ReadFile(saved[0])
	require.NoError(t, err)
	assert.Contains(t, string(chat), "write the code")

	assert.Contains(t, text, "Conversation history and token counts have been reset.")
	assert.Zero(t, a.session.Conversation().Len())
	assert.True(t, strings.HasSuffix(strings.TrimSpace(text), "Thank you for chatting. Goodbye!"))
}

func TestREPLEndOfInputSaysGoodbye(t *testing.T) {
	a, out, dir := newTestApp(t, &replyCompleter{})
	runREPL(t, a, dir, "")
	assert.Contains(t, out.String(), "Thank you for chatting. Goodbye!")
}

func TestREPLShowsCompletionErrors(t *testing.T) {
	boom := &llm.CompletionError{Kind: llm.KindServer, Message: "upstream unavailable"}
	a, out, dir := newTestApp(t, &replyCompleter{err: boom})

	runREPL(t, a, dir, "hello", "exit")
	assert.Contains(t, out.String(), "[API Error] API Error:")
	assert.Contains(t, out.String(), "upstream unavailable")
	assert.Contains(t, out.String(), "Goodbye!", "the REPL keeps going after an error")
}

func TestREPLAutomodeFailure(t *testing.T) {
	boom := &llm.CompletionError{Kind: llm.KindServer, Message: "upstream unavailable"}
	a, out, dir := newTestApp(t, &replyCompleter{err: boom})

	runREPL(t, a, dir, "automode", "goal", "exit")
	assert.Contains(t, out.String(), "Entering automode with 25 iterations.")
	assert.Contains(t, out.String(), "Automode stopped after 0 iteration(s).")
	assert.Contains(t, out.String(), "Exited automode. Returning to regular chat.")
}

func TestREPLImageCommand(t *testing.T) {
	c := &replyCompleter{replies: []string{"a red square"}}
	a, out, dir := newTestApp(t, c)
	img := filepath.Join(dir, "square.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG"), 0644))

	runREPL(t, a, dir,
		"image",
		filepath.Join(dir, "missing.png"),
		"image",
		dir,
		"image",
		img,
		"what is this?",
		"exit",
	)
	text := out.String()

	assert.Equal(t, 2, strings.Count(text, "[Error] Invalid image path. Please try again."))
	assert.Contains(t, text, "You (prompt for image):")
	assert.Contains(t, text, "[AI's Response] a red square")

	require.Len(t, c.requests, 1)
	msgs := c.requests[0].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "[Image attached] what is this?", last.Content)
}

func TestInterruptCancelsRunningWork(t *testing.T) {
	a, _, _ := newTestApp(t, &replyCompleter{})
	sigs := make(chan os.Signal, 1)
	lines := make(chan string, 1)
	r := &repl{app: a, lines: lines, sigs: sigs}

	var cancelled bool
	r.interruptible(context.Background(), func(ctx context.Context) {
		sigs <- os.Interrupt
		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(5 * time.Second):
		}
	})
	assert.True(t, cancelled)
	assert.Nil(t, r.pending, "an interrupt that cancelled work is used up")

	lines <- "next"
	got, ok := r.nextLine()
	require.True(t, ok)
	assert.Equal(t, "next", got)
}

func TestInterruptAfterWorkReachesPrompt(t *testing.T) {
	a, _, _ := newTestApp(t, &replyCompleter{})
	sigs := make(chan os.Signal, 1)
	lines := make(chan string, 1)
	r := &repl{app: a, lines: lines, sigs: sigs}

	var ran bool
	r.interruptible(context.Background(), func(ctx context.Context) {
		ran = true
	})
	require.True(t, ran)
	sigs <- os.Interrupt

	lines <- "ignored"
	_, ok := r.nextLine()
	assert.False(t, ok, "the interrupt ends the prompt")
	assert.Nil(t, r.pending)
}

func TestPendingInterruptEndsNextPrompt(t *testing.T) {
	a, _, _ := newTestApp(t, &replyCompleter{})
	lines := make(chan string, 1)
	r := &repl{app: a, lines: lines, sigs: make(chan os.Signal), pending: os.Interrupt}

	lines <- "hello"
	_, ok := r.readInput()
	assert.False(t, ok)
	assert.Nil(t, r.pending)

	got, ok := r.readInput()
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestAssembleInput(t *testing.T) {
	feed := func(lines ...string) func() (string, bool) {
		return func() (string, bool) {
			if len(lines) == 0 {
				return "", false
			}
			l := lines[0]
			lines = lines[1:]
			return l, true
		}
	}

	got, ok := assembleInput("hello", feed())
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	got, ok = assembleInput(`/create a.txt\`, feed("line one", "unused"))
	require.True(t, ok)
	assert.Equal(t, "/create a.txt\nline one", got)

	got, ok = assembleInput("/run ```sh", feed("echo hi", "```", "unused"))
	require.True(t, ok)
	assert.Equal(t, "/run ```sh\necho hi\n```", got)

	_, ok = assembleInput("```", feed("never closed"))
	assert.False(t, ok)
}

func TestParseIterations(t *testing.T) {
	assert.Equal(t, 25, parseIterations("automode", 25))
	assert.Equal(t, 5, parseIterations("automode 5", 25))
	assert.Equal(t, 25, parseIterations("automode five", 25))
	assert.Equal(t, 25, parseIterations("automode -2", 25))
	assert.Equal(t, automode.DefaultMaxIterations, parseIterations("automode", 0))
}

func TestIsCommand(t *testing.T) {
	assert.True(t, isCommand("automode", "automode"))
	assert.True(t, isCommand("Automode 10", "automode"))
	assert.False(t, isCommand("automodes", "automode"))
	assert.False(t, isCommand("tell me about automode", "automode"))
	assert.True(t, isCommand("image", "image"))
	assert.False(t, isCommand("images of cats", "image"))
}

func TestFormatUsage(t *testing.T) {
	got := formatUsage(llm.Usage{InputTokens: 1500, OutputTokens: 500}, 8192, 24.4140625)
	assert.Equal(t, "Input: 1500, Output: 500, Total: 2000\nPercentage of context window used: 24.41% of 8192", got)
}

func TestResultTitle(t *testing.T) {
	assert.Equal(t, "File Operation Result", resultTitle(&command.Operation{Kind: command.KindRead}))
	assert.Equal(t, "Execution Result", resultTitle(&command.Operation{Kind: command.KindRun}))
	assert.Equal(t, "File Operation Result", resultTitle(nil))
}
