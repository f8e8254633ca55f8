package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/autocoder/agent"
	"github.com/martinemde/autocoder/automode"
	"github.com/martinemde/autocoder/command"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newUI(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer a.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go a.watchEvents()

	r := &repl{app: a, lines: readLines(cmd.InOrStdin()), sigs: sigs, saveDir: "."}
	return r.run(cmd.Context())
}

// repl reads user input line by line. Ctrl+C at the prompt ends the chat;
// during a request or an automode run it cancels only that work.
type repl struct {
	*app
	lines   <-chan string
	sigs    <-chan os.Signal
	saveDir string

	// pending holds an interrupt that arrived after the work it would have
	// cancelled had finished.
	pending os.Signal
}

func (r *repl) run(ctx context.Context) error {
	r.welcome()
	for {
		r.ui.prompt("You:")
		input, ok := r.readInput()
		if !ok {
			r.goodbye()
			return nil
		}
		if input == "" {
			continue
		}

		switch lower := strings.ToLower(input); {
		case lower == "exit":
			r.goodbye()
			return nil
		case lower == "reset":
			r.session.Reset()
			r.ui.success("Reset", "Conversation history and token counts have been reset.")
		case lower == "save chat":
			r.saveChat()
		case lower == "jobs":
			r.showJobs()
		case isCommand(lower, "image"):
			r.image(ctx)
		case isCommand(lower, "automode"):
			r.automode(ctx, parseIterations(input, r.cfg.Automode.MaxIterations))
		default:
			r.chat(ctx, input)
		}
	}
}

func (r *repl) welcome() {
	r.ui.success("Welcome", fmt.Sprintf("Welcome to autocoder, chatting with %s via %s!", r.cfg.LLM.Model, r.cfg.LLM.Provider))
	r.ui.print(strings.Join([]string{
		"Type 'exit' to end the conversation.",
		"Type 'image' to include an image in your message.",
		"Type 'automode [number]' to enter Autonomous mode with a specific number of iterations.",
		"Type 'reset' to clear the conversation history.",
		"Type 'save chat' to save the conversation to a Markdown file.",
		"Type 'jobs' to list code still running in the background.",
		"You can directly request file operations like 'create a file named example.txt with content: Hello, World!' or 'read the file example.txt'",
		"Slash commands: /create <path>, /read <path>, /list [dir], /mkdir <path>, /run [code], /status <job_id>, /stop <job_id>.",
		"End a line with \\ or open a ``` fence to continue input on the next line.",
		"While in automode, press Ctrl+C at any time to exit the automode to return to regular chat.",
	}, "\n"))
}

func (r *repl) goodbye() {
	r.ui.success("Goodbye", "Thank you for chatting. Goodbye!")
}

// chat runs one step and shows its outcome. Errors are shown, never
// returned: the REPL keeps going.
func (r *repl) chat(ctx context.Context, input string) {
	var (
		reply *agent.Reply
		err   error
	)
	r.interruptible(ctx, func(ctx context.Context) {
		reply, err = r.session.Chat(ctx, input)
	})
	if err != nil {
		r.showError(err)
		return
	}
	r.showReply(reply)
}

// image asks for an image path and a prompt, then sends the prompt tagged as
// carrying an image. The completion backend takes text, so only the tag
// reaches the model.
func (r *repl) image(ctx context.Context) {
	r.ui.prompt("Enter the path to your image:")
	path, ok := r.readInput()
	if !ok {
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		r.ui.failure("Error", "Invalid image path. Please try again.")
		return
	}
	r.ui.prompt("You (prompt for image):")
	prompt, ok := r.readInput()
	if !ok {
		return
	}
	r.chat(ctx, imagePrompt(prompt))
}

func imagePrompt(text string) string {
	return "[Image attached] " + text
}

func (r *repl) automode(ctx context.Context, maxIterations int) {
	r.ui.warn("Automode", fmt.Sprintf("Entering automode with %d iterations. Please provide the goal of the automode.", maxIterations))
	r.ui.warn("", "Press Ctrl+C at any time to exit the automode loop.")
	r.ui.prompt("You:")
	goal, ok := r.readInput()
	if ok && goal != "" {
		var out automode.Outcome
		r.interruptible(ctx, func(ctx context.Context) {
			out = r.driver.Run(ctx, goal, maxIterations)
		})
		r.showOutcome(out)
	}
	r.ui.success("", "Exited automode. Returning to regular chat.")
}

func (r *repl) showOutcome(out automode.Outcome) {
	switch out.State {
	case automode.StateCompleted:
		r.ui.success("Automode", "Automode completed.")
	case automode.StateCapReached:
		r.ui.failure("Automode", "Max iterations reached. Exiting automode.")
	case automode.StateInterrupted:
		r.ui.failure("Automode", "Automode interrupted by user. Exiting automode.")
	case automode.StateFailed:
		r.showError(out.Err)
		r.ui.failure("Automode", fmt.Sprintf("Automode stopped after %d iteration(s).", out.Iterations))
	}
}

func (r *repl) saveChat() {
	path, err := r.session.Conversation().SaveMarkdown(r.saveDir, time.Now())
	if err != nil {
		r.ui.failure("Error", fmt.Sprintf("Error saving chat: %v", err))
		return
	}
	r.ui.success("Chat Saved", "Chat saved to "+path)
}

func (r *repl) showJobs() {
	jobs := r.executor.Jobs()
	if len(jobs) == 0 {
		r.ui.success("Jobs", "No background jobs.")
		return
	}
	lines := make([]string, len(jobs))
	for i, j := range jobs {
		lines[i] = fmt.Sprintf("%s  pid %d  running since %s", j.ID, j.PID, j.Started.Format("15:04:05"))
	}
	r.ui.success("Jobs", strings.Join(lines, "\n"))
}

// interruptible runs fn with a context cancelled by an interrupt that
// arrives while fn runs. An interrupt that lands once fn has returned is kept
// for the prompt instead.
func (r *repl) interruptible(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()

	select {
	case <-done:
	case sig := <-r.sigs:
		select {
		case <-done:
			r.pending = sig
		default:
			cancel()
			<-done
		}
	}
}

// readInput reads one possibly multi-line input. It reports false at end of
// input or on interrupt.
func (r *repl) readInput() (string, bool) {
	first, ok := r.nextLine()
	if !ok {
		return "", false
	}
	return assembleInput(first, r.nextLine)
}

func (r *repl) nextLine() (string, bool) {
	if r.pending != nil {
		r.pending = nil
		return "", false
	}
	select {
	case line, ok := <-r.lines:
		return line, ok
	case <-r.sigs:
		return "", false
	}
}

func readLines(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// assembleInput joins continuation lines onto first. A line ending in a
// backslash continues the input, as does an unclosed ``` fence.
func assembleInput(first string, next func() (string, bool)) (string, bool) {
	var parts []string
	fences := 0
	line := first
	for {
		fences += strings.Count(line, "```")
		open := fences%2 == 1
		if !open && strings.HasSuffix(line, `\`) {
			parts = append(parts, strings.TrimSuffix(line, `\`))
		} else {
			parts = append(parts, line)
			if !open {
				break
			}
		}
		var ok bool
		if line, ok = next(); !ok {
			return "", false
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), true
}

// isCommand reports whether the first word of input is name.
func isCommand(input, name string) bool {
	fields := strings.Fields(input)
	return len(fields) > 0 && strings.EqualFold(fields[0], name)
}

// parseIterations reads N from "automode N", falling back to def.
func parseIterations(input string, def int) int {
	if def <= 0 {
		def = automode.DefaultMaxIterations
	}
	fields := strings.Fields(input)
	if len(fields) < 2 {
		return def
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// showStep renders one automode iteration as it finishes.
func (a *app) showStep(st automode.Step) {
	a.showReply(st.Reply)
	if !st.Reply.Complete && !strings.Contains(st.Reply.Text, agent.CompletionSentinel) {
		a.ui.warn("Automode", fmt.Sprintf("Continuation iteration %d completed. Press Ctrl+C to exit automode.", st.Iteration))
	}
}

func (a *app) showReply(reply *agent.Reply) {
	if reply.Direct {
		a.ui.success(resultTitle(reply.Operation), reply.Text)
		return
	}
	a.ui.reply(reply.Text)
	a.ui.usage(a.session.ContextUsage())
}

func resultTitle(op *command.Operation) string {
	if op != nil && !op.Kind.IsFileOp() {
		return "Execution Result"
	}
	return "File Operation Result"
}

func (a *app) showError(err error) {
	if errors.Is(err, context.Canceled) {
		a.ui.warn("Interrupted", "Request cancelled.")
		return
	}
	a.ui.failure("API Error", "API Error: "+err.Error())
}

// watchEvents surfaces warnings from the session's event stream until the
// session closes.
func (a *app) watchEvents() {
	for ev := range a.session.Events() {
		switch ev.Kind {
		case agent.EventContextWarning, agent.EventStallDetected:
			if msg, ok := ev.Data["message"].(string); ok {
				a.ui.notice("warning: " + msg)
			}
		}
	}
}
