package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/martinemde/autocoder/llm"
)

// Color palette
var (
	colorSuccess = lipgloss.Color("76")  // green
	colorWarn    = lipgloss.Color("214") // orange
	colorError   = lipgloss.Color("196") // red
	colorReply   = lipgloss.Color("39")  // blue
	colorMuted   = lipgloss.Color("242") // gray
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

// ui writes everything the user sees. Output from the event goroutine and
// the REPL is serialized.
type ui struct {
	out    io.Writer
	errOut io.Writer
	color  bool
	width  int
	md     *glamour.TermRenderer

	mu sync.Mutex
}

func newUI(out, errOut io.Writer) *ui {
	u := &ui{out: out, errOut: errOut, width: 80}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			u.width = w
		}
		u.color = shouldUseColor()
	}
	if u.color {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(u.width-4),
		)
		if err == nil {
			u.md = md
		}
	}
	return u
}

// shouldUseColor honors NO_COLOR, CLICOLOR and CLICOLOR_FORCE.
func shouldUseColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}
	return os.Getenv("CLICOLOR") != "0"
}

func (u *ui) print(s string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintln(u.out, s)
}

// panel draws a titled box, or a "[title] body" line without color.
func (u *ui) panel(title, body string, color lipgloss.Color) {
	if !u.color {
		if title == "" {
			u.print(body)
			return
		}
		u.print("[" + title + "] " + body)
		return
	}
	content := body
	if title != "" {
		content = titleStyle.Foreground(color).Render(title) + "\n" + body
	}
	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		MaxWidth(u.width)
	u.print(box.Render(content))
}

func (u *ui) success(title, msg string) { u.panel(title, msg, colorSuccess) }
func (u *ui) warn(title, msg string)    { u.panel(title, msg, colorWarn) }
func (u *ui) failure(title, msg string) { u.panel(title, msg, colorError) }

// notice writes a plain line to the error stream.
func (u *ui) notice(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.color {
		msg = mutedStyle.Render(msg)
	}
	fmt.Fprintln(u.errOut, msg)
}

// reply renders an assistant reply as markdown when the terminal allows it.
func (u *ui) reply(text string) {
	if u.md != nil {
		if rendered, err := u.md.Render(text); err == nil {
			u.panel("AI's Response", strings.TrimRight(rendered, "\n"), colorReply)
			return
		}
	}
	u.panel("AI's Response", text, colorReply)
}

func (u *ui) prompt(label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.color {
		label = promptStyle.Render(label)
	}
	fmt.Fprint(u.out, label+" ")
}

// usage shows token counts and context window consumption.
func (u *ui) usage(usage llm.Usage, window int, percent float64) {
	u.panel("Token Usage", formatUsage(usage, window, percent), colorMuted)
}

func formatUsage(usage llm.Usage, window int, percent float64) string {
	return fmt.Sprintf("Input: %d, Output: %d, Total: %d\nPercentage of context window used: %.2f%% of %d",
		usage.InputTokens, usage.OutputTokens, usage.Total(), percent, window)
}
