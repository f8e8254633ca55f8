package conversation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogTitle heads every exported chat log.
const LogTitle = "# Groq-powered AI Chat Log"

// WriteMarkdown renders the log as markdown with one section per turn.
func (c *Conversation) WriteMarkdown(w io.Writer) error {
	var b strings.Builder
	b.WriteString(LogTitle + "\n\n")
	for _, t := range c.Turns() {
		switch t.Role {
		case RoleUser:
			fmt.Fprintf(&b, "## User\n\n%s\n\n", t.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "## AI\n\n%s\n\n", t.Content)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ChatFilename returns the export file name for a given time: Chat_HHMM.md.
func ChatFilename(now time.Time) string {
	return "Chat_" + now.Format("1504") + ".md"
}

// SaveMarkdown writes the log to dir/Chat_HHMM.md and returns the path. An
// existing file with the same name is overwritten.
func (c *Conversation) SaveMarkdown(dir string, now time.Time) (string, error) {
	path := filepath.Join(dir, ChatFilename(now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("saving chat: %w", err)
	}
	if err := c.WriteMarkdown(f); err != nil {
		f.Close()
		return "", fmt.Errorf("saving chat: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("saving chat: %w", err)
	}
	return path, nil
}
