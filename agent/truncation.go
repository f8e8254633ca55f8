package agent

import (
	"fmt"
	"strings"
)

// Output limits applied before operation results are shown to the model.
const (
	DefaultOutputCharLimit = 30000
	DefaultOutputLineLimit = 256
	DefaultReadCharLimit   = 50000
)

// TruncateOutput keeps the head and tail of output within maxChars, noting
// how much was removed from the middle.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines of output within maxLines.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// truncate applies the character limit first, then the line limit.
func truncate(output string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(output, maxChars), maxLines)
}
