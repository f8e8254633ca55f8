package automode

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// replySignature fingerprints a reply, ignoring surrounding whitespace.
func replySignature(text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("%x", h[:8])
}

// detectStall reports whether the last window signatures follow a repeating
// pattern of length 1, 2 or 3. A pattern must repeat at least twice.
func detectStall(sigs []string, window int) bool {
	if window < 2 || len(sigs) < window {
		return false
	}
	recent := sigs[len(sigs)-window:]
	for patternLen := 1; patternLen <= 3 && patternLen < window; patternLen++ {
		if window%patternLen != 0 {
			continue
		}
		match := true
		for i := patternLen; i < window && match; i++ {
			if recent[i] != recent[i%patternLen] {
				match = false
			}
		}
		if match {
			return true
		}
	}
	return false
}

func stallNote(window int) string {
	return fmt.Sprintf("Stall detected: your last %d replies repeat the same content. "+
		"Try a different approach, or say %s if the task is finished.", window, sentinel)
}
