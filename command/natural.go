package command

import (
	"regexp"
	"strings"
)

var (
	createPattern = regexp.MustCompile(`(?is)create\s+a?\s*file\s+(?:called|named)?\s*['"]?([^'"\r\n]+?)['"]?\s*(?:with\s+(?:the\s+)?contents?:?\s*['"]?(.*?)['"]?)?\s*$`)
	readPattern   = regexp.MustCompile(`(?i)read\s+(?:the\s+)?(?:contents?\s+of\s+)?(?:the\s+)?file\s+(?:['"]([^'"]+)['"]|(\S+))`)
	listPattern   = regexp.MustCompile(`(?i)list\s+(?:the\s+)?files?\s*(?:in\s+(?:the\s+)?(?:current\s+)?directory)?`)
)

// Natural recognises conversational requests such as
// "create a file named notes.txt with content: hello",
// "read the file notes.txt" and "list files in the current directory".
// Create wins over read, which wins over list. Matching is best effort and
// can fire on prose that merely mentions these phrases.
type Natural struct{}

func (Natural) Detect(text string) (Operation, bool) {
	if m := createPattern.FindStringSubmatch(text); m != nil {
		path := strings.TrimSpace(m[1])
		if path != "" {
			return Operation{Kind: KindCreate, Path: path, Content: m[2]}, true
		}
	}
	if m := readPattern.FindStringSubmatch(text); m != nil {
		path := m[1]
		if path == "" {
			path = strings.TrimRight(m[2], ".,;:!?")
		}
		if path != "" {
			return Operation{Kind: KindRead, Path: path}, true
		}
	}
	if listPattern.MatchString(text) {
		return Operation{Kind: KindList, Path: "."}, true
	}
	return Operation{}, false
}
