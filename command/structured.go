package command

import (
	"regexp"
	"strings"
)

// runFence matches a fenced block tagged "run".
var runFence = regexp.MustCompile("(?s)```run[ \\t]*\\r?\\n(.*?)```")

// Structured recognises a slash command at the start of the text:
//
//	/create <path>   followed by the file content on later lines
//	/read <path>
//	/list [dir]
//	/mkdir <path>
//	/run [code]      the code inline or on later lines
//	/stop <job_id>
//	/status <job_id>
//
// Content may be wrapped in a code fence. Anywhere in the text, a fenced
// block tagged run requests execution of its body.
type Structured struct{}

func (Structured) Detect(text string) (Operation, bool) {
	if op, ok := detectSlash(text); ok {
		return op, true
	}
	if m := runFence.FindStringSubmatch(text); m != nil {
		return Operation{Kind: KindRun, Content: m[1]}, true
	}
	return Operation{}, false
}

func detectSlash(text string) (Operation, bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, "/") {
		return Operation{}, false
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	name, arg, _ := strings.Cut(strings.TrimSpace(first[1:]), " ")
	arg = strings.TrimSpace(arg)
	body := unfence(rest)

	switch Kind(strings.ToLower(name)) {
	case KindCreate:
		if arg == "" {
			return Operation{}, false
		}
		return Operation{Kind: KindCreate, Path: arg, Content: body}, true
	case KindRead:
		if arg == "" {
			return Operation{}, false
		}
		return Operation{Kind: KindRead, Path: arg}, true
	case KindList:
		if arg == "" {
			arg = "."
		}
		return Operation{Kind: KindList, Path: arg}, true
	case KindMkdir:
		if arg == "" {
			return Operation{}, false
		}
		return Operation{Kind: KindMkdir, Path: arg}, true
	case KindRun:
		switch {
		case strings.HasPrefix(arg, "```"):
			body = unfence(arg + "\n" + rest)
		case strings.TrimSpace(body) == "":
			body = arg
		}
		if strings.TrimSpace(body) == "" {
			return Operation{}, false
		}
		return Operation{Kind: KindRun, Content: body}, true
	case KindStop, KindStatus:
		if arg == "" {
			return Operation{}, false
		}
		return Operation{Kind: Kind(strings.ToLower(name)), JobID: arg}, true
	}
	return Operation{}, false
}

// unfence strips one surrounding code fence, with any language tag, from s.
func unfence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	_, inner, ok := strings.Cut(t, "\n")
	if !ok {
		return s
	}
	if i := strings.LastIndex(inner, "```"); i >= 0 {
		inner = inner[:i]
	}
	return inner
}
