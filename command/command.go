// Package command turns free text into file and process operations.
//
// Detection sits behind the Detector interface so the chat step does not
// depend on any particular syntax. Structured recognises an explicit slash
// syntax and fenced run blocks; Natural recognises the conversational
// phrasings the assistant is prompted to use. Workspace carries out the file
// operations.
package command

import (
	"fmt"
	"strings"
)

// Kind names an operation.
type Kind string

const (
	KindCreate Kind = "create"
	KindRead   Kind = "read"
	KindList   Kind = "list"
	KindMkdir  Kind = "mkdir"
	KindRun    Kind = "run"
	KindStop   Kind = "stop"
	KindStatus Kind = "status"
)

// IsFileOp reports whether the kind is handled by a Workspace.
func (k Kind) IsFileOp() bool {
	switch k {
	case KindCreate, KindRead, KindList, KindMkdir:
		return true
	}
	return false
}

// Operation is a structured request detected in text. Path applies to file
// operations, Content to create and run, JobID to stop and status.
type Operation struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

func (op Operation) String() string {
	switch op.Kind {
	case KindStop, KindStatus:
		return fmt.Sprintf("%s %s", op.Kind, op.JobID)
	case KindRun:
		return fmt.Sprintf("run (%d bytes)", len(op.Content))
	case KindList:
		if op.Path == "" {
			return "list ."
		}
	}
	return fmt.Sprintf("%s %s", op.Kind, op.Path)
}

// Detector finds at most one operation in text.
type Detector interface {
	Detect(text string) (Operation, bool)
}

// Chain tries detectors in order and returns the first match.
type Chain []Detector

func (c Chain) Detect(text string) (Operation, bool) {
	for _, d := range c {
		if op, ok := d.Detect(text); ok {
			return op, true
		}
	}
	return Operation{}, false
}

// Detection modes accepted by ForMode.
const (
	ModeStructured = "structured"
	ModeNatural    = "natural"
	ModeBoth       = "both"
)

// ForMode returns the detector for a configured mode name.
func ForMode(mode string) (Detector, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeStructured:
		return Structured{}, nil
	case ModeNatural:
		return Natural{}, nil
	case ModeBoth, "":
		return Chain{Structured{}, Natural{}}, nil
	default:
		return nil, fmt.Errorf("unknown detection mode %q (want structured, natural or both)", mode)
	}
}
