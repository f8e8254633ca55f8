// Package conversation holds the state shared by every chat step: the
// append-only log of turns and the session's token counters.
package conversation

import (
	"sync"
	"time"

	"github.com/martinemde/autocoder/llm"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the conversation log. Turns are never mutated
// after they are appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserTurn creates a Turn holding user input.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantTurn creates a Turn holding an assistant reply.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// Conversation is the ordered turn log plus token counters. All methods are
// safe for concurrent use; turns and counters change together under one lock
// so a Reset is never observed half-done.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
	usage llm.Usage
}

// New returns an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// Append adds turns in order.
func (c *Conversation) Append(turns ...Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// AppendExchange records a user turn and its reply, and adds usage to the
// counters, as one step.
func (c *Conversation) AppendExchange(user, assistant string, usage llm.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, NewUserTurn(user), NewAssistantTurn(assistant))
	c.usage = c.usage.Add(usage)
}

// Turns returns a copy of the log.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Last returns the most recent turn.
func (c *Conversation) Last() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// AcknowledgeDangling appends reply as an assistant turn if, and only if,
// the log ends on an unanswered user turn. It reports whether a turn was
// appended.
func (c *Conversation) AcknowledgeDangling(reply string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 || c.turns[len(c.turns)-1].Role != RoleUser {
		return false
	}
	c.turns = append(c.turns, NewAssistantTurn(reply))
	return true
}

// Messages converts the log into completion messages.
func (c *Conversation) Messages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := make([]llm.Message, 0, len(c.turns))
	for _, t := range c.turns {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, llm.UserMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, llm.AssistantMessage(t.Content))
		}
	}
	return msgs
}

// AddUsage increments the token counters.
func (c *Conversation) AddUsage(u llm.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = c.usage.Add(u)
}

// Usage returns the token counters.
func (c *Conversation) Usage() llm.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// Reset clears all turns and zeroes the counters.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	c.usage = llm.Usage{}
}
