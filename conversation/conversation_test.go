package conversation

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/autocoder/llm"
)

func TestAppendPreservesOrder(t *testing.T) {
	c := New()
	c.Append(NewUserTurn("one"))
	c.AppendExchange("two", "three", llm.Usage{InputTokens: 5, OutputTokens: 7})

	turns := c.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, RoleUser, turns[1].Role)
	assert.Equal(t, "two", turns[1].Content)
	assert.Equal(t, RoleAssistant, turns[2].Role)
	assert.Equal(t, "three", turns[2].Content)
	assert.Equal(t, llm.Usage{InputTokens: 5, OutputTokens: 7}, c.Usage())
}

func TestTurnsReturnsCopy(t *testing.T) {
	c := New()
	c.Append(NewUserTurn("original"))

	turns := c.Turns()
	turns[0].Content = "mutated"

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "original", last.Content)
}

func TestLastOnEmpty(t *testing.T) {
	_, ok := New().Last()
	assert.False(t, ok)
}

func TestAcknowledgeDangling(t *testing.T) {
	c := New()
	assert.False(t, c.AcknowledgeDangling("ack"), "empty log has nothing to answer")

	c.Append(NewUserTurn("hello"))
	assert.True(t, c.AcknowledgeDangling("ack"))
	assert.Equal(t, 2, c.Len())

	assert.False(t, c.AcknowledgeDangling("ack"), "log already ends on assistant")
	assert.Equal(t, 2, c.Len())
}

func TestMessages(t *testing.T) {
	c := New()
	c.AppendExchange("q", "a", llm.Usage{})

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.UserMessage("q"), msgs[0])
	assert.Equal(t, llm.AssistantMessage("a"), msgs[1])
}

func TestResetClearsTurnsAndUsage(t *testing.T) {
	c := New()
	c.AppendExchange("q", "a", llm.Usage{InputTokens: 10, OutputTokens: 20})
	c.AddUsage(llm.Usage{InputTokens: 1})

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, llm.Usage{}, c.Usage())
}

func TestResetIsAtomic(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.AppendExchange("q", "a", llm.Usage{InputTokens: 1, OutputTokens: 1})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Reset()
		}
	}()
	wg.Wait()

	// Every exchange adds two turns and one token of each kind, so the two
	// must stay in lockstep whatever interleaving happened.
	assert.Equal(t, c.Len(), 2*c.Usage().InputTokens)
	assert.Equal(t, c.Usage().InputTokens, c.Usage().OutputTokens)
}

func TestWriteMarkdown(t *testing.T) {
	c := New()
	c.AppendExchange("Hi there", "Hello!", llm.Usage{})

	var b strings.Builder
	require.NoError(t, c.WriteMarkdown(&b))
	want := "# Groq-powered AI Chat Log\n\n## User\n\nHi there\n\n## AI\n\nHello!\n\n"
	assert.Equal(t, want, b.String())
}

func TestSaveMarkdown(t *testing.T) {
	dir := t.TempDir()
	c := New()
	c.AppendExchange("q", "a", llm.Usage{})

	now := time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC)
	path, err := c.SaveMarkdown(dir, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Chat_0905.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## AI\n\na\n\n")
}
