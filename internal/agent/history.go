// internal/agent/history.go
package agent

import (
	"github.com/xkilldash9x/aibrowser-cli/api/schemas"
)

const (
	// maxContextEntries caps the rolling context log.
	maxContextEntries = 20
	// promptContextEntries is how many of the newest log entries go into each prompt.
	promptContextEntries = 6
)

// conversation holds prior user/assistant turns. The system prompt is never
// stored here; it is rebuilt and prepended on every model call.
type conversation struct {
	messages []schemas.Message
	max      int
}

func newConversation(limit int) *conversation {
	return &conversation{max: limit}
}

// appendExchange adds an observation and its reply together, so a cancelled
// step never leaves half a turn behind, then bounds the history.
func (c *conversation) appendExchange(user, assistant schemas.Message) {
	c.messages = append(c.messages, user, assistant)
	c.bound()
}

// appendUser adds a lone user turn, used for continuation replies.
func (c *conversation) appendUser(msg schemas.Message) {
	c.messages = append(c.messages, msg)
	c.bound()
}

// bound keeps the earliest max/2 messages, which carry the original task
// framing, and the most recent max-max/2 messages.
func (c *conversation) bound() {
	if c.max <= 0 || len(c.messages) <= c.max {
		return
	}
	head := c.max / 2
	tail := c.max - head
	trimmed := make([]schemas.Message, 0, c.max)
	trimmed = append(trimmed, c.messages[:head]...)
	trimmed = append(trimmed, c.messages[len(c.messages)-tail:]...)
	c.messages = trimmed
}

// last returns the newest message, if any.
func (c *conversation) last() (schemas.Message, bool) {
	if len(c.messages) == 0 {
		return schemas.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// dropLast removes the newest message.
func (c *conversation) dropLast() {
	if len(c.messages) > 0 {
		c.messages = c.messages[:len(c.messages)-1]
	}
}

func (c *conversation) reset() { c.messages = nil }

func (c *conversation) size() int { return len(c.messages) }

// withSystem returns system + history + the current observation as a fresh slice.
func (c *conversation) withSystem(system string, current schemas.Message) []schemas.Message {
	out := make([]schemas.Message, 0, len(c.messages)+2)
	out = append(out, schemas.SystemMessage(system))
	out = append(out, c.messages...)
	return append(out, current)
}

// contextLog is a rolling record of action outcomes and notices.
type contextLog struct {
	entries []string
}

func (l *contextLog) add(entry string) {
	l.entries = append(l.entries, entry)
	if over := len(l.entries) - maxContextEntries; over > 0 {
		l.entries = append([]string(nil), l.entries[over:]...)
	}
}

// tail returns up to n of the newest entries.
func (l *contextLog) tail(n int) []string {
	if n >= len(l.entries) {
		return append([]string(nil), l.entries...)
	}
	return append([]string(nil), l.entries[len(l.entries)-n:]...)
}

func (l *contextLog) snapshot() []string { return append([]string(nil), l.entries...) }

func (l *contextLog) reset() { l.entries = nil }
