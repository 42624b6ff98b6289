package history

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source distinguishes messages that arrived over live IRC from messages that
// were injected locally by a trusted source (e.g. the speech recognizer
// speaking as the broadcaster)
type Source int

const (
	SourceLive Source = iota
	SourceInjectedTrusted
)

// Message is a single chat line as the co-pilot remembers it. Messages are
// immutable once appended to the buffer.
type Message struct {
	Timestamp time.Time
	Username  string
	UserID    string
	MessageID string
	Text      string
	Source    Source
}

// Buffer is a bounded FIFO of the most recent chat messages, with a marker
// recording how far the LLM loop has already read. All entries at index <
// marker have been offered for consideration; appending past capacity evicts
// the oldest entry and shifts the marker down accordingly.
type Buffer struct {
	entries  []Message
	capacity int
	marker   int
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		entries:  make([]Message, 0, capacity),
		capacity: capacity,
	}
}

// Append pushes a message at the tail of the buffer, evicting the oldest
// entry if the buffer is at capacity
func (b *Buffer) Append(m Message) {
	if len(b.entries) >= b.capacity {
		evicted := len(b.entries) - b.capacity + 1
		b.entries = append(b.entries[:0], b.entries[evicted:]...)
		b.marker -= evicted
		if b.marker < 0 {
			b.marker = 0
		}
	}
	b.entries = append(b.entries, m)
}

// Len returns the number of messages currently held
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Marker returns the index up to which entries have already been considered
func (b *Buffer) Marker() int {
	return b.marker
}

// HasUnread reports whether any appended messages have not yet been marked
// consumed
func (b *Buffer) HasUnread() bool {
	return b.marker < len(b.entries)
}

// MarkConsumed records that every entry currently in the buffer has been
// offered for consideration
func (b *Buffer) MarkConsumed() {
	b.marker = len(b.entries)
}

// Entries returns a copy of the buffered messages, oldest first
func (b *Buffer) Entries() []Message {
	entries := make([]Message, len(b.entries))
	copy(entries, b.entries)
	return entries
}

// Unread returns a copy of the messages past the marker, oldest first
func (b *Buffer) Unread() []Message {
	unread := make([]Message, len(b.entries)-b.marker)
	copy(unread, b.entries[b.marker:])
	return unread
}

// NewMessagesBoundary is the literal line inserted into the rendered
// transcript between already-considered messages and fresh ones
const NewMessagesBoundary = "-> new messages"

// FormatTranscript renders the buffer as one line per message, in the form
// "[HH:MM:SS] username: text", with a boundary line separating entries the
// LLM loop has already seen from new ones. When nothing has been consumed
// yet the boundary leads the transcript, so every line reads as new.
func (b *Buffer) FormatTranscript() string {
	var sb strings.Builder
	for i, m := range b.entries {
		if i == b.marker {
			sb.WriteString(NewMessagesBoundary)
			sb.WriteByte('\n')
		}
		sb.WriteString(FormatLine(m))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FormatLine renders a single message the way it appears in the transcript
func FormatLine(m Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04:05"), m.Username, m.Text)
}

var linePrefixPattern = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]\s*\S{1,40}?:\s*`)

// StripLinePrefix removes a leading "[HH:MM:SS] username:" prefix from text,
// if present: the LLM sometimes mimics the transcript format in its replies
func StripLinePrefix(text string) string {
	trimmed := strings.TrimSpace(text)
	return strings.TrimSpace(linePrefixPattern.ReplaceAllString(trimmed, ""))
}
