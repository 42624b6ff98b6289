package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchlight/copilot/internal/history"
)

type mockLlm struct {
	replies  []string
	prompts  []string
	failures int
}

func (m *mockLlm) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
		sb.WriteByte('\n')
	}
	m.prompts = append(m.prompts, sb.String())
	if m.failures > 0 {
		m.failures--
		return "", fmt.Errorf("mock llm failure")
	}
	if len(m.replies) == 0 {
		return "action: nothing", nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type testHarness struct {
	llm    *mockLlm
	buffer *history.Buffer
	loop   *Loop
	sent   []string
}

func newHarness(t *testing.T, replies ...string) *testHarness {
	t.Helper()
	h := &testHarness{
		llm:    &mockLlm{replies: replies},
		buffer: history.NewBuffer(16),
	}
	h.loop = NewLoop(h.llm, h.buffer, Config{
		Persona:         "You are a helpful co-pilot.",
		BroadcasterName: "streamer",
		RuleSummary:     "be nice",
	}, func(ctx context.Context, text string) error {
		h.sent = append(h.sent, text)
		return nil
	}, slog.Default())
	return h
}

func (h *testHarness) appendChat(username string, text string) {
	h.buffer.Append(history.Message{
		Timestamp: time.Now(),
		Username:  username,
		UserID:    "1",
		Text:      text,
	})
}

func TestConsiderNoopWhenNothingUnread(t *testing.T) {
	h := newHarness(t)
	h.loop.Consider(context.Background())
	assert.Empty(t, h.llm.prompts)

	h.appendChat("viewer", "hello")
	h.buffer.MarkConsumed()
	h.loop.Consider(context.Background())
	assert.Empty(t, h.llm.prompts)
}

func TestConsiderNothingAdvancesMarker(t *testing.T) {
	h := newHarness(t, "action: nothing")
	h.appendChat("viewer", "hello")
	h.loop.Consider(context.Background())
	assert.Len(t, h.llm.prompts, 1)
	assert.False(t, h.buffer.HasUnread())
	assert.Empty(t, h.sent)
}

func TestConsiderRespondSendsChat(t *testing.T) {
	h := newHarness(t,
		"action: respond, reason: viewer asked a question",
		"[20:00:01] copilot: hello viewer, welcome in!",
	)
	h.appendChat("viewer", "hi copilot, are you real?")
	h.loop.Consider(context.Background())

	require.Len(t, h.sent, 1)
	// The transcript-style prefix is stripped from the model's reply
	assert.Equal(t, "hello viewer, welcome in!", h.sent[0])
	assert.False(t, h.buffer.HasUnread())
}

func TestConsiderRememberAppendsMemoryNote(t *testing.T) {
	h := newHarness(t,
		"action: remember",
		"The viewer's cat is named Pixel.",
	)
	h.appendChat("viewer", "btw my cat Pixel says hi")
	h.loop.Consider(context.Background())

	entries := h.buffer.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, MemoryUsername, entries[1].Username)
	assert.Equal(t, "The viewer's cat is named Pixel.", entries[1].Text)
	// The note itself is already marked consumed
	assert.False(t, h.buffer.HasUnread())

	// The next consideration sees the note in the transcript
	h.llm.replies = []string{"action: nothing"}
	h.appendChat("viewer", "anyway")
	h.loop.Consider(context.Background())
	assert.Contains(t, h.llm.prompts[len(h.llm.prompts)-1], MemoryUsername)
}

func TestConsiderSilenceUserPostsModerationRequest(t *testing.T) {
	h := newHarness(t,
		"action: silence_user, reason: slurs in chat",
		"@troll9000",
	)
	h.appendChat("troll9000", "some awful message")
	h.loop.Consider(context.Background())

	require.Len(t, h.sent, 1)
	assert.Equal(t, "Moderators, please review @troll9000: slurs in chat", h.sent[0])
}

func TestConsiderUnknownActionTreatedAsNothing(t *testing.T) {
	h := newHarness(t, "action: explode")
	h.appendChat("viewer", "hello")
	h.loop.Consider(context.Background())
	assert.Empty(t, h.sent)
	assert.False(t, h.buffer.HasUnread())
}

func TestConsiderExtensionAction(t *testing.T) {
	h := newHarness(t, "action: celebrate, reason: new sub")
	var gotUser, gotReason string
	h.loop.RegisterAction("celebrate", func(ctx context.Context, username string, reason string) error {
		gotUser = username
		gotReason = reason
		return nil
	})
	h.appendChat("subscriber", "just subbed!")
	h.loop.Consider(context.Background())
	assert.Equal(t, "subscriber", gotUser)
	assert.Equal(t, "new sub", gotReason)

	// The vocabulary offered to the model includes the extension
	assert.Contains(t, h.llm.prompts[0], "celebrate")
}

func TestConsiderMarkerAdvancesOnLlmFailure(t *testing.T) {
	h := newHarness(t)
	h.llm.failures = 1
	h.appendChat("viewer", "hello")
	h.loop.Consider(context.Background())
	assert.False(t, h.buffer.HasUnread())

	// The failed batch is not reconsidered
	h.loop.Consider(context.Background())
	assert.Len(t, h.llm.prompts, 1)
}

func TestParseClassification(t *testing.T) {
	for _, tc := range []struct {
		raw    string
		action string
		reason string
	}{
		{"action: respond, reason: someone said hi", "respond", "someone said hi"},
		{"action: nothing", "nothing", ""},
		{"ACTION: Remember, reason: lore", "remember", "lore"},
		{"I think the best choice is:\naction: respond, reason: question", "respond", "question"},
		{"total gibberish", "nothing", ""},
		{"", "nothing", ""},
	} {
		action, reason := parseClassification(tc.raw)
		assert.Equal(t, tc.action, action, "raw: %q", tc.raw)
		assert.Equal(t, tc.reason, reason, "raw: %q", tc.raw)
	}
}
