package brain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/birchlight/copilot/internal/history"
)

// MemoryUsername marks synthetic history entries holding the loop's own
// memory notes
const MemoryUsername = "[LLM_MEMORY]"

// Base classification vocabulary; extension actions registered by the
// operator are added on top
const (
	ActionNothing     = "nothing"
	ActionRemember    = "remember"
	ActionRespond     = "respond"
	ActionSilenceUser = "silence_user"
)

// ExtensionFunc is an operator-registered action invoked when stage one
// classifies the chat tail under the extension's name
type ExtensionFunc func(ctx context.Context, username string, reason string) error

// Config carries the operator-tunable parts of the loop's prompting
type Config struct {
	Persona         string
	BroadcasterName string
	RuleSummary     string

	ClassifyMaxTokens    int
	ClassifyTemperature  float32
	FollowUpMaxTokens    int
	FollowUpTemperature  float32
}

// Loop reads the history buffer's unread tail and decides what, if anything,
// to do about it. All methods must be called from the dispatcher goroutine:
// the loop shares the buffer with the rest of the core.
type Loop struct {
	llm    Llm
	buffer *history.Buffer
	cfg    Config
	log    *slog.Logger

	// sendChat posts a message to chat by handing it back to the
	// dispatcher, keeping the chat capability out of the loop itself
	sendChat func(ctx context.Context, text string) error

	extensions map[string]ExtensionFunc
	order      []string
}

func NewLoop(llm Llm, buffer *history.Buffer, cfg Config, sendChat func(ctx context.Context, text string) error, log *slog.Logger) *Loop {
	if cfg.ClassifyMaxTokens == 0 {
		cfg.ClassifyMaxTokens = 128
	}
	if cfg.ClassifyTemperature == 0 {
		cfg.ClassifyTemperature = 0.5
	}
	if cfg.FollowUpMaxTokens == 0 {
		cfg.FollowUpMaxTokens = 256
	}
	if cfg.FollowUpTemperature == 0 {
		cfg.FollowUpTemperature = 0.7
	}
	return &Loop{
		llm:        llm,
		buffer:     buffer,
		cfg:        cfg,
		log:        log,
		sendChat:   sendChat,
		extensions: make(map[string]ExtensionFunc),
	}
}

// RegisterAction adds an extension action to the classification vocabulary
func (l *Loop) RegisterAction(name string, fn ExtensionFunc) {
	name = strings.ToLower(name)
	if _, exists := l.extensions[name]; !exists {
		l.order = append(l.order, name)
	}
	l.extensions[name] = fn
}

// Consider runs one pass over the unread tail of the history buffer. The
// marker always advances, even when an LLM call fails: forward progress is
// preferred over re-considering the same messages.
func (l *Loop) Consider(ctx context.Context) {
	if !l.buffer.HasUnread() {
		return
	}
	unread := l.buffer.Unread()
	triggeringUser := unread[len(unread)-1].Username
	transcript := l.buffer.FormatTranscript()
	l.buffer.MarkConsumed()

	classification, reason, err := l.classify(ctx, transcript)
	if err != nil {
		l.log.Error("classification failed", "err", err)
		return
	}
	l.act(ctx, classification, reason, triggeringUser, transcript)
}

// classify is stage one: ask the LLM to pick an action from the vocabulary
func (l *Loop) classify(ctx context.Context, transcript string) (string, string, error) {
	raw, err := l.llm.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: l.classifySystemPrompt()},
		{Role: openai.ChatMessageRoleUser, Content: transcript},
	}, l.cfg.ClassifyMaxTokens, l.cfg.ClassifyTemperature)
	if err != nil {
		return "", "", err
	}
	name, reason := parseClassification(raw)
	if !l.isKnownAction(name) {
		l.log.Info("unknown classification treated as nothing", "action", name)
		return ActionNothing, "", nil
	}
	return name, reason, nil
}

// act is stage two
func (l *Loop) act(ctx context.Context, classification string, reason string, triggeringUser string, transcript string) {
	switch classification {
	case ActionNothing:
		return
	case ActionRemember:
		l.remember(ctx, transcript)
	case ActionRespond:
		l.respond(ctx, transcript)
	case ActionSilenceUser:
		l.requestSilence(ctx, transcript, reason)
	default:
		fn := l.extensions[classification]
		if err := fn(ctx, triggeringUser, reason); err != nil {
			l.log.Error("extension action failed", "action", classification, "err", err)
		}
	}
}

func (l *Loop) remember(ctx context.Context, transcript string) {
	note, err := l.followUp(ctx, transcript,
		"Write one short note (a single sentence) recording the fact from this conversation that is most worth remembering. Output only the note.")
	if err != nil {
		l.log.Error("memory note failed", "err", err)
		return
	}
	l.buffer.Append(history.Message{
		Timestamp: time.Now(),
		Username:  MemoryUsername,
		Text:      note,
		Source:    history.SourceInjectedTrusted,
	})
	// The note itself needs no further consideration
	l.buffer.MarkConsumed()
}

func (l *Loop) respond(ctx context.Context, transcript string) {
	response, err := l.followUp(ctx, transcript,
		"Write the single chat message you want to send in response to the new messages. Output only the message text.")
	if err != nil {
		l.log.Error("response generation failed", "err", err)
		return
	}
	if err := l.sendChat(ctx, response); err != nil {
		l.log.Error("failed to send response to chat", "err", err)
	}
}

func (l *Loop) requestSilence(ctx context.Context, transcript string, reason string) {
	username, err := l.followUp(ctx, transcript,
		"Name the single chat user who should be silenced for breaking the rules. Output only their username.")
	if err != nil {
		l.log.Error("silence target extraction failed", "err", err)
		return
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	text := fmt.Sprintf("Moderators, please review @%s", username)
	if reason != "" {
		text += ": " + reason
	}
	if err := l.sendChat(ctx, text); err != nil {
		l.log.Error("failed to send moderation request", "err", err)
	}
}

// followUp is the shared stage-two call: same transcript, different
// instruction
func (l *Loop) followUp(ctx context.Context, transcript string, instruction string) (string, error) {
	raw, err := l.llm.Complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: l.personaPreamble() + "\n\n" + instruction},
		{Role: openai.ChatMessageRoleUser, Content: transcript},
	}, l.cfg.FollowUpMaxTokens, l.cfg.FollowUpTemperature)
	if err != nil {
		return "", err
	}
	return history.StripLinePrefix(raw), nil
}

func (l *Loop) personaPreamble() string {
	return fmt.Sprintf(
		"%s\nYou are watching the Twitch chat of %s. Messages from %s are from the streamer and take priority.\nChannel rules: %s",
		l.cfg.Persona, l.cfg.BroadcasterName, l.cfg.BroadcasterName, l.cfg.RuleSummary)
}

func (l *Loop) classifySystemPrompt() string {
	vocabulary := append([]string{ActionNothing, ActionRemember, ActionRespond, ActionSilenceUser}, l.order...)
	return fmt.Sprintf(
		"%s\n\nRead the chat transcript. Messages after the line %q are new. Decide what to do about the new messages.\nAnswer on the first line, in exactly this form:\naction: <one of: %s>, reason: <short reason>",
		l.personaPreamble(), history.NewMessagesBoundary, strings.Join(vocabulary, ", "))
}

func (l *Loop) isKnownAction(name string) bool {
	switch name {
	case ActionNothing, ActionRemember, ActionRespond, ActionSilenceUser:
		return true
	}
	_, ok := l.extensions[name]
	return ok
}

var classificationPattern = regexp.MustCompile(`(?im)^\s*action:\s*([a-zA-Z_]+)\s*(?:[,;]\s*reason:\s*(.+))?$`)

// parseClassification extracts the action word (lowercased) and optional
// reason from the model's reply; anything unparseable maps to "nothing"
func parseClassification(raw string) (string, string) {
	m := classificationPattern.FindStringSubmatch(raw)
	if m == nil {
		return ActionNothing, ""
	}
	return strings.ToLower(m[1]), strings.TrimSpace(m[2])
}
