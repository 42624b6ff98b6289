// Package dispatch runs the co-pilot's single event loop. All mutable core
// state (chat history, throttle, music queue, LLM marker) is owned by the
// loop goroutine; transports hand events in through Submit and never touch
// state directly.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/eventsub"
	"github.com/birchlight/copilot/internal/history"
	"github.com/birchlight/copilot/internal/telemetry"
)

// Event is one unit of work for the dispatcher
type Event interface {
	eventType() string
}

type ChatArrived struct {
	Message history.Message
}

type RedemptionArrived struct {
	Redemption eventsub.Redemption
}

type SpeechFinal struct {
	Phrase     string
	Language   string
	Confidence float64
}

type TrackCompleted struct {
	Url string
}

type TrackStarted struct {
	Name string
}

type Tick struct{}

type CapabilityStatusChanged struct {
	Name string
	Up   bool
}

// sendChat loops a message from the LLM loop back through the dispatcher so
// the loop never holds the chat capability itself
type sendChat struct {
	Text string
}

func (ChatArrived) eventType() string             { return "chat" }
func (RedemptionArrived) eventType() string       { return "redemption" }
func (SpeechFinal) eventType() string             { return "speech" }
func (TrackCompleted) eventType() string          { return "track_completed" }
func (TrackStarted) eventType() string            { return "track_started" }
func (Tick) eventType() string                    { return "tick" }
func (CapabilityStatusChanged) eventType() string { return "capability_status" }
func (sendChat) eventType() string                { return "send_chat" }

// RuleMatcher checks a chat message against the loaded rule set
type RuleMatcher interface {
	Match(m history.Message) *action.Descriptor
}

// ActionRunner executes one action descriptor
type ActionRunner interface {
	Execute(ctx context.Context, d *action.Descriptor, origin action.Origin) bool
}

// ChatConsiderer offers the unread history tail to the LLM loop
type ChatConsiderer interface {
	Consider(ctx context.Context)
}

// RedemptionRouter settles one incoming redemption
type RedemptionRouter interface {
	Route(ctx context.Context, r eventsub.Redemption)
}

// TrackHandler is the slice of the music queue driven by player events
type TrackHandler interface {
	HandleTrackCompleted(ctx context.Context) error
	HandleTrackStarted(name string)
	QueueLength() int
}

// ChatSender posts plain messages to chat
type ChatSender interface {
	Say(ctx context.Context, text string) error
}

// SoundPlayer plays a named sound through the overlay
type SoundPlayer interface {
	PlaySound(ctx context.Context, name string) error
}

// PhraseExtractor pulls the commanded remainder out of a spoken phrase
type PhraseExtractor interface {
	Extract(phrase string) (string, bool)
}

const DefaultCapacity = 1024

// Config carries the dispatcher's own knobs; capability handles are passed
// to New separately
type Config struct {
	// Capacity bounds the event queue; past it, pending Ticks are dropped
	// and then submitters block
	Capacity int

	BroadcasterName string
	BroadcasterID   string

	// ChatSound, when set, is played on each live chat message that no
	// moderation rule fired on
	ChatSound string
}

type Dispatcher struct {
	cfg      Config
	buffer   *history.Buffer
	rules    RuleMatcher
	executor ActionRunner
	brain    ChatConsiderer
	router   RedemptionRouter
	music    TrackHandler
	sender   ChatSender
	sounds   SoundPlayer
	trigger  PhraseExtractor
	metrics  *telemetry.Metrics
	log      *slog.Logger

	mu    sync.Mutex
	queue []Event

	// wake nudges the loop when the queue goes nonempty; drained nudges
	// one blocked submitter after each handled event
	wake    chan struct{}
	drained chan struct{}
}

func New(cfg Config, buffer *history.Buffer, rules RuleMatcher, executor ActionRunner, brain ChatConsiderer, router RedemptionRouter, music TrackHandler, sender ChatSender, sounds SoundPlayer, trigger PhraseExtractor, metrics *telemetry.Metrics, log *slog.Logger) *Dispatcher {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Dispatcher{
		cfg:      cfg,
		buffer:   buffer,
		rules:    rules,
		executor: executor,
		brain:    brain,
		router:   router,
		music:    music,
		sender:   sender,
		sounds:   sounds,
		trigger:  trigger,
		metrics:  metrics,
		log:      log,
		wake:     make(chan struct{}, 1),
		drained:  make(chan struct{}, 1),
	}
}

// SendChatFunc returns the callback the LLM loop uses to post to chat. The
// message is queued as an ordinary event rather than sent inline.
func (d *Dispatcher) SendChatFunc() func(ctx context.Context, text string) error {
	return func(ctx context.Context, text string) error {
		d.enqueue(sendChat{Text: text})
		return nil
	}
}

// Submit queues an event for the loop. When the queue is full it first drops
// the oldest pending Tick; if only real events remain it blocks, applying
// backpressure to the submitting transport, until the loop drains an event
// or ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	for {
		d.mu.Lock()
		if len(d.queue) < d.cfg.Capacity {
			d.queue = append(d.queue, ev)
			d.mu.Unlock()
			d.nudge(d.wake)
			return nil
		}
		if i := d.oldestTick(); i >= 0 {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			d.queue = append(d.queue, ev)
			d.mu.Unlock()
			d.metrics.EventsDropped.Inc()
			d.nudge(d.wake)
			return nil
		}
		d.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.drained:
		}
	}
}

// enqueue adds an internally generated event without regard for capacity:
// the loop itself must never block on its own queue
func (d *Dispatcher) enqueue(ev Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	d.nudge(d.wake)
}

func (d *Dispatcher) oldestTick() int {
	for i, ev := range d.queue {
		if _, ok := ev.(Tick); ok {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done. It is the only goroutine that may
// touch core state.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		ev, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.wake:
			}
			continue
		}
		d.handle(ctx, ev)
		d.nudge(d.drained)
	}
}

func (d *Dispatcher) pop() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics.DispatchBacklog.Set(float64(len(d.queue)))
	if len(d.queue) == 0 {
		return nil, false
	}
	ev := d.queue[0]
	d.queue = d.queue[1:]
	return ev, true
}

// RunTicker emits a Tick at the given interval until ctx is done
func (d *Dispatcher) RunTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Submit(ctx, Tick{}); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	d.metrics.EventsHandled.WithLabelValues(ev.eventType()).Inc()
	switch ev := ev.(type) {
	case ChatArrived:
		d.handleChat(ctx, ev.Message)
	case RedemptionArrived:
		d.router.Route(ctx, ev.Redemption)
	case SpeechFinal:
		d.handleSpeech(ctx, ev)
	case TrackCompleted:
		if err := d.music.HandleTrackCompleted(ctx); err != nil {
			d.log.Error("failed to advance music queue", "err", err)
		}
		d.metrics.MusicQueueDepth.Set(float64(d.music.QueueLength()))
	case TrackStarted:
		d.music.HandleTrackStarted(ev.Name)
	case Tick:
		d.brain.Consider(ctx)
	case CapabilityStatusChanged:
		up := 0.0
		if ev.Up {
			up = 1.0
		}
		d.metrics.CapabilityUp.WithLabelValues(ev.Name).Set(up)
		d.log.Info("capability status changed", "name", ev.Name, "up", ev.Up)
	case sendChat:
		if err := d.sender.Say(ctx, ev.Text); err != nil {
			d.log.Error("failed to send queued chat message", "err", err)
		}
	}
}

// handleChat appends the message, then fires at most one of: a moderation
// rule action (which suppresses everything else), or the notification sound
// plus LLM consideration
func (d *Dispatcher) handleChat(ctx context.Context, m history.Message) {
	d.buffer.Append(m)
	d.metrics.ChatMessagesSeen.Inc()
	if descriptor := d.rules.Match(m); descriptor != nil {
		ok := d.executor.Execute(ctx, descriptor, action.Origin{
			Username:  m.Username,
			UserID:    m.UserID,
			MessageID: m.MessageID,
		})
		d.metrics.ActionsExecuted.WithLabelValues(string(descriptor.Kind), outcome(ok)).Inc()
		if descriptor.IsModeration() {
			return
		}
	}
	if d.cfg.ChatSound != "" && m.Source == history.SourceLive {
		if err := d.sounds.PlaySound(ctx, d.cfg.ChatSound); err != nil {
			d.log.Debug("chat notification sound failed", "err", err)
		}
	}
	d.brain.Consider(ctx)
}

// handleSpeech injects a recognized spoken command into chat history as a
// trusted message from the broadcaster
func (d *Dispatcher) handleSpeech(ctx context.Context, ev SpeechFinal) {
	remainder, ok := d.trigger.Extract(ev.Phrase)
	if !ok {
		d.log.Debug("ignoring untriggered phrase", "confidence", ev.Confidence)
		return
	}
	d.handleChat(ctx, history.Message{
		Timestamp: time.Now(),
		Username:  d.cfg.BroadcasterName,
		UserID:    d.cfg.BroadcasterID,
		Text:      remainder,
		Source:    history.SourceInjectedTrusted,
	})
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
