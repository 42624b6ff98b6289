package action

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Origin identifies who (and which message, if any) triggered an action
type Origin struct {
	Username  string
	UserID    string
	MessageID string
}

// ChatSender posts messages to the channel's chat
type ChatSender interface {
	Say(ctx context.Context, text string) error
	SayAction(ctx context.Context, text string) error
}

// Moderator performs chat moderation against the platform
type Moderator interface {
	Ban(userID string, reason string) error
	Timeout(userID string, seconds int, reason string) error
	DeleteMessage(messageID string) error
}

// MusicQueue is the slice of the music queue the executor drives
type MusicQueue interface {
	Add(ctx context.Context, url string) (int, error)
	VoteSkip(ctx context.Context) (remaining int, skipped bool, err error)
	CurrentSongName() string
}

// Throttle gates the hate action and tracks the love protection window
type Throttle interface {
	TryHate(username string, isBroadcaster bool) bool
	Protected() bool
	RefreshProtection()
}

// SoundBoard plays audio through the connected overlay
type SoundBoard interface {
	PlaySound(ctx context.Context, name string) error
	Speak(ctx context.Context, audio []byte, format string) error
}

// Synthesizer renders text to audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, language string) ([]byte, string, error)
}

// GameBridge relays chat lines and commands to the game server
type GameBridge interface {
	SendLine(ctx context.Context, user string, message string) error
	SendCommand(ctx context.Context, commandLine string) error
}

// AskFunc is a single-shot LLM completion used by the neuro_ask action
type AskFunc func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)

// DefaultMusicUrlPattern accepts the track and album URLs the overlay player
// knows how to load
var DefaultMusicUrlPattern = regexp.MustCompile(`(?i)^https://music\.yandex\.[a-z]{2,3}/album/\d+(?:/track/\d+)?/?$`)

// Config carries the operator-tunable pieces of the executor's behavior
type Config struct {
	BroadcasterName string

	// Game-bridge command lines for the hate/love machine
	HealCommand      string
	LightningCommand string
	LightningDelay   time.Duration

	// Chat and sound dressing; chat lines may contain the {user} placeholder
	PunishSound    string
	PunishChatLine string
	LoveSound      string
	LoveChatLine   string

	// Sound effect names the sound_effect action may play; anything else
	// plays FallbackSound instead
	AllowedSounds []string
	FallbackSound string

	// Pattern a queue_music URL must match, wherever the action came from
	MusicUrlPattern *regexp.Regexp

	NeuroAskMaxTokens   int
	NeuroAskTemperature float32
}

// Executor carries out action descriptors against the capability handles it
// holds. It never mutates dispatcher state except through the queue and
// throttle handles it was given.
type Executor struct {
	cfg       Config
	chat      ChatSender
	moderator Moderator
	music     MusicQueue
	throttle  Throttle
	sounds    SoundBoard
	synth     Synthesizer
	bridge    GameBridge
	ask       AskFunc
	log       *slog.Logger

	allowedSounds map[string]bool
	after         func(d time.Duration, fn func())
}

func NewExecutor(cfg Config, chat ChatSender, moderator Moderator, music MusicQueue, throttle Throttle, sounds SoundBoard, synth Synthesizer, bridge GameBridge, ask AskFunc, log *slog.Logger) *Executor {
	if cfg.HealCommand == "" {
		cfg.HealCommand = "/effect heal"
	}
	if cfg.LightningCommand == "" {
		cfg.LightningCommand = "/effect lightning"
	}
	if cfg.LightningDelay == 0 {
		cfg.LightningDelay = time.Second
	}
	if cfg.PunishSound == "" {
		cfg.PunishSound = "reflect"
	}
	if cfg.PunishChatLine == "" {
		cfg.PunishChatLine = "the love shield turns {user}'s hate right back at them"
	}
	if cfg.LoveSound == "" {
		cfg.LoveSound = "fanfare"
	}
	if cfg.LoveChatLine == "" {
		cfg.LoveChatLine = "{user} shields the streamer with love"
	}
	if cfg.FallbackSound == "" {
		cfg.FallbackSound = "bonk"
	}
	if cfg.NeuroAskMaxTokens == 0 {
		cfg.NeuroAskMaxTokens = 256
	}
	if cfg.NeuroAskTemperature == 0 {
		cfg.NeuroAskTemperature = 0.7
	}
	if cfg.MusicUrlPattern == nil {
		cfg.MusicUrlPattern = DefaultMusicUrlPattern
	}
	allowed := make(map[string]bool, len(cfg.AllowedSounds))
	for _, name := range cfg.AllowedSounds {
		allowed[name] = true
	}
	return &Executor{
		cfg:           cfg,
		chat:          chat,
		moderator:     moderator,
		music:         music,
		throttle:      throttle,
		sounds:        sounds,
		synth:         synth,
		bridge:        bridge,
		ask:           ask,
		log:           log,
		allowedSounds: allowed,
		after:         func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Execute carries out a single descriptor and reports whether it succeeded.
// Must be called from the dispatcher goroutine.
func (e *Executor) Execute(ctx context.Context, d *Descriptor, origin Origin) bool {
	switch d.Kind {
	case KindBan:
		if err := e.moderator.Ban(origin.UserID, "banned by chat rule"); err != nil {
			e.log.Error("ban failed", "user", origin.Username, "err", err)
			return false
		}
		return true
	case KindTimeout:
		if d.Timeout == nil {
			e.log.Error("timeout action missing details", "user", origin.Username)
			return false
		}
		if err := e.moderator.Timeout(origin.UserID, d.Timeout.Seconds, "timed out by chat rule"); err != nil {
			e.log.Error("timeout failed", "user", origin.Username, "err", err)
			return false
		}
		return true
	case KindDeleteMessage:
		if origin.MessageID == "" {
			e.log.Warn("delete action with no message id", "user", origin.Username)
			return true
		}
		if err := e.moderator.DeleteMessage(origin.MessageID); err != nil {
			e.log.Error("delete message failed", "messageId", origin.MessageID, "err", err)
			return false
		}
		return true
	case KindHate:
		return e.hate(ctx, origin.Username)
	case KindLove:
		return e.love(ctx, origin.Username)
	case KindQueueMusic:
		return e.queueMusic(ctx, d)
	case KindVoteSkip:
		return e.voteSkip(ctx)
	case KindNowPlaying:
		return e.nowPlaying(ctx)
	case KindVoice:
		return e.voice(ctx, d, origin)
	case KindNeuroAsk:
		return e.neuroAsk(ctx, d)
	case KindSoundEffect:
		return e.soundEffect(ctx, d)
	case KindForward:
		return e.forward(ctx, d, origin)
	}
	e.log.Error("unrecognized action kind", "kind", d.Kind)
	return false
}

// hate runs the hate branch of the hate/love machine: heal the streamer's
// avatar, then either strike it with lightning or, while love protection
// holds, punish the hater instead. The protection window is refreshed
// whichever branch runs.
func (e *Executor) hate(ctx context.Context, username string) bool {
	isBroadcaster := strings.EqualFold(username, e.cfg.BroadcasterName)
	if !e.throttle.TryHate(username, isBroadcaster) {
		e.log.Info("hate throttled", "user", username)
		return true
	}
	defer e.throttle.RefreshProtection()
	if e.throttle.Protected() {
		if err := e.sounds.PlaySound(ctx, e.cfg.PunishSound); err != nil {
			e.log.Error("punish sound failed", "err", err)
		}
		if err := e.chat.SayAction(ctx, strings.ReplaceAll(e.cfg.PunishChatLine, PlaceholderUser, username)); err != nil {
			e.log.Error("punish chat line failed", "err", err)
		}
		if err := e.bridge.SendCommand(ctx, e.cfg.HealCommand); err != nil {
			e.log.Error("heal command failed", "err", err)
		}
		return true
	}
	if err := e.bridge.SendCommand(ctx, e.cfg.HealCommand); err != nil {
		e.log.Error("heal command failed", "err", err)
	}
	e.after(e.cfg.LightningDelay, func() {
		if err := e.bridge.SendCommand(context.Background(), e.cfg.LightningCommand); err != nil {
			e.log.Error("lightning command failed", "err", err)
		}
	})
	return true
}

func (e *Executor) love(ctx context.Context, username string) bool {
	e.throttle.RefreshProtection()
	if err := e.sounds.PlaySound(ctx, e.cfg.LoveSound); err != nil {
		e.log.Error("love sound failed", "err", err)
	}
	if err := e.chat.SayAction(ctx, strings.ReplaceAll(e.cfg.LoveChatLine, PlaceholderUser, username)); err != nil {
		e.log.Error("love chat line failed", "err", err)
	}
	return true
}

func (e *Executor) queueMusic(ctx context.Context, d *Descriptor) bool {
	if d.QueueMusic == nil || d.QueueMusic.Url == "" {
		e.log.Error("queue_music action missing url")
		return false
	}
	if !e.cfg.MusicUrlPattern.MatchString(d.QueueMusic.Url) {
		e.log.Error("queue_music url rejected", "url", d.QueueMusic.Url)
		return false
	}
	waiting, err := e.music.Add(ctx, d.QueueMusic.Url)
	if err != nil {
		e.log.Error("failed to queue track", "url", d.QueueMusic.Url, "err", err)
		return false
	}
	var line string
	if waiting == 0 {
		line = "playing your track now"
	} else {
		line = fmt.Sprintf("track queued, %d ahead of it", waiting)
	}
	if err := e.chat.Say(ctx, line); err != nil {
		e.log.Error("queue confirmation failed", "err", err)
	}
	return true
}

func (e *Executor) voteSkip(ctx context.Context) bool {
	remaining, skipped, err := e.music.VoteSkip(ctx)
	if err != nil {
		if sayErr := e.chat.Say(ctx, "nothing to skip right now"); sayErr != nil {
			e.log.Error("vote-skip rejection line failed", "err", sayErr)
		}
		return false
	}
	var line string
	if skipped {
		line = "the people have spoken, skipping"
	} else {
		line = fmt.Sprintf("%d more votes to skip", remaining)
	}
	if err := e.chat.Say(ctx, line); err != nil {
		e.log.Error("vote-skip tally line failed", "err", err)
	}
	return true
}

func (e *Executor) nowPlaying(ctx context.Context) bool {
	name := e.music.CurrentSongName()
	if name == "" {
		name = "something mysterious"
	}
	if err := e.chat.SayAction(ctx, "now playing: "+name); err != nil {
		e.log.Error("now-playing line failed", "err", err)
		return false
	}
	return true
}

// voice is best effort: synthesis failure fails the action, but delivery
// failures on either output are only logged
func (e *Executor) voice(ctx context.Context, d *Descriptor, origin Origin) bool {
	if d.Voice == nil || d.Voice.Text == "" {
		e.log.Error("voice action missing text")
		return false
	}
	audio, format, err := e.synth.Synthesize(ctx, d.Voice.Text, d.Voice.Language)
	if err != nil {
		e.log.Error("speech synthesis failed", "err", err)
		return false
	}
	if err := e.sounds.Speak(ctx, audio, format); err != nil {
		e.log.Error("speech playback failed", "err", err)
	}
	if err := e.bridge.SendLine(ctx, origin.Username, d.Voice.Text); err != nil {
		e.log.Error("voice line forward failed", "err", err)
	}
	return true
}

func (e *Executor) neuroAsk(ctx context.Context, d *Descriptor) bool {
	if d.NeuroAsk == nil || d.NeuroAsk.Prompt == "" {
		e.log.Error("neuro_ask action missing prompt")
		return false
	}
	maxTokens := d.NeuroAsk.MaxTokens
	if maxTokens == 0 {
		maxTokens = e.cfg.NeuroAskMaxTokens
	}
	temperature := d.NeuroAsk.Temperature
	if temperature == 0 {
		temperature = e.cfg.NeuroAskTemperature
	}
	reply, err := e.ask(ctx, d.NeuroAsk.Prompt, maxTokens, temperature)
	if err != nil {
		e.log.Error("neuro_ask completion failed", "err", err)
		return false
	}
	if err := e.chat.SayAction(ctx, reply); err != nil {
		e.log.Error("neuro_ask reply failed", "err", err)
		return false
	}
	return true
}

func (e *Executor) soundEffect(ctx context.Context, d *Descriptor) bool {
	name := e.cfg.FallbackSound
	if d.SoundEffect != nil && e.allowedSounds[d.SoundEffect.Name] {
		name = d.SoundEffect.Name
	}
	if err := e.sounds.PlaySound(ctx, name); err != nil {
		e.log.Error("sound effect failed", "name", name, "err", err)
		return false
	}
	return true
}

// forward drops silently when the bridge is down
func (e *Executor) forward(ctx context.Context, d *Descriptor, origin Origin) bool {
	if d.Forward == nil || d.Forward.Line == "" {
		e.log.Error("forward action missing line")
		return false
	}
	var err error
	if d.Forward.AsCommand {
		err = e.bridge.SendCommand(ctx, d.Forward.Line)
	} else {
		err = e.bridge.SendLine(ctx, origin.Username, d.Forward.Line)
	}
	if err != nil {
		e.log.Warn("dropped game bridge forward", "err", err)
	}
	return true
}
