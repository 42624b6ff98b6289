// Package action defines the closed set of side-effecting actions the
// co-pilot can perform, and the executor that carries them out against the
// capability handles it is given.
package action

import "strings"

// Kind identifies one variant of Descriptor
type Kind string

const (
	KindBan           Kind = "ban"
	KindTimeout       Kind = "timeout"
	KindDeleteMessage Kind = "delete_message"
	KindHate          Kind = "hate"
	KindLove          Kind = "love"
	KindQueueMusic    Kind = "queue_music"
	KindVoteSkip      Kind = "vote_skip"
	KindNowPlaying    Kind = "now_playing"
	KindVoice         Kind = "voice"
	KindNeuroAsk      Kind = "neuro_ask"
	KindSoundEffect   Kind = "sound_effect"
	KindForward       Kind = "forward"
)

// Descriptor is a tagged variant describing a single action. Only the detail
// field matching Kind is populated.
type Descriptor struct {
	Kind Kind `json:"kind"`

	Timeout     *TimeoutDetails     `json:"timeout,omitempty"`
	QueueMusic  *QueueMusicDetails  `json:"queueMusic,omitempty"`
	Voice       *VoiceDetails       `json:"voice,omitempty"`
	NeuroAsk    *NeuroAskDetails    `json:"neuroAsk,omitempty"`
	SoundEffect *SoundEffectDetails `json:"soundEffect,omitempty"`
	Forward     *ForwardDetails     `json:"forward,omitempty"`
}

type TimeoutDetails struct {
	Seconds int `json:"seconds"`
}

type QueueMusicDetails struct {
	Url string `json:"url"`
}

type VoiceDetails struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type NeuroAskDetails struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type SoundEffectDetails struct {
	Name string `json:"name"`
}

type ForwardDetails struct {
	Line      string `json:"line"`
	AsCommand bool   `json:"asCommand,omitempty"`
}

// IsModeration reports whether the action is a chat moderation action: when a
// rule produces one of these, further handling of the triggering message is
// suppressed
func (d *Descriptor) IsModeration() bool {
	switch d.Kind {
	case KindBan, KindTimeout, KindDeleteMessage:
		return true
	}
	return false
}

// Placeholders recognized in reward action templates
const (
	PlaceholderInput = "{input}"
	PlaceholderUser  = "{user}"
)

// Instantiate resolves a template descriptor against the redeeming user's
// name and input, substituting placeholders in the text-bearing detail fields
// and returning a new Descriptor. The template itself is never mutated.
func (d *Descriptor) Instantiate(username string, userInput string) *Descriptor {
	sub := func(s string) string {
		s = strings.ReplaceAll(s, PlaceholderInput, userInput)
		return strings.ReplaceAll(s, PlaceholderUser, username)
	}
	out := *d
	if d.QueueMusic != nil {
		out.QueueMusic = &QueueMusicDetails{Url: sub(d.QueueMusic.Url)}
	}
	if d.Voice != nil {
		v := *d.Voice
		v.Text = sub(v.Text)
		out.Voice = &v
	}
	if d.NeuroAsk != nil {
		n := *d.NeuroAsk
		n.Prompt = sub(n.Prompt)
		out.NeuroAsk = &n
	}
	if d.Forward != nil {
		f := *d.Forward
		f.Line = sub(f.Line)
		out.Forward = &f
	}
	return &out
}
