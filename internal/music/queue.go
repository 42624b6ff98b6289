// Package music implements the track queue, vote-skip, and the bookkeeping
// around the single currently-playing track. The queue persists across
// restarts via a store.Deck.
package music

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/birchlight/copilot/internal/store"
)

// ErrNothingToSkip is returned by VoteSkip when no user-queued track is
// playing (either nothing is playing, or the fallback track is)
var ErrNothingToSkip = errors.New("no queued track is currently playing")

// Player receives play commands for the external music player. Exactly one
// play command is issued per track transition.
type Player interface {
	Play(ctx context.Context, url string) error
}

// Queue owns the ordered sequence of pending track URLs plus the state of the
// current track. It is not safe for concurrent use: all calls must come from
// the dispatcher goroutine.
type Queue struct {
	deck          *store.Deck
	player        Player
	fallbackURL   string
	voteThreshold int
	log           *slog.Logger

	currentlyPlaying string
	currentSongName  string
	votesRemaining   int
}

func NewQueue(deck *store.Deck, player Player, fallbackURL string, voteThreshold int, log *slog.Logger) *Queue {
	return &Queue{
		deck:           deck,
		player:         player,
		fallbackURL:    fallbackURL,
		voteThreshold:  voteThreshold,
		log:            log,
		votesRemaining: voteThreshold,
	}
}

// Prime starts playback on startup: if nothing is playing yet, transition to
// the next track (the persisted queue head, or the fallback)
func (q *Queue) Prime(ctx context.Context) error {
	if q.currentlyPlaying != "" {
		return nil
	}
	return q.Skip(ctx)
}

// Add enqueues a track URL, starting it immediately if nothing is playing.
// It returns the number of tracks waiting in the queue after the add.
func (q *Queue) Add(ctx context.Context, url string) (int, error) {
	if q.currentlyPlaying == "" {
		if err := q.startTrack(ctx, url); err != nil {
			return 0, err
		}
		return q.deck.Len(), nil
	}
	if err := q.deck.Push(url); err != nil {
		return q.deck.Len(), fmt.Errorf("failed to enqueue track: %w", err)
	}
	return q.deck.Len(), nil
}

// HandleTrackCompleted reacts to the external player reporting the end of the
// current track: reset vote state and move on to the next track
func (q *Queue) HandleTrackCompleted(ctx context.Context) error {
	return q.Skip(ctx)
}

// Skip unconditionally ends the current track and starts the next one: the
// queue head if any tracks are waiting, the fallback URL otherwise
func (q *Queue) Skip(ctx context.Context) error {
	q.currentlyPlaying = ""
	q.votesRemaining = q.voteThreshold
	next, ok := q.deck.PopTop()
	if !ok {
		next = q.fallbackURL
	}
	return q.startTrack(ctx, next)
}

// VoteSkip registers one skip vote against the current track. When the vote
// threshold is reached the track is skipped and remaining is reset. It
// returns the number of further votes needed, and whether this vote caused a
// skip.
func (q *Queue) VoteSkip(ctx context.Context) (remaining int, skipped bool, err error) {
	if q.currentlyPlaying == "" || q.currentlyPlaying == q.fallbackURL {
		return q.votesRemaining, false, ErrNothingToSkip
	}
	q.votesRemaining--
	if q.votesRemaining > 0 {
		return q.votesRemaining, false, nil
	}
	if err := q.Skip(ctx); err != nil {
		return q.voteThreshold, true, err
	}
	return q.voteThreshold, true, nil
}

// HandleTrackStarted records the display name of the track the player has
// just started
func (q *Queue) HandleTrackStarted(name string) {
	q.currentSongName = name
	q.log.Info("track started", "name", name)
}

// CurrentSongName returns the display name reported by the player for the
// current track, if any
func (q *Queue) CurrentSongName() string {
	return q.currentSongName
}

// CurrentlyPlaying returns the URL of the current track, or "" if none
func (q *Queue) CurrentlyPlaying() string {
	return q.currentlyPlaying
}

// QueueLength returns the number of tracks waiting behind the current one
func (q *Queue) QueueLength() int {
	return q.deck.Len()
}

func (q *Queue) startTrack(ctx context.Context, url string) error {
	if err := q.player.Play(ctx, url); err != nil {
		return fmt.Errorf("failed to send play command: %w", err)
	}
	q.currentlyPlaying = url
	return nil
}
