package music

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchlight/copilot/internal/store"
)

const fallbackURL = "https://music.example.com/fallback"

type mockPlayer struct {
	played  []string
	failing bool
}

func (p *mockPlayer) Play(ctx context.Context, url string) error {
	if p.failing {
		return fmt.Errorf("mock player error")
	}
	p.played = append(p.played, url)
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *mockPlayer) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	deck, err := store.OpenDeck(context.Background(), db, "music_queue", 16)
	require.NoError(t, err)
	player := &mockPlayer{}
	return NewQueue(deck, player, fallbackURL, 3, slog.Default()), player
}

func TestAddStartsPlaybackWhenIdle(t *testing.T) {
	q, player := newTestQueue(t)
	ctx := context.Background()

	waiting, err := q.Add(ctx, "https://music.example.com/a")
	require.NoError(t, err)
	assert.Equal(t, 0, waiting)
	assert.Equal(t, "https://music.example.com/a", q.CurrentlyPlaying())
	assert.Equal(t, []string{"https://music.example.com/a"}, player.played)

	// A second add queues behind the current track without a play command
	waiting, err = q.Add(ctx, "https://music.example.com/b")
	require.NoError(t, err)
	assert.Equal(t, 1, waiting)
	assert.Len(t, player.played, 1)
}

func TestTrackCompletedAdvancesToNextOrFallback(t *testing.T) {
	q, player := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, "a")
	require.NoError(t, err)
	_, err = q.Add(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, q.HandleTrackCompleted(ctx))
	assert.Equal(t, "b", q.CurrentlyPlaying())

	require.NoError(t, q.HandleTrackCompleted(ctx))
	assert.Equal(t, fallbackURL, q.CurrentlyPlaying())
	assert.Equal(t, []string{"a", "b", fallbackURL}, player.played)
}

func TestPrimeStartsFallbackOnEmptyQueue(t *testing.T) {
	q, player := newTestQueue(t)
	require.NoError(t, q.Prime(context.Background()))
	assert.Equal(t, fallbackURL, q.CurrentlyPlaying())
	assert.Equal(t, []string{fallbackURL}, player.played)

	// Priming again while a track is playing is a no-op
	require.NoError(t, q.Prime(context.Background()))
	assert.Len(t, player.played, 1)
}

func TestVoteSkip(t *testing.T) {
	q, player := newTestQueue(t)
	ctx := context.Background()

	// Nothing playing: vote rejected
	_, _, err := q.VoteSkip(ctx)
	assert.ErrorIs(t, err, ErrNothingToSkip)

	_, err = q.Add(ctx, "a")
	require.NoError(t, err)
	_, err = q.Add(ctx, "b")
	require.NoError(t, err)

	remaining, skipped, err := q.VoteSkip(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	assert.False(t, skipped)

	remaining, skipped, err = q.VoteSkip(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.False(t, skipped)

	// Third vote reaches the threshold and skips exactly once
	remaining, skipped, err = q.VoteSkip(ctx)
	require.NoError(t, err)
	assert.True(t, skipped)
	assert.Equal(t, 3, remaining)
	assert.Equal(t, "b", q.CurrentlyPlaying())
	assert.Equal(t, []string{"a", "b"}, player.played)

	// The new track requires a full set of votes again
	remaining, skipped, err = q.VoteSkip(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	assert.False(t, skipped)
}

func TestVoteSkipRejectedOnFallbackTrack(t *testing.T) {
	q, _ := newTestQueue(t)
	require.NoError(t, q.Prime(context.Background()))
	_, _, err := q.VoteSkip(context.Background())
	assert.ErrorIs(t, err, ErrNothingToSkip)
}

func TestPlayerFailureLeavesNothingPlaying(t *testing.T) {
	q, player := newTestQueue(t)
	player.failing = true
	_, err := q.Add(context.Background(), "a")
	assert.Error(t, err)
	assert.Equal(t, "", q.CurrentlyPlaying())
}

func TestTrackStartedUpdatesSongName(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.Equal(t, "", q.CurrentSongName())
	q.HandleTrackStarted("Cool Song - Cool Artist")
	assert.Equal(t, "Cool Song - Cool Artist", q.CurrentSongName())
}
