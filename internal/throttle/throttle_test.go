package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	current := time.Date(2023, 10, 31, 20, 0, 0, 0, time.UTC)
	s := NewStore(60*time.Second, 60*time.Second)
	s.now = func() time.Time { return current }
	return s, &current
}

func TestTryHateThrottlesRepeatUsers(t *testing.T) {
	s, now := newTestStore(t)

	assert.True(t, s.TryHate("grumbler", false))
	assert.False(t, s.TryHate("grumbler", false))

	*now = now.Add(30 * time.Second)
	assert.False(t, s.TryHate("grumbler", false))

	// A different user has their own cooldown
	assert.True(t, s.TryHate("other", false))

	*now = now.Add(30 * time.Second)
	assert.True(t, s.TryHate("grumbler", false))
}

func TestTryHateNeverThrottlesBroadcaster(t *testing.T) {
	s, _ := newTestStore(t)
	assert.True(t, s.TryHate("streamer", true))
	assert.True(t, s.TryHate("streamer", true))
	assert.True(t, s.TryHate("streamer", true))
}

func TestProtectionWindow(t *testing.T) {
	s, now := newTestStore(t)
	assert.False(t, s.Protected())

	s.RefreshProtection()
	assert.True(t, s.Protected())

	*now = now.Add(59 * time.Second)
	assert.True(t, s.Protected())

	*now = now.Add(time.Second)
	assert.False(t, s.Protected())
}
