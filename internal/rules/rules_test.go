package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/history"
)

const broadcasterID = "12345"

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(broadcasterID)
	err := e.Load([]Rule{
		{
			Action:   action.Descriptor{Kind: action.KindBan},
			Patterns: []string{`viewers`, `foo\.com`},
		},
		{
			Action:   action.Descriptor{Kind: action.KindTimeout, Timeout: &action.TimeoutDetails{Seconds: 600}},
			Patterns: []string{`free\s+follows`},
		},
	})
	require.NoError(t, err)
	return e
}

func liveMessage(userID string, text string) history.Message {
	return history.Message{Username: "viewer", UserID: userID, Text: text, Source: history.SourceLive}
}

func TestMatchRequiresAllPatterns(t *testing.T) {
	e := newTestEngine(t)

	d := e.Match(liveMessage("777", "check VIEWERS at foo.com"))
	require.NotNil(t, d)
	assert.Equal(t, action.KindBan, d.Kind)

	// Only one of the two patterns matches
	assert.Nil(t, e.Match(liveMessage("777", "hello viewers")))
	assert.Nil(t, e.Match(liveMessage("777", "go to foo.com")))
}

func TestMatchFirstRuleWins(t *testing.T) {
	e := NewEngine(broadcasterID)
	require.NoError(t, e.Load([]Rule{
		{Action: action.Descriptor{Kind: action.KindBan}, Patterns: []string{`spam`}},
		{Action: action.Descriptor{Kind: action.KindDeleteMessage}, Patterns: []string{`spam`}},
	}))
	d := e.Match(liveMessage("777", "spam spam spam"))
	require.NotNil(t, d)
	assert.Equal(t, action.KindBan, d.Kind)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	e := newTestEngine(t)
	d := e.Match(liveMessage("777", "FREE   FOLLOWS here"))
	require.NotNil(t, d)
	assert.Equal(t, action.KindTimeout, d.Kind)
	assert.Equal(t, 600, d.Timeout.Seconds)
}

func TestBroadcasterIsExempt(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.Match(liveMessage(broadcasterID, "check viewers at foo.com")))
}

func TestTrustedInjectionIsExempt(t *testing.T) {
	e := newTestEngine(t)
	m := liveMessage("777", "check viewers at foo.com")
	m.Source = history.SourceInjectedTrusted
	assert.Nil(t, e.Match(m))
}

func TestLoadRejectsBadPatternsAndKeepsOldRules(t *testing.T) {
	e := newTestEngine(t)
	err := e.Load([]Rule{
		{Action: action.Descriptor{Kind: action.KindBan}, Patterns: []string{`(unclosed`}},
	})
	assert.Error(t, err)

	// The previous rule set is still active
	assert.NotNil(t, e.Match(liveMessage("777", "viewers at foo.com")))
	assert.Equal(t, 2, e.Count())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"action": {"kind": "ban"}, "patterns": ["buy\\s+followers"]}
	]`), 0o644))

	e := NewEngine(broadcasterID)
	require.NoError(t, e.LoadFile(path))
	assert.Equal(t, 1, e.Count())
	assert.NotNil(t, e.Match(liveMessage("777", "Buy Followers now")))
}
