package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchlight/copilot/internal/dispatch"
	"github.com/birchlight/copilot/internal/supervisor"
)

type mockReporter struct {
	statuses []supervisor.Status
	enabled  map[string]bool
}

func (m *mockReporter) Statuses() []supervisor.Status {
	return m.statuses
}

func (m *mockReporter) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if m.enabled == nil {
		m.enabled = make(map[string]bool)
	}
	if name == "no-such-module" {
		return fmt.Errorf("no capability named %q", name)
	}
	m.enabled[name] = enabled
	return nil
}

type mockPresets struct {
	current string
	applied []string
}

func (m *mockPresets) Names() []string { return []string{"coding", "gaming"} }

func (m *mockPresets) Current(ctx context.Context) (string, error) { return m.current, nil }

func (m *mockPresets) Apply(ctx context.Context, name string) error {
	if name != "coding" && name != "gaming" {
		return fmt.Errorf("no preset named %q", name)
	}
	m.applied = append(m.applied, name)
	return nil
}

type mockPanel struct {
	http.Handler
	connected int
}

func (m *mockPanel) ConnectedCount() int { return m.connected }

func newTestServer() (*Server, *mockReporter, *mockPresets, *[]dispatch.Event) {
	reporter := &mockReporter{statuses: []supervisor.Status{
		{Name: "chat", Enabled: true, Up: true},
		{Name: "speech", Enabled: false, Up: false},
	}}
	presets := &mockPresets{current: "coding"}
	var submitted []dispatch.Event
	s := New(reporter, presets, func(ctx context.Context, ev dispatch.Event) error {
		submitted = append(submitted, ev)
		return nil
	}, &mockPanel{Handler: http.NotFoundHandler(), connected: 1}, prometheus.NewRegistry(), slog.Default())
	return s, reporter, presets, &submitted
}

func TestGetStatus(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	res := httptest.NewRecorder()
	s.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var status statusResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	require.Len(t, status.Capabilities, 2)
	assert.Equal(t, "chat", status.Capabilities[0].Name)
	assert.True(t, status.Capabilities[0].Up)
	assert.Equal(t, "coding", status.Preset)
	assert.Equal(t, []string{"coding", "gaming"}, status.Presets)
	assert.Equal(t, 1, status.PanelClients)
}

func TestPostChat(t *testing.T) {
	t.Run("injects a chat event", func(t *testing.T) {
		s, _, _, submitted := newTestServer()
		req := httptest.NewRequest(http.MethodPost, "/admin/chat",
			strings.NewReader(`{"username": "someviewer", "userId": "12345", "text": "hello"}`))
		res := httptest.NewRecorder()
		s.ServeHTTP(res, req)

		require.Equal(t, http.StatusNoContent, res.Code)
		require.Len(t, *submitted, 1)
		ev, ok := (*submitted)[0].(dispatch.ChatArrived)
		require.True(t, ok)
		assert.Equal(t, "someviewer", ev.Message.Username)
		assert.Equal(t, "hello", ev.Message.Text)
	})

	t.Run("rejects incomplete bodies", func(t *testing.T) {
		s, _, _, submitted := newTestServer()
		req := httptest.NewRequest(http.MethodPost, "/admin/chat", strings.NewReader(`{"username": ""}`))
		res := httptest.NewRecorder()
		s.ServeHTTP(res, req)

		assert.Equal(t, http.StatusBadRequest, res.Code)
		assert.Empty(t, *submitted)
	})
}

func TestPostRedemption(t *testing.T) {
	s, _, _, submitted := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/admin/redemption",
		strings.NewReader(`{"redemptionId": "r-1", "rewardId": "reward-1", "userName": "someviewer", "userInput": "a song"}`))
	res := httptest.NewRecorder()
	s.ServeHTTP(res, req)

	require.Equal(t, http.StatusNoContent, res.Code)
	require.Len(t, *submitted, 1)
	ev, ok := (*submitted)[0].(dispatch.RedemptionArrived)
	require.True(t, ok)
	assert.Equal(t, "r-1", ev.Redemption.RedemptionID)
	assert.Equal(t, "a song", ev.Redemption.UserInput)
}

func TestPostPreset(t *testing.T) {
	t.Run("applies a known preset", func(t *testing.T) {
		s, _, presets, _ := newTestServer()
		req := httptest.NewRequest(http.MethodPost, "/admin/preset", strings.NewReader(`{"name": "gaming"}`))
		res := httptest.NewRecorder()
		s.ServeHTTP(res, req)

		assert.Equal(t, http.StatusNoContent, res.Code)
		assert.Equal(t, []string{"gaming"}, presets.applied)
	})

	t.Run("rejects unknown presets", func(t *testing.T) {
		s, _, _, _ := newTestServer()
		req := httptest.NewRequest(http.MethodPost, "/admin/preset", strings.NewReader(`{"name": "sleeping"}`))
		res := httptest.NewRecorder()
		s.ServeHTTP(res, req)
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})
}

func TestPostModule(t *testing.T) {
	s, reporter, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/admin/module", strings.NewReader(`{"name": "speech", "enabled": true}`))
	res := httptest.NewRecorder()
	s.ServeHTTP(res, req)

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.True(t, reporter.enabled["speech"])
}
