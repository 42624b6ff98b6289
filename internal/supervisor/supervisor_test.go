package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mockCapability struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	statusErr   error
	connectErr  error
	transitions chan bool
}

func newMockCapability() *mockCapability {
	return &mockCapability{transitions: make(chan bool, 16)}
}

func (m *mockCapability) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connects++
	m.statusErr = nil
	return nil
}

func (m *mockCapability) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *mockCapability) Status() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusErr
}

func (m *mockCapability) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = fmt.Errorf("mock connection dropped")
}

func (m *mockCapability) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

type mockFlagStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newMockFlagStore() *mockFlagStore {
	return &mockFlagStore{flags: make(map[string]bool)}
}

func (m *mockFlagStore) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok := m.flags[key]; ok {
		return value, nil
	}
	return fallback, nil
}

func (m *mockFlagStore) SetBool(ctx context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = value
	return nil
}

func awaitTransition(t *testing.T, ch chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for transition to up=%v", want)
	}
}

func TestSupervisor(t *testing.T) {
	defer goleak.VerifyNone(t)

	capability := newMockCapability()
	flags := newMockFlagStore()
	s := New(flags, func(ctx context.Context, name string, up bool) {
		capability.transitions <- up
	}, 10*time.Millisecond, slog.Default())
	s.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Manage(ctx, "chat", capability))

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Run("connects and reports up", func(t *testing.T) {
		awaitTransition(t, capability.transitions, true)
		statuses := s.Statuses()
		require.Len(t, statuses, 1)
		assert.Equal(t, "chat", statuses[0].Name)
		assert.True(t, statuses[0].Up)
		assert.True(t, statuses[0].Enabled)
	})

	t.Run("reconnects after a drop", func(t *testing.T) {
		capability.drop()
		awaitTransition(t, capability.transitions, false)
		awaitTransition(t, capability.transitions, true)
		assert.GreaterOrEqual(t, capability.connectCount(), 2)
	})

	t.Run("disable disconnects and sticks", func(t *testing.T) {
		require.NoError(t, s.SetEnabled(ctx, "chat", false))
		awaitTransition(t, capability.transitions, false)

		before := capability.connectCount()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, before, capability.connectCount())

		enabled, err := flags.GetBool(ctx, "module_enabled.chat", true)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("enable reconnects promptly", func(t *testing.T) {
		require.NoError(t, s.SetEnabled(ctx, "chat", true))
		awaitTransition(t, capability.transitions, true)
	})

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestManageRestoresPersistedFlag(t *testing.T) {
	flags := newMockFlagStore()
	require.NoError(t, flags.SetBool(context.Background(), "module_enabled.speech", false))

	s := New(flags, func(ctx context.Context, name string, up bool) {}, time.Second, slog.Default())
	require.NoError(t, s.Manage(context.Background(), "speech", newMockCapability()))

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Enabled)
}

func TestManageRejectsDuplicateNames(t *testing.T) {
	s := New(newMockFlagStore(), func(ctx context.Context, name string, up bool) {}, time.Second, slog.Default())
	require.NoError(t, s.Manage(context.Background(), "chat", newMockCapability()))
	assert.Error(t, s.Manage(context.Background(), "chat", newMockCapability()))
}
