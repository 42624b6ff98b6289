// Package supervisor keeps the co-pilot's capability connections alive,
// reconnecting dropped ones after a fixed delay unless the operator has
// disabled them.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Capability is a connection the supervisor manages
type Capability interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() error
}

// FlagStore persists per-capability enabled flags across restarts
type FlagStore interface {
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
}

// NotifyFunc is called on every up/down transition
type NotifyFunc func(ctx context.Context, name string, up bool)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPollInterval   = time.Second

	flagKeyPrefix = "module_enabled."
)

type entry struct {
	name       string
	capability Capability

	mu      sync.Mutex
	enabled bool
	up      bool
	lastErr error

	// kick wakes the entry's supervise loop after an enable/disable
	kick chan struct{}
}

func (e *entry) isEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *entry) setState(up bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.up = up
	e.lastErr = err
}

// Status describes one capability's current state
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Up      bool   `json:"up"`
	Error   string `json:"error,omitempty"`
}

type Supervisor struct {
	flags          FlagStore
	notify         NotifyFunc
	reconnectDelay time.Duration
	pollInterval   time.Duration
	log            *slog.Logger

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
}

func New(flags FlagStore, notify NotifyFunc, reconnectDelay time.Duration, log *slog.Logger) *Supervisor {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Supervisor{
		flags:          flags,
		notify:         notify,
		reconnectDelay: reconnectDelay,
		pollInterval:   DefaultPollInterval,
		log:            log,
		byName:         make(map[string]*entry),
	}
}

// Manage registers a capability under a unique name, restoring its persisted
// enabled flag. Must be called before Run.
func (s *Supervisor) Manage(ctx context.Context, name string, capability Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[name]; taken {
		return fmt.Errorf("capability %q is already managed", name)
	}
	enabled, err := s.flags.GetBool(ctx, flagKeyPrefix+name, true)
	if err != nil {
		return fmt.Errorf("failed to restore enabled flag for %q: %w", name, err)
	}
	e := &entry{
		name:       name,
		capability: capability,
		enabled:    enabled,
		kick:       make(chan struct{}, 1),
	}
	s.entries = append(s.entries, e)
	s.byName[name] = e
	return nil
}

// SetEnabled persists and applies a capability's enabled flag. Disabling
// disconnects it; enabling reconnects it promptly.
func (s *Supervisor) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no capability named %q", name)
	}
	if err := s.flags.SetBool(ctx, flagKeyPrefix+name, enabled); err != nil {
		return fmt.Errorf("failed to persist enabled flag for %q: %w", name, err)
	}
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	select {
	case e.kick <- struct{}{}:
	default:
	}
	return nil
}

// Statuses reports every managed capability's state, in registration order
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	statuses := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		status := Status{Name: e.name, Enabled: e.enabled, Up: e.up}
		if e.lastErr != nil {
			status.Error = e.lastErr.Error()
		}
		e.mu.Unlock()
		statuses = append(statuses, status)
	}
	return statuses
}

// Run supervises every managed capability until ctx is done, disconnecting
// them all on the way out
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		e := e
		g.Go(func() error {
			return s.supervise(ctx, e)
		})
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, e *entry) error {
	for {
		if !e.isEnabled() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.kick:
			}
			continue
		}
		if err := e.capability.Connect(ctx); err != nil {
			s.log.Error("capability connect failed", "name", e.name, "err", err)
			e.setState(false, err)
			if stop := s.sleep(ctx, e); stop != nil {
				return stop
			}
			continue
		}
		s.log.Info("capability connected", "name", e.name)
		e.setState(true, nil)
		s.notify(ctx, e.name, true)

		err := s.watch(ctx, e)
		disconnectErr := e.capability.Disconnect()
		if disconnectErr != nil {
			s.log.Error("capability disconnect failed", "name", e.name, "err", disconnectErr)
		}
		e.setState(false, err)
		s.notify(ctx, e.name, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Error("capability connection lost", "name", e.name, "err", err)
			if stop := s.sleep(ctx, e); stop != nil {
				return stop
			}
		}
	}
}

// watch polls the capability's status until it reports an error, the entry
// is disabled, or ctx is done. A nil return means the entry was disabled.
func (s *Supervisor) watch(ctx context.Context, e *entry) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.kick:
			if !e.isEnabled() {
				s.log.Info("capability disabled", "name", e.name)
				return nil
			}
		case <-ticker.C:
			if err := e.capability.Status(); err != nil {
				return err
			}
		}
	}
}

// sleep waits out the reconnect delay, returning early if ctx ends; a kick
// (enable/disable flip) also cuts the wait short
func (s *Supervisor) sleep(ctx context.Context, e *entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.kick:
		return nil
	case <-time.After(s.reconnectDelay):
		return nil
	}
}
