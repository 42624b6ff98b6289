package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeckFull is returned by Push when the deck has reached its capacity
var ErrDeckFull = errors.New("deck is at capacity")

// Deck is a bounded, ordered sequence of strings held in memory and persisted
// to the KV store under a single key. Mutations mark the deck dirty; a flush
// loop writes the serialized deck back at most once per flush interval, and
// Close forces a final flush. Reads and writes are safe for concurrent use.
type Deck struct {
	db       *DB
	key      string
	capacity int

	mu    sync.Mutex
	items []string
	dirty bool
}

// OpenDeck loads the deck stored under the given key, or initializes an empty
// one if nothing has been persisted yet
func OpenDeck(ctx context.Context, db *DB, key string, capacity int) (*Deck, error) {
	d := &Deck{
		db:       db,
		key:      key,
		capacity: capacity,
		items:    make([]string, 0, capacity),
	}
	raw, err := db.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load deck %q: %w", key, err)
	}
	if err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.items); err != nil {
			return nil, fmt.Errorf("failed to decode deck %q: %w", key, err)
		}
	}
	return d, nil
}

// Push appends an item at the bottom of the deck
func (d *Deck) Push(item string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) >= d.capacity {
		return ErrDeckFull
	}
	d.items = append(d.items, item)
	d.dirty = true
	return nil
}

// PopTop removes and returns the item at the top of the deck; ok is false if
// the deck is empty
func (d *Deck) PopTop() (item string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return "", false
	}
	item = d.items[0]
	d.items = d.items[1:]
	d.dirty = true
	return item, true
}

// PeekBottom returns the most recently pushed item without removing it
func (d *Deck) PeekBottom() (item string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return "", false
	}
	return d.items[len(d.items)-1], true
}

func (d *Deck) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// Items returns a copy of the deck's contents, top first
func (d *Deck) Items() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := make([]string, len(d.items))
	copy(items, d.items)
	return items
}

// Flush writes the deck back to the KV store if it has changed since the last
// flush
func (d *Deck) Flush(ctx context.Context) error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	raw, err := json.Marshal(d.items)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.dirty = false
	d.mu.Unlock()
	return d.db.Set(ctx, d.key, string(raw))
}

// RunFlushLoop flushes the deck at the given interval until ctx is canceled,
// then performs a final forced flush
func (d *Deck) RunFlushLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return d.Flush(flushCtx)
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}
