// Package gamebridge relays chat lines and commands to a local game-server
// bridge over a websocket. Lines sent while the bridge is down are dropped.
package gamebridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrNotConnected is returned by send operations while the bridge socket is
// down
var ErrNotConnected = errors.New("game bridge not connected")

// line is the envelope the bridge expects for relayed chat lines
type line struct {
	User    string `json:"user"`
	Message string `json:"message"`
	Chat    string `json:"chat"`
}

// command is the envelope for raw server commands
type command struct {
	Command string `json:"command"`
}

type Bridge struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	lastErr error
}

func New(url string) *Bridge {
	return &Bridge{url: url, lastErr: ErrNotConnected}
}

func (b *Bridge) Name() string {
	return "gamebridge"
}

func (b *Bridge) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, b.url, nil)
	if err != nil {
		b.mu.Lock()
		b.lastErr = err
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	b.conn = conn
	b.lastErr = nil
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.lastErr = ErrNotConnected
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Close(websocket.StatusNormalClosure, "disconnect requested")
}

func (b *Bridge) Status() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// SendLine relays a chat line into the game world
func (b *Bridge) SendLine(ctx context.Context, user string, message string) error {
	return b.write(ctx, line{User: user, Message: message, Chat: "T"})
}

// SendCommand sends a raw server command
func (b *Bridge) SendCommand(ctx context.Context, commandLine string) error {
	return b.write(ctx, command{Command: commandLine})
}

func (b *Bridge) write(ctx context.Context, payload any) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, payload); err != nil {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.lastErr = err
		}
		b.mu.Unlock()
		return err
	}
	return nil
}
