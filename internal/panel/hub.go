// Package panel hosts the websocket endpoint that the operator's overlay
// page connects to. The overlay owns actual audio playback; the co-pilot
// pushes commands (play a track, play a sound, speak synthesized audio) and
// receives playback events (track started, track completed) in return.
package panel

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrNoPanelConnected is returned by Send when no overlay page is attached
var ErrNoPanelConnected = errors.New("no panel connected")

// Event is a playback event reported by the overlay
type Event struct {
	Event string `json:"event"`
	Name  string `json:"name,omitempty"`
	Url   string `json:"url,omitempty"`
}

const (
	EventTrackStarted   = "trackStarted"
	EventTrackCompleted = "trackCompleted"
)

// Handler receives each event reported by a connected overlay
type Handler func(Event)

// Hub fans commands out to every connected overlay page and funnels their
// events back through a single handler
type Hub struct {
	handler Handler
	log     *slog.Logger

	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(handler Handler, log *slog.Logger) *Hub {
	return &Hub{
		handler: handler,
		log:     log,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and pumps events from the
// overlay until it disconnects
func (h *Hub) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(res, req, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error("failed to accept panel connection", "err", err)
		return
	}
	h.register(conn)
	defer h.unregister(conn)

	for {
		var event Event
		if err := wsjson.Read(req.Context(), conn, &event); err != nil {
			return
		}
		h.handler(event)
	}
}

// Send delivers a command to every connected overlay. The command name is
// merged into the payload under the "command" key.
func (h *Hub) Send(ctx context.Context, command string, payload map[string]any) error {
	message := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		message[k] = v
	}
	message["command"] = command

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoPanelConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, conn := range conns {
		if err := wsjson.Write(writeCtx, conn, message); err != nil {
			h.log.Error("failed to write panel command", "command", command, "err", err)
		}
	}
	return nil
}

// Play implements the music player capability
func (h *Hub) Play(ctx context.Context, url string) error {
	return h.Send(ctx, "play", map[string]any{"url": url})
}

// PlaySound asks the overlay to play a named sound effect
func (h *Hub) PlaySound(ctx context.Context, name string) error {
	return h.Send(ctx, "sound", map[string]any{"name": name})
}

// Speak ships synthesized speech audio to the overlay for playback
func (h *Hub) Speak(ctx context.Context, audio []byte, format string) error {
	return h.Send(ctx, "speak", map[string]any{
		"audio":  base64.StdEncoding.EncodeToString(audio),
		"format": format,
	})
}

// ConnectedCount returns the number of attached overlay pages
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	conn.Close(websocket.StatusNormalClosure, "")
}
