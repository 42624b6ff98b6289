// Package eventsub maintains a Twitch EventSub websocket session subscribed
// to channel-point redemptions, delivering each redemption to a handler. The
// core never sees the websocket framing: it consumes a stream of Redemption
// records.
package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"nhooyr.io/websocket"
)

const DefaultSocketUrl = "wss://eventsub.wss.twitch.tv/ws"

// keepaliveSlack is added to the server-announced keepalive interval when
// computing the per-read deadline
const keepaliveSlack = 5 * time.Second

var errSocketClosed = errors.New("eventsub socket closed")

// SubscriptionCreator is the slice of the Twitch API needed to bind a
// subscription to a websocket session
type SubscriptionCreator interface {
	CreateEventSubSubscription(payload *helix.EventSubSubscription) (*helix.EventSubSubscriptionsResponse, error)
}

// Handler receives each redemption as it arrives
type Handler func(Redemption)

// Source owns one EventSub websocket connection. Connect dials, waits for the
// welcome message, binds the redemption subscription to the session, and
// spawns a read pump; Status reports the pump's health afterwards.
type Source struct {
	api           SubscriptionCreator
	broadcasterID string
	socketUrl     string
	handler       Handler
	log           *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	lastErr error
	open    bool
}

func NewSource(api SubscriptionCreator, broadcasterID string, socketUrl string, handler Handler, log *slog.Logger) *Source {
	if socketUrl == "" {
		socketUrl = DefaultSocketUrl
	}
	return &Source{
		api:           api,
		broadcasterID: broadcasterID,
		socketUrl:     socketUrl,
		handler:       handler,
		log:           log,
		lastErr:       errSocketClosed,
	}
}

func (s *Source) Name() string {
	return "redemptions"
}

func (s *Source) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Connect establishes the websocket session and registers the redemption
// subscription. It returns once the session is live; message handling
// continues on a background goroutine until the connection drops or
// Disconnect is called.
func (s *Source) Connect(ctx context.Context) error {
	conn, sess, err := s.dial(ctx, s.socketUrl)
	if err != nil {
		s.setErr(err)
		return err
	}
	if err := s.subscribe(sess.ID); err != nil {
		conn.Close(websocket.StatusNormalClosure, "subscription failed")
		s.setErr(err)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.lastErr = nil
	s.mu.Unlock()

	go s.readPump(conn, sess.KeepaliveTimeoutSeconds)
	return nil
}

func (s *Source) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.open = false
	s.conn = nil
	s.lastErr = errSocketClosed
	s.mu.Unlock()
	if conn == nil {
		return errSocketClosed
	}
	return conn.Close(websocket.StatusNormalClosure, "disconnect requested")
}

// dial opens a websocket connection and blocks until the server sends its
// welcome message
func (s *Source) dial(ctx context.Context, url string) (*websocket.Conn, *session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial EventSub socket: %w", err)
	}

	var env envelope
	readCtx, cancelRead := context.WithTimeout(ctx, 10*time.Second)
	defer cancelRead()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		conn.Close(websocket.StatusProtocolError, "no welcome")
		return nil, nil, fmt.Errorf("failed to read welcome message: %w", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad welcome")
		return nil, nil, fmt.Errorf("failed to decode welcome message: %w", err)
	}
	if env.Metadata.MessageType != messageTypeWelcome || env.Payload.Session == nil {
		conn.Close(websocket.StatusProtocolError, "bad welcome")
		return nil, nil, fmt.Errorf("expected %s message; got %q", messageTypeWelcome, env.Metadata.MessageType)
	}
	return conn, env.Payload.Session, nil
}

// subscribe binds the channel-points redemption subscription to the session
func (s *Source) subscribe(sessionID string) error {
	r, err := s.api.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    helix.EventSubTypeChannelPointsCustomRewardRedemptionAdd,
		Version: "1",
		Condition: helix.EventSubCondition{
			BroadcasterUserID: s.broadcasterID,
		},
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create redemption subscription: %w", err)
	}
	if r.StatusCode != http.StatusAccepted {
		return fmt.Errorf("got response %d from create subscription request: %s", r.StatusCode, r.ErrorMessage)
	}
	return nil
}

func (s *Source) readPump(conn *websocket.Conn, keepaliveSeconds int) {
	readTimeout := time.Duration(keepaliveSeconds)*time.Second + keepaliveSlack
	for {
		readCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			s.mu.Lock()
			// Disconnect already recorded its own state; only a live pump
			// reports the drop
			if s.open && s.conn == conn {
				s.open = false
				s.conn = nil
				s.lastErr = fmt.Errorf("eventsub socket dropped: %w", err)
			}
			s.mu.Unlock()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Error("failed to decode eventsub message", "err", err)
			continue
		}
		switch env.Metadata.MessageType {
		case messageTypeKeepalive:
			// nothing to do; the read deadline was already refreshed
		case messageTypeNotification:
			s.handleNotification(&env)
		case messageTypeReconnect:
			// Treat a reconnect request as a drop: the supervisor will dial
			// a fresh session. Twitch replays the subscription on the new
			// socket since we re-create it on every connect.
			s.log.Info("eventsub session reconnect requested")
			conn.Close(websocket.StatusNormalClosure, "reconnect requested")
		case messageTypeRevocation:
			s.log.Warn("eventsub subscription revoked", "type", env.Metadata.SubscriptionType)
		}
	}
}

func (s *Source) handleNotification(env *envelope) {
	if env.Metadata.SubscriptionType != helix.EventSubTypeChannelPointsCustomRewardRedemptionAdd {
		return
	}
	var ev helix.EventSubChannelPointsCustomRewardRedemptionEvent
	if err := json.Unmarshal(env.Payload.Event, &ev); err != nil {
		s.log.Error("failed to decode redemption event", "err", err)
		return
	}
	s.handler(Redemption{
		RedemptionID: ev.ID,
		RewardID:     ev.Reward.ID,
		UserID:       ev.UserID,
		UserName:     ev.UserName,
		UserInput:    ev.UserInput,
	})
}
