// Package chat connects the co-pilot to the channel's IRC chat, delivering
// parsed messages to a handler and providing rate-limited send capabilities.
package chat

import (
	"context"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"
)

// IncomingMessage is a parsed PRIVMSG as delivered to the message handler
type IncomingMessage struct {
	ID       string
	Username string
	UserID   string
	Text     string
	At       time.Time
}

// Handler receives each chat message as it arrives. It must not block: long
// work belongs on the dispatcher side of the event queue.
type Handler func(IncomingMessage)

// Sender is the outbound chat capability consumed by the executor and the
// LLM loop
type Sender interface {
	Say(ctx context.Context, text string) error
	SayAction(ctx context.Context, text string) error
}

// Agent wraps an authenticated IRC client joined to a single channel
type Agent struct {
	client      *irc.Client
	connection  *Connection
	channelName string

	// limiter paces outbound lines to stay under Twitch's send limits
	limiter *rate.Limiter
}

func NewAgent(channelName string, botUsername string, oauthToken string, handler Handler) *Agent {
	client := irc.NewClient(botUsername, oauthToken)
	client.OnPrivateMessage(func(m irc.PrivateMessage) {
		handler(IncomingMessage{
			ID:       m.ID,
			Username: m.User.Name,
			UserID:   m.User.ID,
			Text:     m.Message,
			At:       time.Now(),
		})
	})
	client.Join(channelName)

	return &Agent{
		client:      client,
		connection:  NewConnection(client),
		channelName: channelName,
		limiter:     rate.NewLimiter(rate.Every(1500*time.Millisecond), 3),
	}
}

func (a *Agent) Connect(ctx context.Context) error {
	return a.connection.Open(ctx)
}

func (a *Agent) Disconnect() error {
	return a.connection.Close()
}

func (a *Agent) Status() error {
	return a.connection.GetStatus()
}

// Say sends a plain chat line
func (a *Agent) Say(ctx context.Context, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := a.connection.GetStatus(); err != nil {
		return err
	}
	a.client.Say(a.channelName, text)
	return nil
}

// SayAction sends a chat line styled as a /me action
func (a *Agent) SayAction(ctx context.Context, text string) error {
	return a.Say(ctx, "/me "+text)
}
