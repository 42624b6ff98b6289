package chat

import (
	"context"
	"errors"
	"fmt"
)

var ErrConnectionNotOpen = errors.New("not connected")

// IrcConnection is the narrow surface of the underlying IRC client that
// Connection needs, so tests can substitute a fake
type IrcConnection interface {
	OnConnect(func())
	Connect() error
	Disconnect() error
}

// Connection tracks the lifecycle of a single IRC connection: Open blocks
// until the client is connected (or fails), and GetStatus reflects any error
// that has since taken the connection down. The reconnect supervisor polls
// GetStatus and re-opens as needed.
type Connection struct {
	client IrcConnection

	connectErrChan chan error
	open           bool
	lastErr        error
}

func NewConnection(client IrcConnection) *Connection {
	return &Connection{
		client:         client,
		connectErrChan: make(chan error),
	}
}

func (c *Connection) GetStatus() error {
	if c.lastErr == nil && !c.open {
		return ErrConnectionNotOpen
	}
	return c.lastErr
}

func (c *Connection) Open(ctx context.Context) error {
	c.lastErr = nil

	// Signal success through the error channel (as a nil error) when the
	// client reports it has connected; the callback is unregistered before
	// Open returns
	c.client.OnConnect(func() { c.connectErrChan <- nil })
	defer c.client.OnConnect(nil)

	// Connect blocks for the life of the connection, so it runs in its own
	// goroutine; its return value lands in the same channel
	go func() {
		c.connectErrChan <- c.client.Connect()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting to connect: %v", ctx.Err())
	case err := <-c.connectErrChan:
		// nil means the OnConnect callback fired; non-nil means Connect
		// failed before ever connecting
		if err != nil {
			c.lastErr = err
			return err
		}
	}

	// Connected. The Connect goroutine is still running; when it eventually
	// returns, record a non-nil result as the reason the connection dropped.
	c.open = true
	go func() {
		if err := <-c.connectErrChan; err != nil {
			c.open = false
			c.lastErr = err
		}
	}()
	return nil
}

func (c *Connection) Close() error {
	if !c.open {
		return ErrConnectionNotOpen
	}
	c.open = false
	return c.client.Disconnect()
}
