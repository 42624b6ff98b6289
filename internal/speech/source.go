// Package speech consumes final transcription results from a local
// speech-to-text recognizer over a websocket. Phrases that begin with one of
// the configured trigger words become trusted chat injections; everything
// else is ignored.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var errSourceClosed = errors.New("speech source closed")

// Final is a completed transcription result
type Final struct {
	Phrase     string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Handler receives each final transcription
type Handler func(Final)

// Trigger matches phrases addressed to the co-pilot and extracts the
// remainder after the trigger word
type Trigger struct {
	pattern *regexp.Regexp
}

// NewTrigger builds a trigger from a list of words: a phrase matches when it
// starts with any of the words followed by whitespace and at least one more
// character
func NewTrigger(words []string) (*Trigger, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("at least one trigger word is required")
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	pattern, err := regexp.Compile(`(?i)^(` + strings.Join(quoted, "|") + `)\s+(.+)$`)
	if err != nil {
		return nil, err
	}
	return &Trigger{pattern: pattern}, nil
}

// Extract returns the remainder of a phrase after the trigger word, and
// whether the phrase matched at all
func (t *Trigger) Extract(phrase string) (string, bool) {
	m := t.pattern.FindStringSubmatch(phrase)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// Source owns the websocket connection to the recognizer
type Source struct {
	url     string
	handler Handler
	log     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	lastErr error
}

func NewSource(url string, handler Handler, log *slog.Logger) *Source {
	return &Source{url: url, handler: handler, log: log, lastErr: errSourceClosed}
}

func (s *Source) Name() string {
	return "speech"
}

func (s *Source) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Source) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.open = true
	s.lastErr = nil
	s.mu.Unlock()

	go s.readPump(conn)
	return nil
}

func (s *Source) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.open = false
	s.lastErr = errSourceClosed
	s.mu.Unlock()
	if conn == nil {
		return errSourceClosed
	}
	return conn.Close(websocket.StatusNormalClosure, "disconnect requested")
}

func (s *Source) readPump(conn *websocket.Conn) {
	for {
		var final Final
		if err := wsjson.Read(context.Background(), conn, &final); err != nil {
			s.mu.Lock()
			if s.open && s.conn == conn {
				s.open = false
				s.conn = nil
				s.lastErr = fmt.Errorf("speech socket dropped: %w", err)
			}
			s.mu.Unlock()
			return
		}
		s.handler(final)
	}
}
