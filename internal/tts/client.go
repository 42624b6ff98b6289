// Package tts synthesizes speech through a local text-to-speech daemon's
// HTTP API. Voice selection follows a configured preference list: the first
// voice whose locale matches the requested language wins, falling back to
// the first voice in the list.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Voice names an installed synthesizer voice and the locale it speaks
type Voice struct {
	Name   string
	Locale string
}

type Client struct {
	baseUrl string
	voices  []Voice
	http    *http.Client
}

func NewClient(baseUrl string, voices []Voice) *Client {
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		voices:  voices,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// PickVoice selects the voice for the given language code ("ru", "en-US",
// ...). Matching is by locale prefix, first match in configured order.
func (c *Client) PickVoice(language string) Voice {
	if len(c.voices) == 0 {
		return Voice{}
	}
	lang := strings.ToLower(strings.SplitN(language, "-", 2)[0])
	if lang != "" {
		for _, v := range c.voices {
			if strings.HasPrefix(strings.ToLower(v.Locale), lang) {
				return v
			}
		}
	}
	return c.voices[0]
}

// Synthesize renders text to audio bytes using the voice selected for the
// given language. The returned format string names the audio container
// reported by the daemon (e.g. "mp3").
func (c *Client) Synthesize(ctx context.Context, text string, language string) ([]byte, string, error) {
	voice := c.PickVoice(language)
	body, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": voice.Name,
	})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("got status %d from synthesis request", res.StatusCode)
	}

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	format := "mp3"
	if ct := res.Header.Get("Content-Type"); strings.HasPrefix(ct, "audio/") {
		format = strings.TrimPrefix(ct, "audio/")
	}
	return audio, format, nil
}
