package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVoices = []Voice{
	{Name: "irina", Locale: "ru-RU"},
	{Name: "jenny", Locale: "en-US"},
}

func TestPickVoice(t *testing.T) {
	c := NewClient("http://localhost:5002", testVoices)

	assert.Equal(t, "irina", c.PickVoice("ru").Name)
	assert.Equal(t, "jenny", c.PickVoice("en-GB").Name)

	// Unknown or empty languages fall back to the first configured voice
	assert.Equal(t, "irina", c.PickVoice("fr").Name)
	assert.Equal(t, "irina", c.PickVoice("").Name)
}

func TestSynthesize(t *testing.T) {
	var gotVoice string
	srv := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/synthesize", req.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		gotVoice = body["voice"]
		res.Header().Set("Content-Type", "audio/ogg")
		res.Write([]byte("fake-audio"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testVoices)
	audio, format, err := c.Synthesize(context.Background(), "privet chat", "ru")
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-audio"), audio)
	assert.Equal(t, "ogg", format)
	assert.Equal(t, "irina", gotVoice)
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		http.Error(res, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testVoices)
	_, _, err := c.Synthesize(context.Background(), "hi", "en")
	assert.Error(t, err)
}
