package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/codingconcepts/env"
	"github.com/joho/godotenv"
	"github.com/nicklaw5/helix/v2"

	"github.com/birchlight/copilot/internal/authflow"
	"github.com/birchlight/copilot/internal/store"
	"github.com/birchlight/copilot/internal/twitch"
)

// requiredScopes covers everything the co-pilot does as the broadcaster:
// read and send chat, moderate, manage channel point rewards, send whispers,
// and edit stream metadata
var requiredScopes = []string{
	"chat:read",
	"chat:edit",
	"moderator:manage:banned_users",
	"moderator:manage:chat_messages",
	"channel:manage:redemptions",
	"user:manage:whispers",
	"channel:manage:broadcast",
}

type Config struct {
	TwitchChannelName  string `env:"TWITCH_CHANNEL_NAME" required:"true"`
	TwitchClientId     string `env:"TWITCH_CLIENT_ID" required:"true"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET" required:"true"`
	AuthPort           uint16 `env:"AUTH_PORT" default:"3033"`
	StateDbPath        string `env:"STATE_DB_PATH" default:"copilot.db"`
}

func main() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading .env file: %v", err)
	}
	config := Config{}
	if err := env.Set(&config); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	fmt.Printf("Configured for Twitch channel: %s\n", config.TwitchChannelName)

	// Open a browser and have the broadcaster grant the co-pilot's scopes,
	// capturing the resulting authorization code on a local callback server
	code, err := authflow.PromptForCodeGrant(context.Background(), config.TwitchClientId, requiredScopes, config.AuthPort)
	if err != nil {
		log.Fatalf("failed to get user authorization: %v", err)
	}

	// Exchange the code for a user access token and its refresh token
	client, err := helix.NewClient(&helix.Options{
		ClientID:     config.TwitchClientId,
		ClientSecret: config.TwitchClientSecret,
		RedirectURI:  fmt.Sprintf("http://localhost:%d/auth", config.AuthPort),
	})
	if err != nil {
		log.Fatalf("failed to initialize Twitch API client: %v", err)
	}
	res, err := client.RequestUserAccessToken(code.Value)
	if err == nil && res.StatusCode != http.StatusOK {
		err = fmt.Errorf("got status %d: %s", res.StatusCode, res.ErrorMessage)
	}
	if err != nil {
		log.Fatalf("failed to exchange authorization code: %v", err)
	}

	// Sanity-check the token by resolving the channel's user id with it
	client.SetUserAccessToken(res.Data.AccessToken)
	broadcasterID, err := twitch.GetChannelUserId(client, config.TwitchChannelName)
	if err != nil {
		log.Fatalf("failed to look up channel '%s' with the new token: %v", config.TwitchChannelName, err)
	}

	// Persist the refresh token; the co-pilot rotates it on every startup
	db, err := store.Open(config.StateDbPath)
	if err != nil {
		log.Fatalf("error opening state db: %v", err)
	}
	defer db.Close()
	if err := db.Set(context.Background(), "twitch.refresh_token", res.Data.RefreshToken); err != nil {
		log.Fatalf("error persisting refresh token: %v", err)
	}

	fmt.Printf("\nAuthorized as broadcaster %s (user id %s).\n", config.TwitchChannelName, broadcasterID)
	fmt.Printf("Refresh token saved to %s. The co-pilot is ready to run.\n", config.StateDbPath)
}
