package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codingconcepts/env"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/brain"
	"github.com/birchlight/copilot/internal/chat"
	"github.com/birchlight/copilot/internal/dispatch"
	"github.com/birchlight/copilot/internal/eventsub"
	"github.com/birchlight/copilot/internal/gamebridge"
	"github.com/birchlight/copilot/internal/history"
	"github.com/birchlight/copilot/internal/music"
	"github.com/birchlight/copilot/internal/panel"
	"github.com/birchlight/copilot/internal/preset"
	"github.com/birchlight/copilot/internal/rewards"
	"github.com/birchlight/copilot/internal/rules"
	"github.com/birchlight/copilot/internal/server"
	"github.com/birchlight/copilot/internal/speech"
	"github.com/birchlight/copilot/internal/store"
	"github.com/birchlight/copilot/internal/supervisor"
	"github.com/birchlight/copilot/internal/telemetry"
	"github.com/birchlight/copilot/internal/throttle"
	"github.com/birchlight/copilot/internal/tts"
	"github.com/birchlight/copilot/internal/twitch"
)

type Config struct {
	BindAddr   string `env:"BIND_ADDR"`
	ListenPort uint16 `env:"LISTEN_PORT" default:"5000"`

	TwitchChannelName  string `env:"TWITCH_CHANNEL_NAME" required:"true"`
	TwitchClientId     string `env:"TWITCH_CLIENT_ID" required:"true"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET" required:"true"`
	EventSubSocketUrl  string `env:"EVENTSUB_SOCKET_URL" default:"wss://eventsub.wss.twitch.tv/ws"`

	OpenAiToken   string `env:"OPENAI_API_KEY" required:"true"`
	OpenAiBaseUrl string `env:"OPENAI_BASE_URL"`
	LlmModel      string `env:"LLM_MODEL" default:"gpt-4o-mini"`
	LlmTimeout    int    `env:"LLM_TIMEOUT_SECONDS" default:"30"`
	Persona       string `env:"COPILOT_PERSONA" default:"You are a dry-witted co-pilot who helps run a Twitch stream."`
	RuleSummary   string `env:"CHANNEL_RULE_SUMMARY" default:"Be kind. No slurs, no spam, no unsolicited links."`

	GameBridgeUrl string `env:"GAME_BRIDGE_URL" default:"ws://localhost:8765"`
	SpeechUrl     string `env:"SPEECH_URL" default:"ws://localhost:8123"`
	TtsUrl        string `env:"TTS_URL" default:"http://localhost:5002"`
	TtsVoices     string `env:"TTS_VOICES" default:"en-US-JennyNeural@en,ru-RU-SvetlanaNeural@ru"`

	StateDbPath string `env:"STATE_DB_PATH" default:"copilot.db"`
	RulesPath   string `env:"RULES_PATH" default:"rules.json"`
	RewardsPath string `env:"REWARDS_PATH" default:"rewards.json"`
	PresetsPath string `env:"PRESETS_PATH" default:"presets.json"`

	HistorySize        int    `env:"HISTORY_SIZE" default:"50"`
	HateCooldown       int    `env:"HATE_COOLDOWN_SECONDS" default:"60"`
	LoveProtection     int    `env:"LOVE_PROTECTION_SECONDS" default:"60"`
	VoteSkipThreshold  int    `env:"VOTE_SKIP_THRESHOLD" default:"3"`
	ReconnectDelay     int    `env:"RECONNECT_DELAY_SECONDS" default:"5"`
	FlushInterval      int    `env:"FLUSH_INTERVAL_SECONDS" default:"1"`
	TickInterval       int    `env:"TICK_INTERVAL_SECONDS" default:"15"`
	MusicQueueCapacity int    `env:"MUSIC_QUEUE_CAPACITY" default:"256"`
	FallbackMusicUrl   string `env:"FALLBACK_MUSIC_URL" required:"true"`

	SoundEffects       string `env:"SOUND_EFFECTS" default:"airhorn,bonk,fanfare,reflect,blip"`
	ChatSound          string `env:"CHAT_SOUND"`
	SpeechTriggerWords string `env:"SPEECH_TRIGGER_WORDS" default:"copilot,wheatley"`
}

// countingLlm layers call/failure metrics over the OpenAI client
type countingLlm struct {
	inner   brain.Llm
	metrics *telemetry.Metrics
}

func (c *countingLlm) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	c.metrics.LlmCalls.Inc()
	reply, err := c.inner.Complete(ctx, messages, maxTokens, temperature)
	if err != nil {
		c.metrics.LlmFailures.Inc()
	}
	return reply, err
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
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, close := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM)
	defer close()

	db, err := store.Open(config.StateDbPath)
	if err != nil {
		log.Fatalf("error opening state db: %v", err)
	}
	defer db.Close()

	// Exchange the refresh token persisted by 'copilot-init' for a fresh
	// user access token, and persist the rotated refresh token right away
	refreshToken, err := db.Get(ctx, "twitch.refresh_token")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Fatalf("no Twitch credentials found: run copilot-init first")
		}
		log.Fatalf("error reading refresh token: %v", err)
	}
	helixClient, token, err := twitch.NewClientWithUserToken(config.TwitchClientId, config.TwitchClientSecret, refreshToken)
	if err != nil {
		log.Fatalf("error authenticating with Twitch: %v", err)
	}
	if err := db.Set(ctx, "twitch.refresh_token", token.RefreshToken); err != nil {
		log.Fatalf("error persisting rotated refresh token: %v", err)
	}
	broadcasterID, err := twitch.GetChannelUserId(helixClient, config.TwitchChannelName)
	if err != nil {
		log.Fatalf("error resolving broadcaster id for channel '%s': %v", config.TwitchChannelName, err)
	}
	api := twitch.NewApi(helixClient, broadcasterID)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	// Reconcile the reward definitions against the channel's live rewards
	definitions, err := rewards.LoadDefinitionsFile(config.RewardsPath)
	if err != nil {
		log.Fatalf("error loading reward definitions from %s: %v", config.RewardsPath, err)
	}
	rewardRegistry := rewards.NewRegistry(logger)
	if err := rewardRegistry.Reconcile(api, definitions); err != nil {
		log.Fatalf("error reconciling rewards: %v", err)
	}
	if err := rewardRegistry.SaveCache(ctx, db); err != nil {
		logger.Error("failed to snapshot reward registry", "err", err)
	}

	// Core state, all owned by the dispatcher goroutine once it starts
	buffer := history.NewBuffer(config.HistorySize)
	throttles := throttle.NewStore(
		time.Duration(config.HateCooldown)*time.Second,
		time.Duration(config.LoveProtection)*time.Second)

	// The dispatcher is created after the components that need to hand it
	// events; they reach it through this variable, which is assigned before
	// anything runs
	var dispatcher *dispatch.Dispatcher
	submit := func(ctx context.Context, ev dispatch.Event) error {
		return dispatcher.Submit(ctx, ev)
	}

	hub := panel.NewHub(func(ev panel.Event) {
		switch ev.Event {
		case panel.EventTrackStarted:
			_ = submit(context.Background(), dispatch.TrackStarted{Name: ev.Name})
		case panel.EventTrackCompleted:
			_ = submit(context.Background(), dispatch.TrackCompleted{Url: ev.Url})
		}
	}, logger)

	deck, err := store.OpenDeck(ctx, db, "music_queue", config.MusicQueueCapacity)
	if err != nil {
		log.Fatalf("error opening music queue: %v", err)
	}
	musicQueue := music.NewQueue(deck, hub, config.FallbackMusicUrl, config.VoteSkipThreshold, logger)

	engine := rules.NewEngine(broadcasterID)
	if err := engine.LoadFile(config.RulesPath); err != nil {
		log.Fatalf("error loading rules from %s: %v", config.RulesPath, err)
	}

	llm := &countingLlm{
		inner:   brain.NewOpenAiClient(config.OpenAiToken, config.OpenAiBaseUrl, config.LlmModel, time.Duration(config.LlmTimeout)*time.Second),
		metrics: metrics,
	}
	loop := brain.NewLoop(llm, buffer, brain.Config{
		Persona:         config.Persona,
		BroadcasterName: config.TwitchChannelName,
		RuleSummary:     config.RuleSummary,
	}, func(ctx context.Context, text string) error {
		return dispatcher.SendChatFunc()(ctx, text)
	}, logger)

	agent := chat.NewAgent(config.TwitchChannelName, config.TwitchChannelName, "oauth:"+token.AccessToken, func(m chat.IncomingMessage) {
		_ = submit(context.Background(), dispatch.ChatArrived{Message: history.Message{
			Timestamp: m.At,
			Username:  m.Username,
			UserID:    m.UserID,
			MessageID: m.ID,
			Text:      m.Text,
			Source:    history.SourceLive,
		}})
	})

	bridge := gamebridge.New(config.GameBridgeUrl)
	ttsClient := tts.NewClient(config.TtsUrl, parseVoices(config.TtsVoices))

	ask := func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
		return llm.Complete(ctx, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: config.Persona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		}, maxTokens, temperature)
	}
	executor := action.NewExecutor(action.Config{
		BroadcasterName: config.TwitchChannelName,
		AllowedSounds:   strings.Split(config.SoundEffects, ","),
	}, agent, api, musicQueue, throttles, hub, ttsClient, bridge, ask, logger)

	router := rewards.NewRouter(rewardRegistry, api, api.Whisper,
		func(ctx context.Context, d *action.Descriptor, redeemer string) error {
			if !executor.Execute(ctx, d, action.Origin{Username: redeemer}) {
				return fmt.Errorf("action %s failed", d.Kind)
			}
			return nil
		}, logger)
	router.SetStatusRecorder(func(status string) {
		metrics.Redemptions.WithLabelValues(status).Inc()
	})

	trigger, err := speech.NewTrigger(strings.Split(config.SpeechTriggerWords, ","))
	if err != nil {
		log.Fatalf("error building speech trigger: %v", err)
	}
	speechSource := speech.NewSource(config.SpeechUrl, func(f speech.Final) {
		_ = submit(context.Background(), dispatch.SpeechFinal{
			Phrase:     f.Phrase,
			Language:   f.Language,
			Confidence: f.Confidence,
		})
	}, logger)

	redemptionSource := eventsub.NewSource(helixClient, broadcasterID, config.EventSubSocketUrl, func(r eventsub.Redemption) {
		_ = submit(context.Background(), dispatch.RedemptionArrived{Redemption: r})
	}, logger)

	dispatcher = dispatch.New(dispatch.Config{
		BroadcasterName: config.TwitchChannelName,
		BroadcasterID:   broadcasterID,
		ChatSound:       config.ChatSound,
	}, buffer, engine, executor, loop, router, musicQueue, agent, hub, trigger, metrics, logger)

	manager := supervisor.New(db, func(ctx context.Context, name string, up bool) {
		_ = submit(ctx, dispatch.CapabilityStatusChanged{Name: name, Up: up})
	}, time.Duration(config.ReconnectDelay)*time.Second, logger)
	for _, c := range []struct {
		name       string
		capability supervisor.Capability
	}{
		{"chat", agent},
		{"redemptions", redemptionSource},
		{"gamebridge", bridge},
		{"speech", speechSource},
	} {
		if err := manager.Manage(ctx, c.name, c.capability); err != nil {
			log.Fatalf("error registering capability %s: %v", c.name, err)
		}
	}

	presets, err := preset.LoadFile(config.PresetsPath)
	if err != nil && !os.IsNotExist(err) {
		log.Fatalf("error loading presets from %s: %v", config.PresetsPath, err)
	}
	presetManager := preset.NewManager(presets, api, func(keys []string) error {
		return rewardRegistry.ApplyActive(api, keys)
	}, db, logger)
	if err := presetManager.Restore(ctx); err != nil {
		logger.Error("failed to restore preset", "err", err)
	}

	// Resume playback from the persisted queue; the overlay may not be
	// connected yet, in which case its first trackCompleted will retry
	if err := musicQueue.Prime(ctx); err != nil {
		logger.Info("music queue not primed", "err", err)
	}

	srv := server.New(manager, presetManager, submit, hub, registry, logger)
	addr := fmt.Sprintf("%s:%d", config.BindAddr, config.ListenPort)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	if err := engine.Watch(ctx, config.RulesPath, logger); err != nil {
		logger.Error("rules hot reload unavailable", "err", err)
	}

	logger.Info("co-pilot starting", "addr", addr, "channel", config.TwitchChannelName)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return dispatcher.RunTicker(ctx, time.Duration(config.TickInterval)*time.Second) })
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return deck.RunFlushLoop(ctx, time.Duration(config.FlushInterval)*time.Second) })
	g.Go(httpServer.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(context.Background())
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("error running co-pilot: %v", err)
	}
	logger.Info("co-pilot stopped")
}

// parseVoices reads "name@locale" pairs, first match per locale prefix wins
func parseVoices(value string) []tts.Voice {
	var voices []tts.Voice
	for _, pair := range strings.Split(value, ",") {
		name, locale, ok := strings.Cut(strings.TrimSpace(pair), "@")
		if !ok || name == "" {
			continue
		}
		voices = append(voices, tts.Voice{Name: name, Locale: locale})
	}
	return voices
}
