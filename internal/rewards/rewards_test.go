package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/eventsub"
	"github.com/birchlight/copilot/internal/twitch"
)

type mockRewardsClient struct {
	rewards      []twitch.Reward
	nextID       int
	enabledCalls map[string]bool
	statuses     []settledStatus
	failCreate   bool
}

type settledStatus struct {
	rewardID     string
	redemptionID string
	status       string
}

func (m *mockRewardsClient) ListRewards() ([]twitch.Reward, error) {
	return append([]twitch.Reward(nil), m.rewards...), nil
}

func (m *mockRewardsClient) CreateReward(spec twitch.Reward) (twitch.Reward, error) {
	if m.failCreate {
		return twitch.Reward{}, fmt.Errorf("mock create failure")
	}
	m.nextID++
	spec.ID = fmt.Sprintf("reward-%d", m.nextID)
	m.rewards = append(m.rewards, spec)
	return spec, nil
}

func (m *mockRewardsClient) SetRewardEnabled(rewardID string, enabled bool) error {
	if m.enabledCalls == nil {
		m.enabledCalls = make(map[string]bool)
	}
	m.enabledCalls[rewardID] = enabled
	return nil
}

func (m *mockRewardsClient) SetRedemptionStatus(rewardID string, redemptionID string, status string) error {
	m.statuses = append(m.statuses, settledStatus{rewardID, redemptionID, status})
	return nil
}

func testDefinitions() []Definition {
	return []Definition{
		{
			Key:   "hate",
			Title: "Smite the streamer",
			Cost:  100,
			Template: action.Descriptor{
				Kind: action.KindHate,
			},
		},
		{
			Key:               "music",
			Title:             "Queue a song",
			Cost:              250,
			UserInputRequired: true,
			Template: action.Descriptor{
				Kind:       action.KindQueueMusic,
				QueueMusic: &action.QueueMusicDetails{Url: action.PlaceholderInput},
			},
		},
		{
			Key:             "voice",
			Title:           "Make the co-pilot speak",
			Cost:            500,
			CooldownSeconds: 120,
			Template: action.Descriptor{
				Kind:  action.KindVoice,
				Voice: &action.VoiceDetails{Text: action.PlaceholderInput},
			},
		},
	}
}

func TestReconcile(t *testing.T) {
	t.Run("adopts existing rewards by title and creates the rest", func(t *testing.T) {
		client := &mockRewardsClient{
			rewards: []twitch.Reward{
				{ID: "preexisting", Title: "Queue a song", Cost: 999},
			},
		}
		r := NewRegistry(slog.Default())
		require.NoError(t, r.Reconcile(client, testDefinitions()))

		music, ok := r.ByKey("music")
		require.True(t, ok)
		assert.Equal(t, "preexisting", music.RewardID)

		hate, ok := r.ByKey("hate")
		require.True(t, ok)
		assert.Equal(t, "reward-1", hate.RewardID)

		byID, ok := r.ByRewardID("preexisting")
		require.True(t, ok)
		assert.Equal(t, "music", byID.Key)
		assert.Equal(t, []string{"hate", "music", "voice"}, r.Keys())
	})

	t.Run("is idempotent against the resulting platform state", func(t *testing.T) {
		client := &mockRewardsClient{}
		first := NewRegistry(slog.Default())
		require.NoError(t, first.Reconcile(client, testDefinitions()))
		created := len(client.rewards)

		second := NewRegistry(slog.Default())
		require.NoError(t, second.Reconcile(client, testDefinitions()))
		assert.Equal(t, created, len(client.rewards))
		for _, key := range first.Keys() {
			a, _ := first.ByKey(key)
			b, _ := second.ByKey(key)
			assert.Equal(t, a.RewardID, b.RewardID)
		}
	})

	t.Run("rejects duplicate keys", func(t *testing.T) {
		defs := testDefinitions()
		defs = append(defs, Definition{Key: "hate", Title: "Smite again"})
		r := NewRegistry(slog.Default())
		assert.Error(t, r.Reconcile(&mockRewardsClient{}, defs))
	})
}

func TestApplyActive(t *testing.T) {
	client := &mockRewardsClient{}
	r := NewRegistry(slog.Default())
	require.NoError(t, r.Reconcile(client, testDefinitions()))
	require.NoError(t, r.ApplyActive(client, []string{"music", "no-such-key"}))

	music, _ := r.ByKey("music")
	hate, _ := r.ByKey("hate")
	voice, _ := r.ByKey("voice")
	assert.True(t, client.enabledCalls[music.RewardID])
	assert.False(t, client.enabledCalls[hate.RewardID])
	assert.False(t, client.enabledCalls[voice.RewardID])
}

type routerHarness struct {
	client   *mockRewardsClient
	registry *Registry
	router   *Router
	executed []*action.Descriptor
	whispers []string
	recorded []string
	execErr  error
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	h := &routerHarness{client: &mockRewardsClient{}}
	h.registry = NewRegistry(slog.Default())
	require.NoError(t, h.registry.Reconcile(h.client, testDefinitions()))
	h.router = NewRouter(h.registry, h.client,
		func(toUserID string, text string) error {
			h.whispers = append(h.whispers, text)
			return nil
		},
		func(ctx context.Context, d *action.Descriptor, redeemer string) error {
			if h.execErr != nil {
				return h.execErr
			}
			h.executed = append(h.executed, d)
			return nil
		},
		slog.Default())
	h.router.SetStatusRecorder(func(status string) {
		h.recorded = append(h.recorded, status)
	})
	return h
}

func (h *routerHarness) redeem(key string, userInput string) eventsub.Redemption {
	entry, _ := h.registry.ByKey(key)
	return eventsub.Redemption{
		RedemptionID: "redemption-1",
		RewardID:     entry.RewardID,
		UserID:       "90790",
		UserName:     "someviewer",
		UserInput:    userInput,
	}
}

func TestRoute(t *testing.T) {
	t.Run("fulfills a valid music redemption", func(t *testing.T) {
		h := newRouterHarness(t)
		h.router.Route(context.Background(), h.redeem("music", "https://music.yandex.ru/album/1/track/2"))

		require.Len(t, h.executed, 1)
		assert.Equal(t, action.KindQueueMusic, h.executed[0].Kind)
		assert.Equal(t, "https://music.yandex.ru/album/1/track/2", h.executed[0].QueueMusic.Url)
		require.Len(t, h.client.statuses, 1)
		assert.Equal(t, twitch.RedemptionStatusFulfilled, h.client.statuses[0].status)
		assert.Empty(t, h.whispers)
	})

	t.Run("cancels and whispers on invalid music input", func(t *testing.T) {
		h := newRouterHarness(t)
		h.router.Route(context.Background(), h.redeem("music", "not a url"))

		assert.Empty(t, h.executed)
		require.Len(t, h.client.statuses, 1)
		assert.Equal(t, twitch.RedemptionStatusCanceled, h.client.statuses[0].status)
		require.Len(t, h.whispers, 1)
		assert.Contains(t, h.whispers[0], "refunded")
	})

	t.Run("cancels redemptions for unknown rewards", func(t *testing.T) {
		h := newRouterHarness(t)
		h.router.Route(context.Background(), eventsub.Redemption{
			RedemptionID: "redemption-2",
			RewardID:     "somebody-elses-reward",
			UserName:     "someviewer",
		})
		assert.Empty(t, h.executed)
		require.Len(t, h.client.statuses, 1)
		assert.Equal(t, twitch.RedemptionStatusCanceled, h.client.statuses[0].status)
	})

	t.Run("cancels when the action fails", func(t *testing.T) {
		h := newRouterHarness(t)
		h.execErr = fmt.Errorf("mock action failure")
		h.router.Route(context.Background(), h.redeem("hate", ""))
		require.Len(t, h.client.statuses, 1)
		assert.Equal(t, twitch.RedemptionStatusCanceled, h.client.statuses[0].status)
	})

	t.Run("enforces the global cooldown", func(t *testing.T) {
		h := newRouterHarness(t)
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		h.registry.now = func() time.Time { return now }

		h.router.Route(context.Background(), h.redeem("voice", "hello chat"))
		now = now.Add(30 * time.Second)
		h.router.Route(context.Background(), h.redeem("voice", "hello again"))
		now = now.Add(100 * time.Second)
		h.router.Route(context.Background(), h.redeem("voice", "third time"))

		require.Len(t, h.executed, 2)
		require.Len(t, h.client.statuses, 3)
		assert.Equal(t, twitch.RedemptionStatusFulfilled, h.client.statuses[0].status)
		assert.Equal(t, twitch.RedemptionStatusCanceled, h.client.statuses[1].status)
		assert.Equal(t, twitch.RedemptionStatusFulfilled, h.client.statuses[2].status)
		assert.Equal(t, []string{
			twitch.RedemptionStatusFulfilled,
			twitch.RedemptionStatusCanceled,
			twitch.RedemptionStatusFulfilled,
		}, h.recorded)
	})
}
