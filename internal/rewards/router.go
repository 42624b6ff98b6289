package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/eventsub"
	"github.com/birchlight/copilot/internal/twitch"
)

// ExecuteFunc carries an instantiated action back to the dispatcher, which
// decides when to run it. A non-nil error cancels the redemption.
type ExecuteFunc func(ctx context.Context, d *action.Descriptor, redeemer string) error

// Router turns incoming redemptions into actions, settling each redemption's
// platform status exactly once as FULFILLED or CANCELED
type Router struct {
	registry *Registry
	client   twitch.Rewards
	whisper  func(toUserID string, text string) error
	execute  ExecuteFunc
	musicUrl *regexp.Regexp
	record   func(status string)
	log      *slog.Logger
}

func NewRouter(registry *Registry, client twitch.Rewards, whisper func(toUserID string, text string) error, execute ExecuteFunc, log *slog.Logger) *Router {
	return &Router{
		registry: registry,
		client:   client,
		whisper:  whisper,
		execute:  execute,
		musicUrl: action.DefaultMusicUrlPattern,
		log:      log,
	}
}

// SetMusicUrlPattern overrides the pattern a queue_music redemption's input
// must match
func (r *Router) SetMusicUrlPattern(pattern *regexp.Regexp) {
	r.musicUrl = pattern
}

// SetStatusRecorder registers a callback invoked with the settled status of
// every routed redemption
func (r *Router) SetStatusRecorder(record func(status string)) {
	r.record = record
}

// Route handles one redemption end to end. It always settles the
// redemption's status; settlement failures are logged but not retried.
func (r *Router) Route(ctx context.Context, redemption eventsub.Redemption) {
	entry, ok := r.registry.ByRewardID(redemption.RewardID)
	if !ok {
		r.log.Warn("redemption for unknown reward",
			"rewardId", redemption.RewardID, "user", redemption.UserName)
		r.settle(redemption, twitch.RedemptionStatusCanceled)
		return
	}
	if !r.registry.tryCooldown(entry) {
		r.log.Info("redemption rejected by cooldown",
			"key", entry.Key, "user", redemption.UserName)
		r.settle(redemption, twitch.RedemptionStatusCanceled)
		return
	}
	descriptor := entry.Template.Instantiate(redemption.UserName, redemption.UserInput)
	if err := r.validate(descriptor); err != nil {
		r.log.Info("redemption input rejected",
			"key", entry.Key, "user", redemption.UserName, "err", err)
		if whisperErr := r.whisper(redemption.UserID, fmt.Sprintf("Your '%s' redemption was refunded: %s", entry.Title, err)); whisperErr != nil {
			r.log.Error("failed to whisper redeemer", "err", whisperErr)
		}
		r.settle(redemption, twitch.RedemptionStatusCanceled)
		return
	}
	if err := r.execute(ctx, descriptor, redemption.UserName); err != nil {
		r.log.Error("redemption action failed",
			"key", entry.Key, "user", redemption.UserName, "err", err)
		r.settle(redemption, twitch.RedemptionStatusCanceled)
		return
	}
	r.settle(redemption, twitch.RedemptionStatusFulfilled)
}

func (r *Router) validate(d *action.Descriptor) error {
	switch d.Kind {
	case action.KindQueueMusic:
		if d.QueueMusic == nil || !r.musicUrl.MatchString(d.QueueMusic.Url) {
			return fmt.Errorf("that doesn't look like a track link")
		}
	case action.KindVoice:
		if d.Voice == nil || d.Voice.Text == "" {
			return fmt.Errorf("nothing to say")
		}
	case action.KindNeuroAsk:
		if d.NeuroAsk == nil || d.NeuroAsk.Prompt == "" {
			return fmt.Errorf("nothing to ask")
		}
	}
	return nil
}

func (r *Router) settle(redemption eventsub.Redemption, status string) {
	if r.record != nil {
		r.record(status)
	}
	if err := r.client.SetRedemptionStatus(redemption.RewardID, redemption.RedemptionID, status); err != nil {
		r.log.Error("failed to settle redemption",
			"redemptionId", redemption.RedemptionID, "status", status, "err", err)
	}
}
