// Package rewards maintains the co-pilot's registry of channel-point rewards
// and routes incoming redemptions to actions.
package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/birchlight/copilot/internal/action"
	"github.com/birchlight/copilot/internal/store"
	"github.com/birchlight/copilot/internal/twitch"
)

// Definition describes one reward the co-pilot manages, keyed by a stable
// local name ("hate", "music", ...) rather than the platform-assigned id
type Definition struct {
	Key               string            `json:"key"`
	Title             string            `json:"title"`
	Prompt            string            `json:"prompt,omitempty"`
	Cost              int               `json:"cost"`
	CooldownSeconds   int               `json:"cooldownSeconds,omitempty"`
	UserInputRequired bool              `json:"userInputRequired,omitempty"`
	Template          action.Descriptor `json:"template"`
}

// Entry is a Definition bound to the platform reward it was reconciled with
type Entry struct {
	Definition
	RewardID string

	// nextAllowedAt enforces the reward's global cooldown
	nextAllowedAt time.Time
}

const cacheKey = "rewards_cache"

// Registry maps platform reward ids and local keys to reward entries. It is
// built once by Reconcile and read by the router; mutation after startup
// happens only through ApplyActive, from the dispatcher goroutine.
type Registry struct {
	log   *slog.Logger
	byID  map[string]*Entry
	byKey map[string]*Entry
	keys  []string

	now func() time.Time
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:   log,
		byID:  make(map[string]*Entry),
		byKey: make(map[string]*Entry),
		now:   time.Now,
	}
}

// Reconcile binds each definition to a platform reward, adopting an existing
// reward whose title matches and creating the rest. Running it twice against
// the same platform state yields the same registry. Note that retitling a
// definition orphans the old platform reward and creates a new one.
func (r *Registry) Reconcile(client twitch.Rewards, definitions []Definition) error {
	existing, err := client.ListRewards()
	if err != nil {
		return fmt.Errorf("failed to list rewards: %w", err)
	}
	byTitle := make(map[string]twitch.Reward, len(existing))
	for _, reward := range existing {
		byTitle[reward.Title] = reward
	}
	for _, def := range definitions {
		if _, taken := r.byKey[def.Key]; taken {
			return fmt.Errorf("duplicate reward key %q", def.Key)
		}
		reward, ok := byTitle[def.Title]
		if ok {
			r.log.Info("adopted existing reward", "key", def.Key, "rewardId", reward.ID)
		} else {
			reward, err = client.CreateReward(twitch.Reward{
				Title:               def.Title,
				Prompt:              def.Prompt,
				Cost:                def.Cost,
				IsEnabled:           true,
				IsUserInputRequired: def.UserInputRequired,
			})
			if err != nil {
				return fmt.Errorf("failed to create reward %q: %w", def.Key, err)
			}
			r.log.Info("created reward", "key", def.Key, "rewardId", reward.ID)
		}
		entry := &Entry{Definition: def, RewardID: reward.ID}
		r.byID[reward.ID] = entry
		r.byKey[def.Key] = entry
		r.keys = append(r.keys, def.Key)
	}
	return nil
}

// ApplyActive enables exactly the rewards named by keys and disables the
// rest. Unknown keys are logged and skipped.
func (r *Registry) ApplyActive(client twitch.Rewards, keys []string) error {
	active := make(map[string]bool, len(keys))
	for _, key := range keys {
		if _, ok := r.byKey[key]; !ok {
			r.log.Warn("ignoring unknown reward key", "key", key)
			continue
		}
		active[key] = true
	}
	for _, key := range r.keys {
		entry := r.byKey[key]
		if err := client.SetRewardEnabled(entry.RewardID, active[key]); err != nil {
			return fmt.Errorf("failed to set reward %q enabled=%v: %w", key, active[key], err)
		}
	}
	return nil
}

// ByRewardID returns the entry bound to a platform reward id, if any
func (r *Registry) ByRewardID(rewardID string) (*Entry, bool) {
	entry, ok := r.byID[rewardID]
	return entry, ok
}

// ByKey returns the entry registered under a local key, if any
func (r *Registry) ByKey(key string) (*Entry, bool) {
	entry, ok := r.byKey[key]
	return entry, ok
}

// Keys returns the local keys in registration order
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// tryCooldown accepts or rejects an invocation of the entry's reward under
// its global cooldown, advancing the window on acceptance
func (r *Registry) tryCooldown(entry *Entry) bool {
	if entry.CooldownSeconds <= 0 {
		return true
	}
	now := r.now()
	if now.Before(entry.nextAllowedAt) {
		return false
	}
	entry.nextAllowedAt = now.Add(time.Duration(entry.CooldownSeconds) * time.Second)
	return true
}

// SaveCache snapshots the reward id to key binding so an operator can inspect
// or recover it without hitting the platform
func (r *Registry) SaveCache(ctx context.Context, db *store.DB) error {
	snapshot := make(map[string]string, len(r.byID))
	for id, entry := range r.byID {
		snapshot[id] = entry.Key
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return db.Set(ctx, cacheKey, string(data))
}
