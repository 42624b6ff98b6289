// Package preset applies named bundles of stream metadata and active
// rewards.
package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Preset is one named bundle, loaded from the operator's presets file
type Preset struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	GameID        string   `json:"gameId"`
	Tags          []string `json:"tags,omitempty"`
	RewardsActive []string `json:"rewardsActive,omitempty"`
}

// ChannelEditor updates the channel's stream metadata
type ChannelEditor interface {
	UpdateChannel(title string, gameID string, tags []string) error
}

// ApplyRewardsFunc enables exactly the named rewards and disables the rest
type ApplyRewardsFunc func(keys []string) error

// KV persists the name of the last applied preset
type KV interface {
	Set(ctx context.Context, key string, value string) error
	GetOrDefault(ctx context.Context, key string, fallback string) (string, error)
}

const currentKey = "preset.current"

// LoadFile reads the operator's presets file, rejecting duplicate names
func LoadFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var presets []Preset
	if err := json.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}
	seen := make(map[string]bool, len(presets))
	for _, p := range presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset with empty name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return presets, nil
}

type Manager struct {
	presets      map[string]Preset
	names        []string
	editor       ChannelEditor
	applyRewards ApplyRewardsFunc
	kv           KV
	log          *slog.Logger
}

func NewManager(presets []Preset, editor ChannelEditor, applyRewards ApplyRewardsFunc, kv KV, log *slog.Logger) *Manager {
	byName := make(map[string]Preset, len(presets))
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		byName[p.Name] = p
		names = append(names, p.Name)
	}
	return &Manager{
		presets:      byName,
		names:        names,
		editor:       editor,
		applyRewards: applyRewards,
		kv:           kv,
		log:          log,
	}
}

// Names lists the available presets in file order
func (m *Manager) Names() []string {
	return append([]string(nil), m.names...)
}

// Current returns the name of the last applied preset, or "" if none
func (m *Manager) Current(ctx context.Context) (string, error) {
	return m.kv.GetOrDefault(ctx, currentKey, "")
}

// Apply edits the channel to match the named preset, activates its reward
// set, and records it as current
func (m *Manager) Apply(ctx context.Context, name string) error {
	p, ok := m.presets[name]
	if !ok {
		return fmt.Errorf("no preset named %q", name)
	}
	if err := m.editor.UpdateChannel(p.Title, p.GameID, p.Tags); err != nil {
		return fmt.Errorf("failed to update channel for preset %q: %w", name, err)
	}
	if err := m.applyRewards(p.RewardsActive); err != nil {
		return fmt.Errorf("failed to apply reward set for preset %q: %w", name, err)
	}
	if err := m.kv.Set(ctx, currentKey, name); err != nil {
		return fmt.Errorf("failed to record current preset: %w", err)
	}
	m.log.Info("applied preset", "name", name, "title", p.Title)
	return nil
}

// Restore re-applies the persisted current preset, if any
func (m *Manager) Restore(ctx context.Context) error {
	name, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return nil
	}
	if _, ok := m.presets[name]; !ok {
		m.log.Warn("persisted preset no longer exists", "name", name)
		return nil
	}
	return m.Apply(ctx, name)
}
