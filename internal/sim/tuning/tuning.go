package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"matterlink.ai/internal/sim/tiers"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	// PeriodTicks is the production/distribution cadence of every producer.
	PeriodTicks int `yaml:"period_ticks"`
	// LinkFlushTicks is how often links push their buffer to the owner.
	LinkFlushTicks int `yaml:"link_flush_ticks"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Bonus    BonusTuning              `yaml:"bonus"`
	Channels map[string]ChannelTuning `yaml:"channels"`
	Tiers    map[string]TierTuning    `yaml:"tiers,omitempty"`

	// StarChargePerTick is the EMC moved from a player into a held star each tick.
	StarChargePerTick int64 `yaml:"star_charge_per_tick"`
	DefaultStackLimit int   `yaml:"default_stack_limit"`
}

// BonusTuning sets how many bonus ticks each relay kind receives per eligible cycle.
type BonusTuning struct {
	RelayTicks    int `yaml:"relay_ticks"`
	RelayMK1Ticks int `yaml:"relay_mk1_ticks"`
}

type ChannelTuning struct {
	// Ratio is external units per EMC.
	Ratio int64 `yaml:"ratio"`
	// MaxPerTick caps external units moved per call.
	MaxPerTick    int64 `yaml:"max_per_tick"`
	Bidirectional bool  `yaml:"bidirectional,omitempty"`
}

type TierTuning struct {
	CollectorOutput int64 `yaml:"collector_output"`
	RelayBonus      int64 `yaml:"relay_bonus"`
	RelayTransfer   int64 `yaml:"relay_transfer"`
}

const (
	ChannelEnergyLink           = "energy_link"
	ChannelCompressedEnergyLink = "compressed_energy_link"
)

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		PeriodTicks:        20,
		LinkFlushTicks:     20,
		SnapshotEveryTicks: 6000,
		Bonus: BonusTuning{
			RelayTicks:    1,
			RelayMK1Ticks: 20,
		},
		Channels: map[string]ChannelTuning{
			ChannelEnergyLink:           {Ratio: 10, MaxPerTick: 10_000},
			ChannelCompressedEnergyLink: {Ratio: 1000, MaxPerTick: 1_000_000},
		},
		StarChargePerTick: 1000,
		DefaultStackLimit: 64,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.Channels == nil {
		t.Channels = map[string]ChannelTuning{}
	}
	for name, ch := range Defaults().Channels {
		if _, ok := t.Channels[name]; !ok {
			t.Channels[name] = ch
		}
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0"))
	}
	// Phases are persisted as a single byte.
	if t.PeriodTicks <= 0 || t.PeriodTicks > 255 {
		errs = append(errs, fmt.Errorf("period_ticks must be in 1..255"))
	}
	if t.LinkFlushTicks <= 0 || t.LinkFlushTicks > 255 {
		errs = append(errs, fmt.Errorf("link_flush_ticks must be in 1..255"))
	}
	if t.Bonus.RelayTicks < 0 || t.Bonus.RelayMK1Ticks < 0 {
		errs = append(errs, fmt.Errorf("bonus ticks must be >= 0"))
	}
	for name, ch := range t.Channels {
		if ch.Ratio <= 0 || ch.MaxPerTick <= 0 {
			errs = append(errs, fmt.Errorf("channel %s: ratio and max_per_tick must be > 0", name))
		}
	}
	if t.StarChargePerTick < 0 {
		errs = append(errs, fmt.Errorf("star_charge_per_tick must be >= 0"))
	}
	if t.DefaultStackLimit <= 0 {
		errs = append(errs, fmt.Errorf("default_stack_limit must be > 0"))
	}
	if _, err := t.TierTable(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TierTable builds the immutable rank table with this tuning's overrides.
func (t Tuning) TierTable() (*tiers.Table, error) {
	if len(t.Tiers) == 0 {
		return tiers.Default(), nil
	}
	over := make(map[tiers.Tier]tiers.Stats, len(t.Tiers))
	for name, tt := range t.Tiers {
		tier, err := tiers.Parse(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		over[tier] = tiers.Stats{
			CollectorOutput: tt.CollectorOutput,
			RelayBonus:      tt.RelayBonus,
			RelayTransfer:   tt.RelayTransfer,
		}
	}
	return tiers.New(over)
}

// Channel returns the named channel, falling back to the built-in defaults.
func (t Tuning) Channel(name string) (ChannelTuning, bool) {
	if ch, ok := t.Channels[name]; ok {
		return ch, true
	}
	ch, ok := Defaults().Channels[name]
	return ch, ok
}
