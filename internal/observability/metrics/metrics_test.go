package metrics

import (
	"context"
	"testing"

	"matterlink.ai/internal/sim/grid"
)

func TestWriteTickAccumulates(t *testing.T) {
	p := NewProvider()
	defer func() { _ = p.Shutdown(context.Background()) }()
	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	_ = m.WriteTick(grid.TickLogEntry{Tick: 20, Produced: "12", Distributed: "12", Bonuses: 2})
	_ = m.WriteTick(grid.TickLogEntry{
		Tick:       21,
		Produced:   "4",
		Converted:  30,
		CraftSpent: "1280",
		Crafts: []grid.RecordedCraft{
			{RecipeID: "iron_block", Crafted: 1, Spent: "1280"},
			{RecipeID: "iron_block", Code: "E_NO_EMC"},
		},
	})

	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	checks := map[string]int64{
		"emc_produced_total":       16,
		"emc_distributed_total":    12,
		"emc_craft_spent_total":    1280,
		"energy_converted_total":   30,
		"relay_bonus_grants_total": 2,
		"crafts_total":             2,
		"grid_tick":                21,
	}
	for name, want := range checks {
		if got := Sum(points, name); got != want {
			t.Fatalf("%s=%d want %d", name, got, want)
		}
	}
	for _, pt := range points {
		if pt.Name == "crafts_total" && pt.Attrs["code"] == "" {
			t.Fatalf("craft point without code: %+v", pt)
		}
	}
}

func collectSum(t *testing.T, p *Provider, name string) int64 {
	t.Helper()
	points, err := p.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return Sum(points, name)
}

func TestHugeAmountsSaturate(t *testing.T) {
	p := NewProvider()
	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	_ = m.WriteTick(grid.TickLogEntry{Tick: 1, Produced: "1237940039285380274899124224"})
	if got := collectSum(t, p, "emc_produced_total"); got != MaxReported {
		t.Fatalf("produced=%d", got)
	}
	if got := m.ProducedTotal().String(); got != "1237940039285380274899124224" {
		t.Fatalf("exact total=%s", got)
	}
}

func TestTotalsSaturateAcrossTicks(t *testing.T) {
	p := NewProvider()
	m, err := NewMetrics(p.Meter())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Just below the int64 limit on its own.
	_ = m.WriteTick(grid.TickLogEntry{Tick: 1, Distributed: "9223372036854775806"})
	if got := collectSum(t, p, "emc_distributed_total"); got != MaxReported {
		t.Fatalf("distributed=%d", got)
	}

	// Each tick fits, the running sum does not.
	_ = m.WriteTick(grid.TickLogEntry{Tick: 2, Produced: "9000000000000000000"})
	if got := collectSum(t, p, "emc_produced_total"); got != 9_000_000_000_000_000_000 {
		t.Fatalf("produced after one tick=%d", got)
	}
	_ = m.WriteTick(grid.TickLogEntry{Tick: 3, Produced: "9000000000000000000"})
	if got := collectSum(t, p, "emc_produced_total"); got != MaxReported {
		t.Fatalf("produced after two ticks=%d", got)
	}
	_ = m.WriteTick(grid.TickLogEntry{Tick: 4, Produced: "1"})
	if got := collectSum(t, p, "emc_produced_total"); got != MaxReported {
		t.Fatalf("produced after three ticks=%d", got)
	}
	if got := m.ProducedTotal().String(); got != "18000000000000000001" {
		t.Fatalf("exact total=%s", got)
	}

	// Repeated collections report the same cumulative value.
	if a, b := collectSum(t, p, "emc_produced_total"), collectSum(t, p, "emc_produced_total"); a != b {
		t.Fatalf("collections differ: %d %d", a, b)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
