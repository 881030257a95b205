// Package metrics exports grid tick totals as OpenTelemetry instruments.
package metrics

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/grid"
)

const meterName = "matterlink.ai/grid"

// MaxReported is the ceiling of every exported total. The SDK aggregates
// int64 points through float64, so this is the largest int64 that survives
// the round trip; larger totals are reported as MaxReported.
const MaxReported int64 = 1<<63 - 1024

const (
	totalProduced = iota
	totalDistributed
	totalFlushed
	totalCharged
	totalCraftSpent
	totalConverted
	numTotals
)

// Metrics is a grid.TickLogger. Amount totals are kept exactly and observed
// at collection time, clamped to MaxReported.
type Metrics struct {
	Produced    metric.Int64ObservableCounter
	Distributed metric.Int64ObservableCounter
	Flushed     metric.Int64ObservableCounter
	Charged     metric.Int64ObservableCounter
	CraftSpent  metric.Int64ObservableCounter
	// Converted is in external energy units, not EMC.
	Converted metric.Int64ObservableCounter
	Bonuses   metric.Int64Counter
	Crafts    metric.Int64Counter
	Tick      metric.Int64Gauge

	mu     sync.Mutex
	totals [numTotals]*big.Int
	reg    metric.Registration
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	for i := range m.totals {
		m.totals[i] = new(big.Int)
	}
	observed := []struct {
		dst  *metric.Int64ObservableCounter
		name string
		desc string
		unit string
	}{
		totalProduced:    {&m.Produced, "emc_produced_total", "EMC created by collectors, relays and flowers", "{emc}"},
		totalDistributed: {&m.Distributed, "emc_distributed_total", "EMC moved from producers into neighbors", "{emc}"},
		totalFlushed:     {&m.Flushed, "emc_flushed_total", "EMC flushed from links and flowers to owners", "{emc}"},
		totalCharged:     {&m.Charged, "emc_star_charged_total", "EMC moved from wallets into stars", "{emc}"},
		totalCraftSpent:  {&m.CraftSpent, "emc_craft_spent_total", "EMC spent covering crafting shortfalls", "{emc}"},
		totalConverted:   {&m.Converted, "energy_converted_total", "External energy units extracted through links", "{unit}"},
	}
	insts := make([]metric.Observable, numTotals)
	for i, c := range observed {
		inst, err := meter.Int64ObservableCounter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
		insts[i] = inst
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range observed {
			o.ObserveInt64(*c.dst, clampReported(m.totals[i]))
		}
		return nil
	}, insts...)
	if err != nil {
		return nil, err
	}
	m.reg = reg

	m.Bonuses, err = meter.Int64Counter("relay_bonus_grants_total", metric.WithDescription("Relay bonus grants"), metric.WithUnit("{grant}"))
	if err != nil {
		return nil, err
	}
	m.Crafts, err = meter.Int64Counter("crafts_total", metric.WithDescription("Craft requests by recipe and outcome"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	m.Tick, err = meter.Int64Gauge("grid_tick", metric.WithDescription("Last completed tick"))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) WriteTick(e grid.TickLogEntry) error {
	ctx := context.Background()
	m.mu.Lock()
	m.addAmount(totalProduced, e.Produced)
	m.addAmount(totalDistributed, e.Distributed)
	m.addAmount(totalFlushed, e.Flushed)
	m.addAmount(totalCharged, e.Charged)
	m.addAmount(totalCraftSpent, e.CraftSpent)
	if e.Converted > 0 {
		m.totals[totalConverted].Add(m.totals[totalConverted], big.NewInt(e.Converted))
	}
	m.mu.Unlock()

	if e.Bonuses > 0 {
		m.Bonuses.Add(ctx, int64(e.Bonuses))
	}
	for _, c := range e.Crafts {
		code := c.Code
		if code == "" {
			code = "OK"
		}
		m.Crafts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("recipe_id", c.RecipeID),
			attribute.String("code", code),
		))
	}
	m.Tick.Record(ctx, int64(e.Tick))
	return nil
}

// ProducedTotal is the exact EMC produced since start.
func (m *Metrics) ProducedTotal() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.totals[totalProduced])
}

// Close stops observing the totals.
func (m *Metrics) Close() error {
	if m.reg == nil {
		return nil
	}
	return m.reg.Unregister()
}

func (m *Metrics) addAmount(i int, s string) {
	if s == "" || s == "0" {
		return
	}
	v, err := emc.Parse(s)
	if err != nil || v.Sign() <= 0 {
		return
	}
	m.totals[i].Add(m.totals[i], v)
}

func clampReported(v *big.Int) int64 {
	return min(emc.ClampInt64(v), MaxReported)
}

// Provider owns an in-process meter provider whose readings are pulled on
// demand, e.g. by the /metrics endpoint.
type Provider struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func NewProvider() *Provider {
	r := sdkmetric.NewManualReader()
	return &Provider{
		reader:   r,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(r)),
	}
}

func (p *Provider) Meter() metric.Meter { return p.provider.Meter(meterName) }

func (p *Provider) Shutdown(ctx context.Context) error { return p.provider.Shutdown(ctx) }

// Point is one collected series.
type Point struct {
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs,omitempty"`
	Value int64             `json:"value"`
}

// Collect reads every int64 sum and gauge, sorted by name.
func (p *Provider) Collect(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch d := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range d.DataPoints {
					out = append(out, Point{Name: m.Name, Attrs: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range d.DataPoints {
					out = append(out, Point{Name: m.Name, Attrs: attrMap(dp.Attributes), Value: dp.Value})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	for _, kv := range set.ToSlice() {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

// Sum adds every point named name.
func Sum(points []Point, name string) int64 {
	var n int64
	for _, p := range points {
		if p.Name == name {
			n += p.Value
		}
	}
	return n
}

var _ grid.TickLogger = (*Metrics)(nil)
