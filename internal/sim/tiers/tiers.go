// Package tiers is the ordered rank table that drives production, relay bonus
// and relay throughput. The table is built once at startup and only read after.
package tiers

import (
	"fmt"
	"strings"
)

// Tier is an ordinal into a Table.
type Tier uint8

const (
	Basic Tier = iota
	Dark
	Red
	Magenta
	Pink
	Purple
	Violet
	Blue
	Cyan
	Green
	Lime
	Yellow

	Count = int(Yellow) + 1
)

var names = [Count]string{
	"BASIC", "DARK", "RED", "MAGENTA", "PINK", "PURPLE",
	"VIOLET", "BLUE", "CYAN", "GREEN", "LIME", "YELLOW",
}

func (t Tier) String() string {
	if int(t) < Count {
		return names[t]
	}
	return fmt.Sprintf("TIER(%d)", uint8(t))
}

func (t Tier) Valid() bool { return int(t) < Count }

// Next returns the tier one rank up. Upgrades never skip ranks.
func (t Tier) Next() (Tier, bool) {
	if int(t)+1 >= Count {
		return t, false
	}
	return t + 1, true
}

func (t Tier) Prev() (Tier, bool) {
	if t == 0 || !t.Valid() {
		return t, false
	}
	return t - 1, true
}

// Parse accepts a tier name in any case.
func Parse(s string) (Tier, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range names {
		if n == up {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Stats are the per-tier constants.
type Stats struct {
	// CollectorOutput is added to a collector's ledger once per production period.
	CollectorOutput int64
	// RelayBonus is the EMC a relay earns per period for each 'period' bonus ticks it holds.
	RelayBonus int64
	// RelayTransfer caps what a relay accepts in one call.
	RelayTransfer int64
}

// PowerFlowerOutput is what a power flower of this rank produces per period.
func (s Stats) PowerFlowerOutput() int64 {
	return s.CollectorOutput*18 + s.RelayBonus*30
}

// Table is an immutable rank table. The zero value is unusable; use Default or New.
type Table struct {
	stats [Count]Stats
}

var defaultStats = [Count]Stats{
	{CollectorOutput: 4, RelayBonus: 1, RelayTransfer: 64},
	{CollectorOutput: 12, RelayBonus: 3, RelayTransfer: 192},
	{CollectorOutput: 40, RelayBonus: 10, RelayTransfer: 640},
	{CollectorOutput: 160, RelayBonus: 40, RelayTransfer: 2560},
	{CollectorOutput: 640, RelayBonus: 150, RelayTransfer: 10240},
	{CollectorOutput: 2560, RelayBonus: 750, RelayTransfer: 40960},
	{CollectorOutput: 10240, RelayBonus: 3750, RelayTransfer: 163840},
	{CollectorOutput: 40960, RelayBonus: 15000, RelayTransfer: 655360},
	{CollectorOutput: 163840, RelayBonus: 60000, RelayTransfer: 2621440},
	{CollectorOutput: 655360, RelayBonus: 240000, RelayTransfer: 10485760},
	{CollectorOutput: 2621440, RelayBonus: 960000, RelayTransfer: 41943040},
	{CollectorOutput: 10485760, RelayBonus: 3840000, RelayTransfer: 167772160},
}

var defaultTable = &Table{stats: defaultStats}

// Default returns the shared built-in table.
func Default() *Table { return defaultTable }

// New builds a table from the defaults with per-tier overrides applied.
// Overrides must keep every rate positive and non-decreasing by rank.
func New(overrides map[Tier]Stats) (*Table, error) {
	t := &Table{stats: defaultStats}
	for tier, s := range overrides {
		if !tier.Valid() {
			return nil, fmt.Errorf("tiers: invalid ordinal %d", tier)
		}
		t.stats[tier] = s
	}
	for i, s := range t.stats {
		if s.CollectorOutput <= 0 || s.RelayBonus < 0 || s.RelayTransfer <= 0 {
			return nil, fmt.Errorf("tiers: %s has non-positive rates", Tier(i))
		}
		if i > 0 {
			p := t.stats[i-1]
			if s.CollectorOutput < p.CollectorOutput || s.RelayTransfer < p.RelayTransfer {
				return nil, fmt.Errorf("tiers: %s is weaker than %s", Tier(i), Tier(i-1))
			}
		}
	}
	return t, nil
}

// Stats returns the constants for t. Out-of-range tiers report the top rank.
func (tb *Table) Stats(t Tier) Stats {
	if !t.Valid() {
		return tb.stats[Count-1]
	}
	return tb.stats[t]
}

// All returns the tiers in rank order.
func All() []Tier {
	out := make([]Tier, Count)
	for i := range out {
		out[i] = Tier(i)
	}
	return out
}
