// Package grid hosts block entities on integer positions and drives them one
// tick at a time. A Grid is owned by a single goroutine (see Run); every other
// goroutine talks to it through the request methods.
package grid

import (
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/logic/convert"
	"matterlink.ai/internal/sim/logic/distribute"
	"matterlink.ai/internal/sim/players"
	"matterlink.ai/internal/sim/tiers"
	"matterlink.ai/internal/sim/tuning"
)

type Config struct {
	ID     string
	Tuning tuning.Tuning
	// Mirror grids hold state for reading only; Step is a no-op.
	Mirror bool
}

type Grid struct {
	cfg   Config
	tiers *tiers.Table
	cats  *catalogs.Catalogs

	players *players.Registry
	blocks  map[Pos]Block
	order   []Pos

	tick atomic.Uint64

	pendingSpent  *big.Int
	pendingCrafts []RecordedCraft

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	tickLogErrors  atomic.Uint64
	auditLogErrors atomic.Uint64

	stop        chan struct{}
	admin       chan adminSnapshotReq
	craftReq    chan craftReq
	presenceReq chan presenceReq

	metricsMu sync.RWMutex
	metrics   GridMetrics
}

// Spec describes a block to place.
type Spec struct {
	Kind  Kind
	Tier  tiers.Tier
	Owner uuid.UUID
	// Demand is the per-tick pull of a machine, in external units.
	Demand int64
}

func New(cfg Config, cats *catalogs.Catalogs) (*Grid, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	table, err := cfg.Tuning.TierTable()
	if err != nil {
		return nil, fmt.Errorf("tier table: %w", err)
	}
	return &Grid{
		cfg:          cfg,
		tiers:        table,
		cats:         cats,
		players:      players.NewRegistry(),
		blocks:       map[Pos]Block{},
		pendingSpent: new(big.Int),
		stop:         make(chan struct{}),
		admin:        make(chan adminSnapshotReq, 16),
		craftReq:     make(chan craftReq, 64),
		presenceReq:  make(chan presenceReq, 64),
	}, nil
}

func (g *Grid) ID() string                 { return g.cfg.ID }
func (g *Grid) Mirror() bool               { return g.cfg.Mirror }
func (g *Grid) Tiers() *tiers.Table        { return g.tiers }
func (g *Grid) Players() *players.Registry { return g.players }
func (g *Grid) CurrentTick() uint64        { return g.tick.Load() }
func (g *Grid) TickRateHz() int            { return g.cfg.Tuning.TickRateHz }

func (g *Grid) SetTickLogger(l TickLogger)                    { g.tickLogger = l }
func (g *Grid) SetAuditLogger(l AuditLogger)                  { g.auditLogger = l }
func (g *Grid) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { g.snapshotSink = ch }

// AddAccount registers a player. Accounts must exist before owned blocks
// referencing them are placed.
func (g *Grid) AddAccount(a *players.Account) error { return g.players.Add(a) }

func (g *Grid) Place(pos Pos, spec Spec) (Block, error) {
	if _, ok := g.blocks[pos]; ok {
		return nil, fmt.Errorf("%w: %s", ErrOccupied, pos)
	}
	b, err := g.newBlock(spec)
	if err != nil {
		return nil, err
	}
	g.blocks[pos] = b
	g.reindex()
	return b, nil
}

func (g *Grid) Remove(pos Pos) (Block, bool) {
	b, ok := g.blocks[pos]
	if !ok {
		return nil, false
	}
	delete(g.blocks, pos)
	g.reindex()
	return b, true
}

func (g *Grid) BlockAt(pos Pos) (Block, bool) {
	b, ok := g.blocks[pos]
	return b, ok
}

// Positions lists occupied positions in tick order.
func (g *Grid) Positions() []Pos {
	out := make([]Pos, len(g.order))
	copy(out, g.order)
	return out
}

// Neighbors returns the adjacent blocks in Dirs order; empty cells are nil.
func (g *Grid) Neighbors(pos Pos) [6]Block {
	var out [6]Block
	for i, d := range Dirs {
		if b, ok := g.blocks[pos.Add(d.Offset())]; ok {
			out[i] = b
		}
	}
	return out
}

// EnergyAt returns the external power capability of the block at pos, if any.
func (g *Grid) EnergyAt(pos Pos) (convert.EnergyStorage, bool) {
	p, ok := g.blocks[pos].(energyProvider)
	if !ok {
		return nil, false
	}
	es := p.Energy()
	return es, es != nil
}

func (g *Grid) sinksAround(pos Pos) []distribute.Sink {
	out := make([]distribute.Sink, len(Dirs))
	for i, d := range Dirs {
		if s, ok := g.blocks[pos.Add(d.Offset())].(distribute.Sink); ok {
			out[i] = s
		}
	}
	return out
}

func (g *Grid) reindex() {
	g.order = g.order[:0]
	for p := range g.blocks {
		g.order = append(g.order, p)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i].Less(g.order[j]) })
}

func (g *Grid) newBlock(spec Spec) (Block, error) {
	if !spec.Tier.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, spec.Tier)
	}
	if spec.Kind.Owned() {
		if _, ok := g.players.Get(spec.Owner); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, spec.Owner)
		}
	}
	st := g.tiers.Stats(spec.Tier)
	b := base{kind: spec.Kind, tier: spec.Tier, owner: spec.Owner, ledger: emc.NewLedger()}

	switch spec.Kind {
	case KindCollector:
		return &Collector{base: b, output: st.CollectorOutput}, nil
	case KindRelay:
		return &Relay{base: b, transfer: st.RelayTransfer, bonusRate: st.RelayBonus, magnitude: g.cfg.Tuning.Bonus.RelayTicks}, nil
	case KindRelayMK1:
		return &Relay{base: b, transfer: st.RelayTransfer, bonusRate: st.RelayBonus, magnitude: g.cfg.Tuning.Bonus.RelayMK1Ticks}, nil
	case KindPersonalLink:
		return &Link{base: b}, nil
	case KindEnergyLink, KindCompressedEnergyLink:
		ct, ok := g.cfg.Tuning.Channel(string(spec.Kind))
		if !ok {
			return nil, fmt.Errorf("no channel configured for %s", spec.Kind)
		}
		return &Link{base: b, channel: convert.NewChannel(b.ledger, ct.Ratio, ct.MaxPerTick, ct.Bidirectional)}, nil
	case KindPowerFlower:
		return &PowerFlower{base: b, output: st.PowerFlowerOutput()}, nil
	case KindMachine:
		b.ledger = nil
		return &Machine{base: b, demand: max(0, spec.Demand)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

// TickStats totals one tick. EMC amounts are exact; Converted is in external units.
type TickStats struct {
	Tick        uint64
	Produced    *big.Int
	Distributed *big.Int
	Flushed     *big.Int
	Charged     *big.Int
	CraftSpent  *big.Int
	Converted   int64
	Bonuses     int
}

func newTickStats(tick uint64) TickStats {
	return TickStats{
		Tick:        tick,
		Produced:    new(big.Int),
		Distributed: new(big.Int),
		Flushed:     new(big.Int),
		Charged:     new(big.Int),
		CraftSpent:  new(big.Int),
	}
}

func (s *TickStats) addProduced(v *big.Int) { s.Produced.Add(s.Produced, v) }

type tickEnv struct {
	g           *Grid
	pos         Pos
	period      int
	flushPeriod int
	stats       *TickStats
}

func (e *tickEnv) distribute(src *emc.Ledger) {
	res := distribute.Distribute(src, e.g.sinksAround(e.pos))
	e.stats.Distributed.Add(e.stats.Distributed, res.Moved)
	e.stats.Bonuses += res.Bonuses
}

// flushToOwner empties src into the owner's wallet if the owner is online.
// Whatever the wallet cannot take stays in src.
func (e *tickEnv) flushToOwner(owner uuid.UUID, src *emc.Ledger) {
	acct, ok := e.g.players.Online(owner)
	if !ok || src.IsZero() {
		return
	}
	amt := src.Drain()
	moved := acct.Wallet.Deposit(amt)
	if rest := new(big.Int).Sub(amt, moved); rest.Sign() > 0 {
		src.Deposit(rest)
	}
	e.stats.Flushed.Add(e.stats.Flushed, moved)
}

// Step advances every block once, in position order, then charges stars.
// Mirror grids return empty stats and do not advance.
func (g *Grid) Step() TickStats {
	cur := g.tick.Load()
	if g.cfg.Mirror {
		return newTickStats(cur)
	}
	stats := newTickStats(cur)
	env := tickEnv{
		g:           g,
		period:      g.cfg.Tuning.PeriodTicks,
		flushPeriod: g.cfg.Tuning.LinkFlushTicks,
		stats:       &stats,
	}
	for _, pos := range g.order {
		t, ok := g.blocks[pos].(ticker)
		if !ok {
			continue
		}
		env.pos = pos
		t.tick(&env)
	}
	if rate := g.cfg.Tuning.StarChargePerTick; rate > 0 {
		for _, a := range g.players.Sorted() {
			stats.Charged.Add(stats.Charged, a.ChargeStar(rate))
		}
	}
	stats.CraftSpent.Set(g.pendingSpent)
	g.pendingSpent.SetInt64(0)

	g.tick.Store(cur + 1)
	return stats
}

// StepOnce advances a single tick and returns the tick that ran with the
// resulting state digest.
func (g *Grid) StepOnce() (tick uint64, digest string) {
	tick = g.tick.Load()
	g.Step()
	return tick, g.Digest()
}
