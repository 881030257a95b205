package grid

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/logic/convert"
	"matterlink.ai/internal/sim/logic/distribute"
	"matterlink.ai/internal/sim/tiers"
)

type Kind string

const (
	KindCollector            Kind = "collector"
	KindRelay                Kind = "relay"
	KindRelayMK1             Kind = "relay_mk1"
	KindPersonalLink         Kind = "personal_link"
	KindEnergyLink           Kind = "energy_link"
	KindCompressedEnergyLink Kind = "compressed_energy_link"
	KindPowerFlower          Kind = "power_flower"
	KindMachine              Kind = "machine"
)

var kinds = []Kind{
	KindCollector, KindRelay, KindRelayMK1, KindPersonalLink,
	KindEnergyLink, KindCompressedEnergyLink, KindPowerFlower, KindMachine,
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Owned reports whether blocks of this kind pay out to a player.
func (k Kind) Owned() bool {
	switch k {
	case KindPersonalLink, KindEnergyLink, KindCompressedEnergyLink, KindPowerFlower:
		return true
	}
	return false
}

// Block is a placed block entity. Ledger is nil for kinds that hold no EMC.
type Block interface {
	Kind() Kind
	Tier() tiers.Tier
	Owner() uuid.UUID
	Ledger() *emc.Ledger
	Phase() uint8
}

type ticker interface {
	tick(e *tickEnv)
}

// energyProvider is implemented by blocks that expose external power.
type energyProvider interface {
	Energy() convert.EnergyStorage
}

type base struct {
	kind   Kind
	tier   tiers.Tier
	owner  uuid.UUID
	ledger *emc.Ledger
	phase  uint8
}

func (b *base) Kind() Kind          { return b.kind }
func (b *base) Tier() tiers.Tier    { return b.tier }
func (b *base) Owner() uuid.UUID    { return b.owner }
func (b *base) Ledger() *emc.Ledger { return b.ledger }
func (b *base) Phase() uint8        { return b.phase }

// advance moves the phase counter and reports whether the period elapsed.
func (b *base) advance(period int) bool {
	if period <= 1 {
		b.phase = 0
		return true
	}
	if int(b.phase)+1 >= period {
		b.phase = 0
		return true
	}
	b.phase++
	return false
}

// Collector deposits its tier's output every period, then shares its ledger
// with the neighboring sinks.
type Collector struct {
	base
	output int64
}

func (c *Collector) tick(e *tickEnv) {
	if !c.advance(e.period) {
		return
	}
	e.stats.addProduced(c.ledger.Deposit(big.NewInt(c.output)))
	e.distribute(c.ledger)
}

// Relay is a capped sink that earns bonus EMC from the producers feeding it
// and passes its ledger on every period.
type Relay struct {
	base
	transfer  int64
	bonusRate int64
	magnitude int

	bonusTicks int64
	carry      int64
}

func (r *Relay) acceptable(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	out := emc.Min(amount, big.NewInt(r.transfer))
	if room := r.ledger.Headroom(); room != nil {
		out = emc.Min(out, room)
	}
	return out
}

func (r *Relay) SimulateAccept(amount *big.Int) *big.Int { return r.acceptable(amount) }

func (r *Relay) Accept(amount *big.Int) *big.Int {
	return r.ledger.Deposit(r.acceptable(amount))
}

func (r *Relay) BonusMagnitude() int { return r.magnitude }

func (r *Relay) GrantBonus(magnitude int) {
	if magnitude > 0 {
		r.bonusTicks += int64(magnitude)
	}
}

func (r *Relay) BonusTicks() int64 { return r.bonusTicks }

func (r *Relay) tick(e *tickEnv) {
	if !r.advance(e.period) {
		return
	}
	if r.bonusTicks > 0 {
		total := r.bonusTicks*r.bonusRate + r.carry
		earned := total / int64(e.period)
		r.carry = total % int64(e.period)
		r.bonusTicks = 0
		e.stats.addProduced(r.ledger.Deposit(big.NewInt(earned)))
	}
	e.distribute(r.ledger)
}

// Link buffers whatever it receives and flushes the buffer to its owner's
// wallet while the owner is online. Energy links also expose the buffer as
// external power.
type Link struct {
	base
	channel *convert.Channel
}

func (l *Link) SimulateAccept(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	if room := l.ledger.Headroom(); room != nil {
		return emc.Min(amount, room)
	}
	return new(big.Int).Set(amount)
}

func (l *Link) Accept(amount *big.Int) *big.Int { return l.ledger.Deposit(amount) }

func (l *Link) Energy() convert.EnergyStorage {
	if l.channel == nil {
		return nil
	}
	return l.channel
}

func (l *Link) tick(e *tickEnv) {
	if !l.advance(e.flushPeriod) {
		return
	}
	e.flushToOwner(l.owner, l.ledger)
}

// PowerFlower produces straight into its owner's wallet. While the owner is
// offline the output waits in the flower's own buffer.
type PowerFlower struct {
	base
	output int64
}

func (f *PowerFlower) tick(e *tickEnv) {
	if !f.advance(e.period) {
		return
	}
	e.stats.addProduced(f.ledger.Deposit(big.NewInt(f.output)))
	e.flushToOwner(f.owner, f.ledger)
}

// Machine pulls up to Demand external units per tick from adjacent providers.
type Machine struct {
	base
	demand   int64
	received int64
}

func (m *Machine) Demand() int64   { return m.demand }
func (m *Machine) Received() int64 { return m.received }

func (m *Machine) tick(e *tickEnv) {
	remaining := m.demand
	for _, d := range Dirs {
		if remaining <= 0 {
			break
		}
		p, ok := e.g.blocks[e.pos.Add(d.Offset())].(energyProvider)
		if !ok {
			continue
		}
		es := p.Energy()
		if es == nil || !es.CanExtract() {
			continue
		}
		got := es.ExtractEnergy(remaining, false)
		remaining -= got
		m.received += got
		e.stats.Converted += got
	}
}

var (
	_ distribute.Sink      = (*Relay)(nil)
	_ distribute.Amplifier = (*Relay)(nil)
	_ distribute.Sink      = (*Link)(nil)
	_ energyProvider       = (*Link)(nil)
)
