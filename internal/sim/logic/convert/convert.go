// Package convert bridges EMC to an external power unit at a fixed ratio.
package convert

import (
	"math"
	"math/big"

	"matterlink.ai/internal/sim/emc"
)

// EnergyStorage is the external-power capability consumed by the host's power
// network. Amounts are in external units.
type EnergyStorage interface {
	ReceiveEnergy(maxReceive int64, simulate bool) int64
	ExtractEnergy(maxExtract int64, simulate bool) int64
	EnergyStored() int64
	MaxEnergyStored() int64
	CanExtract() bool
	CanReceive() bool
}

// Channel converts between a ledger's EMC and external units.
//
// Ratio is external units per EMC. A call never moves more than MaxPerTick
// external units, and the ledger is always charged ceil(provided/Ratio) EMC.
type Channel struct {
	ratio         int64
	maxPerTick    int64
	bidirectional bool
	ledger        *emc.Ledger
}

func NewChannel(ledger *emc.Ledger, ratio, maxPerTick int64, bidirectional bool) *Channel {
	if ratio <= 0 {
		ratio = 1
	}
	if maxPerTick < 0 {
		maxPerTick = 0
	}
	return &Channel{ratio: ratio, maxPerTick: maxPerTick, bidirectional: bidirectional, ledger: ledger}
}

func (c *Channel) Ratio() int64      { return c.ratio }
func (c *Channel) MaxPerTick() int64 { return c.maxPerTick }

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

// ExtractEnergy provides up to maxExtract external units funded by the ledger.
func (c *Channel) ExtractEnergy(maxExtract int64, simulate bool) int64 {
	if maxExtract <= 0 || c.ledger == nil || c.ledger.IsZero() {
		return 0
	}
	capped := min(maxExtract, c.maxPerTick)
	if capped <= 0 {
		return 0
	}
	needed := ceilDiv(capped, c.ratio)
	// Keep available*ratio inside int64.
	available := min(c.ledger.PeekInt64(), math.MaxInt64/c.ratio)
	used := min(needed, available)
	if used <= 0 {
		return 0
	}
	provided := min(used*c.ratio, capped)
	if !simulate && provided > 0 {
		c.ledger.WithdrawInt64(ceilDiv(provided, c.ratio))
	}
	return provided
}

// ReceiveEnergy converts incoming external units into EMC. One-directional
// channels refuse everything; bidirectional ones accept whole multiples of
// Ratio so the ledger is never credited for a fraction.
func (c *Channel) ReceiveEnergy(maxReceive int64, simulate bool) int64 {
	if !c.bidirectional || maxReceive <= 0 || c.ledger == nil {
		return 0
	}
	units := min(maxReceive, c.maxPerTick) / c.ratio
	if units <= 0 {
		return 0
	}
	if room := c.ledger.Headroom(); room != nil {
		units = min(units, emc.ClampInt64(room))
	}
	if units <= 0 {
		return 0
	}
	if !simulate {
		units = c.ledger.DepositInt64(units)
	}
	return units * c.ratio
}

// EnergyStored reports the external equivalent of the ledger, capped at MaxInt32.
func (c *Channel) EnergyStored() int64 {
	if c.ledger == nil {
		return 0
	}
	fe := new(big.Int).Mul(c.ledger.Peek(), big.NewInt(c.ratio))
	if fe.Cmp(big.NewInt(math.MaxInt32)) > 0 {
		return math.MaxInt32
	}
	return fe.Int64()
}

func (c *Channel) MaxEnergyStored() int64 { return math.MaxInt32 }
func (c *Channel) CanExtract() bool       { return true }
func (c *Channel) CanReceive() bool       { return c.bidirectional }

var _ EnergyStorage = (*Channel)(nil)
