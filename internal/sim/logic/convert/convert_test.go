package convert

import (
	"math"
	"math/big"
	"testing"

	"matterlink.ai/internal/sim/emc"
)

func ledgerWith(v int64) *emc.Ledger {
	l := emc.NewLedger()
	l.DepositInt64(v)
	return l
}

func TestExtractLimitedByBalance(t *testing.T) {
	l := ledgerWith(5)
	ch := NewChannel(l, 10, 10_000, false)
	if got := ch.ExtractEnergy(10_000, false); got != 50 {
		t.Fatalf("extract=%d want 50", got)
	}
	if !l.IsZero() {
		t.Fatalf("ledger=%s want 0", l)
	}
}

func TestExtractCappedPerCall(t *testing.T) {
	l := ledgerWith(2000)
	ch := NewChannel(l, 1000, 1_000_000, false)
	if got := ch.ExtractEnergy(1_500_000, false); got != 1_000_000 {
		t.Fatalf("extract=%d want 1000000", got)
	}
	if l.PeekInt64() != 1000 {
		t.Fatalf("ledger=%s want 1000", l)
	}
}

func TestExtractRoundsCostUp(t *testing.T) {
	l := ledgerWith(3)
	ch := NewChannel(l, 10, 10_000, false)
	if got := ch.ExtractEnergy(15, false); got != 15 {
		t.Fatalf("extract=%d want 15", got)
	}
	// 15 external units cost ceil(15/10) = 2 EMC.
	if l.PeekInt64() != 1 {
		t.Fatalf("ledger=%s want 1", l)
	}
}

func TestExtractSimulateHasNoSideEffects(t *testing.T) {
	l := ledgerWith(7)
	ch := NewChannel(l, 10, 10_000, false)
	if got := ch.ExtractEnergy(65, true); got != 65 {
		t.Fatalf("simulate=%d", got)
	}
	if l.PeekInt64() != 7 {
		t.Fatalf("simulate changed ledger: %s", l)
	}
}

func TestExtractHugeBalanceStaysCapped(t *testing.T) {
	l := emc.NewLedger()
	l.Deposit(new(big.Int).Lsh(big.NewInt(1), 90))
	ch := NewChannel(l, 10, 10_000, false)
	if got := ch.ExtractEnergy(math.MaxInt64, true); got != 10_000 {
		t.Fatalf("extract=%d want cap", got)
	}
	if got := ch.EnergyStored(); got != math.MaxInt32 {
		t.Fatalf("stored=%d want MaxInt32", got)
	}
}

func TestOneDirectionalRefusesReceive(t *testing.T) {
	l := ledgerWith(0)
	ch := NewChannel(l, 10, 10_000, false)
	if got := ch.ReceiveEnergy(500, false); got != 0 || !l.IsZero() {
		t.Fatalf("receive=%d ledger=%s", got, l)
	}
	if ch.CanReceive() || !ch.CanExtract() {
		t.Fatalf("capability flags wrong")
	}
}

func TestBidirectionalReceiveNeverOverCredits(t *testing.T) {
	l := ledgerWith(0)
	ch := NewChannel(l, 10, 10_000, true)
	if got := ch.ReceiveEnergy(95, false); got != 90 {
		t.Fatalf("receive=%d want 90", got)
	}
	if l.PeekInt64() != 9 {
		t.Fatalf("ledger=%s want 9", l)
	}
	if got := ch.ReceiveEnergy(9, false); got != 0 {
		t.Fatalf("sub-ratio receive=%d", got)
	}
}

func TestBidirectionalReceiveRespectsCapacity(t *testing.T) {
	l := emc.NewBoundedLedger(big.NewInt(4))
	ch := NewChannel(l, 10, 10_000, true)
	if got := ch.ReceiveEnergy(1000, true); got != 40 {
		t.Fatalf("simulate=%d want 40", got)
	}
	if got := ch.ReceiveEnergy(1000, false); got != 40 {
		t.Fatalf("receive=%d want 40", got)
	}
	if l.PeekInt64() != 4 {
		t.Fatalf("ledger=%s", l)
	}
}
