package grid

import (
	"math/big"
	"path/filepath"
	"testing"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/players"
	"matterlink.ai/internal/sim/tiers"
	"matterlink.ai/internal/sim/tuning"
)

// buildNetwork places a small mixed network: two collectors feeding relays,
// relays feeding links, an energy link driving a machine, and a flower.
func buildNetwork(t *testing.T) *Grid {
	t.Helper()
	g := newTestGrid(t, func(tu *tuning.Tuning) { tu.PeriodTicks = 5; tu.LinkFlushTicks = 7 })
	steve := mustAccount(t, g, "steve")
	alex := mustAccount(t, g, "alex")
	steve.Online = true
	alex.HoldStar(big.NewInt(1_000_000))

	mustPlace(t, g, Pos{}, Spec{Kind: KindCollector, Tier: tiers.Red})
	mustPlace(t, g, Pos{X: 2}, Spec{Kind: KindCollector, Tier: tiers.Dark})
	mustPlace(t, g, Pos{X: 1}, Spec{Kind: KindRelayMK1, Tier: tiers.Basic})
	mustPlace(t, g, Pos{Y: 1}, Spec{Kind: KindRelay, Tier: tiers.Dark})
	mustPlace(t, g, Pos{X: 1, Y: 1}, Spec{Kind: KindPersonalLink, Owner: steve.ID})
	mustPlace(t, g, Pos{Y: 2}, Spec{Kind: KindEnergyLink, Owner: alex.ID})
	mustPlace(t, g, Pos{Y: 3}, Spec{Kind: KindMachine, Demand: 25})
	mustPlace(t, g, Pos{Z: 5}, Spec{Kind: KindPowerFlower, Tier: tiers.Pink, Owner: alex.ID})
	return g
}

func TestDeterministicDigest(t *testing.T) {
	a := buildNetwork(t)
	b := buildNetwork(t)
	for i := 0; i < 200; i++ {
		ta, da := a.StepOnce()
		tb, db := b.StepOnce()
		if ta != tb || da != db {
			t.Fatalf("diverged at tick %d: %s vs %s", ta, da, db)
		}
	}
}

func TestDigestChangesWithState(t *testing.T) {
	g := buildNetwork(t)
	before := g.Digest()
	acct, _ := g.Players().Get(players.OfflineID("steve"))
	acct.Wallet.DepositInt64(1)
	if g.Digest() == before {
		t.Fatalf("digest ignored a wallet change")
	}
}

func TestSnapshotRoundTripPreservesState(t *testing.T) {
	g := buildNetwork(t)
	stepN(g, 123)

	// Push a balance past 64 bits.
	huge := new(big.Int).Lsh(big.NewInt(1), 90)
	link, _ := g.BlockAt(Pos{X: 1, Y: 1})
	link.Ledger().Deposit(huge)

	path := filepath.Join(t.TempDir(), "snap.zst")
	if err := snapshot.WriteSnapshot(path, g.ExportSnapshot(g.CurrentTick()-1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	h := newTestGrid(t, func(tu *tuning.Tuning) { tu.PeriodTicks = 5; tu.LinkFlushTicks = 7 })
	if err := h.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if g.Digest() != h.Digest() {
		t.Fatalf("digest mismatch after round trip")
	}
	got, _ := h.BlockAt(Pos{X: 1, Y: 1})
	if got.Ledger().Cmp(link.Ledger().Peek()) != 0 {
		t.Fatalf("balance=%s want %s", got.Ledger(), link.Ledger())
	}

	// Both continue identically.
	for i := 0; i < 50; i++ {
		_, da := g.StepOnce()
		_, db := h.StepOnce()
		if da != db {
			t.Fatalf("diverged %d ticks after resume", i)
		}
	}
}

func TestImportRejectsUnknownOwner(t *testing.T) {
	g := buildNetwork(t)
	snap := g.ExportSnapshot(0)
	snap.Accounts = nil

	h := newTestGrid(t, nil)
	if err := h.ImportSnapshot(snap); err == nil {
		t.Fatalf("expected error for blocks owned by missing accounts")
	}
}
