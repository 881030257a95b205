package players

import (
	"math/big"
	"testing"
)

func TestOfflineIDStable(t *testing.T) {
	if OfflineID("Steve") != OfflineID(" steve ") {
		t.Fatalf("expected case/space-insensitive ids")
	}
	if OfflineID("Steve") == OfflineID("Alex") {
		t.Fatalf("expected distinct ids")
	}
}

func TestChargeStarBoundedByRateWalletAndHeadroom(t *testing.T) {
	a := NewAccount(OfflineID("steve"), "steve")
	a.Wallet.DepositInt64(2500)
	a.HoldStar(big.NewInt(1500))

	if got := a.ChargeStar(1000); got.Int64() != 1000 {
		t.Fatalf("first charge=%s", got)
	}
	if got := a.ChargeStar(1000); got.Int64() != 500 {
		t.Fatalf("second charge=%s want 500 (headroom)", got)
	}
	if got := a.ChargeStar(1000); got.Sign() != 0 {
		t.Fatalf("full star still charged %s", got)
	}
	if a.Wallet.PeekInt64() != 1000 || a.Star.PeekInt64() != 1500 {
		t.Fatalf("wallet=%s star=%s", a.Wallet, a.Star)
	}
}

func TestChargeStarWithoutStarOrFunds(t *testing.T) {
	a := NewAccount(OfflineID("alex"), "alex")
	if got := a.ChargeStar(1000); got.Sign() != 0 {
		t.Fatalf("charged without star: %s", got)
	}
	a.HoldStar(big.NewInt(10))
	if got := a.ChargeStar(1000); got.Sign() != 0 {
		t.Fatalf("charged from empty wallet: %s", got)
	}
}

func TestInventoryRemoveClamps(t *testing.T) {
	inv := Inventory{}
	inv.Add("X", 3)
	inv.Add("X", -1)
	if got := inv.Remove("X", 5); got != 3 {
		t.Fatalf("removed %d", got)
	}
	if _, ok := inv["X"]; ok {
		t.Fatalf("empty entry should be deleted")
	}
}

func TestRegistryOnlineAndOrder(t *testing.T) {
	r := NewRegistry()
	a := NewAccount(OfflineID("a"), "a")
	b := NewAccount(OfflineID("b"), "b")
	if err := r.Add(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add(a); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, ok := r.Online(a.ID); ok {
		t.Fatalf("offline account reported online")
	}
	r.SetOnline(a.ID, true)
	if _, ok := r.Online(a.ID); !ok {
		t.Fatalf("online account not found")
	}
	s := r.Sorted()
	if len(s) != 2 || s[0].ID.String() > s[1].ID.String() {
		t.Fatalf("unsorted: %v %v", s[0].ID, s[1].ID)
	}
}
