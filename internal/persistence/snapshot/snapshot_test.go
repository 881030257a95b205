package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "120.snap.zst")
	in := SnapshotV1{
		Header:      Header{WorldID: "w1", Tick: 120},
		TickRate:    20,
		PeriodTicks: 20,
		Blocks: []BlockV1{
			{Pos: [3]int{1, 2, 3}, Kind: "collector", Tier: 4, Balance: "1267650600228229401496703205376", Phase: 17},
			{Pos: [3]int{0, 0, 0}, Kind: "relay_mk1", Balance: "9", BonusTicks: 40, Carry: 3},
		},
		Accounts: []AccountV1{
			{ID: "c0ffee00-0000-5000-8000-000000000001", Name: "steve", Online: true, Wallet: "18446744073709551617", Learned: []string{"DIAMOND"}, Inventory: map[string]int{"STICK": 3}},
		},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Version != Version || h.WorldID != "w1" || h.Tick != 120 {
		t.Fatalf("header=%+v", h)
	}

	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out.Blocks) != 2 || out.Blocks[0].Balance != in.Blocks[0].Balance || out.Blocks[0].Phase != 17 {
		t.Fatalf("blocks=%+v", out.Blocks)
	}
	if out.Blocks[1].BonusTicks != 40 || out.Blocks[1].Carry != 3 {
		t.Fatalf("relay=%+v", out.Blocks[1])
	}
	if len(out.Accounts) != 1 || out.Accounts[0].Wallet != "18446744073709551617" || out.Accounts[0].Inventory["STICK"] != 3 {
		t.Fatalf("accounts=%+v", out.Accounts)
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.snap.zst")
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 7}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
