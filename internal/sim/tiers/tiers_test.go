package tiers

import "testing"

func TestTableOrderAndNavigation(t *testing.T) {
	if Count != 12 {
		t.Fatalf("expected 12 ranks, got %d", Count)
	}
	all := All()
	for i, tier := range all {
		if int(tier) != i {
			t.Fatalf("ordinal mismatch at %d: %v", i, tier)
		}
	}
	if _, ok := Yellow.Next(); ok {
		t.Fatalf("top rank must not have a next")
	}
	if _, ok := Basic.Prev(); ok {
		t.Fatalf("bottom rank must not have a prev")
	}
	if n, ok := Red.Next(); !ok || n != Magenta {
		t.Fatalf("Red.Next()=%v,%v", n, ok)
	}
	if p, ok := Red.Prev(); !ok || p != Dark {
		t.Fatalf("Red.Prev()=%v,%v", p, ok)
	}
}

func TestDefaultTableMonotonic(t *testing.T) {
	tb := Default()
	for i := 1; i < Count; i++ {
		a, b := tb.Stats(Tier(i-1)), tb.Stats(Tier(i))
		if b.CollectorOutput <= a.CollectorOutput {
			t.Fatalf("%s output %d not above %s output %d", Tier(i), b.CollectorOutput, Tier(i-1), a.CollectorOutput)
		}
	}
	if got := tb.Stats(Basic).PowerFlowerOutput(); got != 4*18+1*30 {
		t.Fatalf("basic power flower output=%d", got)
	}
}

func TestParse(t *testing.T) {
	tier, err := Parse(" magenta ")
	if err != nil || tier != Magenta {
		t.Fatalf("Parse=%v,%v", tier, err)
	}
	if _, err := Parse("OCTARINE"); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}

func TestNewRejectsWeakerOverride(t *testing.T) {
	if _, err := New(map[Tier]Stats{Dark: {CollectorOutput: 1, RelayBonus: 1, RelayTransfer: 1}}); err == nil {
		t.Fatalf("expected monotonicity error")
	}
	tb, err := New(map[Tier]Stats{Basic: {CollectorOutput: 5, RelayBonus: 1, RelayTransfer: 64}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tb.Stats(Basic).CollectorOutput != 5 {
		t.Fatalf("override not applied")
	}
	if Default().Stats(Basic).CollectorOutput != 4 {
		t.Fatalf("default table mutated")
	}
}
