package distribute

import (
	"math/big"
	"testing"

	"matterlink.ai/internal/sim/emc"
)

type testSink struct {
	got    *emc.Ledger
	limit  int64 // 0 = unlimited
	closed bool
	// overdraw makes Accept report more than offered.
	overdraw int64
}

func newSink() *testSink { return &testSink{got: emc.NewLedger()} }

func (s *testSink) SimulateAccept(amount *big.Int) *big.Int {
	if s.closed {
		return new(big.Int)
	}
	if s.limit > 0 {
		return emc.Min(amount, big.NewInt(s.limit))
	}
	return new(big.Int).Set(amount)
}

func (s *testSink) Accept(amount *big.Int) *big.Int {
	a := s.SimulateAccept(amount)
	s.got.Deposit(a)
	if s.overdraw > 0 {
		return new(big.Int).Add(a, big.NewInt(s.overdraw))
	}
	return a
}

type amplifiedSink struct {
	*testSink
	magnitude int
	bonus     int
}

func (a *amplifiedSink) BonusMagnitude() int { return a.magnitude }
func (a *amplifiedSink) GrantBonus(m int)    { a.bonus += m }

func ledgerWith(v int64) *emc.Ledger {
	l := emc.NewLedger()
	l.DepositInt64(v)
	return l
}

func TestDistributeEqualShares(t *testing.T) {
	src := ledgerWith(100)
	a, b, c := newSink(), newSink(), newSink()
	res := Distribute(src, []Sink{a, b, c})

	if src.PeekInt64() != 1 {
		t.Fatalf("source=%s want 1", src)
	}
	for i, s := range []*testSink{a, b, c} {
		if s.got.PeekInt64() != 33 {
			t.Fatalf("sink %d got %s want 33", i, s.got)
		}
	}
	if res.Eligible != 3 || res.Recipients != 3 || res.Moved.Int64() != 99 || res.Share.Int64() != 33 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDistributeBelowFloorMovesNothing(t *testing.T) {
	src := ledgerWith(2)
	a, b, c := newSink(), newSink(), newSink()
	res := Distribute(src, []Sink{a, b, c})
	if src.PeekInt64() != 2 {
		t.Fatalf("source=%s want 2", src)
	}
	if res.Moved.Sign() != 0 || res.Eligible != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDistributeSkipsMissingAndClosedSinks(t *testing.T) {
	src := ledgerWith(10)
	closed := newSink()
	closed.closed = true
	open := newSink()
	res := Distribute(src, []Sink{nil, closed, open, nil})
	if res.Eligible != 1 {
		t.Fatalf("eligible=%d", res.Eligible)
	}
	if open.got.PeekInt64() != 10 || !src.IsZero() {
		t.Fatalf("open=%s src=%s", open.got, src)
	}
}

func TestDistributeNoEligibleKeepsBalance(t *testing.T) {
	src := ledgerWith(10)
	res := Distribute(src, []Sink{nil, nil})
	if res.Eligible != 0 || src.PeekInt64() != 10 {
		t.Fatalf("res=%+v src=%s", res, src)
	}
}

func TestDistributeGrantsBonusEvenWithoutTransfer(t *testing.T) {
	src := ledgerWith(1)
	r1 := &amplifiedSink{testSink: newSink(), magnitude: 20}
	r2 := &amplifiedSink{testSink: newSink(), magnitude: 1}
	res := Distribute(src, []Sink{r1, r2})
	if r1.bonus != 20 || r2.bonus != 1 {
		t.Fatalf("bonus r1=%d r2=%d", r1.bonus, r2.bonus)
	}
	if res.Bonuses != 2 || res.Moved.Sign() != 0 || src.PeekInt64() != 1 {
		t.Fatalf("res=%+v src=%s", res, src)
	}
}

func TestDistributePartialAcceptKeepsRemainder(t *testing.T) {
	src := ledgerWith(90)
	capped := newSink()
	capped.limit = 5
	open := newSink()
	Distribute(src, []Sink{capped, open})
	if capped.got.PeekInt64() != 5 || open.got.PeekInt64() != 45 {
		t.Fatalf("capped=%s open=%s", capped.got, open.got)
	}
	if src.PeekInt64() != 40 {
		t.Fatalf("source=%s want 40", src)
	}
}

func TestDistributeStopsOnceBelowShare(t *testing.T) {
	src := ledgerWith(30)
	greedy := newSink()
	greedy.overdraw = 15
	b, c := newSink(), newSink()
	res := Distribute(src, []Sink{greedy, b, c})
	// share 10, greedy reports 25 taken -> 5 left < 10: later sinks get nothing.
	if src.PeekInt64() != 5 {
		t.Fatalf("source=%s want 5", src)
	}
	if b.got.PeekInt64() != 0 || c.got.PeekInt64() != 0 || res.Recipients != 1 {
		t.Fatalf("later sinks should be starved: b=%s c=%s res=%+v", b.got, c.got, res)
	}
}
