package distribute

import (
	"math/big"

	"matterlink.ai/internal/sim/emc"
)

// Sink is the capability exposed by anything that accepts EMC.
type Sink interface {
	SimulateAccept(amount *big.Int) *big.Int
	Accept(amount *big.Int) *big.Int
}

// Amplifier is an optional capability of a Sink: when a producer finds the sink
// eligible it grants bonus ticks. Each sink kind picks its own magnitude.
type Amplifier interface {
	BonusMagnitude() int
	GrantBonus(magnitude int)
}

type Result struct {
	Eligible   int
	Recipients int
	Bonuses    int
	Share      *big.Int
	Moved      *big.Int
}

var one = big.NewInt(1)

// Distribute runs one equal-share pass from source into the given neighbors,
// which must be in the fixed enumeration order. Nil entries are neighbors
// without a sink capability.
//
// Every neighbor that would accept 1 EMC is eligible and has its bonus granted
// right away, whether or not it later receives anything. Nothing moves unless
// the source holds at least one unit per eligible sink. Each sink is offered
// floor(balance/n); the pass stops as soon as the source drops below a full share.
func Distribute(source *emc.Ledger, neighbors []Sink) Result {
	res := Result{Share: new(big.Int), Moved: new(big.Int)}

	eligible := make([]Sink, 0, len(neighbors))
	for _, s := range neighbors {
		if s == nil {
			continue
		}
		if s.SimulateAccept(one).Sign() <= 0 {
			continue
		}
		eligible = append(eligible, s)
		if a, ok := s.(Amplifier); ok {
			if m := a.BonusMagnitude(); m > 0 {
				a.GrantBonus(m)
				res.Bonuses++
			}
		}
	}
	res.Eligible = len(eligible)
	if len(eligible) == 0 {
		return res
	}

	n := big.NewInt(int64(len(eligible)))
	if source.Cmp(n) < 0 {
		return res
	}
	share := new(big.Int).Quo(source.Peek(), n)
	res.Share.Set(share)

	for _, s := range eligible {
		a := s.Accept(share)
		if a.Sign() <= 0 {
			continue
		}
		taken := source.Withdraw(a)
		res.Moved.Add(res.Moved, taken)
		res.Recipients++
		if source.Cmp(share) < 0 {
			break
		}
	}
	return res
}
