// Package craft funds crafting requests from a physical inventory first and
// an EMC wallet for whatever the inventory lacks.
package craft

import (
	"math"
	"math/big"

	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/emc"
)

type Inventory interface {
	Count(item string) int
	// Remove takes up to n and returns how many were taken.
	Remove(item string, n int) int
	Add(item string, n int)
}

type Prices interface {
	Price(item string) int64
}

type Knowledge interface {
	Knows(item string) bool
}

const (
	CodeEmpty     = "E_EMPTY_RECIPE"
	CodeUnpriced  = "E_UNPRICED"
	CodeUnlearned = "E_UNLEARNED"
	CodeNoEMC     = "E_NO_EMC"
	CodeConflict  = "E_CONFLICT"
)

type Request struct {
	// Needs is the merged ingredient multiset (see catalogs.RecipeDef.Needs).
	Needs  []catalogs.ItemCount
	Output catalogs.ItemCount
	// StackLimit bounds a bulk craft to one output stack. <=0 means catalogs.DefaultMaxStack.
	StackLimit int
}

// RequestFor builds a request from a recipe, using the catalog's max stack for the output.
func RequestFor(r catalogs.RecipeDef, c *catalogs.Catalogs) Request {
	out, _ := r.PrimaryOutput()
	return Request{Needs: r.Needs(), Output: out, StackLimit: c.MaxStack(out.Item)}
}

type Plan struct {
	Possible bool
	Code     string
	Cost     *big.Int
	// FromInventory and Shortfall are parallel to Request.Needs.
	FromInventory []int
	Shortfall     []int
}

type Resolver struct {
	Inventory Inventory
	Wallet    *emc.Ledger
	Prices    Prices
	Knowledge Knowledge
}

func (r *Resolver) knows(item string) bool {
	return r.Knowledge != nil && r.Knowledge.Knows(item)
}

func (r *Resolver) price(item string) int64 {
	if r.Prices == nil {
		return 0
	}
	return r.Prices.Price(item)
}

// Evaluate prices the shortfall of one craft without touching any state.
func (r *Resolver) Evaluate(req Request) Plan {
	p := Plan{
		Cost:          new(big.Int),
		FromInventory: make([]int, len(req.Needs)),
		Shortfall:     make([]int, len(req.Needs)),
	}
	if len(req.Needs) == 0 {
		p.Code = CodeEmpty
		return p
	}
	for i, n := range req.Needs {
		have := r.Inventory.Count(n.Item)
		p.FromInventory[i] = min(have, n.Count)
		short := n.Count - p.FromInventory[i]
		p.Shortfall[i] = short
		if short <= 0 {
			continue
		}
		price := r.price(n.Item)
		if price <= 0 {
			p.Code = CodeUnpriced
			return p
		}
		if !r.knows(n.Item) {
			p.Code = CodeUnlearned
			return p
		}
		itemCost := new(big.Int).Mul(big.NewInt(price), big.NewInt(int64(short)))
		p.Cost.Add(p.Cost, itemCost)
	}
	if r.Wallet == nil || r.Wallet.Cmp(p.Cost) < 0 {
		p.Code = CodeNoEMC
		return p
	}
	p.Possible = true
	return p
}

// Execute performs one craft: inventory items first, then the EMC cost.
// Nothing changes unless both steps succeed.
func (r *Resolver) Execute(req Request) (Plan, bool) {
	p := r.Evaluate(req)
	if !p.Possible {
		return p, false
	}
	taken := make([]int, len(req.Needs))
	for i, n := range req.Needs {
		want := p.FromInventory[i]
		if want <= 0 {
			continue
		}
		taken[i] = r.Inventory.Remove(n.Item, want)
		if taken[i] != want {
			r.restore(req, taken)
			p.Possible = false
			p.Code = CodeConflict
			return p, false
		}
	}
	if p.Cost.Sign() > 0 {
		if got := r.Wallet.Withdraw(p.Cost); got.Cmp(p.Cost) != 0 {
			r.Wallet.Deposit(got)
			r.restore(req, taken)
			p.Possible = false
			p.Code = CodeConflict
			return p, false
		}
	}
	return p, true
}

func (r *Resolver) restore(req Request, taken []int) {
	for i, n := range taken {
		if n > 0 {
			r.Inventory.Add(req.Needs[i].Item, n)
		}
	}
}

// MaxRepeats bounds a bulk craft by three independent caps and returns their
// minimum: crafts the inventory covers on its own, crafts the wallet can fund
// at the per-craft shortfall price, and one output stack.
func (r *Resolver) MaxRepeats(req Request) int {
	if len(req.Needs) == 0 || req.Output.Count <= 0 {
		return 0
	}
	inventoryCap := math.MaxInt
	costPerCraft := new(big.Int)
	for _, n := range req.Needs {
		if n.Count <= 0 {
			continue
		}
		have := r.Inventory.Count(n.Item)
		inventoryCap = min(inventoryCap, have/n.Count)

		price := r.price(n.Item)
		if price <= 0 || !r.knows(n.Item) {
			continue
		}
		beyond := n.Count - have%n.Count
		costPerCraft.Add(costPerCraft, new(big.Int).Mul(big.NewInt(price), big.NewInt(int64(beyond))))
	}

	currencyCap := math.MaxInt
	if costPerCraft.Sign() > 0 {
		balance := new(big.Int)
		if r.Wallet != nil {
			balance = r.Wallet.Peek()
		}
		q := new(big.Int).Quo(balance, costPerCraft)
		currencyCap = int(min(emc.ClampInt64(q), int64(math.MaxInt)))
	}

	limit := req.StackLimit
	if limit <= 0 {
		limit = catalogs.DefaultMaxStack
	}
	stackCap := limit / req.Output.Count

	return max(0, min(inventoryCap, currencyCap, stackCap))
}

type BulkResult struct {
	Crafted int
	Spent   *big.Int
	Code    string
}

// ExecuteBulk repeats Execute up to MaxRepeats times. deliver receives each
// craft's output and may refuse it (e.g. inventory full), which ends the run;
// a refused output is the caller's to place elsewhere.
func (r *Resolver) ExecuteBulk(req Request, deliver func(catalogs.ItemCount) bool) BulkResult {
	res := BulkResult{Spent: new(big.Int)}
	limit := r.MaxRepeats(req)
	for i := 0; i < limit; i++ {
		p, ok := r.Execute(req)
		if !ok {
			res.Code = p.Code
			break
		}
		res.Spent.Add(res.Spent, p.Cost)
		if deliver != nil && !deliver(req.Output) {
			break
		}
		res.Crafted++
	}
	return res
}
