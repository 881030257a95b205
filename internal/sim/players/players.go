package players

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/logic/craft"
)

// namespace for ids derived from player names.
var namespace = uuid.MustParse("6f9c2a4e-2d0b-4a53-9a55-3c1f0e8b7d21")

// OfflineID derives a stable id from a player name.
func OfflineID(name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(strings.ToLower(strings.TrimSpace(name))))
}

// Account is a player's personal EMC wallet, what they have learned, what they
// carry, and an optional bounded star they are charging.
type Account struct {
	ID     uuid.UUID
	Name   string
	Online bool

	Wallet    *emc.Ledger
	Learned   Knowledge
	Inventory Inventory
	Star      *emc.Ledger
}

func NewAccount(id uuid.UUID, name string) *Account {
	return &Account{
		ID:        id,
		Name:      name,
		Wallet:    emc.NewLedger(),
		Learned:   Knowledge{},
		Inventory: Inventory{},
	}
}

// HoldStar gives the player a star of the given capacity to charge.
func (a *Account) HoldStar(capacity *big.Int) {
	a.Star = emc.NewBoundedLedger(capacity)
}

// ChargeStar moves min(rate, wallet, star headroom) EMC from the wallet into
// the held star and returns the amount moved.
func (a *Account) ChargeStar(rate int64) *big.Int {
	if a.Star == nil || rate <= 0 || a.Wallet.IsZero() {
		return new(big.Int)
	}
	amt := emc.Min(big.NewInt(rate), a.Wallet.Peek())
	if room := a.Star.Headroom(); room != nil {
		amt = emc.Min(amt, room)
	}
	if amt.Sign() <= 0 {
		return amt
	}
	moved := a.Wallet.Withdraw(amt)
	a.Star.Deposit(moved)
	return moved
}

// Resolver funds crafts from this account's inventory and wallet.
func (a *Account) Resolver(prices craft.Prices) *craft.Resolver {
	return &craft.Resolver{
		Inventory: a.Inventory,
		Wallet:    a.Wallet,
		Prices:    prices,
		Knowledge: a.Learned,
	}
}

type Knowledge map[string]bool

func (k Knowledge) Learn(item string)      { k[item] = true }
func (k Knowledge) Knows(item string) bool { return k[item] }

// Sorted returns learned items in lexical order.
func (k Knowledge) Sorted() []string {
	out := make([]string, 0, len(k))
	for item, ok := range k {
		if ok {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// Inventory is a stack-agnostic item count map.
type Inventory map[string]int

func (inv Inventory) Count(item string) int { return inv[item] }

func (inv Inventory) Add(item string, n int) {
	if item == "" || n <= 0 {
		return
	}
	inv[item] += n
}

func (inv Inventory) Remove(item string, n int) int {
	if n <= 0 {
		return 0
	}
	take := min(n, inv[item])
	inv[item] -= take
	if inv[item] <= 0 {
		delete(inv, item)
	}
	return take
}

// Registry owns every account. Iteration is always in id order.
type Registry struct {
	byID map[uuid.UUID]*Account
}

func NewRegistry() *Registry { return &Registry{byID: map[uuid.UUID]*Account{}} }

func (r *Registry) Add(a *Account) error {
	if a == nil {
		return fmt.Errorf("players: nil account")
	}
	if _, ok := r.byID[a.ID]; ok {
		return fmt.Errorf("players: duplicate account %s", a.ID)
	}
	r.byID[a.ID] = a
	return nil
}

func (r *Registry) Get(id uuid.UUID) (*Account, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Online returns the account only if the player is present.
func (r *Registry) Online(id uuid.UUID) (*Account, bool) {
	a, ok := r.byID[id]
	if !ok || !a.Online {
		return nil, false
	}
	return a, true
}

func (r *Registry) SetOnline(id uuid.UUID, online bool) bool {
	a, ok := r.byID[id]
	if !ok {
		return false
	}
	a.Online = online
	return true
}

func (r *Registry) Len() int { return len(r.byID) }

func (r *Registry) Sorted() []*Account {
	out := make([]*Account, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].ID.String(), out[j].ID.String()) < 0
	})
	return out
}
