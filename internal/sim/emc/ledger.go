// Package emc holds the arbitrary-precision EMC balance type shared by every
// producer, sink, conversion channel and player account.
package emc

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrSyntax   = errors.New("emc: invalid decimal amount")
	ErrNegative = errors.New("emc: negative amount")
)

// Ledger is a non-negative balance with an optional capacity.
//
// Invariant: 0 <= balance <= capacity after every call. Deposits beyond the
// remaining headroom are dropped; withdrawals are clamped to the balance.
// A nil capacity means the ledger is unbounded.
type Ledger struct {
	balance  big.Int
	capacity *big.Int
}

// NewLedger returns an empty, unbounded ledger.
func NewLedger() *Ledger { return &Ledger{} }

// NewBoundedLedger returns an empty ledger that never holds more than capacity.
// A non-positive capacity yields a ledger that accepts nothing.
func NewBoundedLedger(capacity *big.Int) *Ledger {
	c := new(big.Int)
	if capacity != nil && capacity.Sign() > 0 {
		c.Set(capacity)
	}
	return &Ledger{capacity: c}
}

// Capacity returns a copy of the capacity and whether the ledger is bounded.
func (l *Ledger) Capacity() (*big.Int, bool) {
	if l.capacity == nil {
		return nil, false
	}
	return new(big.Int).Set(l.capacity), true
}

// Headroom returns capacity - balance, or nil when unbounded.
func (l *Ledger) Headroom() *big.Int {
	if l.capacity == nil {
		return nil
	}
	return new(big.Int).Sub(l.capacity, &l.balance)
}

// Deposit adds up to amount and returns what was accepted.
func (l *Ledger) Deposit(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	accepted := new(big.Int).Set(amount)
	if room := l.Headroom(); room != nil && accepted.Cmp(room) > 0 {
		accepted.Set(room)
	}
	l.balance.Add(&l.balance, accepted)
	return accepted
}

// Withdraw removes up to amount and returns what was removed.
func (l *Ledger) Withdraw(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	removed := new(big.Int).Set(amount)
	if removed.Cmp(&l.balance) > 0 {
		removed.Set(&l.balance)
	}
	l.balance.Sub(&l.balance, removed)
	return removed
}

func (l *Ledger) DepositInt64(amount int64) int64 {
	return clampInt64(l.Deposit(big.NewInt(amount)))
}

func (l *Ledger) WithdrawInt64(amount int64) int64 {
	return clampInt64(l.Withdraw(big.NewInt(amount)))
}

// Peek returns a copy of the balance.
func (l *Ledger) Peek() *big.Int { return new(big.Int).Set(&l.balance) }

// PeekInt64 returns the balance clamped to the int64 range.
func (l *Ledger) PeekInt64() int64 { return clampInt64(&l.balance) }

func (l *Ledger) IsZero() bool { return l.balance.Sign() == 0 }

// Cmp compares the balance with v.
func (l *Ledger) Cmp(v *big.Int) int { return l.balance.Cmp(v) }

// Drain empties the ledger and returns the former balance.
func (l *Ledger) Drain() *big.Int {
	out := new(big.Int).Set(&l.balance)
	l.balance.SetInt64(0)
	return out
}

// Restore replaces the balance (load path). The value is clamped to the capacity.
func (l *Ledger) Restore(v *big.Int) {
	l.balance.SetInt64(0)
	l.Deposit(v)
}

// String renders the balance as a base-10 string.
func (l *Ledger) String() string { return l.balance.String() }

// MarshalText encodes the balance as a decimal string; values routinely exceed
// the 64-bit range so fixed-width encodings are never used.
func (l *Ledger) MarshalText() ([]byte, error) { return []byte(l.balance.String()), nil }

func (l *Ledger) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	l.Restore(v)
	return nil
}

// Parse decodes a non-negative base-10 amount. The empty string parses as zero.
func Parse(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, ErrSyntax
	}
	if v.Sign() < 0 {
		return nil, ErrNegative
	}
	return v, nil
}

// Format is the inverse of Parse. A nil amount formats as "0".
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Min returns the smaller of a and b (as a new value).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

var (
	maxInt64 = big.NewInt(int64(^uint64(0) >> 1))
)

// ClampInt64 returns v limited to [0, MaxInt64].
func ClampInt64(v *big.Int) int64 { return clampInt64(v) }

func clampInt64(v *big.Int) int64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if v.Cmp(maxInt64) > 0 {
		return maxInt64.Int64()
	}
	return v.Int64()
}
