package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sort"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/players"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

// digestWriteAmount writes a length-prefixed decimal amount.
func digestWriteAmount(h hashWriter, tmp *[8]byte, v *big.Int) {
	s := emc.Format(v)
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Digest hashes the tick counter, every block and every account in a fixed
// order. Equal digests mean equal simulation state.
func (g *Grid) Digest() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, g.tick.Load())
	digestWriteU64(h, &tmp, uint64(len(g.order)))
	for _, pos := range g.order {
		digestBlock(h, &tmp, pos, g.blocks[pos])
	}
	accts := g.players.Sorted()
	digestWriteU64(h, &tmp, uint64(len(accts)))
	for _, a := range accts {
		digestAccount(h, &tmp, a)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestBlock(h hashWriter, tmp *[8]byte, pos Pos, b Block) {
	digestWriteI64(h, tmp, int64(pos.X))
	digestWriteI64(h, tmp, int64(pos.Y))
	digestWriteI64(h, tmp, int64(pos.Z))
	h.Write([]byte(b.Kind()))
	owner := b.Owner()
	h.Write([]byte{byte(b.Tier()), b.Phase()})
	h.Write(owner[:])
	if l := b.Ledger(); l != nil {
		digestWriteAmount(h, tmp, l.Peek())
	}
	switch v := b.(type) {
	case *Relay:
		digestWriteI64(h, tmp, v.bonusTicks)
		digestWriteI64(h, tmp, v.carry)
	case *Machine:
		digestWriteI64(h, tmp, v.demand)
		digestWriteI64(h, tmp, v.received)
	}
}

func digestAccount(h hashWriter, tmp *[8]byte, a *players.Account) {
	h.Write(a.ID[:])
	h.Write([]byte{boolByte(a.Online)})
	digestWriteAmount(h, tmp, a.Wallet.Peek())
	if a.Star != nil {
		h.Write([]byte{1})
		digestWriteAmount(h, tmp, a.Star.Peek())
	} else {
		h.Write([]byte{0})
	}
	learned := a.Learned.Sorted()
	digestWriteU64(h, tmp, uint64(len(learned)))
	for _, item := range learned {
		h.Write([]byte(item))
		h.Write([]byte{0})
	}
	items := make([]string, 0, len(a.Inventory))
	for item, n := range a.Inventory {
		if n != 0 {
			items = append(items, item)
		}
	}
	sort.Strings(items)
	for _, item := range items {
		h.Write([]byte(item))
		digestWriteI64(h, tmp, int64(a.Inventory[item]))
	}
}
