package grid

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/players"
	"matterlink.ai/internal/sim/tiers"
)

func (g *Grid) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: g.cfg.ID,
			Tick:    nowTick,
		},
		TickRate:       g.cfg.Tuning.TickRateHz,
		PeriodTicks:    g.cfg.Tuning.PeriodTicks,
		LinkFlushTicks: g.cfg.Tuning.LinkFlushTicks,
	}

	for _, pos := range g.order {
		b := g.blocks[pos]
		bv := snapshot.BlockV1{
			Pos:   [3]int{pos.X, pos.Y, pos.Z},
			Kind:  string(b.Kind()),
			Tier:  uint8(b.Tier()),
			Phase: b.Phase(),
		}
		if b.Owner() != uuid.Nil {
			bv.Owner = b.Owner().String()
		}
		if l := b.Ledger(); l != nil {
			bv.Balance = l.String()
		}
		switch v := b.(type) {
		case *Relay:
			bv.BonusTicks = v.bonusTicks
			bv.Carry = v.carry
		case *Machine:
			bv.Demand = v.demand
			bv.Received = v.received
		}
		snap.Blocks = append(snap.Blocks, bv)
	}

	for _, a := range g.players.Sorted() {
		av := snapshot.AccountV1{
			ID:      a.ID.String(),
			Name:    a.Name,
			Online:  a.Online,
			Wallet:  a.Wallet.String(),
			Learned: a.Learned.Sorted(),
		}
		if a.Star != nil {
			av.Star = a.Star.String()
			if c, ok := a.Star.Capacity(); ok {
				av.StarCapacity = c.String()
			}
		}
		if len(a.Inventory) > 0 {
			av.Inventory = make(map[string]int, len(a.Inventory))
			for item, n := range a.Inventory {
				av.Inventory[item] = n
			}
		}
		snap.Accounts = append(snap.Accounts, av)
	}
	return snap
}

// ImportSnapshot replaces the grid's contents. Accounts load before blocks so
// owner references resolve.
func (g *Grid) ImportSnapshot(snap snapshot.SnapshotV1) error {
	reg := players.NewRegistry()
	for _, av := range snap.Accounts {
		a, err := importAccount(av)
		if err != nil {
			return err
		}
		if err := reg.Add(a); err != nil {
			return err
		}
	}

	prevPlayers, prevBlocks := g.players, g.blocks
	g.players = reg
	g.blocks = map[Pos]Block{}
	fail := func(err error) error {
		g.players, g.blocks = prevPlayers, prevBlocks
		g.reindex()
		return err
	}

	for _, bv := range snap.Blocks {
		pos := Pos{X: bv.Pos[0], Y: bv.Pos[1], Z: bv.Pos[2]}
		kind, err := ParseKind(bv.Kind)
		if err != nil {
			return fail(fmt.Errorf("block %s: %w", pos, err))
		}
		var owner uuid.UUID
		if bv.Owner != "" {
			owner, err = uuid.Parse(bv.Owner)
			if err != nil {
				return fail(fmt.Errorf("block %s owner: %w", pos, err))
			}
		}
		if _, dup := g.blocks[pos]; dup {
			return fail(fmt.Errorf("block %s: %w", pos, ErrOccupied))
		}
		b, err := g.newBlock(Spec{Kind: kind, Tier: tiers.Tier(bv.Tier), Owner: owner, Demand: bv.Demand})
		if err != nil {
			return fail(fmt.Errorf("block %s: %w", pos, err))
		}
		if l := b.Ledger(); l != nil {
			bal, err := emc.Parse(bv.Balance)
			if err != nil {
				return fail(fmt.Errorf("block %s balance: %w", pos, err))
			}
			l.Restore(bal)
		}
		switch v := b.(type) {
		case *Collector:
			v.phase = bv.Phase
		case *Relay:
			v.phase = bv.Phase
			v.bonusTicks = bv.BonusTicks
			v.carry = bv.Carry
		case *Link:
			v.phase = bv.Phase
		case *PowerFlower:
			v.phase = bv.Phase
		case *Machine:
			v.received = bv.Received
		}
		g.blocks[pos] = b
	}
	g.reindex()
	g.tick.Store(snap.Header.Tick + 1)
	return nil
}

func importAccount(av snapshot.AccountV1) (*players.Account, error) {
	id, err := uuid.Parse(av.ID)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", av.ID, err)
	}
	a := players.NewAccount(id, av.Name)
	a.Online = av.Online
	wallet, err := emc.Parse(av.Wallet)
	if err != nil {
		return nil, fmt.Errorf("account %s wallet: %w", id, err)
	}
	a.Wallet.Restore(wallet)
	if av.StarCapacity != "" {
		capacity, err := emc.Parse(av.StarCapacity)
		if err != nil {
			return nil, fmt.Errorf("account %s star capacity: %w", id, err)
		}
		a.HoldStar(capacity)
		star, err := emc.Parse(av.Star)
		if err != nil {
			return nil, fmt.Errorf("account %s star: %w", id, err)
		}
		a.Star.Restore(star)
	}
	for _, item := range av.Learned {
		a.Learned.Learn(item)
	}
	items := make([]string, 0, len(av.Inventory))
	for item := range av.Inventory {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		a.Inventory.Add(item, av.Inventory[item])
	}
	return a, nil
}
