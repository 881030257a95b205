// Package layout loads the initial block placement and player roster of a grid.
package layout

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/players"
	"matterlink.ai/internal/sim/tiers"
)

type Layout struct {
	WorldID string       `yaml:"world_id"`
	Players []PlayerSpec `yaml:"players"`
	Blocks  []BlockSpec  `yaml:"blocks"`
}

type PlayerSpec struct {
	Name string `yaml:"name"`
	// ID defaults to the id derived from Name.
	ID     string `yaml:"id,omitempty"`
	Online bool   `yaml:"online"`
	Wallet string `yaml:"wallet,omitempty"`
	// StarCapacity gives the player an empty star of this size.
	StarCapacity string         `yaml:"star_capacity,omitempty"`
	Learned      []string       `yaml:"learned,omitempty"`
	Inventory    map[string]int `yaml:"inventory,omitempty"`
}

type BlockSpec struct {
	Pos  [3]int `yaml:"pos"`
	Kind string `yaml:"kind"`
	Tier string `yaml:"tier,omitempty"`
	// Owner is a player name from Players.
	Owner  string `yaml:"owner,omitempty"`
	Demand int64  `yaml:"demand,omitempty"`
}

func Load(path string) (Layout, error) {
	l := defaults()
	if strings.TrimSpace(path) == "" {
		l.Normalize()
		return l, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(b, &l); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	l.Normalize()
	if err := l.Validate(); err != nil {
		return l, fmt.Errorf("layout.yaml: %w", err)
	}
	return l, nil
}

func defaults() Layout {
	return Layout{WorldID: "matterlink_1"}
}

func (l *Layout) Normalize() {
	if l == nil {
		return
	}
	l.WorldID = strings.TrimSpace(l.WorldID)
	for i := range l.Players {
		p := &l.Players[i]
		p.Name = strings.TrimSpace(p.Name)
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" && p.Name != "" {
			p.ID = players.OfflineID(p.Name).String()
		}
		for j := range p.Learned {
			p.Learned[j] = strings.ToUpper(strings.TrimSpace(p.Learned[j]))
		}
	}
	for i := range l.Blocks {
		b := &l.Blocks[i]
		b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
		b.Tier = strings.ToUpper(strings.TrimSpace(b.Tier))
		if b.Tier == "" {
			b.Tier = tiers.Basic.String()
		}
		b.Owner = strings.TrimSpace(b.Owner)
	}
}

func (l Layout) Validate() error {
	var errs []error
	if l.WorldID == "" {
		errs = append(errs, errors.New("world_id is required"))
	}
	names := map[string]bool{}
	ids := map[string]bool{}
	for i, p := range l.Players {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("players[%d]: name is required", i))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("players[%d]: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true
		if _, err := uuid.Parse(p.ID); err != nil {
			errs = append(errs, fmt.Errorf("players[%d]: id: %w", i, err))
		} else if ids[p.ID] {
			errs = append(errs, fmt.Errorf("players[%d]: duplicate id %s", i, p.ID))
		}
		ids[p.ID] = true
		if _, err := emc.Parse(p.Wallet); err != nil {
			errs = append(errs, fmt.Errorf("players[%d]: wallet: %w", i, err))
		}
		if _, err := emc.Parse(p.StarCapacity); err != nil {
			errs = append(errs, fmt.Errorf("players[%d]: star_capacity: %w", i, err))
		}
		for item, n := range p.Inventory {
			if n < 0 {
				errs = append(errs, fmt.Errorf("players[%d]: inventory %s is negative", i, item))
			}
		}
	}

	seen := map[[3]int]bool{}
	for i, b := range l.Blocks {
		kind, err := grid.ParseKind(b.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("blocks[%d]: %w", i, err))
			continue
		}
		if _, err := tiers.Parse(b.Tier); err != nil {
			errs = append(errs, fmt.Errorf("blocks[%d]: %w", i, err))
		}
		if seen[b.Pos] {
			errs = append(errs, fmt.Errorf("blocks[%d]: position %v used twice", i, b.Pos))
		}
		seen[b.Pos] = true
		if kind.Owned() && !names[b.Owner] {
			errs = append(errs, fmt.Errorf("blocks[%d]: %s needs an owner from players, got %q", i, kind, b.Owner))
		}
		if b.Demand < 0 {
			errs = append(errs, fmt.Errorf("blocks[%d]: demand must be >= 0", i))
		}
	}
	return errors.Join(errs...)
}

// Apply registers every player and places every block on g, which should be
// empty. It stops at the first failure.
func (l Layout) Apply(g *grid.Grid) error {
	byName := map[string]uuid.UUID{}
	for _, p := range l.Players {
		a, err := p.account()
		if err != nil {
			return err
		}
		if err := g.AddAccount(a); err != nil {
			return err
		}
		byName[p.Name] = a.ID
	}
	for i, b := range l.Blocks {
		kind, err := grid.ParseKind(b.Kind)
		if err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
		tier, err := tiers.Parse(b.Tier)
		if err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
		spec := grid.Spec{Kind: kind, Tier: tier, Owner: byName[b.Owner], Demand: b.Demand}
		if _, err := g.Place(grid.Pos{X: b.Pos[0], Y: b.Pos[1], Z: b.Pos[2]}, spec); err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
	}
	return nil
}

func (p PlayerSpec) account() (*players.Account, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return nil, fmt.Errorf("player %q: %w", p.Name, err)
	}
	a := players.NewAccount(id, p.Name)
	a.Online = p.Online
	wallet, err := emc.Parse(p.Wallet)
	if err != nil {
		return nil, fmt.Errorf("player %q wallet: %w", p.Name, err)
	}
	a.Wallet.Deposit(wallet)
	if p.StarCapacity != "" {
		capacity, err := emc.Parse(p.StarCapacity)
		if err != nil {
			return nil, fmt.Errorf("player %q star: %w", p.Name, err)
		}
		a.HoldStar(capacity)
	}
	for _, item := range p.Learned {
		a.Learned.Learn(item)
	}
	for item, n := range p.Inventory {
		a.Inventory.Add(item, n)
	}
	return a, nil
}
