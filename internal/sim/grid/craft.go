package grid

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/logic/craft"
)

type CraftRequest struct {
	Player   uuid.UUID
	RecipeID string
	// Bulk repeats the craft up to one output stack.
	Bulk bool
}

type CraftResult struct {
	Crafted int
	Spent   *big.Int
	Code    string
}

// craftRequest resolves the recipe into a resolver request. Outputs without
// an explicit stack size use the tuned default.
func (g *Grid) craftRequest(recipeID string) (craft.Request, error) {
	if g.cats == nil {
		return craft.Request{}, fmt.Errorf("%w: %q", ErrNoRecipe, recipeID)
	}
	recipe, ok := g.cats.Recipes.ByID[recipeID]
	if !ok {
		return craft.Request{}, fmt.Errorf("%w: %q", ErrNoRecipe, recipeID)
	}
	req := craft.RequestFor(recipe, g.cats)
	if d, ok := g.cats.Items.Defs[req.Output.Item]; !ok || d.MaxStack <= 0 {
		req.StackLimit = g.cfg.Tuning.DefaultStackLimit
	}
	return req, nil
}

// Evaluate prices one craft for a player without changing anything.
func (g *Grid) Evaluate(player uuid.UUID, recipeID string) (craft.Plan, error) {
	acct, ok := g.players.Get(player)
	if !ok {
		return craft.Plan{}, fmt.Errorf("%w: %s", ErrUnknownOwner, player)
	}
	req, err := g.craftRequest(recipeID)
	if err != nil {
		return craft.Plan{}, err
	}
	return acct.Resolver(g.cats).Evaluate(req), nil
}

// MaxRepeats reports how many times the player could craft recipeID in one
// bulk request right now.
func (g *Grid) MaxRepeats(player uuid.UUID, recipeID string) (int, error) {
	acct, ok := g.players.Get(player)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOwner, player)
	}
	req, err := g.craftRequest(recipeID)
	if err != nil {
		return 0, err
	}
	return acct.Resolver(g.cats).MaxRepeats(req), nil
}

// Craft executes a request against the player's inventory and wallet. It must
// run on the goroutine that owns the grid; other goroutines use RequestCraft.
func (g *Grid) Craft(cr CraftRequest) (CraftResult, error) {
	if g.cfg.Mirror {
		return CraftResult{}, ErrMirror
	}
	acct, ok := g.players.Get(cr.Player)
	if !ok {
		return CraftResult{}, fmt.Errorf("%w: %s", ErrUnknownOwner, cr.Player)
	}
	req, err := g.craftRequest(cr.RecipeID)
	if err != nil {
		return CraftResult{}, err
	}
	r := acct.Resolver(g.cats)
	deliver := func(out catalogs.ItemCount) bool {
		acct.Inventory.Add(out.Item, out.Count)
		return true
	}

	res := CraftResult{Spent: new(big.Int)}
	if cr.Bulk {
		br := r.ExecuteBulk(req, deliver)
		res.Crafted, res.Spent, res.Code = br.Crafted, br.Spent, br.Code
	} else {
		p, ok := r.Execute(req)
		if ok {
			deliver(req.Output)
			res.Crafted = 1
			res.Spent.Set(p.Cost)
		} else {
			res.Code = p.Code
		}
	}

	g.pendingSpent.Add(g.pendingSpent, res.Spent)
	g.pendingCrafts = append(g.pendingCrafts, RecordedCraft{
		Player:   cr.Player.String(),
		RecipeID: cr.RecipeID,
		Crafted:  res.Crafted,
		Spent:    emc.Format(res.Spent),
		Code:     res.Code,
	})
	g.audit(acct.ID.String(), "CRAFT", map[string]any{
		"recipe_id": cr.RecipeID,
		"bulk":      cr.Bulk,
		"crafted":   res.Crafted,
		"spent":     emc.Format(res.Spent),
		"code":      res.Code,
	})
	return res, nil
}

// SetPresence marks a player online or offline. Same goroutine rule as Craft.
func (g *Grid) SetPresence(player uuid.UUID, online bool) error {
	if g.cfg.Mirror {
		return ErrMirror
	}
	if !g.players.SetOnline(player, online) {
		return fmt.Errorf("%w: %s", ErrUnknownOwner, player)
	}
	g.audit(player.String(), "PRESENCE", map[string]any{"online": online})
	return nil
}

func (g *Grid) audit(actor, action string, details map[string]any) {
	if g.auditLogger == nil {
		return
	}
	err := g.auditLogger.WriteAudit(AuditEntry{
		Tick:    g.tick.Load(),
		Actor:   actor,
		Action:  action,
		Details: details,
	})
	if err != nil {
		g.auditLogErrors.Add(1)
	}
}
