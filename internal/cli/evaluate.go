package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/players"
)

type EvaluateOptions struct {
	*RootOptions
	Snapshot string
	Player   string
	Recipe   string
}

type NeedLine struct {
	Item          string `json:"item"`
	Count         int    `json:"count"`
	FromInventory int    `json:"from_inventory"`
	Shortfall     int    `json:"shortfall"`
}

type EvaluateResult struct {
	Player     string     `json:"player"`
	Recipe     string     `json:"recipe_id"`
	Possible   bool       `json:"possible"`
	Code       string     `json:"code,omitempty"`
	Cost       string     `json:"cost"`
	Needs      []NeedLine `json:"needs"`
	MaxRepeats int        `json:"max_repeats"`
}

// NewEvaluateCommand prices a recipe for a player as of a snapshot.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Price one craft for a player in a snapshot",
		Long: `Load a snapshot and report what crafting a recipe would take from the
player's inventory and wallet, without changing anything.

Examples:
  emcctl evaluate --snapshot data/grids/matterlink_1/snapshots/6000.snap.zst --player steve --recipe iron_block
  emcctl evaluate --snapshot s.snap.zst --player 7d4e... --recipe iron_pickaxe --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "path to .snap.zst (required)")
	cmd.Flags().StringVar(&opts.Player, "player", "", "player name or id (required)")
	cmd.Flags().StringVar(&opts.Recipe, "recipe", "", "recipe id (required)")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("player")
	_ = cmd.MarkFlagRequired("recipe")
	return cmd
}

func runEvaluate(opts *EvaluateOptions, cmd *cobra.Command) error {
	lg, err := opts.loadGrid(opts.Snapshot)
	if err != nil {
		return err
	}
	player := playerID(opts.Player)
	plan, err := lg.Grid.Evaluate(player, opts.Recipe)
	if err != nil {
		code := "E_EVALUATE"
		if errors.Is(err, grid.ErrUnknownOwner) {
			code = "E_UNKNOWN_PLAYER"
		} else if errors.Is(err, grid.ErrNoRecipe) {
			code = "E_UNKNOWN_RECIPE"
		}
		_ = opts.formatter(cmd).Error(code, err.Error())
		return WrapExitError(ExitFailure, "evaluate", err)
	}
	repeats, _ := lg.Grid.MaxRepeats(player, opts.Recipe)

	res := EvaluateResult{
		Player:     player.String(),
		Recipe:     opts.Recipe,
		Possible:   plan.Possible,
		Code:       plan.Code,
		Cost:       emc.Format(plan.Cost),
		MaxRepeats: repeats,
	}
	needs := lg.Cats.Recipes.ByID[opts.Recipe].Needs()
	for i, n := range needs {
		line := NeedLine{Item: n.Item, Count: n.Count}
		if i < len(plan.FromInventory) {
			line.FromInventory = plan.FromInventory[i]
			line.Shortfall = plan.Shortfall[i]
		}
		res.Needs = append(res.Needs, line)
	}

	return opts.formatter(cmd).Success(res, func(w io.Writer) {
		status := "possible"
		if !res.Possible {
			status = res.Code
		}
		fmt.Fprintf(w, "%s for %s: %s cost=%s max_repeats=%d\n", res.Recipe, res.Player, status, res.Cost, res.MaxRepeats)
		for _, n := range res.Needs {
			fmt.Fprintf(w, "  %-16s need=%d inventory=%d shortfall=%d\n", n.Item, n.Count, n.FromInventory, n.Shortfall)
		}
	})
}

func playerID(s string) uuid.UUID {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return players.OfflineID(s)
}
