package cli

import (
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/spf13/cobra"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/emc"
)

// InspectResult summarizes one snapshot file. Amounts are decimal strings.
type InspectResult struct {
	Version  int              `json:"version"`
	GridID   string           `json:"grid_id"`
	Tick     uint64           `json:"tick"`
	Blocks   int              `json:"blocks"`
	ByKind   map[string]int   `json:"by_kind"`
	InBlocks string           `json:"in_blocks"`
	Accounts []AccountSummary `json:"accounts"`
	Total    string           `json:"total"`
}

type AccountSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
	Wallet string `json:"wallet"`
	Star   string `json:"star,omitempty"`
}

// NewInspectCommand summarizes a snapshot without loading catalogs.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "inspect <snapshot>",
		Short:         "Summarize a snapshot: blocks by kind and every EMC balance",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read snapshot", err)
			}
			res, err := summarize(snap)
			if err != nil {
				return WrapExitError(ExitCommandError, "snapshot balances", err)
			}
			return rootOpts.formatter(cmd).Success(res, func(w io.Writer) {
				fmt.Fprintf(w, "snapshot v%d grid=%s tick=%d blocks=%d accounts=%d\n",
					res.Version, res.GridID, res.Tick, res.Blocks, len(res.Accounts))
				kinds := make([]string, 0, len(res.ByKind))
				for k := range res.ByKind {
					kinds = append(kinds, k)
				}
				sort.Strings(kinds)
				for _, k := range kinds {
					fmt.Fprintf(w, "  %-24s %d\n", k, res.ByKind[k])
				}
				for _, a := range res.Accounts {
					fmt.Fprintf(w, "  %s %-12s online=%-5v wallet=%s", a.ID, a.Name, a.Online, a.Wallet)
					if a.Star != "" {
						fmt.Fprintf(w, " star=%s", a.Star)
					}
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "emc in blocks=%s total=%s\n", res.InBlocks, res.Total)
			})
		},
	}
}

func summarize(snap snapshot.SnapshotV1) (InspectResult, error) {
	res := InspectResult{
		Version: snap.Header.Version,
		GridID:  snap.Header.WorldID,
		Tick:    snap.Header.Tick,
		Blocks:  len(snap.Blocks),
		ByKind:  map[string]int{},
	}
	inBlocks := new(big.Int)
	for _, b := range snap.Blocks {
		res.ByKind[b.Kind]++
		v, err := emc.Parse(b.Balance)
		if err != nil {
			return res, fmt.Errorf("block %v: %w", b.Pos, err)
		}
		inBlocks.Add(inBlocks, v)
	}
	total := new(big.Int).Set(inBlocks)
	for _, a := range snap.Accounts {
		wallet, err := emc.Parse(a.Wallet)
		if err != nil {
			return res, fmt.Errorf("account %s wallet: %w", a.ID, err)
		}
		total.Add(total, wallet)
		s := AccountSummary{ID: a.ID, Name: a.Name, Online: a.Online, Wallet: emc.Format(wallet)}
		if a.StarCapacity != "" {
			star, err := emc.Parse(a.Star)
			if err != nil {
				return res, fmt.Errorf("account %s star: %w", a.ID, err)
			}
			total.Add(total, star)
			s.Star = emc.Format(star)
		}
		res.Accounts = append(res.Accounts, s)
	}
	res.InBlocks = emc.Format(inBlocks)
	res.Total = emc.Format(total)
	return res, nil
}
