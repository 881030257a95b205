package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"matterlink.ai/internal/sim/tiers"
)

type TierRow struct {
	Tier              string `json:"tier"`
	Ordinal           int    `json:"ordinal"`
	CollectorOutput   int64  `json:"collector_output"`
	RelayBonus        int64  `json:"relay_bonus"`
	RelayTransfer     int64  `json:"relay_transfer"`
	PowerFlowerOutput int64  `json:"power_flower_output"`
}

// NewTiersCommand prints the effective tier table.
func NewTiersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tiers",
		Short:         "Print the tier table after tuning overrides",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune, err := rootOpts.loadTuning()
			if err != nil {
				return WrapExitError(ExitCommandError, "load tuning", err)
			}
			table, err := tune.TierTable()
			if err != nil {
				return WrapExitError(ExitCommandError, "tier table", err)
			}
			rows := make([]TierRow, 0, tiers.Count)
			for _, t := range tiers.All() {
				s := table.Stats(t)
				rows = append(rows, TierRow{
					Tier:              t.String(),
					Ordinal:           int(t),
					CollectorOutput:   s.CollectorOutput,
					RelayBonus:        s.RelayBonus,
					RelayTransfer:     s.RelayTransfer,
					PowerFlowerOutput: s.PowerFlowerOutput(),
				})
			}
			return rootOpts.formatter(cmd).Success(rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIER\tCOLLECTOR\tRELAY BONUS\tRELAY TRANSFER\tFLOWER")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", r.Tier, r.CollectorOutput, r.RelayBonus, r.RelayTransfer, r.PowerFlowerOutput)
				}
				_ = tw.Flush()
			})
		},
	}
}
