// Package cli implements emcctl, the operator tool for grid state on disk.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/tuning"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Configs string
	Tuning  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for emcctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "emcctl",
		Short: "Inspect and verify matterlink grids",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Configs, "configs", "./configs", "config directory")
	cmd.PersistentFlags().StringVar(&opts.Tuning, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")

	cmd.AddCommand(NewTiersCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewEvaluateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewIndexCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadTuning reads the tuning file; a missing file means defaults.
func (o *RootOptions) loadTuning() (tuning.Tuning, error) {
	p := strings.TrimSpace(o.Tuning)
	if p == "" {
		p = filepath.Join(o.Configs, "tuning.yaml")
	}
	t, err := tuning.Load(p)
	if err != nil && os.IsNotExist(err) {
		return tuning.Defaults(), nil
	}
	return t, err
}

type loadedGrid struct {
	Grid *grid.Grid
	Snap snapshot.SnapshotV1
	Cats *catalogs.Catalogs
}

// loadGrid rebuilds a grid from a snapshot file. Cadences saved in the
// snapshot win over the tuning file.
func (o *RootOptions) loadGrid(snapPath string) (loadedGrid, error) {
	var out loadedGrid
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return out, WrapExitError(ExitCommandError, "read snapshot", err)
	}
	out.Snap = snap
	tune, err := o.loadTuning()
	if err != nil {
		return out, WrapExitError(ExitCommandError, "load tuning", err)
	}
	if snap.TickRate > 0 {
		tune.TickRateHz = snap.TickRate
	}
	if snap.PeriodTicks > 0 {
		tune.PeriodTicks = snap.PeriodTicks
	}
	if snap.LinkFlushTicks > 0 {
		tune.LinkFlushTicks = snap.LinkFlushTicks
	}
	cats, err := catalogs.Load(o.Configs)
	if err != nil {
		return out, WrapExitError(ExitCommandError, "load catalogs", err)
	}
	out.Cats = cats
	g, err := grid.New(grid.Config{ID: snap.Header.WorldID, Tuning: tune}, cats)
	if err != nil {
		return out, WrapExitError(ExitCommandError, "grid", err)
	}
	if err := g.ImportSnapshot(snap); err != nil {
		return out, WrapExitError(ExitCommandError, "import snapshot", err)
	}
	out.Grid = g
	return out, nil
}
