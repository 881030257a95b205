package cli

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

type IndexOptions struct {
	*RootOptions
	Database string
	Limit    int
	Prefix   string
	Player   string
}

type SnapshotRow struct {
	Tick     int64  `json:"tick"`
	Path     string `json:"path"`
	Blocks   int    `json:"blocks"`
	Accounts int    `json:"accounts"`
}

type TickRow struct {
	Tick        int64  `json:"tick"`
	Produced    string `json:"produced"`
	Distributed string `json:"distributed"`
	Converted   int64  `json:"converted"`
	CraftedCost string `json:"crafted_cost"`
	Digest      string `json:"digest"`
}

type LedgerRow struct {
	Key     string `json:"key"`
	Balance string `json:"balance"`
	Tick    int64  `json:"tick"`
}

type CraftRow struct {
	Tick     int64  `json:"tick"`
	Player   string `json:"player"`
	RecipeID string `json:"recipe_id"`
	Crafted  int    `json:"crafted"`
	Spent    string `json:"spent"`
	Code     string `json:"code,omitempty"`
}

// NewIndexCommand queries the server's SQLite read model.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index <snapshots|ticks|ledgers|crafts>",
		Short: "Query the grid index database",
		Long: `Read rows from the SQLite index the server maintains next to its logs.
Newest rows come first.

Examples:
  emcctl index snapshots --db data/grids/matterlink_1/index/grid.sqlite
  emcctl index ledgers --db grid.sqlite --prefix wallet:
  emcctl index crafts --db grid.sqlite --player 7d4e... --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(opts, cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the index sqlite file (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "result limit")
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "ledger key prefix filter (ledgers)")
	cmd.Flags().StringVar(&opts.Player, "player", "", "player id filter (crafts)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runIndex(opts *IndexOptions, cmd *cobra.Command, query string) error {
	// sql.Open would create an empty database for a bad path.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "open index", err)
	}
	db, err := sql.Open("sqlite", opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open index", err)
	}
	defer db.Close()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	out := opts.formatter(cmd)

	switch strings.TrimSpace(query) {
	case "snapshots":
		rows, err := queryRows(db, func(r *sql.Rows) (SnapshotRow, error) {
			var v SnapshotRow
			return v, r.Scan(&v.Tick, &v.Path, &v.Blocks, &v.Accounts)
		}, `SELECT tick,path,blocks,accounts FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query snapshots", err)
		}
		return out.Success(rows, func(w io.Writer) {
			for _, r := range rows {
				fmt.Fprintf(w, "%d\t%s\tblocks=%d accounts=%d\n", r.Tick, r.Path, r.Blocks, r.Accounts)
			}
		})

	case "ticks":
		rows, err := queryRows(db, func(r *sql.Rows) (TickRow, error) {
			var v TickRow
			return v, r.Scan(&v.Tick, &v.Produced, &v.Distributed, &v.Converted, &v.CraftedCost, &v.Digest)
		}, `SELECT tick,produced,distributed,converted,crafted_cost,digest FROM ticks ORDER BY tick DESC LIMIT ?`, limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query ticks", err)
		}
		return out.Success(rows, func(w io.Writer) {
			for _, r := range rows {
				fmt.Fprintf(w, "%d\tproduced=%s distributed=%s converted=%d crafted=%s\n", r.Tick, r.Produced, r.Distributed, r.Converted, r.CraftedCost)
			}
		})

	case "ledgers":
		rows, err := queryRows(db, func(r *sql.Rows) (LedgerRow, error) {
			var v LedgerRow
			return v, r.Scan(&v.Key, &v.Balance, &v.Tick)
		}, `SELECT key,balance,tick FROM ledgers WHERE key LIKE ? ORDER BY key LIMIT ?`, opts.Prefix+"%", limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query ledgers", err)
		}
		return out.Success(rows, func(w io.Writer) {
			for _, r := range rows {
				fmt.Fprintf(w, "%-48s %s (tick %d)\n", r.Key, r.Balance, r.Tick)
			}
		})

	case "crafts":
		q := `SELECT tick,player,recipe_id,crafted,spent,COALESCE(code,'') FROM crafts`
		args := []any{}
		if p := strings.TrimSpace(opts.Player); p != "" {
			q += ` WHERE player = ?`
			args = append(args, p)
		}
		q += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, limit)
		rows, err := queryRows(db, func(r *sql.Rows) (CraftRow, error) {
			var v CraftRow
			return v, r.Scan(&v.Tick, &v.Player, &v.RecipeID, &v.Crafted, &v.Spent, &v.Code)
		}, q, args...)
		if err != nil {
			return WrapExitError(ExitCommandError, "query crafts", err)
		}
		return out.Success(rows, func(w io.Writer) {
			for _, r := range rows {
				fmt.Fprintf(w, "%d\t%s\t%s crafted=%d spent=%s %s\n", r.Tick, r.Player, r.RecipeID, r.Crafted, r.Spent, r.Code)
			}
		})

	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown query %q (want snapshots, ticks, ledgers or crafts)", query))
	}
}

func queryRows[T any](db *sql.DB, scan func(*sql.Rows) (T, error), q string, args ...any) ([]T, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
