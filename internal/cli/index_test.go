package cli

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matterlink.ai/internal/persistence/indexdb"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/layout"
	"matterlink.ai/internal/sim/players"
	"matterlink.ai/internal/sim/tuning"
)

func buildIndex(t *testing.T) string {
	t.Helper()
	cats, err := catalogs.Load(configsDir)
	require.NoError(t, err)
	tune, err := tuning.Load(filepath.Join(configsDir, "tuning.yaml"))
	require.NoError(t, err)
	lay, err := layout.Load(filepath.Join(configsDir, "layout.yaml"))
	require.NoError(t, err)
	g, err := grid.New(grid.Config{ID: lay.WorldID, Tuning: tune}, cats)
	require.NoError(t, err)
	require.NoError(t, lay.Apply(g))

	path := filepath.Join(t.TempDir(), "index", "grid.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	require.NoError(t, err)
	g.SetTickLogger(idx)
	g.SetAuditLogger(idx)

	for i := 0; i < 20; i++ {
		g.StepAndRecord()
	}
	_, err = g.Craft(grid.CraftRequest{Player: players.OfflineID("steve"), RecipeID: "iron_block"})
	require.NoError(t, err)
	g.StepAndRecord()

	snap := g.ExportSnapshot(g.CurrentTick() - 1)
	idx.RecordSnapshot("20.snap.zst", snap)
	idx.RecordSnapshotState(snap)
	require.NoError(t, idx.Close())
	return path
}

func TestIndexQueries(t *testing.T) {
	db := buildIndex(t)

	env, _, err := run(t, "index", "ledgers", "--db", db, "--prefix", "wallet:", "--format", "json")
	require.NoError(t, err)
	var ledgers []LedgerRow
	require.NoError(t, json.Unmarshal(env.Data, &ledgers))
	require.Len(t, ledgers, 2)
	for _, r := range ledgers {
		assert.True(t, strings.HasPrefix(r.Key, "wallet:"))
		assert.Equal(t, int64(20), r.Tick)
	}

	env, _, err = run(t, "index", "snapshots", "--db", db, "--format", "json")
	require.NoError(t, err)
	var snaps []SnapshotRow
	require.NoError(t, json.Unmarshal(env.Data, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "20.snap.zst", snaps[0].Path)
	assert.Equal(t, 9, snaps[0].Blocks)

	steve := players.OfflineID("steve").String()
	env, _, err = run(t, "index", "crafts", "--db", db, "--player", steve, "--format", "json")
	require.NoError(t, err)
	var crafts []CraftRow
	require.NoError(t, json.Unmarshal(env.Data, &crafts))
	require.Len(t, crafts, 1)
	assert.Equal(t, "iron_block", crafts[0].RecipeID)

	_, text, err := run(t, "index", "ticks", "--db", db, "--limit", "3")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(text), "\n"), 3)
}

func TestIndexErrors(t *testing.T) {
	_, _, err := run(t, "index", "ledgers", "--db", filepath.Join(t.TempDir(), "missing.sqlite"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	db := buildIndex(t)
	_, _, err = run(t, "index", "blocks", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
