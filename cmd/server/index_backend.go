package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"matterlink.ai/internal/persistence/indexdb"
	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	grid.TickLogger
	grid.AuditLogger
	Close() error
	Stats() indexdb.Stats
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RecordSnapshotState(snap snapshot.SnapshotV1)
}

func openRuntimeIndex(gridDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MATTERLINK_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(gridDir, "index", "grid.sqlite")
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported MATTERLINK_INDEX_BACKEND: %s", backend)
	}
}
