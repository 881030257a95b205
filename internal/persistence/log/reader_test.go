package log

import (
	"testing"
	"time"

	"matterlink.ai/internal/sim/grid"
)

func TestReadLogsAcrossHoursAndReopen(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	a := NewAuditLogger(dir)
	a.s.clock = clock
	_ = a.WriteAudit(grid.AuditEntry{Tick: 5, Actor: "x", Action: "PRESENCE", Details: map[string]any{"online": true}})
	now = now.Add(2 * time.Minute)
	_ = a.WriteAudit(grid.AuditEntry{Tick: 9, Actor: "x", Action: "CRAFT", Details: map[string]any{"recipe_id": "iron_block", "bulk": true}})
	_ = a.Close()

	// A restarted server appends a new zstd frame to the same hour file.
	b := NewAuditLogger(dir)
	b.s.clock = clock
	_ = b.WriteAudit(grid.AuditEntry{Tick: 12, Actor: "y", Action: "PRESENCE"})
	_ = b.Close()

	got, err := ReadAuditLog(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[0].Tick != 5 || got[1].Tick != 9 || got[2].Tick != 12 {
		t.Fatalf("audits=%+v", got)
	}
	if got[1].Details["bulk"] != true || got[1].Details["recipe_id"] != "iron_block" {
		t.Fatalf("details=%v", got[1].Details)
	}

	ticks, err := ReadTickLog(dir)
	if err != nil || len(ticks) != 0 {
		t.Fatalf("missing tick dir: %v %v", ticks, err)
	}
}
