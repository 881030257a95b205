package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"matterlink.ai/internal/sim/grid"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []string
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTickLoggerSkipsQuietTicks(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	fixed := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	l.s.clock = func() time.Time { return fixed }

	entries := []grid.TickLogEntry{
		{Tick: 1, Produced: "0", Distributed: "0", Flushed: "0", Charged: "0", CraftSpent: "0"},
		{Tick: 2, Produced: "40", Distributed: "39", Flushed: "0", Charged: "0", CraftSpent: "0", Bonuses: 1},
		{Tick: 3, Produced: "0", Distributed: "0", Flushed: "0", Charged: "0", CraftSpent: "1280",
			Crafts: []grid.RecordedCraft{{Player: "p", RecipeID: "iron_block", Crafted: 1, Spent: "1280"}}},
	}
	for _, e := range entries {
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if recs, _ := l.s.Counts(); recs != 2 {
		t.Fatalf("records=%d want 2", recs)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "ticks", "ticks-2026-03-01-10.jsonl.zst"))
	if len(lines) != 2 {
		t.Fatalf("lines=%d want 2", len(lines))
	}
	var got grid.TickLogEntry
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tick != 3 || len(got.Crafts) != 1 || got.CraftSpent != "1280" {
		t.Fatalf("entry=%+v", got)
	}
}

func TestStreamRotatesByHour(t *testing.T) {
	dir := t.TempDir()
	w := NewStream(dir, "audit")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.clock = func() time.Time { return now }

	if err := w.Append(grid.AuditEntry{Tick: 1, Actor: "a", Action: "CRAFT"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Append(grid.AuditEntry{Tick: 2, Actor: "a", Action: "PRESENCE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if recs, segs := w.Counts(); recs != 2 || segs != 2 {
		t.Fatalf("records=%d segments=%d", recs, segs)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, hour := range []string{"10", "11"} {
		if n := len(readLines(t, filepath.Join(dir, "audit-2026-03-01-"+hour+".jsonl.zst"))); n != 1 {
			t.Fatalf("hour %s lines=%d", hour, n)
		}
	}
}
