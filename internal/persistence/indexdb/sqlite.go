// Package indexdb mirrors the grid's logs into SQLite for queries. It is a
// read model only: nothing in it feeds back into the simulation, and records
// are dropped rather than ever blocking the tick loop.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/tuning"
)

const (
	queueCapacity = 65536
	commitOps     = 2000
	commitAfter   = 2 * time.Second
)

// EMC amounts are TEXT: they exceed SQLite's 64-bit integers.
const schema = `
CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS catalogs (name TEXT PRIMARY KEY, digest TEXT NOT NULL, json TEXT NOT NULL, updated_at TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS ticks (
	tick INTEGER PRIMARY KEY,
	produced TEXT NOT NULL,
	distributed TEXT NOT NULL,
	converted INTEGER NOT NULL,
	crafted_cost TEXT NOT NULL,
	digest TEXT NOT NULL,
	raw_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crafts (
	tick INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	player TEXT NOT NULL,
	recipe_id TEXT NOT NULL,
	crafted INTEGER NOT NULL,
	spent TEXT NOT NULL,
	code TEXT,
	PRIMARY KEY (tick, seq)
);
CREATE INDEX IF NOT EXISTS idx_crafts_player_tick ON crafts(player, tick);
CREATE TABLE IF NOT EXISTS audits (
	tick INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	raw_json TEXT NOT NULL,
	PRIMARY KEY (tick, seq)
);
CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);
CREATE TABLE IF NOT EXISTS snapshots (tick INTEGER PRIMARY KEY, path TEXT NOT NULL, blocks INTEGER NOT NULL, accounts INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS ledgers (key TEXT PRIMARY KEY, balance TEXT NOT NULL, tick INTEGER NOT NULL);
`

var pragmas = []string{
	"journal_mode=WAL",
	"synchronous=NORMAL",
	"busy_timeout=5000",
	"temp_store=MEMORY",
}

// kind tags a queued record for drop accounting.
type kind int

const (
	kindTick kind = iota
	kindAudit
	kindSnapshot
	kindLedgers
	numKinds
)

// op is one queued record. apply runs on the writer goroutine inside the
// current batch and reports how many rows it wrote.
type op interface {
	kind() kind
	apply(w *writer) (int, error)
}

type SQLiteIndex struct {
	db *sql.DB

	ops    chan op
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	drops     [numKinds]atomic.Uint64
	writeErrs atomic.Uint64
}

type Stats struct {
	QueueDepth             int    `json:"queue_depth"`
	QueueCapacity          int    `json:"queue_capacity"`
	DropTickTotal          uint64 `json:"drop_tick_total"`
	DropAuditTotal         uint64 `json:"drop_audit_total"`
	DropSnapshotTotal      uint64 `json:"drop_snapshot_total"`
	DropSnapshotStateTotal uint64 `json:"drop_snapshot_state_total"`
	WriteErrorTotal        uint64 `json:"write_error_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := prepareDB(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s: %w", filepath.Base(path), err)
	}

	s := &SQLiteIndex{db: db, ops: make(chan op, queueCapacity)}
	w, err := newWriter(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer w.close()
		for o := range s.ops {
			if err := w.write(o); err != nil {
				s.writeErrs.Add(1)
			}
		}
	}()
	return s, nil
}

func prepareDB(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec("PRAGMA " + p); err != nil {
			return err
		}
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ops)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:             len(s.ops),
		QueueCapacity:          cap(s.ops),
		DropTickTotal:          s.drops[kindTick].Load(),
		DropAuditTotal:         s.drops[kindAudit].Load(),
		DropSnapshotTotal:      s.drops[kindSnapshot].Load(),
		DropSnapshotStateTotal: s.drops[kindLedgers].Load(),
		WriteErrorTotal:        s.writeErrs.Load(),
	}
}

// enqueue never blocks; the compressed logs stay authoritative.
func (s *SQLiteIndex) enqueue(o op) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ops <- o:
	default:
		s.drops[o.kind()].Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(e grid.TickLogEntry) error {
	s.enqueue(tickOp(e))
	return nil
}

func (s *SQLiteIndex) WriteAudit(e grid.AuditEntry) error {
	s.enqueue(auditOp(e))
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	s.enqueue(snapshotOp{tick: snap.Header.Tick, path: path, blocks: len(snap.Blocks), accounts: len(snap.Accounts)})
}

// RecordSnapshotState upserts the latest balance of every ledger in snap.
// Keys are "block:x,y,z", "wallet:<player id>" and "star:<player id>".
func (s *SQLiteIndex) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	o := ledgersOp{tick: snap.Header.Tick}
	for _, b := range snap.Blocks {
		if b.Balance != "" {
			o.rows = append(o.rows, [2]string{fmt.Sprintf("block:%d,%d,%d", b.Pos[0], b.Pos[1], b.Pos[2]), b.Balance})
		}
	}
	for _, a := range snap.Accounts {
		o.rows = append(o.rows, [2]string{"wallet:" + a.ID, a.Wallet})
		if a.StarCapacity != "" {
			o.rows = append(o.rows, [2]string{"star:" + a.ID, a.Star})
		}
	}
	s.enqueue(o)
}

// UpsertCatalogs stores the catalog files and the tuning in effect, with
// their digests, so queries can tell which rules produced the rows.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	type doc struct {
		name, digest string
		body         []byte
	}
	var docs []doc
	if configDir != "" && cats != nil {
		for _, d := range []struct{ name, file, digest string }{
			{"items", "items.json", cats.Items.Digest},
			{"recipes", "recipes.json", cats.Recipes.Digest},
		} {
			if b, err := os.ReadFile(filepath.Join(configDir, d.file)); err == nil && d.digest != "" {
				docs = append(docs, doc{d.name, d.digest, b})
			}
		}
	}
	tb, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(tb)
	docs = append(docs, doc{"tuning", hex.EncodeToString(sum[:]), tb})

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range docs {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
			d.name, d.digest, string(d.body), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// writer owns the batch transaction. Rows are committed every commitOps rows
// or commitAfter, whichever comes first, and on close.
type writer struct {
	db    *sql.DB
	stmts map[string]*sql.Stmt

	tx    *sql.Tx
	rows  int
	since time.Time

	auditTick uint64
	auditSeq  int
}

var statements = map[string]string{
	"tick":     `INSERT OR REPLACE INTO ticks(tick,produced,distributed,converted,crafted_cost,digest,raw_json) VALUES(?,?,?,?,?,?,?)`,
	"craft":    `INSERT OR REPLACE INTO crafts(tick,seq,player,recipe_id,crafted,spent,code) VALUES(?,?,?,?,?,?,?)`,
	"audit":    `INSERT OR REPLACE INTO audits(tick,seq,actor,action,raw_json) VALUES(?,?,?,?,?)`,
	"snapshot": `INSERT OR REPLACE INTO snapshots(tick,path,blocks,accounts) VALUES(?,?,?,?)`,
	// Older snapshots never overwrite newer balances.
	"ledger": `INSERT INTO ledgers(key,balance,tick) VALUES(?,?,?)
		ON CONFLICT(key) DO UPDATE SET balance=excluded.balance, tick=excluded.tick WHERE excluded.tick >= ledgers.tick`,
}

func newWriter(db *sql.DB) (*writer, error) {
	w := &writer{db: db, stmts: map[string]*sql.Stmt{}}
	for name, q := range statements {
		st, err := db.Prepare(q)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		w.stmts[name] = st
	}
	return w, nil
}

func (w *writer) exec(name string, args ...any) error {
	_, err := w.tx.Stmt(w.stmts[name]).Exec(args...)
	return err
}

// write applies o in the open batch. A failed op is rolled back to its
// savepoint; the rest of the batch still commits.
func (w *writer) write(o op) error {
	if w.tx == nil {
		tx, err := w.db.Begin()
		if err != nil {
			return err
		}
		w.tx, w.rows, w.since = tx, 0, time.Now()
	}
	if _, err := w.tx.Exec("SAVEPOINT op"); err != nil {
		return err
	}
	n, err := o.apply(w)
	if err != nil {
		_, _ = w.tx.Exec("ROLLBACK TO op")
		_, _ = w.tx.Exec("RELEASE op")
		return err
	}
	if _, err := w.tx.Exec("RELEASE op"); err != nil {
		return err
	}
	w.rows += n
	if w.rows >= commitOps || time.Since(w.since) >= commitAfter {
		return w.commit()
	}
	return nil
}

func (w *writer) commit() error {
	if w.tx == nil {
		return nil
	}
	err := w.tx.Commit()
	w.tx = nil
	return err
}

func (w *writer) close() {
	_ = w.commit()
	for _, st := range w.stmts {
		_ = st.Close()
	}
}

type tickOp grid.TickLogEntry

func (tickOp) kind() kind { return kindTick }

func (o tickOp) apply(w *writer) (int, error) {
	e := grid.TickLogEntry(o)
	raw, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := w.exec("tick", int64(e.Tick), e.Produced, e.Distributed, e.Converted, e.CraftSpent, e.Digest, string(raw)); err != nil {
		return 0, err
	}
	for i, c := range e.Crafts {
		if err := w.exec("craft", int64(e.Tick), i, c.Player, c.RecipeID, c.Crafted, c.Spent, c.Code); err != nil {
			return 0, err
		}
	}
	return 1 + len(e.Crafts), nil
}

type auditOp grid.AuditEntry

func (auditOp) kind() kind { return kindAudit }

// Audits are numbered within their tick in arrival order.
func (o auditOp) apply(w *writer) (int, error) {
	e := grid.AuditEntry(o)
	if e.Tick != w.auditTick {
		w.auditTick, w.auditSeq = e.Tick, 0
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := w.exec("audit", int64(e.Tick), w.auditSeq, e.Actor, e.Action, string(raw)); err != nil {
		return 0, err
	}
	w.auditSeq++
	return 1, nil
}

type snapshotOp struct {
	tick     uint64
	path     string
	blocks   int
	accounts int
}

func (snapshotOp) kind() kind { return kindSnapshot }

func (o snapshotOp) apply(w *writer) (int, error) {
	return 1, w.exec("snapshot", int64(o.tick), o.path, o.blocks, o.accounts)
}

type ledgersOp struct {
	tick uint64
	rows [][2]string // key, balance
}

func (ledgersOp) kind() kind { return kindLedgers }

func (o ledgersOp) apply(w *writer) (int, error) {
	for _, r := range o.rows {
		if err := w.exec("ledger", r[0], r[1], int64(o.tick)); err != nil {
			return 0, err
		}
	}
	return len(o.rows), nil
}
