package grid

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

type craftReq struct {
	Req  CraftRequest
	Resp chan craftResp
}

type craftResp struct {
	Res CraftResult
	Err error
}

type presenceReq struct {
	Player uuid.UUID
	Online bool
	Resp   chan error
}

func (g *Grid) Run(ctx context.Context) error {
	hz := g.cfg.Tuning.TickRateHz
	if hz <= 0 {
		hz = 20
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case req := <-g.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-g.craftReq:
			res, err := g.Craft(req.Req)
			req.Resp <- craftResp{Res: res, Err: err}
		case req := <-g.presenceReq:
			req.Resp <- g.SetPresence(req.Player, req.Online)
		case <-ticker.C:
			g.StepAndRecord()
			g.handleAdminSnapshotRequests(pendingAdmin)
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (g *Grid) Stop() { close(g.stop) }

// StepAndRecord runs one tick and hands its record to the loggers and, on
// the snapshot cadence, a snapshot to the sink. Run calls it on every tick;
// offline tools drive a grid with it directly.
func (g *Grid) StepAndRecord() TickStats {
	start := time.Now()
	stats := g.Step()
	elapsed := time.Since(start)

	if g.cfg.Mirror {
		return stats
	}
	crafts := g.pendingCrafts
	g.pendingCrafts = nil
	if g.tickLogger != nil {
		if err := g.tickLogger.WriteTick(tickEntry(stats, crafts, g.Digest())); err != nil {
			g.tickLogErrors.Add(1)
		}
	}
	if every := g.cfg.Tuning.SnapshotEveryTicks; every > 0 && stats.Tick > 0 && stats.Tick%uint64(every) == 0 {
		if g.snapshotSink != nil {
			select {
			case g.snapshotSink <- g.ExportSnapshot(stats.Tick):
			default:
			}
		}
	}

	g.metricsMu.Lock()
	g.metrics = GridMetrics{
		Tick:     stats.Tick,
		Blocks:   len(g.blocks),
		Accounts: g.players.Len(),
		StepMS:   float64(elapsed.Microseconds()) / 1000,

		TickLogErrors:  g.tickLogErrors.Load(),
		AuditLogErrors: g.auditLogErrors.Load(),
	}
	g.metricsMu.Unlock()
	return stats
}

func (g *Grid) Metrics() GridMetrics {
	g.metricsMu.RLock()
	defer g.metricsMu.RUnlock()
	return g.metrics
}

// RequestSnapshot asks the loop goroutine to enqueue a snapshot.
func (g *Grid) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	resp := make(chan adminSnapshotResp, 1)
	select {
	case g.admin <- adminSnapshotReq{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *Grid) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if len(reqs) == 0 {
		return
	}
	cur := g.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if g.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		select {
		case g.snapshotSink <- g.ExportSnapshot(snapTick):
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		select {
		case r.Resp <- resp:
		default:
			// Caller gave up; never block the loop.
		}
	}
}

// RequestCraft runs a craft on the loop goroutine.
func (g *Grid) RequestCraft(ctx context.Context, req CraftRequest) (CraftResult, error) {
	resp := make(chan craftResp, 1)
	select {
	case g.craftReq <- craftReq{Req: req, Resp: resp}:
	case <-ctx.Done():
		return CraftResult{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Res, r.Err
	case <-ctx.Done():
		return CraftResult{}, ctx.Err()
	}
}

// RequestPresence toggles a player's online flag on the loop goroutine.
func (g *Grid) RequestPresence(ctx context.Context, player uuid.UUID, online bool) error {
	resp := make(chan error, 1)
	select {
	case g.presenceReq <- presenceReq{Player: player, Online: online, Resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
