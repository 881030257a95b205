package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"matterlink.ai/internal/observability/metrics"
	persistlog "matterlink.ai/internal/persistence/log"
	"matterlink.ai/internal/persistence/snapshot"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/layout"
	"matterlink.ai/internal/sim/tuning"
	"matterlink.ai/internal/transport/observer"
)

func main() {
	// Environment first so it can supply flag defaults.
	envFile := os.Getenv("MATTERLINK_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		log.Printf("[server] load %s: %v", envFile, err)
	}

	var (
		addr       = flag.String("addr", envString("MATTERLINK_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", envString("MATTERLINK_DATA", "./data"), "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: <configs>/layout.yaml)")
		mirror     = flag.Bool("mirror", false, "run as a mirror: load state but never step")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	lp := strings.TrimSpace(*layoutPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "layout.yaml")
	}
	lay, err := layout.Load(lp)
	if err != nil {
		logger.Fatalf("load layout: %v", err)
	}

	gridDir := filepath.Join(*dataDir, "grids", lay.WorldID)
	_ = os.MkdirAll(gridDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(gridDir)
	}

	// Load tuning (required for a fresh grid; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(gridDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.WorldID != "" && s.Header.WorldID != lay.WorldID {
			logger.Fatalf("snapshot grid id mismatch: layout=%s snap=%s", lay.WorldID, s.Header.WorldID)
		}
		// Cadences are part of the saved state; phases only make sense under them.
		if s.TickRate > 0 {
			tune.TickRateHz = s.TickRate
		}
		if s.PeriodTicks > 0 {
			tune.PeriodTicks = s.PeriodTicks
		}
		if s.LinkFlushTicks > 0 {
			tune.LinkFlushTicks = s.LinkFlushTicks
		}
		snap = &s
	}

	g, err := grid.New(grid.Config{ID: lay.WorldID, Tuning: tune, Mirror: *mirror}, cats)
	if err != nil {
		logger.Fatalf("grid: %v", err)
	}
	if snap != nil {
		if err := g.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), g.CurrentTick())
	} else {
		if err := lay.Apply(g); err != nil {
			logger.Fatalf("apply layout: %v", err)
		}
		logger.Printf("fresh grid=%s blocks=%d players=%d", lay.WorldID, len(lay.Blocks), len(lay.Players))
	}

	ctx, cancel := signalContext()
	defer cancel()

	meters := metrics.NewProvider()
	defer func() { _ = meters.Shutdown(context.Background()) }()
	gridMetrics, err := metrics.NewMetrics(meters.Meter())
	if err != nil {
		logger.Fatalf("metrics: %v", err)
	}
	defer func() { _ = gridMetrics.Close() }()

	obsSrv := observer.NewServer(g, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))

	tickLog := persistlog.NewTickLogger(gridDir)
	auditLog := persistlog.NewAuditLogger(gridDir)
	defer tickLog.Close()
	defer auditLog.Close()
	tickLoggers := multiTickLogger{tickLog, gridMetrics, obsSrv}
	auditLoggers := multiAuditLogger{auditLog}
	if idx != nil {
		tickLoggers = append(tickLoggers, idx)
		auditLoggers = append(auditLoggers, idx)
	}
	g.SetTickLogger(tickLoggers)
	g.SetAuditLogger(auditLoggers)

	mirrorUp, err := openOffsiteMirror(lay.WorldID, log.New(os.Stdout, "[offsite] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("offsite mirror: %v", err)
	}
	defer func() {
		if mirrorUp != nil {
			mirrorUp.Close()
			logger.Printf("offsite mirror closed: %s", mirrorUp.Stats())
		}
	}()

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	g.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(gridDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
					idx.RecordSnapshotState(snap)
				}
				mirrorUp.Enqueue(snap.Header.Tick, path)
			}
		}
	}()

	go func() {
		if err := g.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("grid stopped: %v", err)
		}
	}()

	api := &adminAPI{grid: g, idx: idx, offsite: mirrorUp, metrics: meters, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", api.handleMetrics)

	enableAdminHTTP := envBool("MATTERLINK_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("MATTERLINK_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		api.register(mux)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (MATTERLINK_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(gridDir string) string {
	dir := filepath.Join(gridDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

type multiTickLogger []grid.TickLogger

func (m multiTickLogger) WriteTick(entry grid.TickLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteTick(entry)
		}
	}
	return nil
}

type multiAuditLogger []grid.AuditLogger

func (m multiAuditLogger) WriteAudit(entry grid.AuditEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteAudit(entry)
		}
	}
	return nil
}
