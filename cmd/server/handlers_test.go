package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"matterlink.ai/internal/observability/metrics"
	"matterlink.ai/internal/sim/catalogs"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/layout"
	"matterlink.ai/internal/sim/tuning"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestAPI(t *testing.T) (*adminAPI, *http.ServeMux) {
	t.Helper()
	root := findRepoRootForServerTests(t)
	cats, err := catalogs.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	lay, err := layout.Load(filepath.Join(root, "configs", "layout.yaml"))
	if err != nil {
		t.Fatalf("load layout: %v", err)
	}
	g, err := grid.New(grid.Config{ID: lay.WorldID, Tuning: tune}, cats)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	if err := lay.Apply(g); err != nil {
		t.Fatalf("apply: %v", err)
	}

	meters := metrics.NewProvider()
	m, err := metrics.NewMetrics(meters.Meter())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	g.SetTickLogger(multiTickLogger{m})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	api := &adminAPI{grid: g, metrics: meters, log: log.New(io.Discard, "", 0)}
	mux := http.NewServeMux()
	api.register(mux)
	mux.HandleFunc("/metrics", api.handleMetrics)
	return api, mux
}

func doLocal(t *testing.T, mux http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	var out map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return rr.Code, out
}

func TestAdminCraftReportsResolverCode(t *testing.T) {
	_, mux := newTestAPI(t)
	code, out := doLocal(t, mux, http.MethodPost, "/admin/v1/craft", `{"player":"alex","recipe_id":"iron_block"}`)
	if code != http.StatusOK {
		t.Fatalf("status=%d body=%v", code, out)
	}
	if out["ok"] != false || out["code"] != "E_UNLEARNED" || out["spent"] != "0" {
		t.Fatalf("body=%v", out)
	}
}

func TestAdminCraftUnknownRecipeAndPlayer(t *testing.T) {
	_, mux := newTestAPI(t)
	if code, out := doLocal(t, mux, http.MethodPost, "/admin/v1/craft", `{"player":"steve","recipe_id":"nope"}`); code != http.StatusNotFound {
		t.Fatalf("unknown recipe: status=%d body=%v", code, out)
	}
	if code, out := doLocal(t, mux, http.MethodPost, "/admin/v1/craft", `{"player":"herobrine","recipe_id":"iron_block"}`); code != http.StatusNotFound {
		t.Fatalf("unknown player: status=%d body=%v", code, out)
	}
	if code, _ := doLocal(t, mux, http.MethodPost, "/admin/v1/craft", `{`); code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d", code)
	}
}

func TestAdminPresence(t *testing.T) {
	_, mux := newTestAPI(t)
	code, out := doLocal(t, mux, http.MethodPost, "/admin/v1/presence", `{"player":"alex","online":true}`)
	if code != http.StatusOK || out["ok"] != true {
		t.Fatalf("status=%d body=%v", code, out)
	}
	if code, _ := doLocal(t, mux, http.MethodGet, "/admin/v1/presence", ``); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET presence: status=%d", code)
	}
}

func TestAdminRejectsRemoteCallers(t *testing.T) {
	_, mux := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAdminStateAndMetrics(t *testing.T) {
	api, mux := newTestAPI(t)
	deadline := time.Now().Add(3 * time.Second)
	for api.grid.Metrics().Tick < 25 {
		if time.Now().After(deadline) {
			t.Fatalf("grid did not advance")
		}
		time.Sleep(10 * time.Millisecond)
	}

	code, out := doLocal(t, mux, http.MethodGet, "/admin/v1/state", ``)
	if code != http.StatusOK || out["grid_id"] != "matterlink_1" {
		t.Fatalf("status=%d body=%v", code, out)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	body := rr.Body.String()
	for _, want := range []string{"matterlink_grid_blocks", "matterlink_emc_produced_total", "matterlink_grid_tick", `log="audit"} 0`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s:\n%s", want, body)
		}
	}
}

func TestStatusForMirrorIsConflict(t *testing.T) {
	if got := statusFor(fmt.Errorf("craft: %w", grid.ErrMirror)); got != http.StatusConflict {
		t.Fatalf("status=%d", got)
	}
	if got := statusFor(grid.ErrNoRecipe); got != http.StatusNotFound {
		t.Fatalf("status=%d", got)
	}
}
