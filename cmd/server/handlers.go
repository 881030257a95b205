package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"matterlink.ai/internal/observability/metrics"
	"matterlink.ai/internal/persistence/indexdb"
	"matterlink.ai/internal/persistence/offsite"
	"matterlink.ai/internal/sim/emc"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/players"
)

// adminAPI serves the local-only admin endpoints. Mutations go through the
// grid's request channels so they run on the loop goroutine.
type adminAPI struct {
	grid    *grid.Grid
	idx     runtimeIndex
	offsite *offsite.Mirror
	metrics *metrics.Provider
	log     *log.Logger
}

func (a *adminAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/state", a.handleState)
	mux.HandleFunc("/admin/v1/snapshot", a.handleSnapshot)
	mux.HandleFunc("/admin/v1/craft", a.handleCraft)
	mux.HandleFunc("/admin/v1/presence", a.handlePresence)
}

func (a *adminAPI) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		GridID  string           `json:"grid_id"`
		Tick    uint64           `json:"tick"`
		Mirror  bool             `json:"mirror"`
		Metrics grid.GridMetrics `json:"metrics"`
		Index   *indexdb.Stats   `json:"index,omitempty"`
		Offsite *offsite.Stats   `json:"offsite,omitempty"`
	}{
		GridID:  a.grid.ID(),
		Tick:    a.grid.CurrentTick(),
		Mirror:  a.grid.Mirror(),
		Metrics: a.grid.Metrics(),
	}
	if a.idx != nil {
		st := a.idx.Stats()
		resp.Index = &st
	}
	if a.offsite != nil {
		st := a.offsite.Stats()
		resp.Offsite = &st
	}
	writeJSON(rw, http.StatusOK, resp)
}

func (a *adminAPI) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := a.grid.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

type craftBody struct {
	Player   string `json:"player"`
	RecipeID string `json:"recipe_id"`
	Bulk     bool   `json:"bulk"`
}

func (a *adminAPI) handleCraft(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	var body craftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	res, err := a.grid.RequestCraft(ctx, grid.CraftRequest{
		Player:   resolvePlayer(body.Player),
		RecipeID: strings.TrimSpace(body.RecipeID),
		Bulk:     body.Bulk,
	})
	if err != nil {
		writeJSON(rw, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"ok":      res.Code == "",
		"crafted": res.Crafted,
		"spent":   emc.Format(res.Spent),
		"code":    res.Code,
	})
}

type presenceBody struct {
	Player string `json:"player"`
	Online bool   `json:"online"`
}

func (a *adminAPI) handlePresence(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	var body presenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.grid.RequestPresence(ctx, resolvePlayer(body.Player), body.Online); err != nil {
		writeJSON(rw, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "online": body.Online})
}

// handleMetrics renders the collected OpenTelemetry points in Prometheus
// text format.
func (a *adminAPI) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	id := a.grid.ID()
	m := a.grid.Metrics()
	fmt.Fprintf(rw, "# HELP matterlink_grid_blocks Placed block count.\n")
	fmt.Fprintf(rw, "# TYPE matterlink_grid_blocks gauge\n")
	fmt.Fprintf(rw, "matterlink_grid_blocks{grid=%q} %d\n", id, m.Blocks)
	fmt.Fprintf(rw, "# HELP matterlink_grid_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE matterlink_grid_step_ms gauge\n")
	fmt.Fprintf(rw, "matterlink_grid_step_ms{grid=%q} %.3f\n", id, m.StepMS)
	fmt.Fprintf(rw, "# HELP matterlink_grid_log_errors_total Tick and audit log write failures.\n")
	fmt.Fprintf(rw, "# TYPE matterlink_grid_log_errors_total counter\n")
	fmt.Fprintf(rw, "matterlink_grid_log_errors_total{grid=%q,log=\"tick\"} %d\n", id, m.TickLogErrors)
	fmt.Fprintf(rw, "matterlink_grid_log_errors_total{grid=%q,log=\"audit\"} %d\n", id, m.AuditLogErrors)

	if a.metrics == nil {
		return
	}
	points, err := a.metrics.Collect(r.Context())
	if err != nil {
		a.log.Printf("metrics collect: %v", err)
		return
	}
	for _, p := range points {
		labels := fmt.Sprintf("grid=%q", id)
		for _, k := range sortedKeys(p.Attrs) {
			labels += fmt.Sprintf(",%s=%q", k, p.Attrs[k])
		}
		fmt.Fprintf(rw, "matterlink_%s{%s} %d\n", p.Name, labels, p.Value)
	}
}

func resolvePlayer(s string) uuid.UUID {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return players.OfflineID(s)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, grid.ErrUnknownOwner), errors.Is(err, grid.ErrNoRecipe):
		return http.StatusNotFound
	case errors.Is(err, grid.ErrMirror):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
