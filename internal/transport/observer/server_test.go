package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"matterlink.ai/internal/observerproto"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/tuning"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	g, err := grid.New(grid.Config{ID: "obs", Tuning: tuning.Defaults()}, nil)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	s := NewServer(g, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observer", s.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func dialSubscribe(t *testing.T, s *Server, ts *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) observerproto.TickMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg observerproto.TickMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestFeedSkipsQuietTicksAndThins(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialSubscribe(t, s, ts, observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		EveryTicks:      2,
	})

	_ = s.WriteTick(grid.TickLogEntry{Tick: 1, Produced: "4"})
	_ = s.WriteTick(grid.TickLogEntry{Tick: 2, Produced: "0", Distributed: "0"})
	_ = s.WriteTick(grid.TickLogEntry{Tick: 4, Produced: "12", Crafts: []grid.RecordedCraft{{Player: "steve", RecipeID: "iron_block", Crafted: 1, Spent: "1280"}}})

	msg := readTick(t, conn)
	if msg.Type != "TICK" || msg.Tick != 4 || msg.Produced != "12" {
		t.Fatalf("msg=%+v", msg)
	}
	if len(msg.Crafts) != 1 || msg.Crafts[0].Spent != "1280" {
		t.Fatalf("crafts=%+v", msg.Crafts)
	}
}

func TestFeedRejectsBadHandshake(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/observer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestBootstrapListsTiers(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.GridID != "obs" || boot.TickRateHz != 20 || len(boot.Tiers) != 12 {
		t.Fatalf("boot=%+v", boot)
	}
	if boot.Tiers[0].Tier != "BASIC" || boot.Tiers[0].PowerFlowerOutput != 4*18+1*30 {
		t.Fatalf("basic=%+v", boot.Tiers[0])
	}
}

func TestLoopbackCheck(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"10.0.0.4:5000":  false,
		"garbage":        false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
