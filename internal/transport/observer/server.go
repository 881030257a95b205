package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"matterlink.ai/internal/observerproto"
	"matterlink.ai/internal/sim/grid"
	"matterlink.ai/internal/sim/tiers"
)

// Server fans per-tick summaries out to websocket observers. It is a
// grid.TickLogger; WriteTick runs on the loop goroutine and never blocks.
type Server struct {
	grid *grid.Grid
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	every        uint64
	includeQuiet bool
	out          chan []byte
}

func NewServer(g *grid.Grid, logger *log.Logger) *Server {
	return &Server{
		grid: g,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[string]*subscriber{},
	}
}

// Subscribers is the number of connected observers.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped counts TICK messages not delivered because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) WriteTick(entry grid.TickLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return nil
	}
	quiet := entry.Quiet()
	var b []byte
	for _, sub := range s.subs {
		if quiet && !sub.includeQuiet {
			continue
		}
		if sub.every > 1 && entry.Tick%sub.every != 0 {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(tickMsg(entry))
			if err != nil {
				return err
			}
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func tickMsg(e grid.TickLogEntry) observerproto.TickMsg {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            e.Tick,
		Produced:        e.Produced,
		Distributed:     e.Distributed,
		Flushed:         e.Flushed,
		Charged:         e.Charged,
		CraftSpent:      e.CraftSpent,
		Converted:       e.Converted,
		Bonuses:         e.Bonuses,
		Digest:          e.Digest,
	}
	for _, c := range e.Crafts {
		msg.Crafts = append(msg.Crafts, observerproto.CraftInfo{
			Player:   c.Player,
			RecipeID: c.RecipeID,
			Crafted:  c.Crafted,
			Spent:    c.Spent,
			Code:     c.Code,
		})
	}
	return msg
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			GridID:          s.grid.ID(),
			Tick:            s.grid.CurrentTick(),
			TickRateHz:      s.grid.TickRateHz(),
			Mirror:          s.grid.Mirror(),
		}
		table := s.grid.Tiers()
		for _, t := range tiers.All() {
			st := table.Stats(t)
			resp.Tiers = append(resp.Tiers, observerproto.TierRow{
				Tier:              t.String(),
				CollectorOutput:   st.CollectorOutput,
				RelayBonus:        st.RelayBonus,
				RelayTransfer:     st.RelayTransfer,
				PowerFlowerOutput: st.PowerFlowerOutput(),
			})
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 64)
		s.join(sid, sub, out)
		defer s.leave(sid)
		if s.log != nil {
			s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil {
				continue
			}
			if upd.Type != "SUBSCRIBE" || upd.ProtocolVersion != observerproto.Version {
				continue
			}
			normalizeSubscribe(&upd)
			s.join(sid, upd, out)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) join(sid string, sub observerproto.SubscribeMsg, out chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sid] = &subscriber{every: uint64(sub.EveryTicks), includeQuiet: sub.IncludeQuiet, out: out}
}

func (s *Server) leave(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sid)
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.EveryTicks <= 0 {
		sub.EveryTicks = 1
	}
	if sub.EveryTicks > 72000 {
		sub.EveryTicks = 72000
	}
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
