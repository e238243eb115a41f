// Package observer streams director ticks and timeline control payloads to
// loopback websocket clients.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"wavedirector.ai/internal/protocol"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/spawn"
)

const clientBuffer = 256

type StatusSource interface {
	Status() director.Status
}

type client struct {
	id  string
	out chan []byte

	mu      sync.Mutex
	quiet   bool
	sources map[string]struct{}
}

func (c *client) apply(sub protocol.SubscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quiet = sub.Quiet
	c.sources = nil
	for _, s := range sub.Sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if c.sources == nil {
			c.sources = map[string]struct{}{}
		}
		c.sources[s] = struct{}{}
	}
}

// Hub fans director output out to websocket clients. It implements
// director.Observer and spawn.ControlSink; slow clients lose messages rather
// than stalling the tick goroutine.
type Hub struct {
	src StatusSource
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(src StatusSource, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		clients: map[string]*client{},
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages discarded because a client's buffer was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ObserveTick implements director.Observer.
func (h *Hub) ObserveTick(r director.TickReport) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}
	busy := !quietTick(r)
	var all []byte
	for _, c := range h.clients {
		c.mu.Lock()
		quiet, sources := c.quiet, c.sources
		c.mu.Unlock()
		if !busy && !quiet {
			continue
		}
		if sources == nil {
			if all == nil {
				all = mustMarshal(tickMsg(r, nil))
			}
			h.send(c, all)
			continue
		}
		h.send(c, mustMarshal(tickMsg(r, sources)))
	}
}

// Control implements spawn.ControlSink.
func (h *Hub) Control(ctl spawn.Control) {
	payload := ctl.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	b := mustMarshal(protocol.ControlMsg{
		Type:            protocol.TypeControl,
		ProtocolVersion: protocol.Version,
		EventID:         ctl.EventID,
		Payload:         payload,
	})
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.send(c, b)
	}
}

func (h *Hub) send(c *client, b []byte) {
	if b == nil {
		return
	}
	select {
	case c.out <- b:
	default:
		h.dropped.Add(1)
	}
}

func quietTick(r director.TickReport) bool {
	return len(r.Spawns) == 0 && r.Started == "" && r.Ended == "" && r.Failures == 0 && r.Faults == 0
}

func tickMsg(r director.TickReport, sources map[string]struct{}) protocol.TickMsg {
	msg := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            r.Tick,
		RunMs:           r.RunMs,
		TDesign:         r.TDesign,
		PaceScale:       r.PaceScale,
		Started:         r.Started,
		Ended:           r.Ended,
		Active:          r.Active,
		Suspended:       r.Suspended,
		Failures:        r.Failures,
		Faults:          r.Faults,
	}
	for _, s := range r.Spawns {
		if sources != nil {
			if _, ok := sources[s.Source]; !ok {
				continue
			}
		}
		msg.Spawns = append(msg.Spawns, protocol.SpawnEntry{
			Source:    s.Source,
			EventID:   s.EventID,
			Archetype: s.Archetype,
			Mode:      s.Mode,
			Pattern:   s.Pattern,
			Count:     s.Count,
		})
	}
	return msg
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// StatusHandler serves the director status snapshot used to bootstrap a view.
func (h *Hub) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if h.src == nil {
			http.Error(rw, "no director", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(h.src.Status())
	}
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
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
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		c := &client{
			id:  fmt.Sprintf("O%d", h.nextID.Add(1)),
			out: make(chan []byte, clientBuffer),
		}
		c.apply(sub)

		welcome := protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: c.id}
		if h.src != nil {
			st := h.src.Status()
			welcome.Digest = st.Digest
			welcome.Tick = st.Tick
		}
		c.out <- mustMarshal(welcome)

		h.mu.Lock()
		h.clients[c.id] = c
		h.mu.Unlock()
		h.log.Printf("observer: join session=%s remote=%s", c.id, r.RemoteAddr)
		defer func() {
			h.mu.Lock()
			delete(h.clients, c.id)
			h.mu.Unlock()
			h.log.Printf("observer: leave session=%s", c.id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
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
			if sub, ok := decodeSubscribe(msg); ok {
				c.apply(sub)
			}
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

func decodeSubscribe(b []byte) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
		return sub, false
	}
	return sub, true
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
