package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// frame is one encoded message; binary frames carry msgpack.
type frame struct {
	binary bool
	data   []byte
}

type session struct {
	id  string
	out chan frame

	mu      sync.Mutex
	events  map[string]bool
	viewers map[int]bool
	enc     string
	stats   bool
}

func (s *session) apply(sub protocol.SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = map[string]bool{}
	for _, n := range sub.Events {
		s.events[n] = true
	}
	s.viewers = nil
	if len(sub.Viewers) > 0 {
		s.viewers = map[int]bool{}
		for _, v := range sub.Viewers {
			s.viewers[v] = true
		}
	}
	s.enc = sub.Encoding
	s.stats = sub.Stats
}

func (s *session) wants(ev callbacks.Event) bool {
	if !s.events[ev.Name] {
		return false
	}
	if s.viewers == nil || ev.Name == protocol.EventMoveFinished {
		return true
	}
	return s.viewers[ev.Viewer]
}

// Hub fans flushed event batches and tick stats out to feed sessions. The
// engine calls it from its own goroutine; sessions come and go from HTTP
// handlers.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session

	dropped atomic.Uint64
}

func NewHub() *Hub { return &Hub{sessions: map[string]*session{}} }

func (h *Hub) join(id string, sub protocol.SubscribeMsg, buf int) *session {
	s := &session{id: id, out: make(chan frame, buf)}
	s.apply(sub)
	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Dropped counts frames discarded because a session fell behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) snapshot() []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) Handles(string) bool    { return true }
func (h *Hub) Handle(callbacks.Event) {}

// HandleBatch sends each session the part of the batch it subscribed to.
// Sessions whose filter matches nothing get no frame for the tick.
func (h *Hub) HandleBatch(tick uint64, evs []callbacks.Event) {
	for _, s := range h.snapshot() {
		s.mu.Lock()
		var msgs []protocol.EventMsg
		for _, ev := range evs {
			if s.wants(ev) {
				msgs = append(msgs, ev.Msg())
			}
		}
		enc := s.enc
		s.mu.Unlock()
		if len(msgs) == 0 {
			continue
		}
		h.send(s, enc, protocol.NewBatch(tick, msgs))
	}
}

func (h *Hub) RecordTick(st protocol.TickStats) {
	msg := protocol.StatsMsg{Type: protocol.TypeStats, ProtocolVersion: protocol.Version, Stats: st}
	for _, s := range h.snapshot() {
		s.mu.Lock()
		want, enc := s.stats, s.enc
		s.mu.Unlock()
		if want {
			h.send(s, enc, msg)
		}
	}
}

func (h *Hub) send(s *session, enc string, msg any) {
	f, err := encode(enc, msg)
	if err != nil {
		return
	}
	if !sendLatest(s.out, f) {
		h.dropped.Add(1)
	}
}

func encode(enc string, msg any) (frame, error) {
	if enc == EncodingMsgpack {
		b, err := msgpack.Marshal(msg)
		return frame{binary: true, data: b}, err
	}
	b, err := json.Marshal(msg)
	return frame{data: b}, err
}

// sendLatest never blocks: when the session buffer is full the oldest frame
// is dropped to make room. It reports false if a frame was lost.
func sendLatest(ch chan frame, f frame) bool {
	select {
	case ch <- f:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
	return false
}
