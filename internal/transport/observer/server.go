package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/engine"
)

// Server exposes the engine's flushed events over websocket.
type Server struct {
	eng *engine.Engine
	hub *Hub
	log *log.Logger

	// AllowRemote disables the loopback-only check.
	AllowRemote bool

	upgrader websocket.Upgrader
}

// NewServer subscribes a fresh hub to eng. Call it before eng.Run starts.
func NewServer(eng *engine.Engine, logger *log.Logger) *Server {
	hub := NewHub()
	eng.Subscribe(hub)
	eng.AddStatsSink(hub)
	return &Server{
		eng: eng,
		hub: hub,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

type statusResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
	Sessions        int    `json:"sessions"`
	Dropped         uint64 `json:"dropped_frames"`
}

// StatusHandler reports the feed state as JSON.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := statusResponse{
			ProtocolVersion: protocol.Version,
			Tick:            s.eng.CurrentTick(),
			TickRateHz:      s.eng.TickRateHz(),
			Sessions:        s.hub.Sessions(),
			Dropped:         s.hub.Dropped(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
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
		sub, err := decodeSubscribe(msg)
		if err != nil {
			writeError(conn, protocol.ErrProtoBadRequest, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := uuid.NewString()
		welcome := protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sid,
			TickRateHz:      s.eng.TickRateHz(),
			Tick:            s.eng.CurrentTick(),
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(welcome); err != nil {
			return
		}

		sess := s.hub.join(sid, sub, 256)
		defer s.hub.leave(sid)
		if s.log != nil {
			s.log.Printf("observer joined session=%s events=%v viewers=%v enc=%s", sid, sub.Events, sub.Viewers, sub.Encoding)
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
				case f := <-sess.out:
					typ := websocket.TextMessage
					if f.binary {
						typ = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(typ, f.data); err != nil {
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
			sub, err := decodeSubscribe(msg)
			if err != nil {
				// The writer owns the connection now; route errors through it.
				if f, encErr := encode(EncodingJSON, errorMsg(protocol.ErrProtoBadRequest, err.Error())); encErr == nil {
					sendLatest(sess.out, f)
				}
				continue
			}
			sess.apply(sub)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		if s.log != nil {
			s.log.Printf("observer left session=%s", sid)
		}
	}
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func decodeSubscribe(b []byte) (protocol.SubscribeMsg, error) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, badRequest("bad json")
	}
	if sub.Type != protocol.TypeSubscribe {
		return sub, badRequest("expected SUBSCRIBE")
	}
	if sub.ProtocolVersion != protocol.Version {
		return sub, badRequest("unsupported protocol_version")
	}
	if err := normalizeSubscribe(&sub); err != nil {
		return sub, err
	}
	return sub, nil
}

var allEvents = []string{
	protocol.EventAreaLeave,
	protocol.EventAreaEnter,
	protocol.EventMoveFinished,
	protocol.EventStreamIn,
	protocol.EventStreamOut,
}

// normalizeSubscribe fills defaults: every event, json encoding.
func normalizeSubscribe(sub *protocol.SubscribeMsg) error {
	if len(sub.Events) == 0 {
		sub.Events = append([]string(nil), allEvents...)
	}
	for _, n := range sub.Events {
		known := false
		for _, k := range allEvents {
			if n == k {
				known = true
				break
			}
		}
		if !known {
			return badRequest("unknown event " + n)
		}
	}
	switch sub.Encoding {
	case "":
		sub.Encoding = EncodingJSON
	case EncodingJSON, EncodingMsgpack:
	default:
		return badRequest("unknown encoding " + sub.Encoding)
	}
	if len(sub.Viewers) > 1024 {
		sub.Viewers = sub.Viewers[:1024]
	}
	return nil
}

func errorMsg(code, text string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: text}
}

func writeError(conn *websocket.Conn, code, text string) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteJSON(errorMsg(code, text))
}

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
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
