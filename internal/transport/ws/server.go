package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/host"
	"worldstream.ai/internal/sim/viewer"
)

// FirstAssignedID is where server-assigned viewer ids start.
const FirstAssignedID = 1_000_000

// Server accepts viewer clients: each connection owns one viewer whose pose
// it streams into the host table.
type Server struct {
	eng   *engine.Engine
	table *host.Table
	log   *log.Logger

	upgrader  websocket.Upgrader
	nextID    atomic.Int64
	opTimeout time.Duration

	mu     sync.Mutex
	active map[int]bool
}

// joinTicket tracks one pending join. Fields are guarded by Server.mu.
type joinTicket struct {
	abandoned bool
	added     bool
}

var errJoinAbandoned = errors.New("join abandoned")

func NewServer(eng *engine.Engine, table *host.Table, logger *log.Logger) *Server {
	s := &Server{
		eng:       eng,
		table:     table,
		log:       logger,
		opTimeout: 5 * time.Second,
		active:    map[int]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	s.nextID.Store(FirstAssignedID - 1)
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := s.handshake(r.Context(), conn)
		if id == 0 {
			return
		}
		defer s.leave(id)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypePose {
				continue
			}
			var pose protocol.PoseMsg
			if err := json.Unmarshal(msg, &pose); err != nil {
				continue
			}
			if pose.ProtocolVersion != protocol.Version {
				continue
			}
			s.table.Set(id, poseState(pose))
		}
	}
}

func poseState(p protocol.PoseMsg) viewer.State {
	st := viewer.State{
		Position:   mgl64.Vec3(p.Pos),
		Camera:     mgl64.Vec3(p.Pos),
		Velocity:   mgl64.Vec3(p.Velocity),
		Interior:   p.Interior,
		World:      p.World,
		Spectating: p.Spectating,
	}
	if p.Camera != nil {
		st.Camera = mgl64.Vec3(*p.Camera)
	}
	return st
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) int {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeJoin {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected JOIN"), time.Now().Add(time.Second))
		return 0
	}
	var join protocol.JoinMsg
	if err := json.Unmarshal(msg, &join); err != nil {
		_ = writeJSON(conn, errorMsg(protocol.ErrProtoBadRequest, "bad json"))
		return 0
	}
	if join.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return 0
	}

	id, err := s.claim(join.ViewerID)
	if err != nil {
		_ = writeJSON(conn, errorMsg(protocol.Code(err), err.Error()))
		return 0
	}

	pos := mgl64.Vec3(join.Pos)
	st := viewer.State{Position: pos, Camera: pos, Interior: join.Interior, World: join.World}
	s.table.Set(id, st)

	dctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	var tick uint64
	tk := &joinTicket{}
	err = s.eng.Do(dctx, func(e *engine.Engine) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if tk.abandoned {
			return errJoinAbandoned
		}
		e.AddViewer(id, st)
		tk.added = true
		tick = e.CurrentTick()
		return nil
	})
	if err != nil {
		s.mu.Lock()
		tk.abandoned = true
		added := tk.added
		s.mu.Unlock()
		if added {
			s.leave(id)
		} else {
			s.release(id)
		}
		code := protocol.ErrInternal
		if errors.Is(err, context.DeadlineExceeded) {
			code = protocol.ErrBusy
		}
		_ = writeJSON(conn, errorMsg(code, err.Error()))
		return 0
	}

	if err := writeJSON(conn, protocol.JoinedMsg{
		Type:            protocol.TypeJoined,
		ProtocolVersion: protocol.Version,
		ViewerID:        id,
		Tick:            tick,
	}); err != nil {
		s.leave(id)
		return 0
	}
	if s.log != nil {
		s.log.Printf("viewer joined id=%d pos=%v", id, pos)
	}
	return id
}

func (s *Server) claim(want int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want < 0 {
		return 0, fmt.Errorf("viewer %d: %w", want, protocol.InvalidID)
	}
	if want == 0 {
		for {
			id := int(s.nextID.Add(1))
			if !s.active[id] {
				s.active[id] = true
				return id, nil
			}
		}
	}
	if s.active[want] {
		return 0, fmt.Errorf("viewer %d already connected: %w", want, protocol.InvalidID)
	}
	s.active[want] = true
	return want, nil
}

func (s *Server) release(id int) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	s.table.Drop(id)
}

// leave removes the viewer from the engine, then frees its id. The id stays
// claimed until the removal has run on the engine.
func (s *Server) leave(id int) {
	remove := func(e *engine.Engine) error {
		err := e.RemoveViewer(id)
		s.release(id)
		return err
	}
	if !s.eng.Submit(func(e *engine.Engine) { _ = remove(e) }) {
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		err := s.eng.Do(ctx, remove)
		cancel()
		switch {
		case errors.Is(err, engine.ErrStopped):
			s.release(id)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			if s.log != nil {
				s.log.Printf("viewer leave pending id=%d: %v", id, err)
			}
		}
	}
	if s.log != nil {
		s.log.Printf("viewer left id=%d", id)
	}
}

func errorMsg(code, text string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: text}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
