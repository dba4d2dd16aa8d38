package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/streamtest"
	"worldstream.ai/internal/sim/viewer"
)

type rig struct {
	h   *streamtest.Harness
	srv *httptest.Server
	url string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	h := streamtest.NewHarness(t, streamtest.Tuning())
	s := NewServer(h.E, h.H, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	startEngine(t, h.E)
	return &rig{h: h, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func startEngine(t *testing.T, e *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (s *Server) claimed(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[id]
}

func (r *rig) do(t *testing.T, fn func(e *engine.Engine) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.h.E.Do(ctx, fn); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func (r *rig) waitFor(t *testing.T, what string, cond func(e *engine.Engine) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var ok bool
		r.do(t, func(e *engine.Engine) error {
			ok = cond(e)
			return nil
		})
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (r *rig) join(t *testing.T, id int) (*websocket.Conn, protocol.JoinedMsg) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(protocol.JoinMsg{Type: protocol.TypeJoin, ProtocolVersion: protocol.Version, ViewerID: id}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	var joined protocol.JoinedMsg
	if err := conn.ReadJSON(&joined); err != nil {
		t.Fatalf("read joined: %v", err)
	}
	return conn, joined
}

func TestHandler_PoseDrivesVisibility(t *testing.T) {
	r := newRig(t)
	var objID int
	r.do(t, func(e *engine.Engine) error {
		var err error
		objID, err = e.Register(&entity.Entity{Kind: entity.KindObject, Position: mgl64.Vec3{1, 0, 0}, StreamDistance: 50 * 50})
		return err
	})

	conn, joined := r.join(t, 0)
	defer conn.Close()
	if joined.Type != protocol.TypeJoined || joined.ViewerID != FirstAssignedID {
		t.Fatalf("joined=%+v", joined)
	}
	vid := joined.ViewerID

	r.waitFor(t, "object streamed in", func(e *engine.Engine) bool {
		ids := e.VisibleIDs(vid, entity.KindObject)
		return len(ids) == 1 && ids[0] == objID
	})

	if err := conn.WriteJSON(protocol.PoseMsg{Type: protocol.TypePose, ProtocolVersion: protocol.Version, Pos: [3]float64{5000, 0, 0}}); err != nil {
		t.Fatalf("write pose: %v", err)
	}
	r.waitFor(t, "object streamed out", func(e *engine.Engine) bool {
		return len(e.VisibleIDs(vid, entity.KindObject)) == 0
	})

	conn.Close()
	r.waitFor(t, "viewer removed", func(e *engine.Engine) bool {
		return e.Viewer(vid) == nil
	})
	if _, ok := r.h.H.ViewerState(vid); ok {
		t.Fatalf("host table still holds viewer %d", vid)
	}
}

func TestHandler_RejectsDuplicateViewer(t *testing.T) {
	r := newRig(t)
	first, joined := r.join(t, 5)
	defer first.Close()
	if joined.ViewerID != 5 {
		t.Fatalf("viewer=%d want 5", joined.ViewerID)
	}

	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(protocol.JoinMsg{Type: protocol.TypeJoin, ProtocolVersion: protocol.Version, ViewerID: 5}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	var em protocol.ErrorMsg
	if err := conn.ReadJSON(&em); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if em.Type != protocol.TypeError || em.Code != protocol.ErrInvalidID {
		t.Fatalf("error=%+v", em)
	}
}

func TestPoseState_CameraDefaultsToPos(t *testing.T) {
	st := poseState(protocol.PoseMsg{Pos: [3]float64{1, 2, 3}, Interior: 4})
	if st.Camera != st.Position || st.Interior != 4 {
		t.Fatalf("state=%+v", st)
	}
	cam := [3]float64{9, 9, 9}
	st = poseState(protocol.PoseMsg{Pos: [3]float64{1, 2, 3}, Camera: &cam})
	if st.Camera != (mgl64.Vec3{9, 9, 9}) {
		t.Fatalf("camera=%v", st.Camera)
	}
}

func TestHandler_JoinTimeoutLeavesNoViewer(t *testing.T) {
	h := streamtest.NewHarness(t, streamtest.Tuning())
	s := NewServer(h.E, h.H, nil)
	s.opTimeout = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	r := &rig{h: h, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}

	// The engine is not running yet, so the join request sits in its queue.
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteJSON(protocol.JoinMsg{Type: protocol.TypeJoin, ProtocolVersion: protocol.Version, ViewerID: 7}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	var em protocol.ErrorMsg
	if err := conn.ReadJSON(&em); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if em.Type != protocol.TypeError || em.Code != protocol.ErrBusy {
		t.Fatalf("error=%+v", em)
	}
	if s.claimed(7) {
		t.Fatalf("viewer id 7 still claimed after timeout")
	}

	startEngine(t, h.E)
	var leftover bool
	r.do(t, func(e *engine.Engine) error {
		leftover = e.Viewer(7) != nil
		return nil
	})
	if leftover {
		t.Fatalf("abandoned join added viewer 7")
	}

	s.opTimeout = 2 * time.Second
	again, joined := r.join(t, 7)
	defer again.Close()
	if joined.Type != protocol.TypeJoined || joined.ViewerID != 7 {
		t.Fatalf("rejoin=%+v", joined)
	}
}

func TestLeave_QueueFullStillRemovesViewer(t *testing.T) {
	h := streamtest.NewHarness(t, streamtest.Tuning())
	s := NewServer(h.E, h.H, nil)
	id, err := s.claim(9)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	h.E.AddViewer(id, viewer.State{})
	for h.E.Submit(func(*engine.Engine) {}) {
	}

	left := make(chan struct{})
	go func() {
		s.leave(id)
		close(left)
	}()
	startEngine(t, h.E)
	select {
	case <-left:
	case <-time.After(3 * time.Second):
		t.Fatalf("leave did not return")
	}

	var leftover bool
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.E.Do(ctx, func(e *engine.Engine) error {
		leftover = e.Viewer(id) != nil
		return nil
	}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if leftover {
		t.Fatalf("viewer %d still registered after leave", id)
	}
	if s.claimed(id) {
		t.Fatalf("viewer id %d still claimed after leave", id)
	}
}
