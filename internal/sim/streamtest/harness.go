package streamtest

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/host"
	"worldstream.ai/internal/sim/tuning"
	"worldstream.ai/internal/sim/viewer"
)

// Harness drives an engine on a fake clock that advances one tick interval
// per Tick call.
type Harness struct {
	T   *testing.T
	E   *engine.Engine
	Act *Actuator
	H   *host.Table
	Rec *Recorder

	now time.Time
}

func NewHarness(t *testing.T, tune tuning.Tuning) *Harness {
	t.Helper()
	h := &Harness{
		T:   t,
		Act: NewActuator(),
		H:   host.NewTable(),
		Rec: NewRecorder(),
		now: time.Unix(1_700_000_000, 0),
	}
	h.E = engine.New(engine.Options{
		Tuning:   tune,
		Actuator: h.Act,
		Host:     h.H,
		Clock:    func() time.Time { return h.now },
	})
	h.E.Subscribe(h.Rec)
	return h
}

// Tuning returns defaults with prediction disabled so positions are exact.
func Tuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Prediction.Enabled = false
	t.GlobalTickRate = 1
	return t
}

func (h *Harness) Tick() protocol.TickStats {
	h.now = h.now.Add(time.Second / time.Duration(h.E.TickRateHz()))
	return h.E.AdvanceTick()
}

func (h *Harness) TickN(n int) {
	for i := 0; i < n; i++ {
		h.Tick()
	}
}

// Advance moves the fake clock without ticking.
func (h *Harness) Advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *Harness) Viewer(id int, pos mgl64.Vec3) {
	h.T.Helper()
	st := viewer.State{Position: pos, Camera: pos}
	h.H.Set(id, st)
	h.E.AddViewer(id, st)
}

func (h *Harness) Register(e *entity.Entity) int {
	h.T.Helper()
	id, err := h.E.Register(e)
	if err != nil {
		h.T.Fatalf("register %s: %v", e.Kind, err)
	}
	return id
}

// Object registers an object at pos with a squared stream distance.
func (h *Harness) Object(pos mgl64.Vec3, distSq float64) int {
	return h.Register(&entity.Entity{Kind: entity.KindObject, Position: pos, StreamDistance: distSq})
}

func (h *Harness) Visible(viewerID int, k entity.Kind) []int {
	return h.E.VisibleIDs(viewerID, k)
}
