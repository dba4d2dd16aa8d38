package streamtest

import (
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/viewer"
)

type instKey struct {
	kind   entity.Kind
	viewer int
}

type instance struct {
	kind   entity.Kind
	viewer int
	id     int
	pos    mgl64.Vec3
}

// Applied records one in-place update.
type Applied struct {
	Kind   entity.Kind
	Viewer int
	ID     int
	Change engine.Change
}

// Actuator hands out sequential handles and enforces an optional per-viewer
// capacity for each kind. A zero capacity means unlimited.
type Actuator struct {
	Capacity [entity.Count]int
	// Fail makes Activate return a plain error for the listed entity ids.
	Fail map[int]bool

	next  viewer.Handle
	live  map[viewer.Handle]instance
	count map[instKey]int

	Activations   int
	Deactivations int
	Applied       []Applied
}

func NewActuator() *Actuator {
	return &Actuator{
		Fail:  map[int]bool{},
		live:  map[viewer.Handle]instance{},
		count: map[instKey]int{},
	}
}

func (a *Actuator) Activate(k entity.Kind, viewerID int, e *entity.Entity) (viewer.Handle, error) {
	if e == nil {
		return 0, engine.ErrStaleReference
	}
	if a.Fail[e.ID] {
		return 0, fmt.Errorf("activate %s %d: rejected", k, e.ID)
	}
	key := instKey{kind: k, viewer: viewerID}
	if c := a.Capacity[k]; c > 0 && a.count[key] >= c {
		return 0, fmt.Errorf("activate %s %d: %w", k, e.ID, engine.ErrResourceExhausted)
	}
	a.next++
	a.live[a.next] = instance{kind: k, viewer: viewerID, id: e.ID, pos: e.EffectivePosition()}
	a.count[key]++
	a.Activations++
	return a.next, nil
}

func (a *Actuator) Deactivate(k entity.Kind, viewerID int, h viewer.Handle) {
	in, ok := a.live[h]
	if !ok {
		return
	}
	delete(a.live, h)
	a.count[instKey{kind: in.kind, viewer: in.viewer}]--
	a.Deactivations++
}

func (a *Actuator) Apply(k entity.Kind, viewerID int, h viewer.Handle, e *entity.Entity, c engine.Change) error {
	in, ok := a.live[h]
	if !ok {
		return fmt.Errorf("apply %s: unknown handle %d", c, h)
	}
	if c == engine.ChangePosition {
		in.pos = e.EffectivePosition()
		a.live[h] = in
	}
	a.Applied = append(a.Applied, Applied{Kind: k, Viewer: viewerID, ID: e.ID, Change: c})
	return nil
}

// Locate reports the simulated position of an instance.
func (a *Actuator) Locate(k entity.Kind, h viewer.Handle) (mgl64.Vec3, bool) {
	in, ok := a.live[h]
	if !ok || in.kind != k {
		return mgl64.Vec3{}, false
	}
	return in.pos, true
}

// Drive moves the live instance of a viewer-less entity, as if the host simulated it.
func (a *Actuator) Drive(k entity.Kind, id int, pos mgl64.Vec3) bool {
	for h, in := range a.live {
		if in.kind == k && in.id == id {
			in.pos = pos
			a.live[h] = in
			return true
		}
	}
	return false
}

// Live counts instances of k held for viewerID.
func (a *Actuator) Live(k entity.Kind, viewerID int) int {
	return a.count[instKey{kind: k, viewer: viewerID}]
}

// Recorder keeps every event it is handed, in dispatch order.
type Recorder struct {
	Names   map[string]bool
	Events  []callbacks.Event
	Batches int
}

// NewRecorder records the named events, or every event when names is empty.
func NewRecorder(names ...string) *Recorder {
	r := &Recorder{Names: map[string]bool{}}
	if len(names) == 0 {
		names = []string{
			protocol.EventAreaLeave,
			protocol.EventAreaEnter,
			protocol.EventMoveFinished,
			protocol.EventStreamIn,
			protocol.EventStreamOut,
		}
	}
	for _, n := range names {
		r.Names[n] = true
	}
	return r
}

func (r *Recorder) Handles(name string) bool { return r.Names[name] }
func (r *Recorder) Handle(ev callbacks.Event) {
	r.Events = append(r.Events, ev)
}
func (r *Recorder) HandleBatch(uint64, []callbacks.Event) { r.Batches++ }

// Take returns and clears what was recorded.
func (r *Recorder) Take() []callbacks.Event {
	out := r.Events
	r.Events = nil
	return out
}

// Named filters events by name.
func Named(evs []callbacks.Event, name string) []callbacks.Event {
	var out []callbacks.Event
	for _, ev := range evs {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// IDs lists the entity ids of evs in ascending order.
func IDs(evs []callbacks.Event) []int {
	ids := make([]int, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	sort.Ints(ids)
	return ids
}
