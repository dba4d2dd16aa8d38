package motion

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
)

func setup(deps Deps) (*entity.Store, *grid.Grid, *Tracker) {
	s := entity.NewStore()
	g := grid.New(100)
	s.OnInsert = g.Relocate
	s.OnRemove = func(e *entity.Entity) { g.Remove(e.Kind, e.ID) }
	return s, g, New(s, g, deps)
}

func TestRun_AttachFollowsViewer(t *testing.T) {
	viewers := map[int]mgl64.Vec3{1: {250, 250, 0}}
	s, g, tr := setup(Deps{ViewerPosition: func(id int) (mgl64.Vec3, bool) {
		p, ok := viewers[id]
		return p, ok
	}})
	e := &entity.Entity{
		Kind:           entity.KindTextLabel,
		StreamDistance: 50 * 50,
		Attach:         &entity.Attach{Host: entity.HostViewer, HostID: 1, Offset: mgl64.Vec3{0, 0, 1}},
	}
	s.Insert(e)
	tr.Track(e)

	res := tr.Run(time.Now())
	if res.StaleHosts != 0 {
		t.Fatalf("stale=%d want 0", res.StaleHosts)
	}
	if e.EffectivePosition() != (mgl64.Vec3{250, 250, 1}) {
		t.Fatalf("pos=%v", e.EffectivePosition())
	}
	g.Flush(s.Get)
	if k, _, ok := g.CellOf(e.Kind, e.ID); !ok || k != (grid.Key{X: 2, Y: 2}) {
		t.Fatalf("cell=%v ok=%v", k, ok)
	}

	delete(viewers, 1)
	res = tr.Run(time.Now())
	if res.StaleHosts != 1 {
		t.Fatalf("stale=%d want 1", res.StaleHosts)
	}
	if entity.Finite(e.EffectivePosition()) {
		t.Fatalf("lost host must park entity at infinity")
	}
	g.Flush(s.Get)
	if _, _, ok := g.CellOf(e.Kind, e.ID); ok {
		t.Fatalf("entity with no host should not be indexed")
	}
}

func TestRun_AttachToEntityAndVehicleFallback(t *testing.T) {
	s, _, tr := setup(Deps{VehiclePosition: func(int) (mgl64.Vec3, bool) { return mgl64.Vec3{}, false }})
	car := &entity.Entity{Kind: entity.KindVehicle, Position: mgl64.Vec3{10, 20, 0}, StreamDistance: 100}
	s.Insert(car)
	obj := &entity.Entity{Kind: entity.KindObject, Attach: &entity.Attach{Host: entity.HostVehicle, HostID: car.ID}}
	s.Insert(obj)
	tr.Track(obj)
	label := &entity.Entity{Kind: entity.KindTextLabel, Attach: &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindVehicle, HostID: car.ID, Offset: mgl64.Vec3{1, 0, 0}}}
	s.Insert(label)
	tr.Track(label)

	tr.Run(time.Now())
	if obj.EffectivePosition() != car.Position {
		t.Fatalf("vehicle host should fall back to cached position, got %v", obj.EffectivePosition())
	}
	if label.EffectivePosition() != (mgl64.Vec3{11, 20, 0}) {
		t.Fatalf("label pos=%v", label.EffectivePosition())
	}
}

func TestRun_MoveInterpolatesAndFinishes(t *testing.T) {
	s, _, tr := setup(Deps{})
	start := time.Unix(1000, 0)
	e := &entity.Entity{Kind: entity.KindObject, StreamDistance: 100}
	e.Move = &entity.Move{
		From:     mgl64.Vec3{0, 0, 0},
		To:       mgl64.Vec3{10, 0, 0},
		ToRot:    mgl64.Vec3{0, 0, 90},
		Rotate:   true,
		Duration: time.Second,
		Started:  start,
	}
	s.Insert(e)
	tr.Track(e)

	res := tr.Run(start.Add(500 * time.Millisecond))
	if len(res.Finished) != 0 {
		t.Fatalf("finished early")
	}
	if e.Position != (mgl64.Vec3{5, 0, 0}) || e.Rotation != (mgl64.Vec3{0, 0, 45}) {
		t.Fatalf("pos=%v rot=%v", e.Position, e.Rotation)
	}
	res = tr.Run(start.Add(2 * time.Second))
	if len(res.Finished) != 1 || res.Finished[0] != e.ID {
		t.Fatalf("finished=%v", res.Finished)
	}
	if e.Move != nil || e.Position != (mgl64.Vec3{10, 0, 0}) {
		t.Fatalf("move should snap to target")
	}
	if tr.Moving() != 0 {
		t.Fatalf("moving=%d want 0", tr.Moving())
	}
}

func TestRun_MoveWithoutRotation(t *testing.T) {
	s, _, tr := setup(Deps{})
	start := time.Unix(0, 0)
	e := &entity.Entity{Kind: entity.KindObject, Rotation: mgl64.Vec3{1, 2, 3}}
	e.Move = &entity.Move{To: mgl64.Vec3{4, 0, 0}, ToRot: mgl64.Vec3{90, 90, 90}, Duration: time.Second, Started: start}
	s.Insert(e)
	tr.Track(e)
	tr.Run(start.Add(time.Second))
	if e.Rotation != (mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("rotation changed: %v", e.Rotation)
	}
}

func TestRun_SyncsInstantiatedVehicles(t *testing.T) {
	s, g, tr := setup(Deps{})
	car := &entity.Entity{Kind: entity.KindVehicle, StreamDistance: 100}
	s.Insert(car)
	tr.deps = Deps{
		Vehicles:        func() []int { return []int{car.ID} },
		VehiclePosition: func(int) (mgl64.Vec3, bool) { return mgl64.Vec3{-150, 0, 0}, true },
	}
	res := tr.Run(time.Now())
	if res.Synced != 1 || car.Position != (mgl64.Vec3{-150, 0, 0}) {
		t.Fatalf("synced=%d pos=%v", res.Synced, car.Position)
	}
	g.Flush(s.Get)
	if k, _, _ := g.CellOf(entity.KindVehicle, car.ID); k != (grid.Key{X: -2, Y: 0}) {
		t.Fatalf("cell=%v", k)
	}
}

func TestRun_AttachFollowsHostMovedThisTick(t *testing.T) {
	s, _, tr := setup(Deps{})
	start := time.Unix(0, 0)
	host := &entity.Entity{Kind: entity.KindObject, StreamDistance: 100}
	host.Move = &entity.Move{To: mgl64.Vec3{1000, 0, 0}, Duration: time.Second, Started: start}
	s.Insert(host)
	tr.Track(host)
	dep := &entity.Entity{Kind: entity.KindObject, Attach: &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindObject, HostID: host.ID, Offset: mgl64.Vec3{0, 0, 1}}}
	s.Insert(dep)
	tr.Track(dep)

	tr.Run(start.Add(2 * time.Second))
	if host.Position != (mgl64.Vec3{1000, 0, 0}) {
		t.Fatalf("host=%v", host.Position)
	}
	if got := dep.EffectivePosition(); got != (mgl64.Vec3{1000, 0, 1}) {
		t.Fatalf("dependent=%v want [1000 0 1]", got)
	}
}

func TestRun_ChainedAttachResolvesHostFirst(t *testing.T) {
	s, _, tr := setup(Deps{})
	root := &entity.Entity{Kind: entity.KindObject, Position: mgl64.Vec3{5, 0, 0}}
	s.Insert(root)
	// The outer link gets the lower id so ordered iteration would reach it first.
	outer := &entity.Entity{Kind: entity.KindObject}
	s.Insert(outer)
	inner := &entity.Entity{Kind: entity.KindObject, Attach: &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindObject, HostID: root.ID, Offset: mgl64.Vec3{1, 0, 0}}}
	s.Insert(inner)
	outer.Attach = &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindObject, HostID: inner.ID, Offset: mgl64.Vec3{0, 1, 0}}
	tr.Track(outer)
	tr.Track(inner)

	res := tr.Run(time.Unix(0, 0))
	if res.StaleHosts != 0 {
		t.Fatalf("stale=%d want 0", res.StaleHosts)
	}
	if got := outer.EffectivePosition(); got != (mgl64.Vec3{6, 1, 0}) {
		t.Fatalf("outer=%v want [6 1 0]", got)
	}
}

func TestRun_AttachCycleTerminates(t *testing.T) {
	s, _, tr := setup(Deps{})
	a := &entity.Entity{Kind: entity.KindObject}
	b := &entity.Entity{Kind: entity.KindObject}
	s.Insert(a)
	s.Insert(b)
	a.Attach = &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindObject, HostID: b.ID}
	b.Attach = &entity.Attach{Host: entity.HostEntity, HostKind: entity.KindObject, HostID: a.ID}
	tr.Track(a)
	tr.Track(b)
	tr.Run(time.Unix(0, 0))
	if tr.Attached() != 2 {
		t.Fatalf("attached=%d want 2", tr.Attached())
	}
}
