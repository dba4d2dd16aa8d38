package motion

import (
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
)

type Deps struct {
	// ViewerPosition reports a viewer's live position from the host.
	ViewerPosition func(id int) (mgl64.Vec3, bool)
	// VehiclePosition locates an instantiated vehicle; false falls back to the cached position.
	VehiclePosition func(id int) (mgl64.Vec3, bool)
	// Vehicles lists the currently instantiated vehicle ids.
	Vehicles func() []int
}

type ref struct {
	kind entity.Kind
	id   int
}

type Result struct {
	Finished   []int
	StaleHosts int
	Synced     int
}

// Tracker keeps attached and moving entities in step with their hosts and
// paths. It runs once per tick before any discovery.
type Tracker struct {
	store *entity.Store
	grid  *grid.Grid
	deps  Deps

	attached map[ref]struct{}
	moving   map[ref]struct{}
}

func New(store *entity.Store, g *grid.Grid, deps Deps) *Tracker {
	return &Tracker{
		store:    store,
		grid:     g,
		deps:     deps,
		attached: map[ref]struct{}{},
		moving:   map[ref]struct{}{},
	}
}

// Track registers or unregisters e according to its Attach and Move fields.
func (t *Tracker) Track(e *entity.Entity) {
	r := ref{kind: e.Kind, id: e.ID}
	if e.Attach != nil {
		t.attached[r] = struct{}{}
	} else {
		delete(t.attached, r)
	}
	if e.Move != nil {
		t.moving[r] = struct{}{}
	} else {
		delete(t.moving, r)
	}
}

func (t *Tracker) Forget(k entity.Kind, id int) {
	r := ref{kind: k, id: id}
	delete(t.attached, r)
	delete(t.moving, r)
}

func (t *Tracker) Moving() int   { return len(t.moving) }
func (t *Tracker) Attached() int { return len(t.attached) }

// Run advances moves and resyncs vehicles before resolving attachments, so an
// entity attached to a host that moved this tick follows it in the same pass.
// Chained attachments resolve host first.
func (t *Tracker) Run(now time.Time) Result {
	var res Result
	for _, r := range sortedRefs(t.moving) {
		e := t.store.Get(r.kind, r.id)
		if e == nil || e.Move == nil {
			delete(t.moving, r)
			continue
		}
		if t.advance(e, now) {
			delete(t.moving, r)
			res.Finished = append(res.Finished, e.ID)
		}
	}
	if t.deps.Vehicles != nil && t.deps.VehiclePosition != nil {
		for _, id := range t.deps.Vehicles() {
			e := t.store.Get(entity.KindVehicle, id)
			if e == nil || e.Attach != nil {
				continue
			}
			p, ok := t.deps.VehiclePosition(id)
			if !ok || p == e.Position {
				continue
			}
			e.Position = p
			t.grid.MarkDirty(e)
			res.Synced++
		}
	}

	state := make(map[ref]uint8, len(t.attached))
	for _, r := range sortedRefs(t.attached) {
		t.resolve(r, state, &res)
	}
	return res
}

const (
	resolving uint8 = iota + 1
	resolved
)

// resolve follows r's attachment after resolving its host when the host is
// itself attached. A cycle leaves the member reached last on its cached position.
func (t *Tracker) resolve(r ref, state map[ref]uint8, res *Result) {
	if state[r] != 0 {
		return
	}
	e := t.store.Get(r.kind, r.id)
	if e == nil || e.Attach == nil {
		delete(t.attached, r)
		state[r] = resolved
		return
	}
	state[r] = resolving
	if a := e.Attach; a.Host == entity.HostEntity {
		hr := ref{kind: a.HostKind, id: a.HostID}
		if _, ok := t.attached[hr]; ok {
			t.resolve(hr, state, res)
		}
	}
	if !t.follow(e) {
		res.StaleHosts++
	}
	state[r] = resolved
}

// follow refreshes the cached attach position. It returns false when the host is gone.
func (t *Tracker) follow(e *entity.Entity) bool {
	a := e.Attach
	host, ok := t.hostPosition(a)
	if !ok {
		if a.Valid || entity.Finite(a.Position) {
			a.Valid = false
			a.Position = entity.Infinite()
			t.grid.MarkDirty(e)
		}
		return false
	}
	p := host.Add(a.Offset)
	if a.Valid && p == a.Position {
		return true
	}
	a.Position = p
	a.Valid = true
	t.grid.MarkDirty(e)
	return true
}

func (t *Tracker) hostPosition(a *entity.Attach) (mgl64.Vec3, bool) {
	switch a.Host {
	case entity.HostEntity:
		h := t.store.Get(a.HostKind, a.HostID)
		if h == nil {
			return mgl64.Vec3{}, false
		}
		p := h.EffectivePosition()
		return p, entity.Finite(p)
	case entity.HostViewer:
		if t.deps.ViewerPosition == nil {
			return mgl64.Vec3{}, false
		}
		return t.deps.ViewerPosition(a.HostID)
	case entity.HostVehicle:
		h := t.store.Get(entity.KindVehicle, a.HostID)
		if h == nil {
			return mgl64.Vec3{}, false
		}
		if t.deps.VehiclePosition != nil {
			if p, ok := t.deps.VehiclePosition(a.HostID); ok {
				return p, true
			}
		}
		p := h.EffectivePosition()
		return p, entity.Finite(p)
	}
	return mgl64.Vec3{}, false
}

// advance interpolates e along its move. It returns true once the move completed.
func (t *Tracker) advance(e *entity.Entity, now time.Time) bool {
	m := e.Move
	elapsed := now.Sub(m.Started)
	if m.Duration <= 0 || elapsed >= m.Duration {
		e.Position = m.To
		if m.Rotate {
			e.Rotation = m.ToRot
		}
		e.Move = nil
		t.grid.MarkDirty(e)
		return true
	}
	if elapsed < 0 {
		elapsed = 0
	}
	f := float64(elapsed) / float64(m.Duration)
	e.Position = lerp(m.From, m.To, f)
	if m.Rotate {
		e.Rotation = lerp(m.FromRot, m.ToRot, f)
	}
	t.grid.MarkDirty(e)
	return false
}

func lerp(a, b mgl64.Vec3, f float64) mgl64.Vec3 {
	return a.Add(b.Sub(a).Mul(f))
}

func sortedRefs(m map[ref]struct{}) []ref {
	out := make([]ref, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].id < out[j].id
	})
	return out
}
