package visibility

import (
	"math"
	"sort"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
	"worldstream.ai/internal/sim/viewer"
)

// Shared collects viewer-less discoveries across every viewer in one tick.
type Shared map[int]viewer.Entry

type Evaluator struct {
	Store *entity.Store
	Grid  *grid.Grid
}

func New(store *entity.Store, g *grid.Grid) *Evaluator {
	return &Evaluator{Store: store, Grid: g}
}

// Eligible applies the viewer, interior, world and area filters.
func Eligible(e *entity.Entity, v *viewer.Viewer) bool {
	f := &e.Filters
	if !f.Viewers.Allows(v.ID) || !f.Interiors.Allows(v.Interior) || !f.Worlds.Allows(v.World) {
		return false
	}
	if len(f.Areas) == 0 {
		return true
	}
	inside := false
	for id := range f.Areas {
		if v.Areas.Has(id) {
			inside = true
			break
		}
	}
	return inside != f.InverseAreas
}

// Distance returns the ordering distance of e from v and whether e is in range.
func Distance(e *entity.Entity, v *viewer.Viewer, mult float64) (float64, bool) {
	if e.IsStatic() {
		return math.Inf(-1), true
	}
	p := e.EffectivePosition()
	if !entity.Finite(p) {
		return math.Inf(1), false
	}
	d := p.Sub(v.StreamPosition())
	dist := d.Dot(d)
	return dist, dist < e.StreamDistance*mult
}

// Cells returns the cells to scan for v. A full scan covers every ring that
// can hold a visible entity; a minimal scan covers v's own cell plus the
// cells where the last full scan found something.
func (ev *Evaluator) Cells(v *viewer.Viewer, full bool) []*grid.Cell {
	if full {
		keys := ev.Grid.Neighborhood(v.StreamPosition(), grid.Rings(v.MaxMultiplier()))
		return ev.Grid.Cells(keys)
	}
	keys := ev.Grid.Neighborhood(v.StreamPosition(), 0)
	keys = append(keys, v.Cells...)
	return ev.Grid.Cells(keys)
}

// Classify rebuilds the candidate, still-visible and removal queues of kind k.
func (ev *Evaluator) Classify(v *viewer.Viewer, k entity.Kind, cells []*grid.Cell, found map[grid.Key]struct{}) {
	st := v.Kind(k)
	st.Reset()
	seen := make(map[int]struct{}, len(st.Visible))
	for _, c := range cells {
		for _, id := range c.IDs(k) {
			e := ev.Store.Get(k, id)
			if e == nil {
				continue
			}
			dist, in := Distance(e, v, st.Multiplier)
			if !in || !Eligible(e, v) {
				continue
			}
			if found != nil && !c.Global {
				found[c.Key] = struct{}{}
			}
			entry := viewer.Entry{ID: id, Priority: e.Priority, Distance: dist}
			if _, ok := st.Visible[id]; ok {
				seen[id] = struct{}{}
				st.StillVisible = append(st.StillVisible, entry)
				continue
			}
			st.Candidates = append(st.Candidates, entry)
		}
	}
	for id := range st.Visible {
		if _, ok := seen[id]; !ok {
			st.Removals = append(st.Removals, id)
		}
	}
	sort.Slice(st.Candidates, func(i, j int) bool { return st.Candidates[i].Less(st.Candidates[j]) })
	sort.Slice(st.StillVisible, func(i, j int) bool { return st.StillVisible[i].Less(st.StillVisible[j]) })
	sort.Ints(st.Removals)
	st.Processing = len(st.Candidates) > 0 || len(st.Removals) > 0
}

// DiscoverShared adds in-range viewer-less entities of kind k to shared.
// Entities already discovered by an earlier viewer this tick are skipped.
func (ev *Evaluator) DiscoverShared(v *viewer.Viewer, k entity.Kind, cells []*grid.Cell, shared Shared, found map[grid.Key]struct{}) int {
	st := v.Kind(k)
	n := 0
	for _, c := range cells {
		for _, id := range c.IDs(k) {
			if _, ok := shared[id]; ok {
				continue
			}
			e := ev.Store.Get(k, id)
			if e == nil {
				continue
			}
			dist, in := Distance(e, v, st.Multiplier)
			if !in || !Eligible(e, v) {
				continue
			}
			if found != nil && !c.Global {
				found[c.Key] = struct{}{}
			}
			shared[id] = viewer.Entry{ID: id, Priority: e.Priority, Distance: dist}
			n++
		}
	}
	st.Checked = true
	return n
}

// Areas recomputes which areas contain v and returns the transitions.
func (ev *Evaluator) Areas(v *viewer.Viewer, cells []*grid.Cell) (enter, leave []int) {
	inside := entity.Set{}
	pos := v.AreaPosition()
	for _, c := range cells {
		for _, id := range c.IDs(entity.KindArea) {
			e := ev.Store.Get(entity.KindArea, id)
			if e == nil || !Eligible(e, v) {
				continue
			}
			if v.Spectating && e.IgnoreSpectators {
				continue
			}
			if e.Area().Contains(pos) {
				inside[id] = struct{}{}
			}
		}
	}
	for id := range inside {
		if !v.Areas.Has(id) {
			enter = append(enter, id)
		}
	}
	for id := range v.Areas {
		if !inside.Has(id) {
			leave = append(leave, id)
		}
	}
	sort.Ints(enter)
	sort.Ints(leave)
	v.Areas = inside
	return enter, leave
}
