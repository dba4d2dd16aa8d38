package engine

import (
	"fmt"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/viewer"
)

// Register takes ownership of ent and returns its id.
func (e *Engine) Register(ent *entity.Entity) (int, error) {
	if ent == nil {
		return 0, fmt.Errorf("register: nil entity: %w", ErrInvalidID)
	}
	if !ent.Kind.Valid() {
		return 0, fmt.Errorf("register: %v: %w", ent.Kind, ErrUnsupportedKind)
	}
	if limit := e.cfg.Kinds[ent.Kind].MaxItems; limit > 0 && e.store.Len(ent.Kind) >= limit {
		return 0, fmt.Errorf("register %s: %d items: %w", ent.Kind, limit, ErrResourceExhausted)
	}
	if ent.Kind == entity.KindArea && ent.Shape == nil {
		return 0, fmt.Errorf("register area: missing shape: %w", ErrInvalidID)
	}
	if ent.Attach != nil {
		ent.Attach.Valid = false
		ent.Attach.Position = entity.Infinite()
	}
	id, _ := e.store.Insert(ent)
	e.tracker.Track(ent)
	return id, nil
}

// Destroy removes an entity and tears down every live instance of it. No
// stream-out events are emitted for destroyed entities.
func (e *Engine) Destroy(k entity.Kind, id int) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	e.forEachInstance(k, id, func(viewerID int, st *viewer.KindState, h viewer.Handle) {
		e.act.Deactivate(k, viewerID, h)
		delete(st.Visible, id)
	})
	for _, v := range e.viewers {
		purge(v.Kind(k), id)
		if k == entity.KindArea {
			delete(v.Areas, id)
		}
	}
	if k.ViewerLess() {
		purge(e.global[k], id)
		delete(e.shared[k], id)
	}
	e.tracker.Forget(k, id)
	e.store.Remove(k, ent.ID)
	return nil
}

func (e *Engine) lookup(k entity.Kind, id int) (*entity.Entity, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	ent := e.store.Get(k, id)
	if ent == nil {
		return nil, fmt.Errorf("%s %d: %w", k, id, ErrInvalidID)
	}
	return ent, nil
}

// forEachInstance visits every live instance of one entity.
func (e *Engine) forEachInstance(k entity.Kind, id int, fn func(viewerID int, st *viewer.KindState, h viewer.Handle)) {
	if k.ViewerLess() {
		st := e.global[k]
		if h, ok := st.Visible[id]; ok {
			fn(viewer.Global, st, h)
		}
		return
	}
	for _, vid := range e.ViewerIDs() {
		st := e.viewers[vid].Kind(k)
		if h, ok := st.Visible[id]; ok {
			fn(vid, st, h)
		}
	}
}

func purge(st *viewer.KindState, id int) {
	drop := func(in []viewer.Entry) []viewer.Entry {
		out := in[:0]
		for _, x := range in {
			if x.ID != id {
				out = append(out, x)
			}
		}
		return out
	}
	st.Candidates = drop(st.Candidates)
	st.StillVisible = drop(st.StillVisible)
	rm := st.Removals[:0]
	for _, x := range st.Removals {
		if x != id {
			rm = append(rm, x)
		}
	}
	st.Removals = rm
}

// AddViewer starts streaming for a viewer using the configured defaults.
func (e *Engine) AddViewer(id int, st viewer.State) *viewer.Viewer {
	if v := e.viewers[id]; v != nil {
		v.State = st
		return v
	}
	v := viewer.New(id)
	v.State = st
	v.TickRate = e.cfg.ViewerTickRate
	v.UpdateWhenIdle = e.cfg.UpdateWhenIdle
	for _, k := range entity.Kinds {
		kt := e.cfg.Kinds[k]
		ks := v.Kind(k)
		ks.Enabled = kt.Enabled
		ks.Multiplier = kt.RadiusMultiplier
		ks.Cap = kt.ViewerCap
		ks.ChunkTickRate = kt.ChunkTickRate
	}
	e.viewers[id] = v
	return v
}

// RemoveViewer tears down the viewer's instances without emitting events.
func (e *Engine) RemoveViewer(id int) error {
	v := e.viewers[id]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", id, ErrInvalidID)
	}
	for _, k := range entity.Kinds {
		if k.ViewerLess() {
			continue
		}
		st := v.Kind(k)
		for eid, h := range st.Visible {
			e.act.Deactivate(k, id, h)
			delete(st.Visible, eid)
		}
	}
	delete(e.viewers, id)
	return nil
}

func (e *Engine) viewerKind(viewerID int, k entity.Kind) (*viewer.Viewer, *viewer.KindState, error) {
	v := e.viewers[viewerID]
	if v == nil {
		return nil, nil, fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	if !k.Valid() {
		return nil, nil, fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	return v, v.Kind(k), nil
}

// SetEnabled toggles a kind for one viewer. Disabling drops its instances at once.
func (e *Engine) SetEnabled(viewerID int, k entity.Kind, on bool) error {
	v, st, err := e.viewerKind(viewerID, k)
	if err != nil {
		return err
	}
	st.Enabled = on
	if on {
		return nil
	}
	if k.ViewerLess() {
		st.Checked = false
		return nil
	}
	if k == entity.KindArea {
		for _, id := range sortedSet(v.Areas) {
			if a := e.store.Get(entity.KindArea, id); a != nil {
				e.queue.AreaLeave(v.ID, id, a.Priority)
			}
		}
		v.Areas = entity.Set{}
		return nil
	}
	e.dropAll(v, k)
	return nil
}

func (e *Engine) dropAll(v *viewer.Viewer, k entity.Kind) {
	st := v.Kind(k)
	for _, id := range sortedHandles(st.Visible) {
		e.act.Deactivate(k, v.ID, st.Visible[id])
		delete(st.Visible, id)
		e.streamOut(k, id, v.ID)
	}
	st.Reset()
}

func (e *Engine) SetRadiusMultiplier(viewerID int, k entity.Kind, m float64) error {
	_, st, err := e.viewerKind(viewerID, k)
	if err != nil {
		return err
	}
	if m <= 0 {
		return fmt.Errorf("radius multiplier must be positive, got %v", m)
	}
	st.Multiplier = m
	return nil
}

// SetMaxVisible sets the viewer's cap for k, clamped to the global cap.
// Lowering it below the visible count forces a refresh of that kind.
func (e *Engine) SetMaxVisible(viewerID int, k entity.Kind, n int) error {
	_, st, err := e.viewerKind(viewerID, k)
	if err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}
	if g := e.cfg.Kinds[k].GlobalCap; n > g {
		n = g
	}
	st.Cap = n
	st.RestoreCap()
	if len(st.Visible) > n && !k.ViewerLess() {
		return e.ForceRefresh(viewerID, k)
	}
	return nil
}

func (e *Engine) SetTickRate(viewerID, rate int) error {
	v := e.viewers[viewerID]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	if rate < 1 {
		rate = 1
	}
	v.TickRate = rate
	return nil
}

func (e *Engine) SetChunkTickRate(viewerID int, k entity.Kind, rate int) error {
	_, st, err := e.viewerKind(viewerID, k)
	if err != nil {
		return err
	}
	if rate < 1 {
		rate = 1
	}
	st.ChunkTickRate = rate
	return nil
}

func (e *Engine) SetUpdateWhenIdle(viewerID int, on bool) error {
	v := e.viewers[viewerID]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	v.UpdateWhenIdle = on
	return nil
}

func (e *Engine) SetUseCamera(viewerID int, on bool) error {
	v := e.viewers[viewerID]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	v.UseCamera = on
	return nil
}

func (e *Engine) SetChunkSize(k entity.Kind, n int) error {
	if !k.Valid() {
		return fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	if n < 0 {
		n = 0
	}
	e.cfg.Kinds[k].ChunkSize = n
	return nil
}

// SetGlobalCap changes the global cap for k and clamps every viewer cap to it.
func (e *Engine) SetGlobalCap(k entity.Kind, n int) error {
	if !k.Valid() {
		return fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	if n < 0 {
		n = 0
	}
	e.cfg.Kinds[k].GlobalCap = n
	if e.cfg.Kinds[k].ViewerCap > n {
		e.cfg.Kinds[k].ViewerCap = n
	}
	if k.ViewerLess() {
		e.global[k].Cap = n
		return nil
	}
	for _, id := range e.ViewerIDs() {
		if st := e.viewers[id].Kind(k); st.Cap > n {
			if err := e.SetMaxVisible(id, k, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) SetGlobalTickRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	e.cfg.GlobalTickRate = rate
}

func (e *Engine) SetMaxItems(k entity.Kind, n int) error {
	if !k.Valid() {
		return fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	if n < 0 {
		n = 0
	}
	e.cfg.Kinds[k].MaxItems = n
	return nil
}
