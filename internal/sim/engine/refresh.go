package engine

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
)

// ForceRefresh discards in-flight work for k (or every kind) and runs a
// synchronous full discovery and drain for one viewer, ignoring chunk limits
// and tick-rate counters. Viewer-less kinds keep following the shared cycle.
// Resulting events are delivered with the next tick's flush.
func (e *Engine) ForceRefresh(viewerID int, k entity.Kind) error {
	v := e.viewers[viewerID]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	if k != entity.KindAll && !k.Valid() {
		return fmt.Errorf("%v: %w", k, ErrUnsupportedKind)
	}
	for _, kk := range entity.Kinds {
		if k != entity.KindAll && kk != k {
			continue
		}
		st := v.Kind(kk)
		st.Reset()
		st.RestoreCap()
	}
	e.grid.Flush(e.store.Get)
	e.discover(v, false, true, k)
	e.chunkStep(v, false, k)
	return nil
}

// UpdateEx moves a viewer and refreshes it immediately.
func (e *Engine) UpdateEx(viewerID int, pos mgl64.Vec3, interior, world int, k entity.Kind) error {
	v := e.viewers[viewerID]
	if v == nil {
		return fmt.Errorf("viewer %d: %w", viewerID, ErrInvalidID)
	}
	v.Position = pos
	v.Camera = pos
	v.Interior = interior
	v.World = world
	v.Velocity = mgl64.Vec3{}
	v.Delta = mgl64.Vec3{}
	return e.ForceRefresh(viewerID, k)
}
