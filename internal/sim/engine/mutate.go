package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/viewer"
)

// Change names what an in-place instance update touches.
type Change int

const (
	ChangePosition Change = iota + 1
	ChangeRotation
	ChangeColor
	ChangePaintJob
	ChangeInterior
	ChangeText
	ChangeAttach
)

func (c Change) String() string {
	switch c {
	case ChangePosition:
		return "position"
	case ChangeRotation:
		return "rotation"
	case ChangeColor:
		return "color"
	case ChangePaintJob:
		return "paintjob"
	case ChangeInterior:
		return "interior"
	case ChangeText:
		return "text"
	case ChangeAttach:
		return "attach"
	}
	return fmt.Sprintf("change(%d)", int(c))
}

// IntProp selects an integer property for SetIntData.
type IntProp int

const (
	PropPriority IntProp = iota + 1
	PropInterior
	PropWorld
	PropModel
	PropType
	PropColor
	PropColor2
	PropPaintJob
	PropSiren
)

// SetPosition moves an entity. Areas are translated so their center lands on pos.
func (e *Engine) SetPosition(k entity.Kind, id int, pos mgl64.Vec3) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	if k == entity.KindArea {
		ent.Shape = ent.Shape.Translate(pos.Sub(ent.Shape.Center()))
	} else {
		ent.Position = pos
	}
	if ent.Move != nil {
		ent.Move = nil
		e.tracker.Track(ent)
	}
	e.grid.Relocate(ent)
	e.apply(k, id, ChangePosition)
	return nil
}

func (e *Engine) SetOffset(k entity.Kind, id int, off mgl64.Vec3) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.Offset = off
	e.grid.Relocate(ent)
	e.apply(k, id, ChangePosition)
	return nil
}

func (e *Engine) SetRotation(k entity.Kind, id int, rot mgl64.Vec3) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.Rotation = rot
	e.apply(k, id, ChangeRotation)
	return nil
}

// SetStreamDistance sets the squared visibility threshold; entity.StaticDistance makes it static.
func (e *Engine) SetStreamDistance(k entity.Kind, id int, d float64) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	if d < 0 {
		d = entity.StaticDistance
	}
	ent.StreamDistance = d
	e.grid.Relocate(ent)
	return nil
}

func (e *Engine) SetPriority(k entity.Kind, id int, p int) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.Priority = p
	return nil
}

func (e *Engine) SetFilters(k entity.Kind, id int, f entity.Filters) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.Filters = f
	return nil
}

func (e *Engine) SetQuietStream(k entity.Kind, id int, quiet bool) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.QuietStream = quiet
	return nil
}

func (e *Engine) SetText(k entity.Kind, id int, text string) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	ent.Text = text
	e.apply(k, id, ChangeText)
	return nil
}

// AttachTo binds an entity to a host. The cached position resolves on the next tick.
func (e *Engine) AttachTo(k entity.Kind, id int, a entity.Attach) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	switch a.Host {
	case entity.HostEntity:
		if a.HostKind == k && a.HostID == id {
			return fmt.Errorf("%s %d: attach to itself: %w", k, id, ErrInvalidID)
		}
		if !e.store.Exists(a.HostKind, a.HostID) {
			return fmt.Errorf("attach host %s %d: %w", a.HostKind, a.HostID, ErrInvalidID)
		}
	case entity.HostVehicle:
		if !e.store.Exists(entity.KindVehicle, a.HostID) {
			return fmt.Errorf("attach host vehicle %d: %w", a.HostID, ErrInvalidID)
		}
	case entity.HostViewer:
	default:
		return fmt.Errorf("attach host %v: %w", a.Host, ErrUnsupportedKind)
	}
	a.Valid = false
	a.Position = entity.Infinite()
	ent.Attach = &a
	ent.Move = nil
	e.tracker.Track(ent)
	e.grid.MarkDirty(ent)
	e.apply(k, id, ChangeAttach)
	return nil
}

func (e *Engine) Detach(k entity.Kind, id int) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	if ent.Attach == nil {
		return nil
	}
	if ent.Attach.Valid && k != entity.KindArea {
		ent.Position = ent.Attach.Position.Sub(ent.Offset)
	}
	ent.Attach = nil
	e.tracker.Track(ent)
	e.grid.Relocate(ent)
	e.apply(k, id, ChangeAttach)
	return nil
}

// MoveObject starts moving an object toward to at speed units per second.
// A nil rot keeps the current rotation. It returns the move duration.
func (e *Engine) MoveObject(id int, to mgl64.Vec3, speed float64, rot *mgl64.Vec3) (time.Duration, error) {
	ent, err := e.lookup(entity.KindObject, id)
	if err != nil {
		return 0, err
	}
	if speed <= 0 || math.IsNaN(speed) {
		return 0, fmt.Errorf("object %d: speed must be positive", id)
	}
	if ent.Attach != nil {
		return 0, fmt.Errorf("object %d: attached objects cannot move", id)
	}
	from := ent.Position
	dur := time.Duration(to.Sub(from).Len() / speed * float64(time.Second))
	m := &entity.Move{
		From:     from,
		To:       to,
		FromRot:  ent.Rotation,
		ToRot:    ent.Rotation,
		Duration: dur,
		Started:  e.clock(),
	}
	if rot != nil && rot.X() > entity.NoRotation {
		m.ToRot = *rot
		m.Rotate = true
	}
	ent.Move = m
	e.tracker.Track(ent)
	e.apply(entity.KindObject, id, ChangePosition)
	return dur, nil
}

// StopObject halts a moving object where it currently is.
func (e *Engine) StopObject(id int) error {
	ent, err := e.lookup(entity.KindObject, id)
	if err != nil {
		return err
	}
	if ent.Move == nil {
		return nil
	}
	ent.Move = nil
	e.tracker.Track(ent)
	e.grid.Relocate(ent)
	e.apply(entity.KindObject, id, ChangePosition)
	return nil
}

func (e *Engine) IsMoving(id int) bool {
	ent := e.store.Get(entity.KindObject, id)
	return ent != nil && ent.Move != nil
}

// SetIntData updates one integer property. Each property has its own
// effect on live instances; none falls through to another.
func (e *Engine) SetIntData(k entity.Kind, id int, prop IntProp, value int) error {
	ent, err := e.lookup(k, id)
	if err != nil {
		return err
	}
	switch prop {
	case PropPriority:
		ent.Priority = value
	case PropInterior:
		ent.Filters.Interiors = entity.NewSet(value)
		if k == entity.KindVehicle {
			e.apply(k, id, ChangeInterior)
		}
	case PropWorld:
		ent.Filters.Worlds = entity.NewSet(value)
	case PropModel:
		ent.Model = value
		e.rebuild(k, id)
	case PropType:
		ent.Type = value
		e.rebuild(k, id)
	case PropColor:
		ent.Color = value
		e.apply(k, id, ChangeColor)
	case PropColor2:
		if k != entity.KindVehicle {
			return fmt.Errorf("%s: color2: %w", k, ErrUnsupportedKind)
		}
		ent.Color2 = value
		e.apply(k, id, ChangeColor)
	case PropPaintJob:
		if k != entity.KindVehicle {
			return fmt.Errorf("%s: paintjob: %w", k, ErrUnsupportedKind)
		}
		ent.PaintJob = value
		e.apply(k, id, ChangePaintJob)
	case PropSiren:
		if k != entity.KindVehicle {
			return fmt.Errorf("%s: siren: %w", k, ErrUnsupportedKind)
		}
		ent.Siren = value != 0
		e.rebuild(k, id)
	default:
		return fmt.Errorf("int property %d: %w", int(prop), ErrUnsupportedKind)
	}
	return nil
}

// apply forwards a change to every live instance when the actuator can
// update in place.
func (e *Engine) apply(k entity.Kind, id int, c Change) {
	m, ok := e.act.(Mutator)
	if !ok {
		return
	}
	ent := e.store.Get(k, id)
	e.forEachInstance(k, id, func(viewerID int, st *viewer.KindState, h viewer.Handle) {
		if err := m.Apply(k, viewerID, h, ent, c); err != nil {
			e.logf("apply %s to %s %d for viewer %d: %v", c, k, id, viewerID, err)
		}
	})
}

// rebuild recreates every live instance. Instances that cannot be recreated stream out.
func (e *Engine) rebuild(k entity.Kind, id int) {
	ent := e.store.Get(k, id)
	e.forEachInstance(k, id, func(viewerID int, st *viewer.KindState, h viewer.Handle) {
		e.act.Deactivate(k, viewerID, h)
		nh, err := e.act.Activate(k, viewerID, ent)
		if err != nil {
			delete(st.Visible, id)
			if errors.Is(err, ErrResourceExhausted) {
				st.Effective = len(st.Visible)
			}
			e.streamOut(k, id, viewerID)
			return
		}
		st.Visible[id] = nh
	})
}
