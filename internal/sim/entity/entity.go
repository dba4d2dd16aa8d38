package entity

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// StaticDistance marks an entity as visible at any range.
const StaticDistance = -1.0

// NoRotation disables rotation interpolation on a move.
const NoRotation = -1000.0

type Set map[int]struct{}

func NewSet(ids ...int) Set {
	if len(ids) == 0 {
		return nil
	}
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Allows reports whether id passes the filter; an empty set is unrestricted.
func (s Set) Allows(id int) bool { return len(s) == 0 || s.Has(id) }

type Filters struct {
	Viewers   Set
	Interiors Set
	Worlds    Set
	Areas     Set
	// InverseAreas requires the viewer to be outside every listed area.
	InverseAreas bool
}

type HostKind int

const (
	HostNone HostKind = iota
	HostEntity
	HostViewer
	HostVehicle
)

func (h HostKind) String() string {
	switch h {
	case HostEntity:
		return "entity"
	case HostViewer:
		return "viewer"
	case HostVehicle:
		return "vehicle"
	}
	return "none"
}

type Attach struct {
	Host     HostKind
	HostKind Kind
	HostID   int
	Offset   mgl64.Vec3
	Rotation mgl64.Vec3

	// Position is the host position plus Offset as of the last tracker pass.
	Position mgl64.Vec3
	Valid    bool
}

type Move struct {
	From     mgl64.Vec3
	To       mgl64.Vec3
	FromRot  mgl64.Vec3
	ToRot    mgl64.Vec3
	Rotate   bool
	Duration time.Duration
	Started  time.Time
}

type Entity struct {
	ID    int
	Kind  Kind
	Owner string

	Position mgl64.Vec3
	Offset   mgl64.Vec3
	Rotation mgl64.Vec3

	Priority       int
	StreamDistance float64

	Filters     Filters
	QuietStream bool

	Attach *Attach
	Move   *Move

	Shape Geometry
	// IgnoreSpectators keeps spectating viewers out of an area.
	IgnoreSpectators bool

	Model    int
	Type     int
	Color    int
	Color2   int
	PaintJob int
	Siren    bool
	Text     string
	Size     float64
	Next     mgl64.Vec3
}

func (e *Entity) IsStatic() bool { return e.StreamDistance < 0 }

// EffectivePosition is the position used for distance and grid placement.
func (e *Entity) EffectivePosition() mgl64.Vec3 {
	if e.Kind == KindArea && e.Shape != nil {
		return e.Area().Center()
	}
	if e.Attach != nil {
		if !e.Attach.Valid {
			return Infinite()
		}
		return e.Attach.Position
	}
	return e.Position.Add(e.Offset)
}

// Area returns the geometry in world coordinates. An attached area's Shape is
// relative to its host.
func (e *Entity) Area() Geometry {
	if e.Shape == nil {
		return Invalid{}
	}
	if e.Attach == nil {
		return e.Shape
	}
	if !e.Attach.Valid {
		return Invalid{}
	}
	return e.Shape.Translate(e.Attach.Position)
}

// Reach is the largest distance at which the entity can become visible.
func (e *Entity) Reach() float64 {
	if e.Kind == KindArea {
		if e.Shape == nil {
			return 0
		}
		return e.Shape.Radius()
	}
	if e.IsStatic() {
		return math.Inf(1)
	}
	return math.Sqrt(e.StreamDistance)
}

func Infinite() mgl64.Vec3 {
	inf := math.Inf(1)
	return mgl64.Vec3{inf, inf, inf}
}

func Finite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsInf(c, 0) || math.IsNaN(c) {
			return false
		}
	}
	return true
}
