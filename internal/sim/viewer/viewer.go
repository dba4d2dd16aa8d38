package viewer

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
)

// Handle is the actuator's reference to one instantiated entity.
type Handle int

// Global is the viewer id used for viewer-less instances.
const Global = -1

// State is what the host reports about a viewer.
type State struct {
	Position   mgl64.Vec3
	Camera     mgl64.Vec3
	Velocity   mgl64.Vec3
	Interior   int
	World      int
	Spectating bool
}

// Entry is an ordering key: ascending priority, then ascending squared distance.
type Entry struct {
	ID       int
	Priority int
	Distance float64
}

func (a Entry) Less(b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// Precedes is the strict key comparison used for eviction; ids never break ties.
func (a Entry) Precedes(b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Distance < b.Distance
}

type KindState struct {
	Enabled    bool
	Multiplier float64

	// Cap is the configured limit. Effective clamps it after the actuator ran
	// out of instances; negative means unclamped.
	Cap       int
	Effective int

	Visible      map[int]Handle
	Candidates   []Entry
	StillVisible []Entry
	Removals     []int
	Processing   bool

	ChunkTickCount int
	ChunkTickRate  int

	// Checked is set once the viewer contributed to the shared discovery of a viewer-less kind.
	Checked bool
}

func (s *KindState) Limit() int {
	if s.Effective >= 0 && s.Effective < s.Cap {
		return s.Effective
	}
	return s.Cap
}

func (s *KindState) RestoreCap() { s.Effective = -1 }

// Reset drops every in-flight queue without touching what is visible.
func (s *KindState) Reset() {
	s.Candidates = s.Candidates[:0]
	s.StillVisible = s.StillVisible[:0]
	s.Removals = s.Removals[:0]
	s.Processing = false
	s.ChunkTickCount = 0
}

type Viewer struct {
	ID int
	State

	UseCamera      bool
	UpdateWhenIdle bool

	TickRate  int
	TickCount int

	// Delta is the velocity look-ahead applied to the stream position.
	Delta mgl64.Vec3

	Areas entity.Set
	Kinds [entity.Count]KindState

	// Cells caches the neighborhood of the last full scan for minimal scans.
	Cells []grid.Key

	lastPos mgl64.Vec3
	hasLast bool
}

func New(id int) *Viewer {
	v := &Viewer{
		ID:       id,
		TickRate: 1,
		Areas:    entity.Set{},
	}
	for i := range v.Kinds {
		v.Kinds[i] = KindState{
			Enabled:       true,
			Multiplier:    1,
			Effective:     -1,
			Visible:       map[int]Handle{},
			ChunkTickRate: 1,
		}
	}
	return v
}

func (v *Viewer) Kind(k entity.Kind) *KindState { return &v.Kinds[k] }

// StreamPosition is where distances are measured from.
func (v *Viewer) StreamPosition() mgl64.Vec3 {
	p := v.Position
	if v.UseCamera {
		p = v.Camera
	}
	return p.Add(v.Delta)
}

// AreaPosition ignores look-ahead so area membership tracks the real position.
func (v *Viewer) AreaPosition() mgl64.Vec3 {
	if v.UseCamera {
		return v.Camera
	}
	return v.Position
}

// Moved reports whether the stream position changed since the last full scan.
func (v *Viewer) Moved() bool {
	return !v.hasLast || v.StreamPosition() != v.lastPos
}

func (v *Viewer) MarkScanned() {
	v.lastPos = v.StreamPosition()
	v.hasLast = true
}

// Processing reports whether any kind still has chunk work pending.
func (v *Viewer) Processing() bool {
	for i := range v.Kinds {
		if v.Kinds[i].Processing {
			return true
		}
	}
	return false
}

// MaxMultiplier is the largest radius multiplier among enabled kinds.
func (v *Viewer) MaxMultiplier() float64 {
	m := 0.0
	for i := range v.Kinds {
		if v.Kinds[i].Enabled {
			m = math.Max(m, v.Kinds[i].Multiplier)
		}
	}
	return m
}
