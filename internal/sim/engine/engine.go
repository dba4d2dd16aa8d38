package engine

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
	"worldstream.ai/internal/sim/motion"
	"worldstream.ai/internal/sim/tuning"
	"worldstream.ai/internal/sim/viewer"
	"worldstream.ai/internal/sim/visibility"
)

var (
	ErrInvalidID         = protocol.InvalidID
	ErrUnsupportedKind   = protocol.UnsupportedKind
	ErrResourceExhausted = protocol.ResourceExhausted
	ErrStaleHost         = protocol.StaleHost
	ErrStaleReference    = protocol.StaleReference
)

// Actuator materializes and destroys instances for viewers. viewerID is
// viewer.Global for viewer-less kinds.
type Actuator interface {
	Activate(k entity.Kind, viewerID int, e *entity.Entity) (viewer.Handle, error)
	Deactivate(k entity.Kind, viewerID int, h viewer.Handle)
}

// Locator is implemented by actuators that can report where an instance is now.
type Locator interface {
	Locate(k entity.Kind, h viewer.Handle) (mgl64.Vec3, bool)
}

// Mutator is implemented by actuators that can update a live instance in place.
type Mutator interface {
	Apply(k entity.Kind, viewerID int, h viewer.Handle, e *entity.Entity, c Change) error
}

// Host reports viewer state.
type Host interface {
	ViewerState(id int) (viewer.State, bool)
}

// StatsSink receives one record per completed tick.
type StatsSink interface {
	RecordTick(s protocol.TickStats)
}

type Options struct {
	Tuning   tuning.Tuning
	Actuator Actuator
	Host     Host
	Logger   *log.Logger
	Clock    func() time.Time
}

type Engine struct {
	cfg   tuning.Tuning
	log   *log.Logger
	clock func() time.Time
	host  Host
	act   Actuator

	store   *entity.Store
	grid    *grid.Grid
	eval    *visibility.Evaluator
	tracker *motion.Tracker
	queue   *callbacks.Queue

	viewers map[int]*viewer.Viewer
	global  [entity.Count]*viewer.KindState
	shared  [entity.Count]visibility.Shared

	globalTickCount int

	tick     atomic.Uint64
	lastTick time.Time
	elapsed  []float64
	avgSecs  float64

	cur        protocol.TickStats
	statsSinks []StatsSink

	reqs     chan func(*Engine)
	stop     chan struct{}
	stopOnce sync.Once
}

func New(opts Options) *Engine {
	cfg := opts.Tuning
	cfg.Normalize()
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		cfg:     cfg,
		log:     opts.Logger,
		clock:   clock,
		host:    opts.Host,
		act:     opts.Actuator,
		store:   entity.NewStore(),
		grid:    grid.New(cfg.CellSize),
		queue:   callbacks.NewQueue(),
		viewers: map[int]*viewer.Viewer{},
		reqs:    make(chan func(*Engine), 1024),
		stop:    make(chan struct{}),
	}
	if e.act == nil {
		e.act = nopActuator{}
	}
	e.store.OnInsert = e.grid.Relocate
	e.store.OnRemove = func(x *entity.Entity) { e.grid.Remove(x.Kind, x.ID) }
	e.eval = visibility.New(e.store, e.grid)
	e.tracker = motion.New(e.store, e.grid, motion.Deps{
		ViewerPosition:  e.viewerPosition,
		VehiclePosition: e.vehiclePosition,
		Vehicles:        e.instantiatedVehicles,
	})
	for _, k := range entity.Kinds {
		if !k.ViewerLess() {
			continue
		}
		st := viewer.New(viewer.Global).Kinds[k]
		st.Cap = cfg.Kinds[k].GlobalCap
		e.global[k] = &st
		e.shared[k] = visibility.Shared{}
	}
	return e
}

func (e *Engine) Tuning() tuning.Tuning { return e.cfg }

func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }

func (e *Engine) TickRateHz() int { return e.cfg.TickRateHz }

// Store exposes the entity arena for read access.
func (e *Engine) Store() *entity.Store { return e.store }

func (e *Engine) Grid() *grid.Grid { return e.grid }

// Subscribe registers a callback sink and returns its unregister func.
func (e *Engine) Subscribe(s callbacks.Sink) func() { return e.queue.Register(s) }

func (e *Engine) AddStatsSink(s StatsSink) {
	if s != nil {
		e.statsSinks = append(e.statsSinks, s)
	}
}

func (e *Engine) Viewer(id int) *viewer.Viewer { return e.viewers[id] }

func (e *Engine) ViewerIDs() []int {
	ids := make([]int, 0, len(e.viewers))
	for id := range e.viewers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// VisibleIDs lists what viewerID currently has instantiated of kind k.
// viewer.Global lists the shared instances of viewer-less kinds.
func (e *Engine) VisibleIDs(viewerID int, k entity.Kind) []int {
	if !k.Valid() {
		return nil
	}
	var vis map[int]viewer.Handle
	if k.ViewerLess() {
		if viewerID != viewer.Global {
			return nil
		}
		vis = e.global[k].Visible
	} else {
		v := e.viewers[viewerID]
		if v == nil {
			return nil
		}
		vis = v.Kind(k).Visible
	}
	ids := make([]int, 0, len(vis))
	for id := range vis {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *Engine) viewerPosition(id int) (mgl64.Vec3, bool) {
	if e.host != nil {
		if st, ok := e.host.ViewerState(id); ok {
			return st.Position, true
		}
		return mgl64.Vec3{}, false
	}
	if v := e.viewers[id]; v != nil {
		return v.Position, true
	}
	return mgl64.Vec3{}, false
}

func (e *Engine) vehiclePosition(id int) (mgl64.Vec3, bool) {
	loc, ok := e.act.(Locator)
	if !ok {
		return mgl64.Vec3{}, false
	}
	h, ok := e.global[entity.KindVehicle].Visible[id]
	if !ok {
		return mgl64.Vec3{}, false
	}
	return loc.Locate(entity.KindVehicle, h)
}

func (e *Engine) instantiatedVehicles() []int {
	vis := e.global[entity.KindVehicle].Visible
	ids := make([]int, 0, len(vis))
	for id := range vis {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}

type nopActuator struct{}

func (nopActuator) Activate(entity.Kind, int, *entity.Entity) (viewer.Handle, error) { return 0, nil }
func (nopActuator) Deactivate(entity.Kind, int, viewer.Handle)                       {}
