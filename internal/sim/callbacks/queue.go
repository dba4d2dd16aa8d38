package callbacks

import (
	"sort"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/entity"
)

type Event struct {
	Name     string
	Kind     entity.Kind
	ID       int
	Viewer   int
	Priority int
}

// Args returns the event fields in their fixed dispatch order.
func (e Event) Args() []int {
	switch e.Name {
	case protocol.EventAreaEnter, protocol.EventAreaLeave:
		return []int{e.Viewer, e.ID}
	case protocol.EventMoveFinished:
		return []int{e.ID}
	}
	return []int{int(e.Kind), e.ID, e.Viewer}
}

func (e Event) Msg() protocol.EventMsg { return protocol.EventMsg{Name: e.Name, Args: e.Args()} }

type Sink interface {
	Handles(name string) bool
	Handle(ev Event)
}

// BatchSink additionally receives everything it handled in one flush.
type BatchSink interface {
	Sink
	HandleBatch(tick uint64, evs []Event)
}

// Handlers adapts a set of funcs keyed by event name.
type Handlers map[string]func(Event)

func (h Handlers) Handles(name string) bool { return h[name] != nil }
func (h Handlers) Handle(ev Event) {
	if fn := h[ev.Name]; fn != nil {
		fn(ev)
	}
}

type buffer struct {
	leave     []Event
	enter     []Event
	moved     []Event
	streamIn  []Event
	streamOut []Event
}

func (b *buffer) len() int {
	return len(b.leave) + len(b.enter) + len(b.moved) + len(b.streamIn) + len(b.streamOut)
}

type registered struct {
	id   int
	sink Sink
}

type Queue struct {
	cur    buffer
	sinks  []registered
	nextID int
}

func NewQueue() *Queue { return &Queue{} }

// Register adds a sink and returns the func that removes it again.
func (q *Queue) Register(s Sink) func() {
	if s == nil {
		return func() {}
	}
	q.nextID++
	id := q.nextID
	q.sinks = append(q.sinks, registered{id: id, sink: s})
	return func() {
		for i, r := range q.sinks {
			if r.id == id {
				q.sinks = append(q.sinks[:i:i], q.sinks[i+1:]...)
				return
			}
		}
	}
}

func (q *Queue) Sinks() int { return len(q.sinks) }

func (q *Queue) Pending() int { return q.cur.len() }

func (q *Queue) AreaEnter(viewerID, areaID, priority int) {
	q.cur.enter = append(q.cur.enter, Event{Name: protocol.EventAreaEnter, Kind: entity.KindArea, ID: areaID, Viewer: viewerID, Priority: priority})
}

func (q *Queue) AreaLeave(viewerID, areaID, priority int) {
	q.cur.leave = append(q.cur.leave, Event{Name: protocol.EventAreaLeave, Kind: entity.KindArea, ID: areaID, Viewer: viewerID, Priority: priority})
}

func (q *Queue) MoveFinished(id int) {
	q.cur.moved = append(q.cur.moved, Event{Name: protocol.EventMoveFinished, Kind: entity.KindObject, ID: id})
}

func (q *Queue) StreamIn(k entity.Kind, id, viewerID int) {
	q.cur.streamIn = append(q.cur.streamIn, Event{Name: protocol.EventStreamIn, Kind: k, ID: id, Viewer: viewerID})
}

func (q *Queue) StreamOut(k entity.Kind, id, viewerID int) {
	q.cur.streamOut = append(q.cur.streamOut, Event{Name: protocol.EventStreamOut, Kind: k, ID: id, Viewer: viewerID})
}

// Flush dispatches everything queued so far: area leaves, area enters,
// finished moves, stream-ins, stream-outs. Events queued by sinks during the
// flush wait for the next one. Events whose entity no longer exists are dropped.
func (q *Queue) Flush(tick uint64, exists func(k entity.Kind, id int) bool) []Event {
	b := q.cur
	q.cur = buffer{}
	if b.len() == 0 {
		return nil
	}
	// Highest priority first; ties keep queue order.
	byPriority := func(evs []Event) {
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Priority > evs[j].Priority })
	}
	byPriority(b.leave)
	byPriority(b.enter)

	out := make([]Event, 0, b.len())
	sinks := make([]Sink, len(q.sinks))
	for i, r := range q.sinks {
		sinks[i] = r.sink
	}
	for _, evs := range [][]Event{b.leave, b.enter, b.moved, b.streamIn, b.streamOut} {
		for _, ev := range evs {
			if exists != nil && !exists(ev.Kind, ev.ID) {
				continue
			}
			out = append(out, ev)
			for _, s := range sinks {
				if s.Handles(ev.Name) {
					s.Handle(ev)
				}
			}
		}
	}
	for _, s := range sinks {
		bs, ok := s.(BatchSink)
		if !ok {
			continue
		}
		var mine []Event
		for _, ev := range out {
			if bs.Handles(ev.Name) {
				mine = append(mine, ev)
			}
		}
		if len(mine) > 0 {
			bs.HandleBatch(tick, mine)
		}
	}
	return out
}
