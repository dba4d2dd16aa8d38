package host

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/viewer"
)

// Table is the viewer state the engine reads at the start of each refresh.
// Writers are transports and bots on their own goroutines.
type Table struct {
	mu     sync.RWMutex
	states map[int]viewer.State
}

func NewTable() *Table { return &Table{states: map[int]viewer.State{}} }

func (t *Table) Set(id int, st viewer.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[id] = st
}

// Move updates position and camera together.
func (t *Table) Move(id int, pos mgl64.Vec3) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.states[id]
	st.Position = pos
	st.Camera = pos
	t.states[id] = st
}

func (t *Table) Drop(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, id)
}

func (t *Table) ViewerState(id int) (viewer.State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[id]
	return st, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

func (t *Table) IDs() []int {
	t.mu.RLock()
	out := make([]int, 0, len(t.states))
	for id := range t.states {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Ints(out)
	return out
}
