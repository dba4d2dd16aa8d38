package grid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
)

type Key struct {
	X int
	Y int
}

type ref struct {
	kind entity.Kind
	id   int
}

type Cell struct {
	Key    Key
	Global bool
	ids    [entity.Count]map[int]struct{}
}

func newCell(k Key, global bool) *Cell {
	c := &Cell{Key: k, Global: global}
	for i := range c.ids {
		c.ids[i] = map[int]struct{}{}
	}
	return c
}

// IDs returns the ids of kind k held in the cell (unordered).
func (c *Cell) IDs(k entity.Kind) []int {
	m := c.ids[k]
	out := make([]int, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func (c *Cell) Len(k entity.Kind) int { return len(c.ids[k]) }

func (c *Cell) empty() bool {
	for _, m := range c.ids {
		if len(m) > 0 {
			return false
		}
	}
	return true
}

type placement struct {
	key    Key
	global bool
}

// Grid partitions the plane into fixed square cells. Entities whose reach
// exceeds one cell, static entities included, live in a single global cell
// that every scan visits.
type Grid struct {
	size   float64
	cells  map[Key]*Cell
	global *Cell
	where  map[ref]placement
	dirty  map[ref]struct{}
}

func New(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 300
	}
	return &Grid{
		size:   cellSize,
		cells:  map[Key]*Cell{},
		global: newCell(Key{}, true),
		where:  map[ref]placement{},
		dirty:  map[ref]struct{}{},
	}
}

func (g *Grid) CellSize() float64 { return g.size }

// KeyFor maps a position to its cell. Non-finite positions have no cell.
func (g *Grid) KeyFor(p mgl64.Vec3) (Key, bool) {
	if !entity.Finite(p) {
		return Key{}, false
	}
	return Key{X: floorDiv(p.X(), g.size), Y: floorDiv(p.Y(), g.size)}, true
}

func (g *Grid) target(e *entity.Entity) (placement, bool) {
	if e.Reach() > g.size {
		return placement{global: true}, true
	}
	k, ok := g.KeyFor(e.EffectivePosition())
	if !ok {
		return placement{}, false
	}
	return placement{key: k}, true
}

// Relocate moves e into the cell matching its current effective position.
func (g *Grid) Relocate(e *entity.Entity) {
	r := ref{kind: e.Kind, id: e.ID}
	delete(g.dirty, r)
	next, ok := g.target(e)
	if cur, had := g.where[r]; had {
		if ok && cur == next {
			return
		}
		g.detach(r, cur)
	}
	if !ok {
		return
	}
	c := g.global
	if !next.global {
		c = g.cells[next.key]
		if c == nil {
			c = newCell(next.key, false)
			g.cells[next.key] = c
		}
	}
	c.ids[e.Kind][e.ID] = struct{}{}
	g.where[r] = next
}

// MarkDirty unindexes e; the next Flush places it again.
func (g *Grid) MarkDirty(e *entity.Entity) {
	r := ref{kind: e.Kind, id: e.ID}
	if cur, ok := g.where[r]; ok {
		g.detach(r, cur)
	}
	g.dirty[r] = struct{}{}
}

func (g *Grid) Remove(k entity.Kind, id int) {
	r := ref{kind: k, id: id}
	delete(g.dirty, r)
	if cur, ok := g.where[r]; ok {
		g.detach(r, cur)
	}
}

// Flush relocates every entity marked dirty since the last flush.
func (g *Grid) Flush(lookup func(k entity.Kind, id int) *entity.Entity) int {
	n := 0
	for r := range g.dirty {
		delete(g.dirty, r)
		e := lookup(r.kind, r.id)
		if e == nil {
			continue
		}
		g.Relocate(e)
		n++
	}
	return n
}

func (g *Grid) Dirty() int { return len(g.dirty) }

// CellOf reports where an entity is indexed.
func (g *Grid) CellOf(k entity.Kind, id int) (key Key, global bool, ok bool) {
	p, ok := g.where[ref{kind: k, id: id}]
	return p.key, p.global, ok
}

func (g *Grid) detach(r ref, p placement) {
	delete(g.where, r)
	if p.global {
		delete(g.global.ids[r.kind], r.id)
		return
	}
	c := g.cells[p.key]
	if c == nil {
		return
	}
	delete(c.ids[r.kind], r.id)
	if c.empty() {
		delete(g.cells, p.key)
	}
}

// Neighborhood returns the keys within rings cells of p, p's own cell first.
func (g *Grid) Neighborhood(p mgl64.Vec3, rings int) []Key {
	center, ok := g.KeyFor(p)
	if !ok {
		return nil
	}
	if rings < 0 {
		rings = 0
	}
	out := make([]Key, 0, (2*rings+1)*(2*rings+1))
	out = append(out, center)
	for dx := -rings; dx <= rings; dx++ {
		for dy := -rings; dy <= rings; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			out = append(out, Key{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return out
}

// Cells resolves keys to populated cells and always includes the global cell.
func (g *Grid) Cells(keys []Key) []*Cell {
	out := make([]*Cell, 0, len(keys)+1)
	out = append(out, g.global)
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if c := g.cells[k]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Rings is the ring count that covers every cell-resident entity for a
// viewer whose largest radius multiplier is mult.
func Rings(mult float64) int {
	if mult <= 1 {
		return 1
	}
	return int(math.Ceil(math.Sqrt(mult)))
}

func floorDiv(v, size float64) int {
	return int(math.Floor(v / size))
}
