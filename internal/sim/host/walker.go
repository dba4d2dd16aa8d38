package host

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/viewer"
)

type bot struct {
	id      int
	pos     mgl64.Vec3
	heading float64
}

// Walker drives synthetic viewers around a square area, turning a little
// each step and bouncing off the edges.
type Walker struct {
	table *Table
	rng   *rand.Rand
	bots  []bot

	Half  float64 // half-extent of the area
	Speed float64 // units per second
}

// NewWalker places n bots with ids firstID.. in the table.
func NewWalker(t *Table, seed int64, firstID, n int, half float64) *Walker {
	w := &Walker{table: t, rng: rand.New(rand.NewSource(seed)), Half: half, Speed: 8}
	for i := 0; i < n; i++ {
		b := bot{
			id:      firstID + i,
			pos:     mgl64.Vec3{(w.rng.Float64()*2 - 1) * half, (w.rng.Float64()*2 - 1) * half, 0},
			heading: w.rng.Float64() * 2 * math.Pi,
		}
		w.bots = append(w.bots, b)
		t.Set(b.id, viewer.State{Position: b.pos, Camera: b.pos})
	}
	return w
}

func (w *Walker) IDs() []int {
	out := make([]int, len(w.bots))
	for i, b := range w.bots {
		out[i] = b.id
	}
	return out
}

// Step advances every bot by dt seconds.
func (w *Walker) Step(dt float64) {
	for i := range w.bots {
		b := &w.bots[i]
		b.heading += (w.rng.Float64() - 0.5) * 0.6
		vel := mgl64.Vec3{math.Cos(b.heading), math.Sin(b.heading), 0}.Mul(w.Speed)
		b.pos = b.pos.Add(vel.Mul(dt))
		for axis := 0; axis < 2; axis++ {
			if b.pos[axis] > w.Half || b.pos[axis] < -w.Half {
				b.pos[axis] = math.Max(-w.Half, math.Min(w.Half, b.pos[axis]))
				b.heading += math.Pi
			}
		}
		w.table.Set(b.id, viewer.State{Position: b.pos, Camera: b.pos, Velocity: vel})
	}
}
