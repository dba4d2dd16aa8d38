package grid

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
)

func TestKeyFor_FloorsNegatives(t *testing.T) {
	g := New(100)
	cases := []struct {
		p    mgl64.Vec3
		want Key
	}{
		{mgl64.Vec3{0, 0, 0}, Key{0, 0}},
		{mgl64.Vec3{99.9, 150, 0}, Key{0, 1}},
		{mgl64.Vec3{-0.1, -100, 0}, Key{-1, -1}},
		{mgl64.Vec3{-100.5, 0, 5000}, Key{-2, 0}},
	}
	for _, tc := range cases {
		got, ok := g.KeyFor(tc.p)
		if !ok || got != tc.want {
			t.Fatalf("KeyFor(%v)=%v want %v", tc.p, got, tc.want)
		}
	}
	if _, ok := g.KeyFor(entity.Infinite()); ok {
		t.Fatalf("infinite position must have no cell")
	}
}

func TestRelocate_TracksEffectivePosition(t *testing.T) {
	g := New(100)
	e := &entity.Entity{ID: 1, Kind: entity.KindObject, Position: mgl64.Vec3{10, 10, 0}, StreamDistance: 50 * 50}
	g.Relocate(e)
	if k, global, ok := g.CellOf(e.Kind, e.ID); !ok || global || k != (Key{0, 0}) {
		t.Fatalf("cell=%v global=%v ok=%v", k, global, ok)
	}

	e.Position = mgl64.Vec3{250, -10, 0}
	g.MarkDirty(e)
	if _, _, ok := g.CellOf(e.Kind, e.ID); ok {
		t.Fatalf("dirty entity should be unindexed until flush")
	}
	if n := g.Flush(func(entity.Kind, int) *entity.Entity { return e }); n != 1 {
		t.Fatalf("flushed=%d want 1", n)
	}
	if k, _, _ := g.CellOf(e.Kind, e.ID); k != (Key{2, -1}) {
		t.Fatalf("cell=%v want {2 -1}", k)
	}
	if len(g.cells) != 1 {
		t.Fatalf("empty cells should be dropped, have %d", len(g.cells))
	}
}

func TestRelocate_StaticAndFarReachGoGlobal(t *testing.T) {
	g := New(100)
	static := &entity.Entity{ID: 1, Kind: entity.KindMapIcon, StreamDistance: entity.StaticDistance}
	far := &entity.Entity{ID: 2, Kind: entity.KindMapIcon, StreamDistance: 500 * 500}
	g.Relocate(static)
	g.Relocate(far)
	for _, e := range []*entity.Entity{static, far} {
		if _, global, ok := g.CellOf(e.Kind, e.ID); !ok || !global {
			t.Fatalf("entity %d should be global", e.ID)
		}
	}
	cells := g.Cells(g.Neighborhood(mgl64.Vec3{5000, 5000, 0}, 1))
	if len(cells) != 1 || cells[0].Len(entity.KindMapIcon) != 2 {
		t.Fatalf("global cell must be visible from anywhere")
	}
}

func TestNeighborhood_Rings(t *testing.T) {
	g := New(100)
	keys := g.Neighborhood(mgl64.Vec3{50, 50, 0}, 1)
	if len(keys) != 9 || keys[0] != (Key{0, 0}) {
		t.Fatalf("keys=%v", keys)
	}
	if Rings(1) != 1 || Rings(4) != 2 || Rings(5) != 3 {
		t.Fatalf("rings=%d,%d,%d", Rings(1), Rings(4), Rings(5))
	}
}

func TestRemove_ClearsDirty(t *testing.T) {
	g := New(100)
	e := &entity.Entity{ID: 7, Kind: entity.KindPickup, StreamDistance: 10}
	g.Relocate(e)
	g.MarkDirty(e)
	g.Remove(e.Kind, e.ID)
	if g.Dirty() != 0 {
		t.Fatalf("dirty=%d want 0", g.Dirty())
	}
	if _, _, ok := g.CellOf(e.Kind, e.ID); ok {
		t.Fatalf("removed entity still indexed")
	}
}
