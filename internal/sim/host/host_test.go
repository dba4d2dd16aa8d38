package host

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/viewer"
)

func TestTable_SetMoveDrop(t *testing.T) {
	tb := NewTable()
	tb.Set(2, viewer.State{Interior: 3})
	tb.Set(1, viewer.State{})
	tb.Move(2, mgl64.Vec3{1, 2, 3})

	st, ok := tb.ViewerState(2)
	if !ok || st.Position != (mgl64.Vec3{1, 2, 3}) || st.Camera != st.Position || st.Interior != 3 {
		t.Fatalf("state=%+v ok=%v", st, ok)
	}
	if ids := tb.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids=%v", ids)
	}
	tb.Drop(2)
	if _, ok := tb.ViewerState(2); ok {
		t.Fatalf("dropped viewer still present")
	}
}

func TestWalker_StaysInBounds(t *testing.T) {
	tb := NewTable()
	w := NewWalker(tb, 42, 100, 5, 50)
	if tb.Len() != 5 {
		t.Fatalf("len=%d want 5", tb.Len())
	}
	before, _ := tb.ViewerState(100)
	for i := 0; i < 500; i++ {
		w.Step(0.5)
	}
	for _, id := range w.IDs() {
		st, ok := tb.ViewerState(id)
		if !ok {
			t.Fatalf("bot %d missing", id)
		}
		for axis := 0; axis < 2; axis++ {
			if st.Position[axis] < -50 || st.Position[axis] > 50 {
				t.Fatalf("bot %d out of bounds: %v", id, st.Position)
			}
		}
	}
	after, _ := tb.ViewerState(100)
	if after.Position == before.Position {
		t.Fatalf("bot did not move")
	}
}

func TestWalker_Deterministic(t *testing.T) {
	a, b := NewTable(), NewTable()
	wa, wb := NewWalker(a, 7, 1, 3, 100), NewWalker(b, 7, 1, 3, 100)
	for i := 0; i < 20; i++ {
		wa.Step(0.1)
		wb.Step(0.1)
	}
	for _, id := range wa.IDs() {
		sa, _ := a.ViewerState(id)
		sb, _ := b.ViewerState(id)
		if sa != sb {
			t.Fatalf("bot %d diverged: %v vs %v", id, sa.Position, sb.Position)
		}
	}
}
