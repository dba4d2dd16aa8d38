package viewer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/entity"
)

func TestEntry_Ordering(t *testing.T) {
	a := Entry{ID: 2, Priority: 0, Distance: 10}
	b := Entry{ID: 1, Priority: 0, Distance: 10}
	c := Entry{ID: 3, Priority: -1, Distance: 500}
	if !b.Less(a) || a.Less(b) {
		t.Fatalf("ids should break ties in Less")
	}
	if a.Precedes(b) || b.Precedes(a) {
		t.Fatalf("Precedes must not break ties on id")
	}
	if !c.Less(a) || !c.Precedes(a) {
		t.Fatalf("lower priority value should come first")
	}
}

func TestKindState_Limit(t *testing.T) {
	v := New(1)
	st := v.Kind(entity.KindObject)
	st.Cap = 10
	if st.Limit() != 10 {
		t.Fatalf("limit=%d want 10", st.Limit())
	}
	st.Effective = 4
	if st.Limit() != 4 {
		t.Fatalf("clamped limit=%d want 4", st.Limit())
	}
	st.RestoreCap()
	if st.Limit() != 10 {
		t.Fatalf("restored limit=%d want 10", st.Limit())
	}
}

func TestViewer_Positions(t *testing.T) {
	v := New(1)
	v.Position = mgl64.Vec3{1, 0, 0}
	v.Camera = mgl64.Vec3{0, 5, 0}
	v.Delta = mgl64.Vec3{1, 1, 0}
	if got := v.StreamPosition(); got != (mgl64.Vec3{2, 1, 0}) {
		t.Fatalf("stream pos=%v", got)
	}
	v.UseCamera = true
	if got := v.StreamPosition(); got != (mgl64.Vec3{1, 6, 0}) {
		t.Fatalf("camera stream pos=%v", got)
	}
	if got := v.AreaPosition(); got != v.Camera {
		t.Fatalf("area pos=%v want camera", got)
	}

	if !v.Moved() {
		t.Fatalf("new viewer should count as moved")
	}
	v.MarkScanned()
	if v.Moved() {
		t.Fatalf("unchanged viewer reported moved")
	}
	v.Delta = mgl64.Vec3{}
	if !v.Moved() {
		t.Fatalf("look-ahead change should count as a move")
	}
}

func TestViewer_MaxMultiplier(t *testing.T) {
	v := New(1)
	v.Kind(entity.KindObject).Multiplier = 3
	v.Kind(entity.KindPickup).Multiplier = 9
	v.Kind(entity.KindPickup).Enabled = false
	if got := v.MaxMultiplier(); got != 3 {
		t.Fatalf("max multiplier=%v want 3", got)
	}
}
