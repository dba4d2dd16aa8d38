package selector

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/viewer"
)

type fakeActuator struct {
	next     viewer.Handle
	capacity int
	live     map[int]viewer.Handle
	gone     map[int]bool
	fail     map[int]error
}

func newFake(capacity int) *fakeActuator {
	return &fakeActuator{capacity: capacity, live: map[int]viewer.Handle{}, gone: map[int]bool{}, fail: map[int]error{}}
}

func (f *fakeActuator) deps() StepDeps {
	return StepDeps{
		Exists: func(id int) bool { return !f.gone[id] },
		Activate: func(id int) (viewer.Handle, error) {
			if err := f.fail[id]; err != nil {
				return 0, err
			}
			if f.capacity >= 0 && len(f.live) >= f.capacity {
				return 0, fmt.Errorf("object %d: %w", id, protocol.ResourceExhausted)
			}
			f.next++
			f.live[id] = f.next
			return f.next, nil
		},
		Deactivate: func(id int, h viewer.Handle) { delete(f.live, id) },
	}
}

func state(limit int) *viewer.KindState {
	v := viewer.New(1)
	st := v.Kind(0)
	st.Cap = limit
	return st
}

func TestStep_EvictsWorstWhenCandidatePrecedes(t *testing.T) {
	f := newFake(-1)
	st := state(1)
	st.Visible[1] = 100
	f.live[1] = 100
	st.StillVisible = []viewer.Entry{{ID: 1, Distance: 4}}
	st.Candidates = []viewer.Entry{{ID: 2, Distance: 1}}

	res := Step(st, StepInput{}, f.deps())
	if len(res.Evicted) != 1 || res.Evicted[0] != 1 {
		t.Fatalf("evicted=%v want [1]", res.Evicted)
	}
	if len(res.Admitted) != 1 || res.Admitted[0] != 2 {
		t.Fatalf("admitted=%v want [2]", res.Admitted)
	}
	if _, ok := st.Visible[2]; !ok || len(st.Visible) != 1 {
		t.Fatalf("visible=%v", st.Visible)
	}
	if st.Processing {
		t.Fatalf("processing should clear once drained")
	}
}

func TestStep_StaticNeverEvictedByDistance(t *testing.T) {
	f := newFake(-1)
	st := state(1)
	st.Visible[1] = 100
	st.StillVisible = []viewer.Entry{{ID: 1, Distance: math.Inf(-1)}}
	st.Candidates = []viewer.Entry{{ID: 2, Distance: 0}}

	res := Step(st, StepInput{}, f.deps())
	if len(res.Evicted) != 0 || len(res.Admitted) != 0 {
		t.Fatalf("evicted=%v admitted=%v", res.Evicted, res.Admitted)
	}
	if _, ok := st.Visible[1]; !ok {
		t.Fatalf("static entry must stay visible")
	}
	if len(st.Candidates) != 0 {
		t.Fatalf("full queue should discard remaining candidates")
	}
}

func TestStep_LowerPriorityNumberWins(t *testing.T) {
	f := newFake(-1)
	st := state(1)
	st.Visible[1] = 100
	st.StillVisible = []viewer.Entry{{ID: 1, Priority: 1, Distance: 1}}
	st.Candidates = []viewer.Entry{{ID: 2, Priority: 0, Distance: 50}}

	res := Step(st, StepInput{}, f.deps())
	if len(res.Evicted) != 1 || len(res.Admitted) != 1 {
		t.Fatalf("evicted=%v admitted=%v", res.Evicted, res.Admitted)
	}
}

func TestStep_ChunkBudget(t *testing.T) {
	f := newFake(-1)
	st := state(10)
	for i := 1; i <= 5; i++ {
		st.Candidates = append(st.Candidates, viewer.Entry{ID: i, Distance: float64(i)})
	}
	st.Processing = true

	var got []int
	for tick := 0; tick < 3; tick++ {
		res := Step(st, StepInput{Automatic: true, ChunkSize: 2}, f.deps())
		got = append(got, len(res.Admitted))
	}
	if fmt.Sprint(got) != "[2 2 1]" {
		t.Fatalf("admissions per step=%v want [2 2 1]", got)
	}
	if st.Processing {
		t.Fatalf("processing should clear after the last chunk")
	}
}

func TestStep_ManualIgnoresChunkSize(t *testing.T) {
	f := newFake(-1)
	st := state(10)
	for i := 1; i <= 5; i++ {
		st.Candidates = append(st.Candidates, viewer.Entry{ID: i, Distance: float64(i)})
	}
	res := Step(st, StepInput{ChunkSize: 2}, f.deps())
	if len(res.Admitted) != 5 {
		t.Fatalf("admitted=%d want 5", len(res.Admitted))
	}
}

func TestStep_ChunkTickRateGates(t *testing.T) {
	f := newFake(-1)
	st := state(10)
	st.ChunkTickRate = 3
	st.Candidates = []viewer.Entry{{ID: 1}}
	for i := 0; i < 2; i++ {
		if res := Step(st, StepInput{Automatic: true, ChunkSize: 1}, f.deps()); !res.Gated {
			t.Fatalf("step %d should be gated", i)
		}
	}
	if res := Step(st, StepInput{Automatic: true, ChunkSize: 1}, f.deps()); res.Gated || len(res.Admitted) != 1 {
		t.Fatalf("third step should admit: %+v", res)
	}
}

func TestStep_ExhaustionClampsCap(t *testing.T) {
	f := newFake(2)
	st := state(10)
	for i := 1; i <= 4; i++ {
		st.Candidates = append(st.Candidates, viewer.Entry{ID: i, Distance: float64(i)})
	}
	res := Step(st, StepInput{}, f.deps())
	if !res.Exhausted || len(res.Admitted) != 2 {
		t.Fatalf("res=%+v", res)
	}
	if st.Limit() != 2 {
		t.Fatalf("limit=%d want 2", st.Limit())
	}
	if len(st.Candidates) != 0 {
		t.Fatalf("remaining candidates should be discarded")
	}

	st.Removals = []int{1}
	Step(st, StepInput{}, f.deps())
	if st.Limit() != 10 {
		t.Fatalf("limit=%d want 10 after a removal", st.Limit())
	}
}

func TestStep_RemovalsShareBudget(t *testing.T) {
	f := newFake(-1)
	st := state(10)
	st.Visible[7] = 1
	st.Visible[8] = 2
	st.Removals = []int{7, 8}
	st.Candidates = []viewer.Entry{{ID: 1}, {ID: 2}}
	st.Processing = true

	res := Step(st, StepInput{Automatic: true, ChunkSize: 3}, f.deps())
	if len(res.Removed) != 2 || len(res.Admitted) != 1 {
		t.Fatalf("removed=%v admitted=%v", res.Removed, res.Admitted)
	}
	if !st.Processing {
		t.Fatalf("one candidate still pending")
	}
}

func TestStep_SkipsStaleCandidates(t *testing.T) {
	f := newFake(-1)
	f.gone[1] = true
	st := state(10)
	st.Candidates = []viewer.Entry{{ID: 1}, {ID: 2}}
	res := Step(st, StepInput{}, f.deps())
	if res.StaleRefs != 1 || len(res.Admitted) != 1 || res.Admitted[0] != 2 {
		t.Fatalf("res=%+v", res)
	}
}

func TestStep_StaleCandidatesDoNotSpendBudget(t *testing.T) {
	f := newFake(-1)
	f.gone[1] = true
	f.gone[2] = true
	st := state(10)
	st.Visible[4] = 40
	st.Candidates = []viewer.Entry{{ID: 1}, {ID: 2}, {ID: 4}, {ID: 3}}
	st.Processing = true

	res := Step(st, StepInput{Automatic: true, ChunkSize: 1}, f.deps())
	if res.StaleRefs != 2 || len(res.Admitted) != 1 || res.Admitted[0] != 3 {
		t.Fatalf("res=%+v want stale=2 admitted=[3]", res)
	}
	if st.Processing || len(st.Candidates) != 0 {
		t.Fatalf("processing=%v candidates=%v", st.Processing, st.Candidates)
	}
}

func TestStep_FailedActivationRestoresEvicted(t *testing.T) {
	f := newFake(-1)
	f.fail[2] = errors.New("model rejected")
	st := state(1)
	st.Visible[1] = 100
	f.live[1] = 100
	st.StillVisible = []viewer.Entry{{ID: 1, Distance: 4}}
	st.Candidates = []viewer.Entry{{ID: 2, Distance: 1}}

	res := Step(st, StepInput{}, f.deps())
	if len(res.Evicted) != 0 || len(res.Admitted) != 0 || res.Failures != 1 {
		t.Fatalf("res=%+v want one failure and no eviction", res)
	}
	if _, ok := st.Visible[1]; !ok || len(st.Visible) != 1 {
		t.Fatalf("visible=%v want [1]", st.Visible)
	}
	if _, ok := f.live[1]; !ok {
		t.Fatalf("entry 1 should be live again")
	}
}

func TestStep_EvictionStandsWhenRestoreFails(t *testing.T) {
	f := newFake(-1)
	st := state(1)
	st.Visible[1] = 100
	f.live[1] = 100
	st.StillVisible = []viewer.Entry{{ID: 1, Distance: 4}}
	st.Candidates = []viewer.Entry{{ID: 2, Distance: 1}}
	f.fail[1] = errors.New("model rejected")
	f.fail[2] = errors.New("model rejected")

	res := Step(st, StepInput{}, f.deps())
	if len(res.Evicted) != 1 || res.Evicted[0] != 1 {
		t.Fatalf("evicted=%v want [1]", res.Evicted)
	}
	if len(st.Visible) != 0 {
		t.Fatalf("visible=%v want empty", st.Visible)
	}
}

func TestLoadShared(t *testing.T) {
	st := state(10)
	st.Visible[1] = 10
	st.Visible[2] = 20
	LoadShared(st, map[int]viewer.Entry{
		2: {ID: 2, Distance: 5},
		3: {ID: 3, Distance: 1},
		4: {ID: 4, Priority: -1, Distance: 9},
	})
	if len(st.Removals) != 1 || st.Removals[0] != 1 {
		t.Fatalf("removals=%v", st.Removals)
	}
	if len(st.Candidates) != 2 || st.Candidates[0].ID != 4 {
		t.Fatalf("candidates=%v", st.Candidates)
	}
	if len(st.StillVisible) != 1 || !st.Processing {
		t.Fatalf("still=%v processing=%v", st.StillVisible, st.Processing)
	}
}

func TestTrim_EvictsWorstFirst(t *testing.T) {
	f := newFake(-1)
	st := state(1)
	st.Visible[1] = 1
	st.Visible[2] = 2
	st.StillVisible = []viewer.Entry{{ID: 2, Distance: 1}, {ID: 1, Distance: 9}}
	got := Trim(st, f.deps())
	if len(got) != 1 || got[0] != 1 || len(st.Visible) != 1 {
		t.Fatalf("evicted=%v visible=%v", got, st.Visible)
	}
}
