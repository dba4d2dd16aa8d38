package selector

import (
	"errors"
	"sort"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/viewer"
)

type StepInput struct {
	// Automatic steps honour the chunk tick-rate gate and the chunk size.
	Automatic bool
	ChunkSize int
}

type StepDeps struct {
	Exists     func(id int) bool
	Activate   func(id int) (viewer.Handle, error)
	Deactivate func(id int, h viewer.Handle)
}

type StepResult struct {
	Admitted  []int
	Removed   []int
	Evicted   []int
	Failures  int
	Exhausted bool
	StaleRefs int
	Gated     bool
}

// Step drains the removal list and then the candidate queue of one kind for
// one viewer. Both draw on the same per-step budget in automatic mode.
func Step(st *viewer.KindState, in StepInput, deps StepDeps) StepResult {
	var res StepResult
	if in.Automatic {
		rate := st.ChunkTickRate
		if rate < 1 {
			rate = 1
		}
		st.ChunkTickCount++
		if st.ChunkTickCount < rate {
			res.Gated = true
			return res
		}
		st.ChunkTickCount = 0
	}

	budget := -1
	if in.Automatic && in.ChunkSize > 0 {
		budget = in.ChunkSize
	}
	take := func() bool {
		if budget < 0 {
			return true
		}
		if budget == 0 {
			return false
		}
		budget--
		return true
	}

	for len(st.Removals) > 0 && take() {
		id := st.Removals[0]
		st.Removals = st.Removals[1:]
		h, ok := st.Visible[id]
		if !ok {
			continue
		}
		deps.Deactivate(id, h)
		delete(st.Visible, id)
		st.RestoreCap()
		res.Removed = append(res.Removed, id)
	}

	// Stale and already-visible candidates are dropped without spending budget.
	for len(st.Candidates) > 0 {
		c := st.Candidates[0]
		if !deps.Exists(c.ID) {
			st.Candidates = st.Candidates[1:]
			res.StaleRefs++
			continue
		}
		if _, ok := st.Visible[c.ID]; ok {
			st.Candidates = st.Candidates[1:]
			continue
		}
		if !take() {
			break
		}
		st.Candidates = st.Candidates[1:]

		var evicted *viewer.Entry
		limit := st.Limit()
		if len(st.Visible) >= limit {
			if n := len(st.StillVisible); n > 0 {
				worst := st.StillVisible[n-1]
				if c.Precedes(worst) {
					st.StillVisible = st.StillVisible[:n-1]
					if h, ok := st.Visible[worst.ID]; ok {
						deps.Deactivate(worst.ID, h)
						delete(st.Visible, worst.ID)
						evicted = &worst
					}
				}
			}
			if len(st.Visible) >= limit {
				st.Candidates = st.Candidates[:0]
				break
			}
		}
		h, err := deps.Activate(c.ID)
		if err != nil {
			if evicted != nil {
				restore(st, *evicted, deps, &res)
			}
			if errors.Is(err, protocol.ResourceExhausted) {
				st.Effective = len(st.Visible)
				st.Candidates = st.Candidates[:0]
				res.Exhausted = true
				break
			}
			res.Failures++
			continue
		}
		if evicted != nil {
			res.Evicted = append(res.Evicted, evicted.ID)
		}
		st.Visible[c.ID] = h
		res.Admitted = append(res.Admitted, c.ID)
	}

	if len(st.Removals) == 0 && len(st.Candidates) == 0 {
		st.StillVisible = st.StillVisible[:0]
		st.Processing = false
	}
	return res
}

// restore reactivates an entry evicted for a candidate that then failed to
// activate. If that fails too the eviction stands.
func restore(st *viewer.KindState, w viewer.Entry, deps StepDeps, res *StepResult) {
	h, err := deps.Activate(w.ID)
	if err != nil {
		res.Evicted = append(res.Evicted, w.ID)
		return
	}
	st.Visible[w.ID] = h
	st.StillVisible = append(st.StillVisible, w)
}

// LoadShared fills st's queues from a shared discovery: visible instances
// missing from discovered are removed, the rest are ranked.
func LoadShared(st *viewer.KindState, discovered map[int]viewer.Entry) {
	st.Reset()
	for id := range st.Visible {
		e, ok := discovered[id]
		if !ok {
			st.Removals = append(st.Removals, id)
			continue
		}
		st.StillVisible = append(st.StillVisible, e)
	}
	for id, e := range discovered {
		if _, ok := st.Visible[id]; ok {
			continue
		}
		st.Candidates = append(st.Candidates, e)
	}
	sort.Ints(st.Removals)
	sort.Slice(st.Candidates, func(i, j int) bool { return st.Candidates[i].Less(st.Candidates[j]) })
	sort.Slice(st.StillVisible, func(i, j int) bool { return st.StillVisible[i].Less(st.StillVisible[j]) })
	st.Processing = len(st.Candidates) > 0 || len(st.Removals) > 0
}

// Trim evicts the worst still-visible entries until the visible count fits the limit.
func Trim(st *viewer.KindState, deps StepDeps) []int {
	var evicted []int
	for len(st.Visible) > st.Limit() && len(st.StillVisible) > 0 {
		n := len(st.StillVisible)
		worst := st.StillVisible[n-1]
		st.StillVisible = st.StillVisible[:n-1]
		h, ok := st.Visible[worst.ID]
		if !ok {
			continue
		}
		deps.Deactivate(worst.ID, h)
		delete(st.Visible, worst.ID)
		evicted = append(evicted, worst.ID)
	}
	return evicted
}
