package engine

import (
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/selector"
	"worldstream.ai/internal/sim/viewer"
	"worldstream.ai/internal/sim/visibility"
)

// stepGlobal admits viewer-less kinds once every viewer contributed to the
// shared discovery. It runs every GlobalTickRate ticks.
func (e *Engine) stepGlobal() {
	e.globalTickCount++
	if e.globalTickCount < e.cfg.GlobalTickRate {
		return
	}
	e.globalTickCount = 0
	for _, k := range e.cfg.Order {
		if !k.ViewerLess() || !e.allChecked(k) {
			continue
		}
		st := e.global[k]
		st.Cap = e.cfg.Kinds[k].GlobalCap
		if !e.cfg.Kinds[k].Enabled {
			e.shared[k] = visibility.Shared{}
		}
		selector.LoadShared(st, e.shared[k])
		deps := e.stepDeps(k, viewer.Global)
		for _, id := range selector.Trim(st, deps) {
			e.cur.Evicted++
			e.streamOut(k, id, viewer.Global)
		}
		res := selector.Step(st, selector.StepInput{}, deps)
		e.record(k, viewer.Global, res)

		e.shared[k] = visibility.Shared{}
		for _, v := range e.viewers {
			v.Kind(k).Checked = false
		}
	}
}

func (e *Engine) allChecked(k entity.Kind) bool {
	for _, v := range e.viewers {
		st := v.Kind(k)
		if st.Enabled && e.cfg.Kinds[k].Enabled && !st.Checked {
			return false
		}
	}
	return true
}
