package engine

import (
	"sort"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/grid"
	"worldstream.ai/internal/sim/selector"
	"worldstream.ai/internal/sim/viewer"
)

// AdvanceTick runs one full streaming pass: tracker, per-viewer updates,
// the shared viewer-less pass, then the callback flush.
func (e *Engine) AdvanceTick() protocol.TickStats {
	start := e.clock()
	e.sampleElapsed(start)
	tick := e.tick.Add(1)
	e.cur = protocol.TickStats{Tick: tick, AverageElapsedMs: e.avgSecs * 1000}

	tr := e.tracker.Run(start)
	e.cur.StaleHosts = tr.StaleHosts
	e.cur.MovesFinished = len(tr.Finished)
	for _, id := range tr.Finished {
		e.queue.MoveFinished(id)
	}
	e.grid.Flush(e.store.Get)

	for _, id := range e.ViewerIDs() {
		v := e.viewers[id]
		if v.Processing() {
			e.chunkStep(v, true, entity.KindAll)
			continue
		}
		v.TickCount++
		if v.TickCount < v.TickRate {
			continue
		}
		v.TickCount = 0
		e.refreshFromHost(v)
		full := v.UpdateWhenIdle || v.Moved()
		e.discover(v, true, full, entity.KindAll)
		if full {
			e.chunkStep(v, true, entity.KindAll)
		}
	}

	e.stepGlobal()
	e.grid.Flush(e.store.Get)

	evs := e.queue.Flush(tick, e.store.Exists)
	e.cur.Events = len(evs)
	e.cur.Viewers = len(e.viewers)
	for _, k := range entity.Kinds {
		e.cur.Entities += e.store.Len(k)
	}
	e.cur.DurationMicros = e.clock().Sub(start).Microseconds()
	for _, s := range e.statsSinks {
		s.RecordTick(e.cur)
	}
	return e.cur
}

func (e *Engine) sampleElapsed(now time.Time) {
	if !e.lastTick.IsZero() {
		e.elapsed = append(e.elapsed, now.Sub(e.lastTick).Seconds())
		if n := e.cfg.Prediction.Samples; len(e.elapsed) > n {
			e.elapsed = e.elapsed[len(e.elapsed)-n:]
		}
		e.avgSecs = stat.Mean(e.elapsed, nil)
	}
	e.lastTick = now
}

// AverageElapsed is the mean interval between recent ticks.
func (e *Engine) AverageElapsed() time.Duration {
	return time.Duration(e.avgSecs * float64(time.Second))
}

func (e *Engine) refreshFromHost(v *viewer.Viewer) {
	if e.host != nil {
		if st, ok := e.host.ViewerState(v.ID); ok {
			v.State = st
		}
	}
	v.Delta = mgl64.Vec3{}
	p := e.cfg.Prediction
	if !p.Enabled || v.UseCamera {
		return
	}
	speed := v.Velocity.Dot(v.Velocity)
	if speed > p.MinSpeedSq && speed < p.MaxSpeedSq {
		v.Delta = v.Velocity.Mul(e.avgSecs * p.Scale)
	}
}

// discover classifies kinds for v. A full pass covers areas and per-viewer
// kinds; automatic passes also feed the shared viewer-less discovery.
func (e *Engine) discover(v *viewer.Viewer, automatic, full bool, only entity.Kind) {
	cells := e.eval.Cells(v, full)
	var found map[grid.Key]struct{}
	if full {
		found = map[grid.Key]struct{}{}
		e.cur.FullScans++
	} else {
		e.cur.MinimalScans++
	}
	if full && e.wants(v, entity.KindArea, only) {
		enter, leave := e.eval.Areas(v, cells)
		for _, id := range leave {
			e.queue.AreaLeave(v.ID, id, e.areaPriority(id))
		}
		for _, id := range enter {
			e.queue.AreaEnter(v.ID, id, e.areaPriority(id))
		}
	}
	for _, k := range e.cfg.Order {
		if k == entity.KindArea || !e.wants(v, k, only) {
			continue
		}
		if k.ViewerLess() {
			if automatic {
				e.eval.DiscoverShared(v, k, cells, e.shared[k], found)
			}
			continue
		}
		if full {
			e.eval.Classify(v, k, cells, found)
		}
	}
	if full {
		v.Cells = v.Cells[:0]
		for key := range found {
			v.Cells = append(v.Cells, key)
		}
		sort.Slice(v.Cells, func(i, j int) bool {
			if v.Cells[i].X != v.Cells[j].X {
				return v.Cells[i].X < v.Cells[j].X
			}
			return v.Cells[i].Y < v.Cells[j].Y
		})
		v.MarkScanned()
	}
}

func (e *Engine) wants(v *viewer.Viewer, k, only entity.Kind) bool {
	if only != entity.KindAll && k != only {
		return false
	}
	return e.cfg.Kinds[k].Enabled && v.Kind(k).Enabled
}

func (e *Engine) areaPriority(id int) int {
	if a := e.store.Get(entity.KindArea, id); a != nil {
		return a.Priority
	}
	return 0
}

// chunkStep drains pending per-viewer work. Automatic steps are bounded by
// the per-kind chunk size; single-instance kinds are never chunked.
func (e *Engine) chunkStep(v *viewer.Viewer, automatic bool, only entity.Kind) {
	e.cur.ChunkSteps++
	for _, k := range e.cfg.Order {
		if k == entity.KindArea || k.ViewerLess() {
			continue
		}
		if only != entity.KindAll && k != only {
			continue
		}
		st := v.Kind(k)
		deps := e.stepDeps(k, v.ID)
		for _, id := range selector.Trim(st, deps) {
			e.cur.Evicted++
			e.streamOut(k, id, v.ID)
		}
		if !st.Processing {
			continue
		}
		chunk := e.cfg.Kinds[k].ChunkSize
		if k.Single() {
			chunk = 0
		}
		res := selector.Step(st, selector.StepInput{Automatic: automatic, ChunkSize: chunk}, deps)
		e.record(k, v.ID, res)
	}
}

func (e *Engine) stepDeps(k entity.Kind, viewerID int) selector.StepDeps {
	return selector.StepDeps{
		Exists: func(id int) bool { return e.store.Exists(k, id) },
		Activate: func(id int) (viewer.Handle, error) {
			return e.act.Activate(k, viewerID, e.store.Get(k, id))
		},
		Deactivate: func(id int, h viewer.Handle) { e.act.Deactivate(k, viewerID, h) },
	}
}

func (e *Engine) record(k entity.Kind, viewerID int, res selector.StepResult) {
	for _, id := range res.Removed {
		e.streamOut(k, id, viewerID)
	}
	for _, id := range res.Evicted {
		e.streamOut(k, id, viewerID)
	}
	for _, id := range res.Admitted {
		e.streamIn(k, id, viewerID)
	}
	e.cur.Admitted += len(res.Admitted)
	e.cur.Removed += len(res.Removed)
	e.cur.Evicted += len(res.Evicted)
	e.cur.ActivationFailures += res.Failures
	e.cur.StaleRefs += res.StaleRefs
	if res.Exhausted {
		e.cur.Exhausted++
	}
}

func (e *Engine) streamIn(k entity.Kind, id, viewerID int) {
	if ent := e.store.Get(k, id); ent != nil && !ent.QuietStream {
		e.queue.StreamIn(k, id, viewerID)
	}
}

func (e *Engine) streamOut(k entity.Kind, id, viewerID int) {
	if ent := e.store.Get(k, id); ent != nil && !ent.QuietStream {
		e.queue.StreamOut(k, id, viewerID)
	}
}

func sortedHandles(m map[int]viewer.Handle) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedSet(s entity.Set) []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
