package main

import (
	"fmt"
	"net/http"
	"sync"

	"worldstream.ai/internal/persistence/indexdb"
	"worldstream.ai/internal/persistence/s3mirror"
	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/transport/observer"
)

// lastTick keeps the most recent tick record for /metrics.
type lastTick struct {
	mu sync.Mutex
	st protocol.TickStats

	admitted, evicted, removed, failures uint64
}

func (l *lastTick) RecordTick(st protocol.TickStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st = st
	l.admitted += uint64(st.Admitted)
	l.evicted += uint64(st.Evicted)
	l.removed += uint64(st.Removed)
	l.failures += uint64(st.ActivationFailures)
}

func metricsHandler(serverID string, last *lastTick, hub *observer.Hub, idx runtimeIndex, mirror *s3mirror.Mirror) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		last.mu.Lock()
		st := last.st
		admitted, evicted, removed, failures := last.admitted, last.evicted, last.removed, last.failures
		last.mu.Unlock()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP worldstream_tick Current engine tick.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_tick gauge\n")
		fmt.Fprintf(rw, "worldstream_tick{server=%q} %d\n", serverID, st.Tick)

		fmt.Fprintf(rw, "# HELP worldstream_viewers Viewers streamed last tick.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_viewers gauge\n")
		fmt.Fprintf(rw, "worldstream_viewers{server=%q} %d\n", serverID, st.Viewers)

		fmt.Fprintf(rw, "# HELP worldstream_entities Registered entities.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_entities gauge\n")
		fmt.Fprintf(rw, "worldstream_entities{server=%q} %d\n", serverID, st.Entities)

		fmt.Fprintf(rw, "# HELP worldstream_tick_duration_us Last tick duration in microseconds.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_tick_duration_us gauge\n")
		fmt.Fprintf(rw, "worldstream_tick_duration_us{server=%q} %d\n", serverID, st.DurationMicros)

		fmt.Fprintf(rw, "# HELP worldstream_average_elapsed_ms Averaged tick interval used for look-ahead.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_average_elapsed_ms gauge\n")
		fmt.Fprintf(rw, "worldstream_average_elapsed_ms{server=%q} %.3f\n", serverID, st.AverageElapsedMs)

		fmt.Fprintf(rw, "# HELP worldstream_instances_total Instance changes since start.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_instances_total counter\n")
		fmt.Fprintf(rw, "worldstream_instances_total{server=%q,change=%q} %d\n", serverID, "admitted", admitted)
		fmt.Fprintf(rw, "worldstream_instances_total{server=%q,change=%q} %d\n", serverID, "evicted", evicted)
		fmt.Fprintf(rw, "worldstream_instances_total{server=%q,change=%q} %d\n", serverID, "removed", removed)
		fmt.Fprintf(rw, "worldstream_instances_total{server=%q,change=%q} %d\n", serverID, "failed", failures)

		if hub != nil {
			fmt.Fprintf(rw, "# HELP worldstream_feed_sessions Connected observer sessions.\n")
			fmt.Fprintf(rw, "# TYPE worldstream_feed_sessions gauge\n")
			fmt.Fprintf(rw, "worldstream_feed_sessions{server=%q} %d\n", serverID, hub.Sessions())
			fmt.Fprintf(rw, "# HELP worldstream_feed_dropped_total Observer frames dropped on backpressure.\n")
			fmt.Fprintf(rw, "# TYPE worldstream_feed_dropped_total counter\n")
			fmt.Fprintf(rw, "worldstream_feed_dropped_total{server=%q} %d\n", serverID, hub.Dropped())
		}
		writeIndexMetrics(rw, serverID, idx)
		if mirror != nil {
			s := mirror.Stats()
			fmt.Fprintf(rw, "# HELP worldstream_mirror_queue_depth Log segments waiting for upload.\n")
			fmt.Fprintf(rw, "# TYPE worldstream_mirror_queue_depth gauge\n")
			fmt.Fprintf(rw, "worldstream_mirror_queue_depth{server=%q} %d\n", serverID, s.QueueDepth)
			fmt.Fprintf(rw, "# HELP worldstream_mirror_uploads_total Log segment uploads by result.\n")
			fmt.Fprintf(rw, "# TYPE worldstream_mirror_uploads_total counter\n")
			fmt.Fprintf(rw, "worldstream_mirror_uploads_total{server=%q,result=%q} %d\n", serverID, "ok", s.UploadSuccessTotal)
			fmt.Fprintf(rw, "worldstream_mirror_uploads_total{server=%q,result=%q} %d\n", serverID, "fail", s.UploadFailTotal)
			fmt.Fprintf(rw, "worldstream_mirror_uploads_total{server=%q,result=%q} %d\n", serverID, "dropped", s.DroppedTotal)
		}
	}
}

func writeIndexMetrics(rw http.ResponseWriter, serverID string, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP worldstream_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "worldstream_index_queue_depth{server=%q} %d\n", serverID, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP worldstream_index_dropped_total Index writes dropped on backpressure.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_index_dropped_total counter\n")
		fmt.Fprintf(rw, "worldstream_index_dropped_total{server=%q,what=%q} %d\n", serverID, "tick", s.DropTickTotal)
		fmt.Fprintf(rw, "worldstream_index_dropped_total{server=%q,what=%q} %d\n", serverID, "batch", s.DropBatchTotal)
	case *indexdb.RemoteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP worldstream_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "worldstream_index_queue_depth{server=%q} %d\n", serverID, s.QueueDepth)
		fmt.Fprintf(rw, "# HELP worldstream_index_flush_fail_total Failed remote index flushes.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_index_flush_fail_total counter\n")
		fmt.Fprintf(rw, "worldstream_index_flush_fail_total{server=%q} %d\n", serverID, s.FlushFailTotal)
		fmt.Fprintf(rw, "# HELP worldstream_index_dropped_total Index writes dropped on backpressure.\n")
		fmt.Fprintf(rw, "# TYPE worldstream_index_dropped_total counter\n")
		fmt.Fprintf(rw, "worldstream_index_dropped_total{server=%q,what=%q} %d\n", serverID, "remote", s.QueueDroppedTotal)
	}
}
