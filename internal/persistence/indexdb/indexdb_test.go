package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/tuning"
)

func TestSQLiteIndex_WritesTicksAndEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("upsert tuning: %v", err)
	}
	s.RecordTick(protocol.TickStats{Tick: 1, Viewers: 2, Admitted: 3, Events: 2})
	s.HandleBatch(1, []callbacks.Event{
		{Name: protocol.EventStreamIn, Kind: entity.KindObject, ID: 4, Viewer: 1},
		{Name: protocol.EventAreaEnter, Kind: entity.KindArea, ID: 2, Viewer: 1, Priority: 3},
	})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var admitted, viewers int
	if err := s.db.QueryRow(`SELECT admitted, viewers FROM ticks WHERE tick=1`).Scan(&admitted, &viewers); err != nil {
		t.Fatalf("query tick: %v", err)
	}
	if admitted != 3 || viewers != 2 {
		t.Fatalf("admitted=%d viewers=%d want 3 and 2", admitted, viewers)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE tick=1 AND viewer=1`).Scan(&n); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if n != 2 {
		t.Fatalf("events=%d want 2", n)
	}
	var kind string
	var prio int
	if err := s.db.QueryRow(`SELECT kind, priority FROM events WHERE name=?`, protocol.EventAreaEnter).Scan(&kind, &prio); err != nil {
		t.Fatalf("query area event: %v", err)
	}
	if kind != "area" || prio != 3 {
		t.Fatalf("kind=%q priority=%d", kind, prio)
	}

	var digest string
	if err := s.db.QueryRow(`SELECT digest FROM configs WHERE name='tuning'`).Scan(&digest); err != nil {
		t.Fatalf("query tuning: %v", err)
	}
	if len(digest) != 64 {
		t.Fatalf("digest=%q", digest)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick}

	s.RecordTick(protocol.TickStats{Tick: 2})
	s.HandleBatch(2, []callbacks.Event{{Name: protocol.EventStreamIn}})

	st := s.Stats()
	if st.DropTickTotal != 1 {
		t.Fatalf("DropTickTotal=%d want=1", st.DropTickTotal)
	}
	if st.DropBatchTotal != 1 {
		t.Fatalf("DropBatchTotal=%d want=1", st.DropBatchTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestRemoteIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	applied := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []remoteEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied += len(body.Events)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{
		Endpoint:      srv.URL,
		ServerID:      "local",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer func() { _ = idx.Close() }()

	idx.RecordTick(protocol.TickStats{Tick: 123})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := applied >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	finalApplied := applied
	finalReqCount := reqCount
	mu.Unlock()

	if finalApplied < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", finalApplied, finalReqCount)
	}
	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestOpenRemote_RequiresEndpoint(t *testing.T) {
	if _, err := OpenRemote(RemoteConfig{ServerID: "x"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := OpenRemote(RemoteConfig{Endpoint: "http://127.0.0.1:1"}); err == nil {
		t.Fatalf("expected error for empty server id")
	}
}
