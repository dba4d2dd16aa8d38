package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
	"worldstream.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of tick stats and flushed
// events. Writes are queued and applied by one writer goroutine; the engine
// never blocks on it.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick  atomic.Uint64
	dropBatch atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqBatch
)

type req struct {
	kind reqKind

	stats protocol.TickStats
	tick  uint64
	evs   []callbacks.Event
}

type IndexStats struct {
	QueueDepth     int
	QueueCapacity  int
	DropTickTotal  uint64
	DropBatchTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			duration_us INTEGER NOT NULL,
			viewers INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			admitted INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			viewer INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_viewer_tick ON events(viewer, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity_tick ON events(kind, entity_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() IndexStats {
	return IndexStats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropBatchTotal: s.dropBatch.Load(),
	}
}

// RecordTick queues one stats row.
func (s *SQLiteIndex) RecordTick(st protocol.TickStats) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, stats: st}:
	default:
		// Drop if the indexer falls behind; the JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
}

func (s *SQLiteIndex) Handles(string) bool    { return true }
func (s *SQLiteIndex) Handle(callbacks.Event) {}

// HandleBatch queues every event flushed in one tick.
func (s *SQLiteIndex) HandleBatch(tick uint64, evs []callbacks.Event) {
	if s == nil || s.closed.Load() || len(evs) == 0 {
		return
	}
	cp := append([]callbacks.Event(nil), evs...)
	select {
	case s.ch <- req{kind: reqBatch, tick: tick, evs: cp}:
	default:
		s.dropBatch.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,duration_us,viewers,entities,admitted,removed,evicted,events,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,name,kind,entity_id,viewer,priority) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			st := r.stats
			raw, _ := json.Marshal(st)
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(st.Tick),
					st.DurationMicros,
					st.Viewers,
					st.Entities,
					st.Admitted,
					st.Removed,
					st.Evicted,
					st.Events,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqBatch:
			if insertEvent == nil {
				break
			}
			for i, ev := range r.evs {
				if _, err := tx.Stmt(insertEvent).Exec(
					int64(r.tick),
					i,
					ev.Name,
					ev.Kind.String(),
					ev.ID,
					ev.Viewer,
					ev.Priority,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
