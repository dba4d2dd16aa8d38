package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/callbacks"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// OnClose, when set, gets the path of every finished hourly segment.
	OnClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.OnClose != nil {
			w.OnClose(w.pathForHour(w.curHour))
		}
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// EventLogger writes one BATCH line per flushed tick. It is a callbacks.BatchSink.
type EventLogger struct {
	w     *JSONLZstdWriter
	names map[string]bool
	log   *stdlog.Logger
}

// NewEventLogger logs the named events, or all of them when names is empty.
func NewEventLogger(dataDir string, logger *stdlog.Logger, names ...string) *EventLogger {
	if len(names) == 0 {
		names = []string{
			protocol.EventAreaLeave,
			protocol.EventAreaEnter,
			protocol.EventMoveFinished,
			protocol.EventStreamIn,
			protocol.EventStreamOut,
		}
	}
	l := &EventLogger{
		w:     NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events"),
		names: map[string]bool{},
		log:   logger,
	}
	for _, n := range names {
		l.names[n] = true
	}
	return l
}

func (l *EventLogger) Handles(name string) bool { return l.names[name] }
func (l *EventLogger) Handle(callbacks.Event)   {}

func (l *EventLogger) HandleBatch(tick uint64, evs []callbacks.Event) {
	msgs := make([]protocol.EventMsg, 0, len(evs))
	for _, ev := range evs {
		msgs = append(msgs, ev.Msg())
	}
	if err := l.w.Write(protocol.NewBatch(tick, msgs)); err != nil && l.log != nil {
		l.log.Printf("event log tick %d: %v", tick, err)
	}
}

func (l *EventLogger) Close() error { return l.w.Close() }

// OnSegmentClosed registers fn for every finished event log segment.
func (l *EventLogger) OnSegmentClosed(fn func(path string)) { l.w.OnClose = fn }

// StatsLogger writes one TickStats line per tick. It is an engine stats sink.
type StatsLogger struct {
	w   *JSONLZstdWriter
	log *stdlog.Logger
}

func NewStatsLogger(dataDir string, logger *stdlog.Logger) *StatsLogger {
	return &StatsLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "stats"), "stats"), log: logger}
}

func (l *StatsLogger) RecordTick(s protocol.TickStats) {
	if err := l.w.Write(s); err != nil && l.log != nil {
		l.log.Printf("stats log tick %d: %v", s.Tick, err)
	}
}

func (l *StatsLogger) Close() error { return l.w.Close() }

func (l *StatsLogger) OnSegmentClosed(fn func(path string)) { l.w.OnClose = fn }
