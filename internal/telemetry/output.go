package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"

	"worldstream.ai/internal/protocol"
)

// WindowStats summarizes a run of consecutive ticks.
type WindowStats struct {
	FirstTick     uint64  `csv:"first_tick"`
	LastTick      uint64  `csv:"last_tick"`
	Ticks         int     `csv:"ticks"`
	MeanDuration  float64 `csv:"mean_duration_us"`
	P95Duration   float64 `csv:"p95_duration_us"`
	MaxDuration   int64   `csv:"max_duration_us"`
	Viewers       int     `csv:"viewers"`
	Entities      int     `csv:"entities"`
	Admitted      int     `csv:"admitted"`
	Removed       int     `csv:"removed"`
	Evicted       int     `csv:"evicted"`
	Failures      int     `csv:"activation_failures"`
	Exhausted     int     `csv:"exhausted"`
	StaleHosts    int     `csv:"stale_hosts"`
	Events        int     `csv:"events"`
	FullScanRatio float64 `csv:"full_scan_ratio"`
}

// OutputManager writes per-tick rows to ticks.csv and per-window summaries
// to windows.csv. A nil manager discards everything.
type OutputManager struct {
	dir    string
	window int

	mu         sync.Mutex
	tickFile   *os.File
	windowFile *os.File
	tickHeader bool
	winHeader  bool
	pending    []protocol.TickStats
	lastErr    error
}

// NewOutputManager returns nil if dir is empty (output disabled).
func NewOutputManager(dir string, window int) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if window <= 0 {
		window = 100
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	om := &OutputManager{dir: dir, window: window}

	f, err := os.Create(filepath.Join(dir, "ticks.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks.csv: %w", err)
	}
	om.tickFile = f

	f, err = os.Create(filepath.Join(dir, "windows.csv"))
	if err != nil {
		om.tickFile.Close()
		return nil, fmt.Errorf("creating windows.csv: %w", err)
	}
	om.windowFile = f
	return om, nil
}

// RecordTick makes the manager an engine stats sink.
func (om *OutputManager) RecordTick(s protocol.TickStats) {
	if om == nil {
		return
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.writeTickLocked(s); err != nil {
		om.lastErr = err
	}
	om.pending = append(om.pending, s)
	if len(om.pending) >= om.window {
		if err := om.flushWindowLocked(); err != nil {
			om.lastErr = err
		}
	}
}

// Err returns the last write error, if any.
func (om *OutputManager) Err() error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.lastErr
}

func (om *OutputManager) writeTickLocked(s protocol.TickStats) error {
	records := []protocol.TickStats{s}
	if !om.tickHeader {
		if err := gocsv.Marshal(records, om.tickFile); err != nil {
			return fmt.Errorf("writing ticks: %w", err)
		}
		om.tickHeader = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.tickFile); err != nil {
		return fmt.Errorf("writing ticks: %w", err)
	}
	return nil
}

func (om *OutputManager) flushWindowLocked() error {
	if len(om.pending) == 0 {
		return nil
	}
	w := Summarize(om.pending)
	om.pending = om.pending[:0]

	records := []WindowStats{w}
	if !om.winHeader {
		if err := gocsv.Marshal(records, om.windowFile); err != nil {
			return fmt.Errorf("writing windows: %w", err)
		}
		om.winHeader = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(records, om.windowFile); err != nil {
		return fmt.Errorf("writing windows: %w", err)
	}
	return nil
}

// Summarize folds ticks into one window row.
func Summarize(ticks []protocol.TickStats) WindowStats {
	var w WindowStats
	if len(ticks) == 0 {
		return w
	}
	w.FirstTick = ticks[0].Tick
	w.LastTick = ticks[len(ticks)-1].Tick
	w.Ticks = len(ticks)

	durs := make([]float64, 0, len(ticks))
	scans := 0
	full := 0
	for _, t := range ticks {
		durs = append(durs, float64(t.DurationMicros))
		if t.DurationMicros > w.MaxDuration {
			w.MaxDuration = t.DurationMicros
		}
		w.Admitted += t.Admitted
		w.Removed += t.Removed
		w.Evicted += t.Evicted
		w.Failures += t.ActivationFailures
		w.Exhausted += t.Exhausted
		w.StaleHosts += t.StaleHosts
		w.Events += t.Events
		full += t.FullScans
		scans += t.FullScans + t.MinimalScans
	}
	last := ticks[len(ticks)-1]
	w.Viewers = last.Viewers
	w.Entities = last.Entities
	if scans > 0 {
		w.FullScanRatio = float64(full) / float64(scans)
	}
	w.MeanDuration = stat.Mean(durs, nil)
	sort.Float64s(durs)
	w.P95Duration = stat.Quantile(0.95, stat.Empirical, durs, nil)
	return w
}

func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close writes any partial window and closes both files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()

	firstErr := om.flushWindowLocked()
	if om.tickFile != nil {
		if err := om.tickFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if om.windowFile != nil {
		if err := om.windowFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
