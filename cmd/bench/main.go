// Bench drives the streaming engine with synthetic viewers and entities on a
// simulated clock and prints a tick-duration summary.
//
//	go build ./cmd/bench
//	./bench -profile cpu
//	go tool pprof -http=":8000" ./bench cpu.pprof
package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/profile"

	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/host"
	"worldstream.ai/internal/sim/streamtest"
	"worldstream.ai/internal/sim/tuning"
	"worldstream.ai/internal/telemetry"
)

func main() {
	var (
		viewers  = flag.Int("viewers", 200, "synthetic viewers")
		entities = flag.Int("entities", 20000, "objects to register")
		ticks    = flag.Int("ticks", 600, "ticks to run")
		half     = flag.Float64("range", 3000, "half-extent of the populated area")
		seed     = flag.Int64("seed", 1, "placement seed")
		mode     = flag.String("profile", "none", "profile mode: none, cpu, mem")
		outDir   = flag.String("out", ".", "profile output directory")
		csvDir   = flag.String("telemetry", "", "also write per-tick CSV telemetry here")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bench] ", log.LstdFlags)

	var p interface{ Stop() }
	switch *mode {
	case "cpu":
		p = profile.Start(profile.CPUProfile, profile.ProfilePath(*outDir), profile.NoShutdownHook)
	case "mem":
		p = profile.Start(profile.MemProfileAllocs, profile.ProfilePath(*outDir), profile.NoShutdownHook)
	case "none":
	default:
		logger.Fatalf("unknown profile mode %q", *mode)
	}

	stats := run(*viewers, *entities, *ticks, *half, *seed, *csvDir, logger)
	if p != nil {
		p.Stop()
	}

	w := telemetry.Summarize(stats)
	logger.Printf("ticks=%d viewers=%d entities=%d", w.Ticks, *viewers, *entities)
	logger.Printf("duration_us mean=%.1f p95=%.1f max=%d", w.MeanDuration, w.P95Duration, w.MaxDuration)
	logger.Printf("admitted=%d evicted=%d removed=%d full_scan_ratio=%.3f", w.Admitted, w.Evicted, w.Removed, w.FullScanRatio)
}

func run(nViewers, nEntities, nTicks int, half float64, seed int64, csvDir string, logger *log.Logger) []protocol.TickStats {
	tune := tuning.Defaults()
	now := time.Unix(0, 0)
	table := host.NewTable()
	eng := engine.New(engine.Options{
		Tuning:   tune,
		Actuator: streamtest.NewActuator(),
		Host:     table,
		Clock:    func() time.Time { return now },
	})

	om, err := telemetry.NewOutputManager(csvDir, 100)
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}
	if om != nil {
		eng.AddStatsSink(om)
		defer om.Close()
	}

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < nEntities; i++ {
		pos := mgl64.Vec3{(rng.Float64()*2 - 1) * half, (rng.Float64()*2 - 1) * half, rng.Float64() * 50}
		dist := 100 + rng.Float64()*200
		if _, err := eng.Register(&entity.Entity{Kind: entity.KindObject, Position: pos, StreamDistance: dist * dist}); err != nil {
			logger.Fatalf("register: %v", err)
		}
	}

	walker := host.NewWalker(table, seed, 1, nViewers, half)
	for _, id := range walker.IDs() {
		st, _ := table.ViewerState(id)
		eng.AddViewer(id, st)
	}

	interval := time.Second / time.Duration(tune.TickRateHz)
	out := make([]protocol.TickStats, 0, nTicks)
	for i := 0; i < nTicks; i++ {
		walker.Step(interval.Seconds())
		start := time.Now()
		now = now.Add(interval)
		st := eng.AdvanceTick()
		// The engine clock is simulated; record wall time instead.
		st.DurationMicros = time.Since(start).Microseconds()
		out = append(out, st)
	}
	return out
}
