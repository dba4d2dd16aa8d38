package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"worldstream.ai/internal/persistence/indexdb"
	persistlog "worldstream.ai/internal/persistence/log"
	"worldstream.ai/internal/sim/catalogs"
	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/host"
	"worldstream.ai/internal/sim/streamtest"
	"worldstream.ai/internal/sim/tuning"
	"worldstream.ai/internal/telemetry"
	"worldstream.ai/internal/transport/observer"
	"worldstream.ai/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		serverID     = flag.String("id", "stream_1", "server id (used by the remote index)")
		configDir    = flag.String("configs", "./configs", "config directory")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		entitiesPath = flag.String("entities", "", "path to entities.json (default: <configs>/entities.json)")
		disableDB    = flag.Bool("disable_db", false, "disable indexing (tick stats + events)")
		disableLogs  = flag.Bool("disable_logs", false, "disable JSONL event/stats logs")

		bots     = flag.Int("bots", 0, "number of synthetic wandering viewers")
		botSeed  = flag.Int64("bot_seed", 1337, "bot walker seed")
		botRange = flag.Float64("bot_range", 400, "half-extent of the bot walking area")

		telemetryDir    = flag.String("telemetry", "", "directory for per-tick CSV telemetry (empty to disable)")
		telemetryWindow = flag.Int("telemetry_window", 200, "ticks per telemetry summary window")
		allowRemoteFeed = flag.Bool("feed_allow_remote", false, "serve the observer feed to non-loopback clients")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	ep := strings.TrimSpace(*entitiesPath)
	if ep == "" {
		ep = filepath.Join(*configDir, "entities.json")
	}
	var cat *catalogs.Catalog
	if _, err := os.Stat(ep); err == nil {
		cat, err = catalogs.Load(ep)
		if err != nil {
			logger.Fatalf("load entities: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	table := host.NewTable()
	eng := engine.New(engine.Options{
		Tuning:   tune,
		Actuator: streamtest.NewActuator(),
		Host:     table,
		Logger:   logger,
	})
	if cat != nil {
		ids, err := cat.Apply(eng)
		if err != nil {
			logger.Fatalf("apply entities: %v", err)
		}
		logger.Printf("registered %d entities from %s digest=%s", len(ids), filepath.Base(ep), cat.Digest[:12])
	}

	// Optional: read-model index backend (does not affect streaming).
	idx, err := openRuntimeIndex(*dataDir, *serverID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		eng.Subscribe(idx)
		eng.AddStatsSink(idx)
		if sq, ok := idx.(*indexdb.SQLiteIndex); ok {
			if err := sq.UpsertTuning(eng.Tuning()); err != nil {
				logger.Printf("index backend: upsert tuning: %v", err)
			}
		}
	}

	mirror, err := openLogMirror(*dataDir, *serverID, logger)
	if err != nil {
		logger.Fatalf("log mirror: %v", err)
	}
	// Deferred first so it drains after the loggers hand over their last segments.
	defer mirror.Close()

	if !*disableLogs {
		eventLog := persistlog.NewEventLogger(*dataDir, logger)
		statsLog := persistlog.NewStatsLogger(*dataDir, logger)
		if mirror != nil {
			eventLog.OnSegmentClosed(mirror.Enqueue)
			statsLog.OnSegmentClosed(mirror.Enqueue)
		}
		defer eventLog.Close()
		defer statsLog.Close()
		eng.Subscribe(eventLog)
		eng.AddStatsSink(statsLog)
	}

	om, err := telemetry.NewOutputManager(*telemetryDir, *telemetryWindow)
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}
	if om != nil {
		defer func() {
			if err := om.Close(); err != nil {
				logger.Printf("telemetry close: %v", err)
			}
		}()
		eng.AddStatsSink(om)
		logger.Printf("telemetry csv in %s", om.Dir())
	}

	last := &lastTick{}
	eng.AddStatsSink(last)

	obsSrv := observer.NewServer(eng, logger)
	obsSrv.AllowRemote = *allowRemoteFeed

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	if *bots > 0 {
		startBots(ctx, eng, table, *bots, *botSeed, *botRange, logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(*serverID, last, obsSrv.Hub(), idx, mirror))

	enableAdminHTTP := envBool("WS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("WS_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/viewers", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel2()
			var resp struct {
				Tick    uint64 `json:"tick"`
				Viewers []int  `json:"viewers"`
			}
			err := eng.Do(ctx2, func(e *engine.Engine) error {
				resp.Tick = e.CurrentTick()
				resp.Viewers = e.ViewerIDs()
				return nil
			})
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/feed/status", obsSrv.StatusHandler())
		mux.HandleFunc("/admin/v1/feed/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (WS_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (WS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/viewer", ws.NewServer(eng, table, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tick_rate=%d", *addr, eng.TickRateHz())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-runDone
}

// startBots adds n walking viewers and moves them once per tick interval.
func startBots(ctx context.Context, eng *engine.Engine, table *host.Table, n int, seed int64, half float64, logger *log.Logger) {
	w := host.NewWalker(table, seed, 1, n, half)
	ids := w.IDs()
	err := eng.Do(ctx, func(e *engine.Engine) error {
		for _, id := range ids {
			st, _ := table.ViewerState(id)
			e.AddViewer(id, st)
		}
		return nil
	})
	if err != nil {
		logger.Printf("bots: %v", err)
		return
	}
	logger.Printf("bots: %d viewers walking within %.0f", n, half)

	interval := time.Second / time.Duration(eng.TickRateHz())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Step(interval.Seconds())
			}
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
