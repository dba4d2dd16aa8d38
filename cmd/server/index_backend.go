package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"worldstream.ai/internal/persistence/indexdb"
	"worldstream.ai/internal/sim/callbacks"
	"worldstream.ai/internal/sim/engine"
)

type runtimeIndex interface {
	engine.StatsSink
	callbacks.BatchSink
	Close() error
}

func openRuntimeIndex(dataDir, serverID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("WS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "stream.sqlite")
		return indexdb.OpenSQLite(dbPath)
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("WS_INDEX_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("WS_INDEX_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("WS_INDEX_BACKEND=remote but WS_INDEX_INGEST_URL is empty")
		}
		flushMS := envInt("WS_INDEX_FLUSH_MS", 500)
		batchSize := envInt("WS_INDEX_BATCH_SIZE", 128)
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         token,
			ServerID:      serverID,
			BatchSize:     batchSize,
			FlushInterval: time.Duration(flushMS) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported WS_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
