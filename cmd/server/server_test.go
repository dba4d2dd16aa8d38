package main

import (
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	"worldstream.ai/internal/persistence/indexdb"
	"worldstream.ai/internal/protocol"
	"worldstream.ai/internal/transport/observer"
)

func TestOpenRuntimeIndex_Backends(t *testing.T) {
	idx, err := openRuntimeIndex(t.TempDir(), "s", true, nil)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("WS_INDEX_BACKEND", "sqlite")
	idx, err = openRuntimeIndex(t.TempDir(), "s", false, nil)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := idx.(*indexdb.SQLiteIndex); !ok {
		t.Fatalf("sqlite backend type=%T", idx)
	}
	_ = idx.Close()

	t.Setenv("WS_INDEX_BACKEND", "remote")
	if _, err := openRuntimeIndex(t.TempDir(), "s", false, nil); err == nil {
		t.Fatalf("remote without url should fail")
	}

	t.Setenv("WS_INDEX_BACKEND", "carrier-pigeon")
	if _, err := openRuntimeIndex(t.TempDir(), "s", false, nil); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestMetricsHandler(t *testing.T) {
	last := &lastTick{}
	last.RecordTick(protocol.TickStats{Tick: 4, Viewers: 2, Admitted: 3})
	last.RecordTick(protocol.TickStats{Tick: 5, Viewers: 2, Admitted: 1, Evicted: 1})

	rec := httptest.NewRecorder()
	metricsHandler("s1", last, observer.NewHub(), nil, nil)(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`worldstream_tick{server="s1"} 5`,
		`worldstream_viewers{server="s1"} 2`,
		`worldstream_instances_total{server="s1",change="admitted"} 4`,
		`worldstream_instances_total{server="s1",change="evicted"} 1`,
		`worldstream_feed_sessions{server="s1"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("WS_TEST_INT", "12")
	if got := envInt("WS_TEST_INT", 3); got != 12 {
		t.Fatalf("envInt=%d want 12", got)
	}
	t.Setenv("WS_TEST_INT", "-1")
	if got := envInt("WS_TEST_INT", 3); got != 3 {
		t.Fatalf("envInt=%d want 3", got)
	}
}

func TestOpenLogMirror(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	m, err := openLogMirror(t.TempDir(), "s", logger)
	if err != nil || m != nil {
		t.Fatalf("unset: m=%v err=%v", m, err)
	}

	t.Setenv("WS_MIRROR_ENDPOINT", "http://127.0.0.1:9")
	if _, err := openLogMirror(t.TempDir(), "s", logger); err == nil {
		t.Fatalf("mirror without bucket/credentials should fail")
	}

	t.Setenv("WS_MIRROR_BUCKET", "logs")
	t.Setenv("WS_MIRROR_ACCESS_KEY_ID", "ak")
	t.Setenv("WS_MIRROR_SECRET_ACCESS_KEY", "sk")
	m, err = openLogMirror(t.TempDir(), "s", logger)
	if err != nil || m == nil {
		t.Fatalf("configured: m=%v err=%v", m, err)
	}
	m.Close()
}
