package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"worldstream.ai/internal/protocol"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		fromTick  = flag.Uint64("from_tick", 0, "start checking from tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		viewer    = flag.Int("viewer", 0, "only check events of this viewer (optional)")
		strict    = flag.Bool("strict", false, "exit non-zero when anomalies are found")
	)
	flag.Parse()

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	c := newChecker(*fromTick, *toTick, *viewer)
	for _, path := range files {
		if err := replayFile(c, path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if c.done {
			break
		}
	}

	r := c.report()
	for _, a := range r.Anomalies {
		fmt.Println("anomaly:", a)
	}
	names := make([]string, 0, len(r.Counts))
	for n := range r.Counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %-14s %d\n", n, r.Counts[n])
	}
	fmt.Printf("replay: ticks=%d first=%d last=%d open_streams=%d open_areas=%d anomalies=%d\n",
		r.Ticks, r.FirstTick, r.LastTick, r.OpenStreams, r.OpenAreas, len(r.Anomalies))
	if *strict && len(r.Anomalies) > 0 {
		os.Exit(1)
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func replayFile(c *checker, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := c.scan(dec); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// pair keys one stream_in/stream_out (kind, id, viewer) or area_enter/leave
// (area, viewer) relation.
type pair struct {
	kind, id, viewer int
}

type report struct {
	Ticks       int
	FirstTick   uint64
	LastTick    uint64
	Counts      map[string]int
	OpenStreams int
	OpenAreas   int
	Anomalies   []string
}

// checker walks BATCH lines in file order and tracks which relations are
// open. A log that starts mid-run (or is read from a later tick) may close
// relations it never saw open, so those are only flagged when checking
// from the first tick.
type checker struct {
	from, to uint64
	viewer   int

	streams map[pair]uint64
	areas   map[pair]uint64

	r        report
	lastTick uint64
	seen     bool
	done     bool
}

func newChecker(from, to uint64, viewer int) *checker {
	return &checker{
		from:    from,
		to:      to,
		viewer:  viewer,
		streams: map[pair]uint64{},
		areas:   map[pair]uint64{},
		r:       report{Counts: map[string]int{}},
	}
}

func (c *checker) scan(rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var b protocol.BatchMsg
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if b.Type != protocol.TypeBatch {
			return fmt.Errorf("tick %d: unexpected type %q", b.Tick, b.Type)
		}
		if c.to != 0 && b.Tick > c.to {
			c.done = true
			return nil
		}
		c.batch(b)
	}
	return sc.Err()
}

func (c *checker) anomaly(format string, args ...any) {
	c.r.Anomalies = append(c.r.Anomalies, fmt.Sprintf(format, args...))
}

func (c *checker) batch(b protocol.BatchMsg) {
	if c.seen && b.Tick <= c.lastTick {
		c.anomaly("tick %d after tick %d", b.Tick, c.lastTick)
	}
	c.seen = true
	c.lastTick = b.Tick
	if b.Tick < c.from {
		return
	}
	if c.r.Ticks == 0 {
		c.r.FirstTick = b.Tick
	}
	c.r.Ticks++
	c.r.LastTick = b.Tick

	for _, ev := range b.Events {
		c.event(b.Tick, ev)
	}
}

func (c *checker) event(tick uint64, ev protocol.EventMsg) {
	want := 3
	switch ev.Name {
	case protocol.EventAreaEnter, protocol.EventAreaLeave:
		want = 2
	case protocol.EventMoveFinished:
		want = 1
	case protocol.EventStreamIn, protocol.EventStreamOut:
	default:
		c.anomaly("tick %d: unknown event %q", tick, ev.Name)
		return
	}
	if len(ev.Args) != want {
		c.anomaly("tick %d: %s has %d args want %d", tick, ev.Name, len(ev.Args), want)
		return
	}

	if c.viewer != 0 {
		v := ev.Args[len(ev.Args)-1]
		switch ev.Name {
		case protocol.EventMoveFinished:
			v = c.viewer
		case protocol.EventAreaEnter, protocol.EventAreaLeave:
			v = ev.Args[0]
		}
		if v != c.viewer {
			return
		}
	}
	c.r.Counts[ev.Name]++

	partial := c.from > 0
	switch ev.Name {
	case protocol.EventStreamIn:
		k := pair{ev.Args[0], ev.Args[1], ev.Args[2]}
		if at, ok := c.streams[k]; ok {
			c.anomaly("tick %d: stream_in %v already streamed since tick %d", tick, k, at)
		}
		c.streams[k] = tick
	case protocol.EventStreamOut:
		k := pair{ev.Args[0], ev.Args[1], ev.Args[2]}
		if _, ok := c.streams[k]; !ok && !partial {
			c.anomaly("tick %d: stream_out %v without stream_in", tick, k)
		}
		delete(c.streams, k)
	case protocol.EventAreaEnter:
		k := pair{id: ev.Args[1], viewer: ev.Args[0]}
		if at, ok := c.areas[k]; ok {
			c.anomaly("tick %d: area_enter %v already inside since tick %d", tick, k, at)
		}
		c.areas[k] = tick
	case protocol.EventAreaLeave:
		k := pair{id: ev.Args[1], viewer: ev.Args[0]}
		if _, ok := c.areas[k]; !ok && !partial {
			c.anomaly("tick %d: area_leave %v without area_enter", tick, k)
		}
		delete(c.areas, k)
	}
}

func (c *checker) report() report {
	r := c.r
	r.OpenStreams = len(c.streams)
	r.OpenAreas = len(c.areas)
	return r
}
