package catalogs

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
	"worldstream.ai/internal/sim/tuning"
)

func TestLoad_ShippedFixture(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "configs", "entities.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Digest) != 64 {
		t.Fatalf("digest=%q", c.Digest)
	}
	e := engine.New(engine.Options{Tuning: tuning.Defaults()})
	ids, err := c.Apply(e)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(ids) != len(c.Defs) {
		t.Fatalf("ids=%d defs=%d", len(ids), len(c.Defs))
	}
	total := 0
	for _, k := range entity.Kinds {
		total += e.Store().Len(k)
	}
	if total != len(c.Defs) {
		t.Fatalf("registered=%d want %d", total, len(c.Defs))
	}
}

func TestParse_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown kind":    `{"entities":[{"kind":"blimp","stream_distance":1}]}`,
		"unknown field":   `{"entities":[{"kind":"object","stream_distance":1,"colour":2}]}`,
		"short vector":    `{"entities":[{"kind":"object","pos":[1,2],"stream_distance":1}]}`,
		"negative range":  `{"entities":[{"kind":"object","stream_distance":-5}]}`,
		"missing entries": `{}`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParse_CrossChecks(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want string
	}{
		"no range":       {`{"entities":[{"kind":"object"}]}`, "stream_distance"},
		"area no shape":  {`{"entities":[{"kind":"area"}]}`, "area geometry"},
		"shape non area": {`{"entities":[{"kind":"object","static":true,"area":{"shape":"circle","r":1}}]}`, "area geometry"},
		"dup name": {`{"entities":[
			{"name":"a","kind":"area","area":{"shape":"circle","r":1}},
			{"name":"a","kind":"area","area":{"shape":"circle","r":2}}]}`, "duplicate"},
		"bad area ref": {`{"entities":[{"kind":"object","static":true,"filters":{"areas":["nowhere"]}}]}`, "nowhere"},
	}
	for name, tc := range cases {
		_, err := Parse([]byte(tc.raw))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want %q", name, err, tc.want)
		}
	}
}

func TestApply_ResolvesAreaNamesAndDistances(t *testing.T) {
	raw := `{"entities":[
		{"kind":"object","pos":[1,2,3],"stream_distance":10,"filters":{"areas":["zone"],"interiors":[2]}},
		{"name":"zone","kind":"area","area":{"shape":"rectangle","min":[-5,-5],"max":[5,5]}},
		{"kind":"pickup","static":true}
	]}`
	c, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := engine.New(engine.Options{Tuning: tuning.Defaults()})
	ids, err := c.Apply(e)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	obj := e.Store().Get(entity.KindObject, ids[0])
	if obj == nil {
		t.Fatalf("object %d not registered", ids[0])
	}
	if obj.StreamDistance != 100 {
		t.Fatalf("stream distance=%v want 100 (squared)", obj.StreamDistance)
	}
	if obj.Position != (mgl64.Vec3{1, 2, 3}) {
		t.Fatalf("pos=%v", obj.Position)
	}
	if !obj.Filters.Areas.Has(ids[1]) || !obj.Filters.Interiors.Has(2) {
		t.Fatalf("filters=%+v want area %d and interior 2", obj.Filters, ids[1])
	}

	area := e.Store().Get(entity.KindArea, ids[1])
	if area == nil || !area.Area().Contains(mgl64.Vec3{0, 0, 0}) {
		t.Fatalf("area %d missing or wrong shape", ids[1])
	}
	if p := e.Store().Get(entity.KindPickup, ids[2]); p == nil || !p.IsStatic() {
		t.Fatalf("pickup should be static")
	}
}

func TestAreaDef_DefaultHeight(t *testing.T) {
	g, err := (&AreaDef{Shape: "cylinder", Center: []float64{0, 0}, R: 2}).geometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if !g.Contains(mgl64.Vec3{0, 0, 500}) {
		t.Fatalf("cylinder without bounds should span all heights")
	}
	if _, err := (&AreaDef{Shape: "cylinder", R: 2, MinZ: 5, MaxZ: 1}).geometry(); err == nil {
		t.Fatalf("expected inverted bounds rejected")
	}
}
