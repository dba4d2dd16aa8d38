package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"worldstream.ai/internal/sim/engine"
	"worldstream.ai/internal/sim/entity"
)

//go:embed entities.schema.json
var entitiesSchema string

var schema = jsonschema.MustCompileString("entities.schema.json", entitiesSchema)

// Catalog is an entity fixture: the world a server starts with.
type Catalog struct {
	Defs   []EntityDef
	Digest string
}

type EntityDef struct {
	Name           string     `json:"name,omitempty"`
	Kind           string     `json:"kind"`
	Pos            [3]float64 `json:"pos"`
	Rot            [3]float64 `json:"rot"`
	StreamDistance float64    `json:"stream_distance,omitempty"`
	Static         bool       `json:"static,omitempty"`
	Priority       int        `json:"priority,omitempty"`
	QuietStream    bool       `json:"quiet_stream,omitempty"`

	Model  int        `json:"model,omitempty"`
	Type   int        `json:"type,omitempty"`
	Color  int        `json:"color,omitempty"`
	Color2 int        `json:"color2,omitempty"`
	Size   float64    `json:"size,omitempty"`
	Text   string     `json:"text,omitempty"`
	Next   [3]float64 `json:"next"`

	IgnoreSpectators bool       `json:"ignore_spectators,omitempty"`
	Filters          *FilterDef `json:"filters,omitempty"`
	Area             *AreaDef   `json:"area,omitempty"`
}

type FilterDef struct {
	Viewers   []int `json:"viewers,omitempty"`
	Interiors []int `json:"interiors,omitempty"`
	Worlds    []int `json:"worlds,omitempty"`
	// Areas names area entries of the same fixture.
	Areas        []string `json:"areas,omitempty"`
	InverseAreas bool     `json:"inverse_areas,omitempty"`
}

type AreaDef struct {
	Shape  string       `json:"shape"`
	Center []float64    `json:"center,omitempty"`
	R      float64      `json:"r,omitempty"`
	Min    []float64    `json:"min,omitempty"`
	Max    []float64    `json:"max,omitempty"`
	MinZ   float64      `json:"min_z,omitempty"`
	MaxZ   float64      `json:"max_z,omitempty"`
	Points [][2]float64 `json:"points,omitempty"`
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates raw against the fixture schema before decoding it.
func Parse(raw []byte) (*Catalog, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("entities.json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("entities.json: %w", err)
	}

	var file struct {
		Entities []EntityDef `json:"entities"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("entities.json: %w", err)
	}

	names := map[string]string{}
	for i, d := range file.Entities {
		if d.Name != "" {
			if _, dup := names[d.Name]; dup {
				return nil, fmt.Errorf("entities.json: entities[%d]: duplicate name %q", i, d.Name)
			}
			names[d.Name] = d.Kind
		}
		if (d.Kind == "area") != (d.Area != nil) {
			return nil, fmt.Errorf("entities.json: entities[%d]: area geometry goes with kind area only", i)
		}
		if d.Kind != "area" && !d.Static && d.StreamDistance == 0 {
			return nil, fmt.Errorf("entities.json: entities[%d]: need stream_distance or static", i)
		}
	}
	for i, d := range file.Entities {
		if d.Filters == nil {
			continue
		}
		for _, a := range d.Filters.Areas {
			if names[a] != "area" {
				return nil, fmt.Errorf("entities.json: entities[%d]: filter area %q is not a named area", i, a)
			}
		}
	}
	return &Catalog{Defs: file.Entities, Digest: sha256Hex(raw)}, nil
}

// Apply registers the fixture. Areas go first so filters can name them; the
// returned ids follow fixture order.
func (c *Catalog) Apply(e *engine.Engine) ([]int, error) {
	ids := make([]int, len(c.Defs))
	byName := map[string]int{}
	for pass := 0; pass < 2; pass++ {
		for i, d := range c.Defs {
			if (d.Kind == "area") != (pass == 0) {
				continue
			}
			ent, err := d.build(byName)
			if err != nil {
				return nil, fmt.Errorf("entities[%d]: %w", i, err)
			}
			id, err := e.Register(ent)
			if err != nil {
				return nil, fmt.Errorf("entities[%d] %s: %w", i, d.Kind, err)
			}
			ids[i] = id
			if d.Name != "" {
				byName[d.Name] = id
			}
		}
	}
	return ids, nil
}

func (d EntityDef) build(areas map[string]int) (*entity.Entity, error) {
	k, ok := entity.ParseKind(d.Kind)
	if !ok || k == entity.KindAll {
		return nil, fmt.Errorf("unknown kind %q", d.Kind)
	}
	ent := &entity.Entity{
		Kind:             k,
		Position:         mgl64.Vec3(d.Pos),
		Rotation:         mgl64.Vec3(d.Rot),
		Priority:         d.Priority,
		StreamDistance:   d.StreamDistance * d.StreamDistance,
		QuietStream:      d.QuietStream,
		Model:            d.Model,
		Type:             d.Type,
		Color:            d.Color,
		Color2:           d.Color2,
		Size:             d.Size,
		Text:             d.Text,
		Next:             mgl64.Vec3(d.Next),
		IgnoreSpectators: d.IgnoreSpectators,
	}
	if d.Static {
		ent.StreamDistance = entity.StaticDistance
	}
	if f := d.Filters; f != nil {
		ent.Filters = entity.Filters{
			Viewers:      entity.NewSet(f.Viewers...),
			Interiors:    entity.NewSet(f.Interiors...),
			Worlds:       entity.NewSet(f.Worlds...),
			InverseAreas: f.InverseAreas,
		}
		var ids []int
		for _, name := range f.Areas {
			ids = append(ids, areas[name])
		}
		ent.Filters.Areas = entity.NewSet(ids...)
	}
	if d.Area != nil {
		g, err := d.Area.geometry()
		if err != nil {
			return nil, err
		}
		ent.Shape = g
	}
	return ent, nil
}

func vec2(v []float64) mgl64.Vec2 {
	var out mgl64.Vec2
	copy(out[:], v)
	return out
}

func vec3(v []float64) mgl64.Vec3 {
	var out mgl64.Vec3
	copy(out[:], v)
	return out
}

// unboundedZ is the height range used when a fixture gives none.
const unboundedZ = 10000.0

func (a *AreaDef) geometry() (entity.Geometry, error) {
	minZ, maxZ := a.MinZ, a.MaxZ
	if minZ == 0 && maxZ == 0 {
		minZ, maxZ = -unboundedZ, unboundedZ
	}
	switch a.Shape {
	case "circle":
		return entity.Circle{Center2: vec2(a.Center), R: a.R}, nil
	case "cylinder":
		if maxZ < minZ {
			return nil, fmt.Errorf("cylinder: max_z below min_z")
		}
		return entity.Cylinder{Center2: vec2(a.Center), R: a.R, MinZ: minZ, MaxZ: maxZ}, nil
	case "sphere":
		return entity.Sphere{Origin: vec3(a.Center), R: a.R}, nil
	case "rectangle":
		return entity.Rectangle{Min: vec2(a.Min), Max: vec2(a.Max)}, nil
	case "cuboid":
		return entity.Cuboid{Min: vec3(a.Min), Max: vec3(a.Max)}, nil
	case "polygon":
		pts := make([]mgl64.Vec2, len(a.Points))
		for i, p := range a.Points {
			pts[i] = mgl64.Vec2(p)
		}
		if maxZ < minZ {
			return nil, fmt.Errorf("polygon: max_z below min_z")
		}
		return entity.Polygon{Points: pts, MinZ: minZ, MaxZ: maxZ}, nil
	}
	return nil, fmt.Errorf("unknown shape %q", a.Shape)
}
