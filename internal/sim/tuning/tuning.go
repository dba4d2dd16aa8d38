package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"worldstream.ai/internal/sim/entity"
)

type Tuning struct {
	TickRateHz     int     `yaml:"tick_rate_hz"`
	CellSize       float64 `yaml:"cell_size"`
	ViewerTickRate int     `yaml:"viewer_tick_rate"`
	GlobalTickRate int     `yaml:"global_tick_rate"`
	UpdateWhenIdle bool    `yaml:"update_when_idle"`

	// Order is the kind processing order within one viewer update.
	Order []entity.Kind `yaml:"order"`

	Kinds      [entity.Count]KindTuning `yaml:"-"`
	Prediction Prediction               `yaml:"prediction"`
}

type KindTuning struct {
	Enabled bool `yaml:"enabled"`
	// MaxItems bounds how many entities of the kind may be registered; 0 is unlimited.
	MaxItems         int     `yaml:"max_items"`
	GlobalCap        int     `yaml:"global_cap"`
	ViewerCap        int     `yaml:"viewer_cap"`
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkTickRate    int     `yaml:"chunk_tick_rate"`
	RadiusMultiplier float64 `yaml:"radius_multiplier"`
}

// Prediction advances viewers along their velocity before measuring distance.
type Prediction struct {
	Enabled    bool    `yaml:"enabled"`
	MinSpeedSq float64 `yaml:"min_speed_sq"`
	MaxSpeedSq float64 `yaml:"max_speed_sq"`
	Scale      float64 `yaml:"scale"`
	Samples    int     `yaml:"samples"`
}

// kindOverride is the on-disk shape of one kinds: entry; nil fields keep defaults.
type kindOverride struct {
	Enabled          *bool    `yaml:"enabled"`
	MaxItems         *int     `yaml:"max_items"`
	GlobalCap        *int     `yaml:"global_cap"`
	ViewerCap        *int     `yaml:"viewer_cap"`
	ChunkSize        *int     `yaml:"chunk_size"`
	ChunkTickRate    *int     `yaml:"chunk_tick_rate"`
	RadiusMultiplier *float64 `yaml:"radius_multiplier"`
}

type file struct {
	Tuning `yaml:",inline"`
	Kinds  map[string]kindOverride `yaml:"kinds"`
}

func Defaults() Tuning {
	t := Tuning{
		TickRateHz:     20,
		CellSize:       300,
		ViewerTickRate: 1,
		GlobalTickRate: 50,
		Order:          append([]entity.Kind(nil), entity.Kinds[:]...),
		Prediction: Prediction{
			Enabled:    true,
			MinSpeedSq: 0.25,
			MaxSpeedSq: 7.5,
			Scale:      50,
			Samples:    5,
		},
	}
	caps := [entity.Count]int{
		entity.KindObject:         500,
		entity.KindPickup:         4096,
		entity.KindCheckpoint:     1,
		entity.KindRaceCheckpoint: 1,
		entity.KindMapIcon:        100,
		entity.KindTextLabel:      1024,
		entity.KindArea:           1 << 20,
		entity.KindActor:          1000,
		entity.KindVehicle:        2000,
	}
	for _, k := range entity.Kinds {
		kt := KindTuning{
			Enabled:          true,
			GlobalCap:        caps[k],
			ViewerCap:        caps[k],
			ChunkTickRate:    1,
			RadiusMultiplier: 1,
		}
		switch k {
		case entity.KindObject, entity.KindMapIcon, entity.KindTextLabel:
			kt.ChunkSize = 100
		}
		t.Kinds[k] = kt
	}
	return t
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	f := file{Tuning: t}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t = f.Tuning
	t.Kinds = Defaults().Kinds
	names := make([]string, 0, len(f.Kinds))
	for name := range f.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		k, ok := entity.ParseKind(name)
		if !ok || k == entity.KindAll {
			return t, fmt.Errorf("tuning.yaml: kinds: unknown kind %q", name)
		}
		f.Kinds[name].apply(&t.Kinds[k])
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (o kindOverride) apply(kt *KindTuning) {
	if o.Enabled != nil {
		kt.Enabled = *o.Enabled
	}
	if o.MaxItems != nil {
		kt.MaxItems = *o.MaxItems
	}
	if o.GlobalCap != nil {
		kt.GlobalCap = *o.GlobalCap
	}
	if o.ViewerCap != nil {
		kt.ViewerCap = *o.ViewerCap
	}
	if o.ChunkSize != nil {
		kt.ChunkSize = *o.ChunkSize
	}
	if o.ChunkTickRate != nil {
		kt.ChunkTickRate = *o.ChunkTickRate
	}
	if o.RadiusMultiplier != nil {
		kt.RadiusMultiplier = *o.RadiusMultiplier
	}
}

// Normalize fills zero values with defaults and completes the kind order.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.CellSize <= 0 {
		t.CellSize = d.CellSize
	}
	if t.ViewerTickRate <= 0 {
		t.ViewerTickRate = d.ViewerTickRate
	}
	if t.GlobalTickRate <= 0 {
		t.GlobalTickRate = d.GlobalTickRate
	}
	if t.Prediction.Samples <= 0 {
		t.Prediction.Samples = d.Prediction.Samples
	}
	for i := range t.Kinds {
		if t.Kinds[i].ChunkTickRate <= 0 {
			t.Kinds[i].ChunkTickRate = 1
		}
		if t.Kinds[i].ViewerCap > t.Kinds[i].GlobalCap {
			t.Kinds[i].ViewerCap = t.Kinds[i].GlobalCap
		}
	}
	seen := map[entity.Kind]bool{}
	order := t.Order[:0:0]
	for _, k := range t.Order {
		if k.Valid() && !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}
	for _, k := range entity.Kinds {
		if !seen[k] {
			order = append(order, k)
		}
	}
	t.Order = order
}

func (t Tuning) Validate() error {
	var errs []string
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		errs = append(errs, fmt.Sprintf("tick_rate_hz out of range: %d", t.TickRateHz))
	}
	if t.CellSize <= 0 {
		errs = append(errs, fmt.Sprintf("cell_size must be positive: %v", t.CellSize))
	}
	for _, k := range entity.Kinds {
		kt := t.Kinds[k]
		if kt.GlobalCap < 0 || kt.ViewerCap < 0 || kt.MaxItems < 0 {
			errs = append(errs, fmt.Sprintf("kinds.%s: negative cap", k))
		}
		if kt.ChunkSize < 0 {
			errs = append(errs, fmt.Sprintf("kinds.%s: negative chunk_size", k))
		}
		if kt.RadiusMultiplier <= 0 {
			errs = append(errs, fmt.Sprintf("kinds.%s: radius_multiplier must be positive", k))
		}
	}
	if t.Prediction.Enabled && t.Prediction.MaxSpeedSq < t.Prediction.MinSpeedSq {
		errs = append(errs, "prediction: max_speed_sq below min_speed_sq")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
