package entity

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindObject Kind = iota
	KindPickup
	KindCheckpoint
	KindRaceCheckpoint
	KindMapIcon
	KindTextLabel
	KindArea
	KindActor
	KindVehicle

	kindCount

	// KindAll selects every kind in refresh requests. It is never stored on an entity.
	KindAll Kind = -1
)

// Kinds lists every concrete kind in default processing order.
var Kinds = [...]Kind{
	KindObject,
	KindPickup,
	KindCheckpoint,
	KindRaceCheckpoint,
	KindMapIcon,
	KindTextLabel,
	KindArea,
	KindActor,
	KindVehicle,
}

const Count = int(kindCount)

var kindNames = [...]string{
	KindObject:         "object",
	KindPickup:         "pickup",
	KindCheckpoint:     "checkpoint",
	KindRaceCheckpoint: "race_checkpoint",
	KindMapIcon:        "map_icon",
	KindTextLabel:      "text_label",
	KindArea:           "area",
	KindActor:          "actor",
	KindVehicle:        "vehicle",
}

func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

func (k Kind) String() string {
	if k == KindAll {
		return "all"
	}
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ViewerLess kinds have one global instance shared by all viewers.
func (k Kind) ViewerLess() bool {
	switch k {
	case KindPickup, KindActor, KindVehicle:
		return true
	}
	return false
}

// Single kinds show at most one instance per viewer.
func (k Kind) Single() bool {
	return k == KindCheckpoint || k == KindRaceCheckpoint
}

func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return KindAll, true
	}
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown kind %q", string(b))
	}
	*k = v
	return nil
}
