package protocol

import "errors"

const (
	// Feed/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Engine operations.
	ErrInvalidID         = "E_INVALID_ID"
	ErrUnsupportedKind   = "E_UNSUPPORTED_KIND"
	ErrResourceExhausted = "E_RESOURCE_EXHAUSTED"
	ErrStaleHost         = "E_STALE_HOST"
	ErrStaleReference    = "E_STALE_REFERENCE"
	ErrBusy              = "E_BUSY"
	ErrInternal          = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrInvalidID:         {},
	ErrUnsupportedKind:   {},
	ErrResourceExhausted: {},
	ErrStaleHost:         {},
	ErrStaleReference:    {},
	ErrBusy:              {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var (
	InvalidID         = errors.New("invalid id")
	UnsupportedKind   = errors.New("unsupported kind")
	ResourceExhausted = errors.New("resource exhausted")
	StaleHost         = errors.New("stale attachment host")
	StaleReference    = errors.New("stale reference")
)

// Code maps an error chain to its stable wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, InvalidID):
		return ErrInvalidID
	case errors.Is(err, UnsupportedKind):
		return ErrUnsupportedKind
	case errors.Is(err, ResourceExhausted):
		return ErrResourceExhausted
	case errors.Is(err, StaleHost):
		return ErrStaleHost
	case errors.Is(err, StaleReference):
		return ErrStaleReference
	}
	return ErrInternal
}
