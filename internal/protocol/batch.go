package protocol

import "github.com/oklog/ulid/v2"

// NewBatch stamps a flushed tick with a sortable batch id.
func NewBatch(tick uint64, evs []EventMsg) BatchMsg {
	if evs == nil {
		evs = []EventMsg{}
	}
	return BatchMsg{
		Type:            TypeBatch,
		ProtocolVersion: Version,
		BatchID:         ulid.Make().String(),
		Tick:            tick,
		Events:          evs,
	}
}
