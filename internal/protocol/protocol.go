package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeWelcome   = "WELCOME"
	TypeBatch     = "BATCH"
	TypeStats     = "STATS"
	TypeError     = "ERROR"
)

// Event names, as seen by sinks.
const (
	EventAreaLeave    = "area_leave"
	EventAreaEnter    = "area_enter"
	EventMoveFinished = "move_finished"
	EventStreamIn     = "stream_in"
	EventStreamOut    = "stream_out"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
