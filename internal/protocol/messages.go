package protocol

// SUBSCRIBE (observer -> server)
type SubscribeMsg struct {
	Type            string   `json:"type" msgpack:"type"`
	ProtocolVersion string   `json:"protocol_version" msgpack:"protocol_version"`
	Events          []string `json:"events,omitempty" msgpack:"events,omitempty"`
	Viewers         []int    `json:"viewers,omitempty" msgpack:"viewers,omitempty"`
	Encoding        string   `json:"encoding,omitempty" msgpack:"encoding,omitempty"`
	Stats           bool     `json:"stats,omitempty" msgpack:"stats,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string `json:"type" msgpack:"type"`
	ProtocolVersion string `json:"protocol_version" msgpack:"protocol_version"`
	SessionID       string `json:"session_id" msgpack:"session_id"`
	TickRateHz      int    `json:"tick_rate_hz" msgpack:"tick_rate_hz"`
	Tick            uint64 `json:"tick" msgpack:"tick"`
}

// EventMsg is one flushed callback. Args follow the fixed per-event field order.
type EventMsg struct {
	Name string `json:"name" msgpack:"name"`
	Args []int  `json:"args" msgpack:"args"`
}

// BATCH (server -> observer): every event flushed in one tick.
type BatchMsg struct {
	Type            string     `json:"type" msgpack:"type"`
	ProtocolVersion string     `json:"protocol_version" msgpack:"protocol_version"`
	BatchID         string     `json:"batch_id" msgpack:"batch_id"`
	Tick            uint64     `json:"tick" msgpack:"tick"`
	Events          []EventMsg `json:"events" msgpack:"events"`
}

type TickStats struct {
	Tick               uint64  `json:"tick" msgpack:"tick" csv:"tick"`
	DurationMicros     int64   `json:"duration_us" msgpack:"duration_us" csv:"duration_us"`
	AverageElapsedMs   float64 `json:"average_elapsed_ms" msgpack:"average_elapsed_ms" csv:"average_elapsed_ms"`
	Viewers            int     `json:"viewers" msgpack:"viewers" csv:"viewers"`
	Entities           int     `json:"entities" msgpack:"entities" csv:"entities"`
	FullScans          int     `json:"full_scans" msgpack:"full_scans" csv:"full_scans"`
	MinimalScans       int     `json:"minimal_scans" msgpack:"minimal_scans" csv:"minimal_scans"`
	ChunkSteps         int     `json:"chunk_steps" msgpack:"chunk_steps" csv:"chunk_steps"`
	Admitted           int     `json:"admitted" msgpack:"admitted" csv:"admitted"`
	Removed            int     `json:"removed" msgpack:"removed" csv:"removed"`
	Evicted            int     `json:"evicted" msgpack:"evicted" csv:"evicted"`
	ActivationFailures int     `json:"activation_failures" msgpack:"activation_failures" csv:"activation_failures"`
	Exhausted          int     `json:"exhausted" msgpack:"exhausted" csv:"exhausted"`
	StaleHosts         int     `json:"stale_hosts" msgpack:"stale_hosts" csv:"stale_hosts"`
	StaleRefs          int     `json:"stale_refs" msgpack:"stale_refs" csv:"stale_refs"`
	MovesFinished      int     `json:"moves_finished" msgpack:"moves_finished" csv:"moves_finished"`
	Events             int     `json:"events" msgpack:"events" csv:"events"`
}

// STATS (server -> observer)
type StatsMsg struct {
	Type            string    `json:"type" msgpack:"type"`
	ProtocolVersion string    `json:"protocol_version" msgpack:"protocol_version"`
	Stats           TickStats `json:"stats" msgpack:"stats"`
}

// ERROR (server -> observer)
type ErrorMsg struct {
	Type            string `json:"type" msgpack:"type"`
	ProtocolVersion string `json:"protocol_version" msgpack:"protocol_version"`
	Code            string `json:"code" msgpack:"code"`
	Message         string `json:"message" msgpack:"message"`
}
