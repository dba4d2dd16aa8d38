package protocol

// Viewer input messages. A viewer client sends JOIN once, then POSE whenever
// it moves.
const (
	TypeJoin   = "JOIN"
	TypeJoined = "JOINED"
	TypePose   = "POSE"
)

// JOIN (viewer -> server). ViewerID 0 asks the server to assign one.
type JoinMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ViewerID        int        `json:"viewer_id,omitempty"`
	Pos             [3]float64 `json:"pos"`
	Interior        int        `json:"interior,omitempty"`
	World           int        `json:"world,omitempty"`
}

// JOINED (server -> viewer)
type JoinedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ViewerID        int    `json:"viewer_id"`
	Tick            uint64 `json:"tick"`
}

// POSE (viewer -> server). A nil Camera follows Pos.
type PoseMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Pos             [3]float64  `json:"pos"`
	Camera          *[3]float64 `json:"camera,omitempty"`
	Velocity        [3]float64  `json:"velocity"`
	Interior        int         `json:"interior,omitempty"`
	World           int         `json:"world,omitempty"`
	Spectating      bool        `json:"spectating,omitempty"`
}
