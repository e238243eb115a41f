package protocol

// SUBSCRIBE (client -> server). First message on the stream; may be re-sent
// to change filters.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Quiet also delivers ticks that spawned nothing and changed no event.
	Quiet bool `json:"quiet,omitempty"`
	// Sources restricts spawn entries to these sources (timeline, weighted).
	Sources []string `json:"sources,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Digest          string `json:"digest"`
	Tick            uint64 `json:"tick"`
}

type SpawnEntry struct {
	Source    string `json:"source"`
	EventID   string `json:"event_id,omitempty"`
	Archetype string `json:"archetype"`
	Mode      string `json:"mode,omitempty"`
	Pattern   string `json:"pattern"`
	Count     int    `json:"count"`
}

// TICK (server -> client)
type TickMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	RunMs           int64        `json:"run_ms"`
	TDesign         float64      `json:"t_design"`
	PaceScale       float64      `json:"pace_scale"`
	Started         string       `json:"started,omitempty"`
	Ended           string       `json:"ended,omitempty"`
	Active          string       `json:"active,omitempty"`
	Suspended       bool         `json:"suspended,omitempty"`
	Spawns          []SpawnEntry `json:"spawns,omitempty"`
	Failures        int          `json:"failures,omitempty"`
	Faults          int          `json:"faults,omitempty"`
}

// CONTROL (server -> client): a timeline event's opaque payload.
type ControlMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	EventID         string         `json:"event_id"`
	Payload         map[string]any `json:"payload"`
}

// ERROR (server -> client), also the body of admin API failures.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}
