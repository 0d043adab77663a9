package server

// JoinResponse is returned by the /join endpoint.
type JoinResponse struct {
	Ver      int    `json:"ver"`
	ID       string `json:"id"`
	EntityID int32  `json:"entityId"`
	UUID     string `json:"uuid"`
	Profile  string `json:"profile"`
}

// DiagnosticsPlayer summarizes one player for the diagnostics endpoint.
type DiagnosticsPlayer struct {
	Ver           int         `json:"ver"`
	ID            string      `json:"id"`
	EntityID      int32       `json:"entityId"`
	Profile       string      `json:"profile"`
	Subscribed    bool        `json:"subscribed"`
	LastHeartbeat int64       `json:"lastHeartbeat"`
	RTTMillis     int64       `json:"rttMillis"`
	Echo          EchoSummary `json:"echo"`
}

// EchoSummary counts what the self path of one player skipped.
type EchoSummary struct {
	Redacted             uint64 `json:"redacted"`
	Suppressed           uint64 `json:"suppressed"`
	AttributesSuppressed uint64 `json:"attributesSuppressed"`
	BytesSaved           uint64 `json:"bytesSaved"`
}

// Diagnostics is the payload of the diagnostics endpoint.
type Diagnostics struct {
	Ver       int                 `json:"ver"`
	Tick      uint64              `json:"tick"`
	Installed bool                `json:"echoInstalled"`
	Profiles  []string            `json:"profiles"`
	Players   []DiagnosticsPlayer `json:"players"`
	Telemetry TelemetrySnapshot   `json:"telemetry"`
	Metrics   map[string]uint64   `json:"metrics,omitempty"`
}
