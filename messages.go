package server

// SessionDiagnostics is one session's liveness row on the diagnostics
// endpoint.
type SessionDiagnostics struct {
	ID            string `json:"id"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
	RTTMillis     int64  `json:"rttMillis"`
	LastApplied   uint32 `json:"lastApplied"`
	LastReceived  uint32 `json:"lastReceived"`
	Pending       int    `json:"pending"`
	Dropped       uint64 `json:"dropped"`
}
