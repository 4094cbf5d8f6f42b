package server

import "time"

const (
	defaultTickRate         = 20 // ticks per second
	heartbeatInterval       = 2 * time.Second
	disconnectAfter         = 3 * heartbeatInterval
	defaultVisibilityRadius = 300 // world units
	defaultInputWindow      = 64  // pending inputs retained per session
	defaultKeyframeInterval = 200 // ticks between journaled keyframes
	defaultJournalCapacity  = 8
	defaultJournalMaxAge    = time.Minute
)
