package logging

import "time"

// Sink names the process wiring recognizes.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkMemory  = "memory"
)

// Config shapes the router: which sinks run, how much backlog the intake
// queue absorbs before dropping, and the severity floor below which events
// are discarded at the door.
type Config struct {
	// EnabledSinks names the sinks the process should construct.
	EnabledSinks []string
	// BufferSize bounds the intake queue. Publishing never blocks the
	// simulation loop; events past the bound are dropped and counted.
	BufferSize int
	// MinimumSeverity discards quieter events before they reach any sink.
	MinimumSeverity Severity
	// Fields is stamped into every event's Extra unless the event already
	// carries the key.
	Fields map[string]any

	JSON    JSONConfig
	Console ConsoleConfig

	// DropWarnInterval rate-limits the stderr complaint about drops.
	DropWarnInterval time.Duration
}

// JSONConfig tunes the NDJSON file sink.
type JSONConfig struct {
	// FilePath receives one JSON line per event; empty disables the sink.
	FilePath string
	// FlushInterval batches writes; zero flushes on every event.
	FlushInterval time.Duration
}

// ConsoleConfig tunes the human-readable sink.
type ConsoleConfig struct {
	UseColor bool
}

// DefaultConfig runs a console sink at info level.
func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       256,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

// HasSink reports whether name is among the enabled sinks.
func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

// CloneFields returns an independent copy of the ambient fields.
func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
