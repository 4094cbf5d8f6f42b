// Package observability holds the opt-in diagnostics toggles that wire
// into the HTTP surface.
package observability

// Config captures opt-in observability toggles. Everything here defaults
// to off; production shards enable what they need.
type Config struct {
	// EnablePprof mounts the runtime profiling endpoints under
	// /debug/pprof.
	EnablePprof bool
}
