// Package telemetry carries the counters and small logging interfaces the
// server components share. Everything here is atomic and lock-free on the
// hot path; snapshots are for the diagnostics endpoint.
package telemetry

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Logger exposes the logging capabilities required by server components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// Metrics exposes the counter methods required by server components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// Registry is a named-counter Metrics implementation.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*atomic.Uint64)}
}

func (r *Registry) counter(key string) *atomic.Uint64 {
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[key]; ok {
		return c
	}
	c = &atomic.Uint64{}
	r.counters[key] = c
	return c
}

func (r *Registry) Add(key string, delta uint64) {
	if r == nil {
		return
	}
	r.counter(key).Add(delta)
}

func (r *Registry) Store(key string, value uint64) {
	if r == nil {
		return
	}
	r.counter(key).Store(value)
}

// Snapshot copies every counter for diagnostics.
func (r *Registry) Snapshot() map[string]uint64 {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.counters))
	for k, c := range r.counters {
		out[k] = c.Load()
	}
	return out
}

// Counters tracks the hub's replication traffic and health.
type Counters struct {
	bytesSent          atomic.Uint64
	updatesSent        atomic.Uint64
	keyframesSent      atomic.Uint64
	inputsApplied      atomic.Uint64
	inputsEvicted      atomic.Uint64
	desyncsDetected    atomic.Uint64
	resyncsScheduled   atomic.Uint64
	tickDurationMillis atomic.Int64
	journalSize        atomic.Uint64
	journalOldestTick  atomic.Uint64
	journalNewestTick  atomic.Uint64
}

// Snapshot is the JSON view served by the diagnostics endpoint.
type Snapshot struct {
	BytesSent          uint64 `json:"bytesSent"`
	UpdatesSent        uint64 `json:"updatesSent"`
	KeyframesSent      uint64 `json:"keyframesSent"`
	InputsApplied      uint64 `json:"inputsApplied"`
	InputsEvicted      uint64 `json:"inputsEvicted"`
	DesyncsDetected    uint64 `json:"desyncsDetected"`
	ResyncsScheduled   uint64 `json:"resyncsScheduled"`
	TickDurationMillis int64  `json:"tickDurationMillis"`
	JournalSize        uint64 `json:"journalSize"`
	JournalOldestTick  uint64 `json:"journalOldestTick"`
	JournalNewestTick  uint64 `json:"journalNewestTick"`
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) RecordUpdate(bytes int) {
	if c == nil {
		return
	}
	if bytes < 0 {
		bytes = 0
	}
	c.bytesSent.Add(uint64(bytes))
	c.updatesSent.Add(1)
}

func (c *Counters) RecordKeyframe(bytes int) {
	if c == nil {
		return
	}
	if bytes < 0 {
		bytes = 0
	}
	c.bytesSent.Add(uint64(bytes))
	c.keyframesSent.Add(1)
}

func (c *Counters) RecordInputs(applied int) {
	if c == nil || applied <= 0 {
		return
	}
	c.inputsApplied.Add(uint64(applied))
}

func (c *Counters) RecordEviction() {
	if c == nil {
		return
	}
	c.inputsEvicted.Add(1)
}

func (c *Counters) RecordDesync() {
	if c == nil {
		return
	}
	c.desyncsDetected.Add(1)
}

func (c *Counters) RecordResync() {
	if c == nil {
		return
	}
	c.resyncsScheduled.Add(1)
}

func (c *Counters) RecordTickDuration(d time.Duration) {
	if c == nil {
		return
	}
	millis := d.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	c.tickDurationMillis.Store(millis)
}

func (c *Counters) RecordJournal(size int, oldest, newest uint64) {
	if c == nil {
		return
	}
	if size < 0 {
		size = 0
	}
	c.journalSize.Store(uint64(size))
	c.journalOldestTick.Store(oldest)
	c.journalNewestTick.Store(newest)
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		BytesSent:          c.bytesSent.Load(),
		UpdatesSent:        c.updatesSent.Load(),
		KeyframesSent:      c.keyframesSent.Load(),
		InputsApplied:      c.inputsApplied.Load(),
		InputsEvicted:      c.inputsEvicted.Load(),
		DesyncsDetected:    c.desyncsDetected.Load(),
		ResyncsScheduled:   c.resyncsScheduled.Load(),
		TickDurationMillis: c.tickDurationMillis.Load(),
		JournalSize:        c.journalSize.Load(),
		JournalOldestTick:  c.journalOldestTick.Load(),
		JournalNewestTick:  c.journalNewestTick.Load(),
	}
}
