// Package lockstep layers client-side prediction on top of the world
// replication protocol. The client mirrors the server tick-for-tick in its
// real world, simulates ahead of it with unacknowledged inputs, and
// produces the interpolated world the renderer actually draws.
package lockstep

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gridlock/server/internal/world"
)

// Config tunes the prediction and timing loops. Zero values take the
// defaults below.
type Config struct {
	// TickRate is the simulation rate in ticks per second.
	TickRate float64
	// QueueCapacity bounds unacknowledged inputs; it is the prediction
	// horizon, one speculative tick per pending input.
	QueueCapacity int
	// MaxCatchUp caps predicted ticks per frame so a stalled frame loop
	// (a backgrounded tab) cannot trigger runaway catch-up.
	MaxCatchUp int
	// TargetOccupancy is the queue usage the rate controller steers
	// toward.
	TargetOccupancy float64
	// RateGain scales how hard occupancy error pushes the tick rate.
	RateGain float64
	// MaxRateAdjust bounds the tick-rate scale to 1 +/- this value.
	MaxRateAdjust float64
	// Smoothing, when nonzero, blends a fresh prediction this fraction
	// of the way back toward the previous one to soften correction pops.
	Smoothing float64
	// Now supplies wall-clock time, replaceable in tests.
	Now func() time.Time
	// Logf, when set, receives warnings such as queue evictions.
	Logf func(format string, args ...any)
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = 20
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 32
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 5
	}
	if c.TargetOccupancy <= 0 {
		c.TargetOccupancy = 0.25
	}
	if c.RateGain <= 0 {
		c.RateGain = 4
	}
	if c.MaxRateAdjust <= 0 {
		c.MaxRateAdjust = 0.25
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// ServerUpdate is one server-to-client message: an optional initialization
// keyframe, the tick's incremental update, acknowledgement watermarks, and
// the server's view of this client's input buffer occupancy.
//
// Relayed carries the inputs other clients fed into this tick; the
// recipient's own inputs arrive through the acknowledgement replay instead.
// Each client's inputs target only actors no other client steers, so the
// relayed batch commutes with the local replay.
type ServerUpdate struct {
	Init         *world.Keyframe `json:"init,omitempty"`
	Update       *world.Update   `json:"update,omitempty"`
	Relayed      []world.Input   `json:"relayed,omitempty"`
	LastApplied  uint32          `json:"applied"`
	LastReceived uint32          `json:"received"`
	Occupancy    float64         `json:"occupancy"`
}

// Request is the client-to-server input message: the full window of
// unacknowledged inputs, retransmitted every send so lost packets are
// covered by redundancy. Sequence numbers are contiguous from First.
type Request struct {
	First  uint32        `json:"first"`
	Inputs []world.Input `json:"inputs"`
}

// Timing carries the latency samples derived from one acknowledgement.
type Timing struct {
	// Ping measures send-to-receipt of the newest input the server has
	// seen.
	Ping   time.Duration
	PingOK bool
	// Total measures send-to-application of the newest input the server
	// has folded into the simulation.
	Total   time.Duration
	TotalOK bool
}

// Client drives the four client-side worlds. It is invoked synchronously
// from exactly two call sites, Receive per inbound message and Update per
// render frame; there is no internal locking.
type Client struct {
	cfg   Config
	local world.Ref

	real          *world.World
	predicted     *world.World
	predictedNext *world.World
	interpolated  *world.World

	queue *queue
	// evicted holds inputs dropped from the retransmission window that
	// the server may nevertheless have applied; they stay replayable
	// for the real world until acknowledged past.
	evicted []entry
	acc     world.Accumulator

	ackedApplied  uint32
	ackedReceived uint32

	serverOcc      float64
	heardSinceFull bool
	tickAccum      float64
	sinceReal      float64

	pending []world.Observation
}

// NewClient wraps an empty client world whose populations are registered
// identically to the server's. local names the actor this client's inputs
// target.
func NewClient(cfg Config, local world.Ref, w *world.World) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:           cfg,
		local:         local,
		real:          w,
		predicted:     w.Clone(),
		predictedNext: w.Clone(),
		interpolated:  w.Clone(),
		queue:         newQueue(cfg.QueueCapacity),
		acc:           world.NewAccumulator(),
	}
}

// Real returns the last acknowledged authoritative mirror.
func (c *Client) Real() *world.World { return c.real }

// Predicted returns the speculative world including unacknowledged inputs.
func (c *Client) Predicted() *world.World { return c.predicted }

// Interpolated returns the world the renderer should draw.
func (c *Client) Interpolated() *world.World { return c.interpolated }

// Pending reports the number of unacknowledged inputs.
func (c *Client) Pending() int { return c.queue.len() }

// Receive folds one server message into the client worlds and returns the
// latency samples it yields. Checksum divergence surfaces as ErrDesync and
// acknowledgement range violations as ErrProtocol; both are unrecoverable
// here, recovery is a resync at the session layer.
func (c *Client) Receive(msg *ServerUpdate) (Timing, error) {
	var timing Timing
	if msg == nil {
		return timing, fmt.Errorf("%w: nil server update", world.ErrProtocol)
	}
	now := c.cfg.Now()

	if msg.Init != nil {
		if err := c.real.Restore(msg.Init); err != nil {
			return timing, err
		}
		c.queue.reset()
		c.evicted = nil
		c.ackedApplied = c.queue.lastSeq()
		c.ackedReceived = c.ackedApplied
		c.predicted = c.real.Clone()
		c.predictedNext = c.real.Clone()
		c.interpolated = c.real.Clone()
		c.tickAccum = 0
		c.sinceReal = 0
	}

	c.serverOcc = clamp01(msg.Occupancy)
	c.heardSinceFull = true
	if msg.Update == nil {
		return timing, nil
	}

	last := c.queue.lastSeq()
	if msg.LastApplied < c.ackedApplied || msg.LastApplied > last ||
		msg.LastReceived < msg.LastApplied || msg.LastReceived > last {
		return timing, fmt.Errorf("%w: acknowledgement out of range: applied %d received %d, sent through %d",
			world.ErrProtocol, msg.LastApplied, msg.LastReceived, last)
	}

	if at, ok := c.sentTime(msg.LastReceived); ok {
		timing.Ping = now.Sub(at)
		timing.PingOK = true
	}
	if at, ok := c.sentTime(msg.LastApplied); ok {
		timing.Total = now.Sub(at)
		timing.TotalOK = true
	}

	inputs := c.takeApplied(msg.LastApplied)
	inputs = append(inputs, msg.Relayed...)
	c.ackedApplied = msg.LastApplied
	c.ackedReceived = msg.LastReceived

	ctx := &world.Context{
		Disposition: world.Authoritative,
		Observe:     c.observeAuthoritative,
	}
	if err := c.real.ApplyOwned(msg.Update, ctx, inputs, c.acc); err != nil {
		return timing, err
	}
	c.sinceReal = clampSigned(c.sinceReal - 1)

	if err := c.reconcile(); err != nil {
		return timing, err
	}
	return timing, nil
}

// takeApplied pops every input with sequence number at or below seq, from
// the eviction overflow first, and returns them in send order for the
// authoritative replay.
func (c *Client) takeApplied(seq uint32) []world.Input {
	var inputs []world.Input
	kept := c.evicted[:0]
	for _, e := range c.evicted {
		if e.seq <= seq {
			inputs = append(inputs, e.input)
		} else {
			kept = append(kept, e)
		}
	}
	c.evicted = kept
	for _, e := range c.queue.ackThrough(seq) {
		inputs = append(inputs, e.input)
	}
	return inputs
}

func (c *Client) sentTime(seq uint32) (time.Time, bool) {
	for _, e := range c.evicted {
		if e.seq == seq {
			return e.sentAt, true
		}
	}
	return c.queue.sentTime(seq)
}

// reconcile rebuilds predicted from scratch: clone of real plus every
// still pending input replayed in order. Recomputing instead of patching
// makes the result independent of receive/update call ordering. Replays
// carry no observer, their effects were already reported the first time
// through.
func (c *Client) reconcile() error {
	prev := c.predicted
	next := c.real.Clone()
	ctx := &world.Context{Disposition: world.Replayed}
	for _, e := range c.queue.unacked() {
		if err := next.Advance(ctx, []world.Input{e.input}); err != nil {
			return err
		}
	}
	if c.cfg.Smoothing > 0 {
		next = next.Blend(prev, c.cfg.Smoothing)
	}
	c.predicted = next
	if err := c.speculate(nil); err != nil {
		return err
	}
	c.interpolate()
	return nil
}

// speculate rebuilds predictedNext: one tick past predicted with an
// optional render-only input sample that is never enqueued.
func (c *Client) speculate(payload json.RawMessage) error {
	c.predictedNext = c.predicted.Clone()
	ctx := &world.Context{Disposition: world.Predicted}
	var inputs []world.Input
	if payload != nil {
		inputs = []world.Input{{Target: c.local, Payload: payload}}
	}
	return c.predictedNext.Advance(ctx, inputs)
}

func (c *Client) interpolate() {
	alpha := (c.sinceReal + 1) / 2
	c.interpolated = c.predicted.Blend(c.predictedNext, clamp01(alpha))
}

// Update advances prediction for one render frame. elapsed is the frame
// time in seconds; inputFn samples the current local input; sendFn
// transmits a request, reliably when the transport lacks an unreliable
// channel. It returns the frame's observable events for sound/UI hooks.
func (c *Client) Update(elapsed float64, supportsUnreliable bool, inputFn func() json.RawMessage, sendFn func(req *Request, reliable bool)) ([]world.Observation, error) {
	// Local and server-reported occupancy blend 50/50 into one usage
	// estimate; the bounded tangent maps its error to a gentle rate
	// scale that saturates instead of oscillating.
	usage := (c.localOccupancy() + c.serverOcc) / 2
	scale := 1 - c.cfg.MaxRateAdjust*math.Tanh((usage-c.cfg.TargetOccupancy)*c.cfg.RateGain)

	c.tickAccum += elapsed * c.cfg.TickRate * scale
	steps := int(c.tickAccum)
	if steps > c.cfg.MaxCatchUp {
		steps = c.cfg.MaxCatchUp
		c.tickAccum = 0
	} else {
		c.tickAccum -= float64(steps)
	}

	var payload json.RawMessage
	for i := 0; i < steps; i++ {
		payload = inputFn()
		ok, err := c.tickPredicted(payload, supportsUnreliable, sendFn)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	if err := c.speculate(payload); err != nil {
		return nil, err
	}
	c.interpolate()
	return c.drain(), nil
}

// tickPredicted appends one input to the outbound queue and advances
// predicted by one speculative tick. When the queue is full it evicts the
// oldest input only if the server has been heard from since the last
// eviction; otherwise it reports false and the caller stops predicting
// this frame rather than diverge further.
func (c *Client) tickPredicted(payload json.RawMessage, supportsUnreliable bool, sendFn func(*Request, bool)) (bool, error) {
	now := c.cfg.Now()
	if c.queue.full() {
		if !c.heardSinceFull {
			return false, nil
		}
		old, _ := c.queue.evictOldest()
		c.evicted = append(c.evicted, old)
		c.heardSinceFull = false
		c.logf("input queue full, evicted input %d", old.seq)
	}

	input := world.Input{Target: c.local, Payload: payload}
	if _, ok := c.queue.push(input, now); !ok {
		return false, nil
	}

	ctx := &world.Context{
		Disposition: world.Predicted,
		Observe:     c.observePredicted,
	}
	if err := c.predicted.Advance(ctx, []world.Input{input}); err != nil {
		return false, err
	}
	c.sinceReal = clampSigned(c.sinceReal + 1)

	if sendFn != nil {
		sendFn(c.buildRequest(), !supportsUnreliable)
	}
	return true, nil
}

// buildRequest returns the current retransmission window.
func (c *Client) buildRequest() *Request {
	pending := c.queue.unacked()
	req := &Request{Inputs: make([]world.Input, len(pending))}
	if len(pending) > 0 {
		req.First = pending[0].seq
	}
	for i, e := range pending {
		req.Inputs[i] = e.input
	}
	return req
}

func (c *Client) localOccupancy() float64 {
	return float64(c.queue.len()) / float64(c.queue.cap())
}

// observeAuthoritative buffers confirmed effects, except those about the
// local actor, which were already reported speculatively; reporting both
// would fire the same sound twice.
func (c *Client) observeAuthoritative(o world.Observation) {
	if o.Actor.Equal(c.local) {
		return
	}
	c.pending = append(c.pending, o)
}

// observePredicted buffers speculative effects only when they concern the
// local actor; everyone else's effects wait for confirmation.
func (c *Client) observePredicted(o world.Observation) {
	if !o.Actor.Equal(c.local) {
		return
	}
	c.pending = append(c.pending, o)
}

func (c *Client) drain() []world.Observation {
	out := c.pending
	c.pending = nil
	return out
}

func (c *Client) logf(format string, args ...any) {
	if c.cfg.Logf != nil {
		c.cfg.Logf(format, args...)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampSigned keeps the smoothed ticks-since-real counter in [-1, 1].
func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
