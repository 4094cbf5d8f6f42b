// Package server ties the replication core to running shards: the Hub owns
// the authoritative world, drives the fixed-rate tick loop, and fans tick
// updates out to connected sessions.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridlock/server/internal/game"
	"gridlock/server/internal/journal"
	"gridlock/server/internal/net/intake"
	"gridlock/server/internal/net/proto"
	"gridlock/server/internal/telemetry"
	"gridlock/server/internal/world"
	"gridlock/server/logging"
	"gridlock/server/logging/lifecycle"
	lognet "gridlock/server/logging/network"
	"gridlock/server/logging/replication"
)

// Hub owns one shard: the authoritative world, every connected session,
// and the keyframe journal. All world access goes through the hub mutex;
// the tick loop and the transport goroutines never touch the world
// directly.
type Hub struct {
	mu       sync.Mutex
	cfg      Config
	w        *world.World
	pops     *game.Populations
	sessions map[game.PlayerID]*Session

	journal  *journal.Journal
	resync   *journal.Policy
	counters *telemetry.Counters
	logs     logging.Publisher
	logger   telemetry.Logger
}

// NewHub constructs a hub from validated config.
func NewHub(cfg Config, logs logging.Publisher, counters *telemetry.Counters, logger telemetry.Logger) *Hub {
	if logs == nil {
		logs = logging.NopPublisher()
	}
	if counters == nil {
		counters = telemetry.NewCounters()
	}
	w, pops := game.Build(cfg.GameConfig())
	gen := game.DefaultGeneration()
	gen.Seed = cfg.Seed
	game.SeedMinerals(pops, gen)
	return &Hub{
		cfg:      cfg,
		w:        w,
		pops:     pops,
		sessions: make(map[game.PlayerID]*Session),
		journal:  journal.New(cfg.Journal.Capacity, cfg.Journal.MaxAge, counters),
		resync:   journal.NewPolicy(),
		counters: counters,
		logs:     logs,
		logger:   logger,
	}
}

// Config returns the hub's effective configuration.
func (h *Hub) Config() Config { return h.cfg }

// Counters exposes the hub's telemetry counters.
func (h *Hub) Counters() *telemetry.Counters { return h.counters }

// JournalWindow reports the keyframe retention window for diagnostics.
func (h *Hub) JournalWindow() (size int, oldest, newest uint64) {
	return h.journal.Window()
}

func (h *Hub) sessionRef(id game.PlayerID) logging.EntityRef {
	return logging.EntityRef{ID: string(id), Kind: logging.EntityKindSession}
}

// Join spawns a player, registers a session for it, and sends the
// handshake and initial keyframe over the session's writer.
func (h *Hub) Join(writer MessageWriter) (*Session, error) {
	id := game.NewPlayerID()
	now := time.Now()

	h.mu.Lock()
	h.pops.Players.Add(&game.Player{ID: id})
	sess := newSession(id, writer, h.w.NewKnowledge(), h.cfg.InputWindow, now)
	h.sessions[id] = sess
	tick := h.w.Tick()
	h.mu.Unlock()

	joined, err := proto.EncodeJoined(proto.Joined{
		ID:       string(id),
		TickRate: h.cfg.TickRate,
		Radius:   h.cfg.VisibilityRadius,
	})
	if err != nil {
		h.Disconnect(id, "encode failure")
		return nil, err
	}
	if err := writer.WriteMessage(joined, true); err != nil {
		h.Disconnect(id, "write failure")
		return nil, err
	}

	lifecycle.SessionJoined(context.Background(), h.logs, tick, h.sessionRef(id),
		lifecycle.SessionJoinedPayload{ActorID: string(id), Tick: tick}, nil)
	return sess, nil
}

// Disconnect removes a session and its player from the shard.
func (h *Hub) Disconnect(id game.PlayerID, reason string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.pops.Players.Remove(id)
	tick := h.w.Tick()
	h.mu.Unlock()

	if !ok {
		return
	}
	sess.writer.Close()
	lifecycle.SessionClosed(context.Background(), h.logs, tick, h.sessionRef(id),
		lifecycle.SessionClosedPayload{Reason: reason}, nil)
}

// HandleMessage processes one inbound frame for a session. Malformed
// frames are rejected without dropping the session; transport errors
// bubble up so the caller can disconnect.
func (h *Hub) HandleMessage(sess *Session, payload []byte) error {
	msg, err := proto.DecodeClientMessage(payload)
	if err != nil {
		data, encErr := proto.EncodeReject(proto.Reject{Reason: err.Error()})
		if encErr != nil {
			return encErr
		}
		return sess.writer.WriteMessage(data, true)
	}

	switch msg.Type {
	case proto.TypeInput:
		req, ok := proto.InputRequest(msg)
		if !ok {
			return nil
		}
		if ok, reason := intake.VetRequest(sess.id, req); !ok {
			data, encErr := proto.EncodeReject(proto.Reject{Reason: reason})
			if encErr != nil {
				return encErr
			}
			return sess.writer.WriteMessage(data, true)
		}
		_, before := sess.acks()
		accepted, dropped := sess.enqueue(req)
		_, after := sess.acks()
		if accepted > 0 {
			lognet.AckAdvanced(context.Background(), h.logs, h.tick(), h.sessionRef(sess.id),
				lognet.AckPayload{Previous: before, Ack: after}, nil)
		}
		if dropped > 0 {
			// The window start jumped past inputs this session never
			// received; they were evicted on the client and are gone.
			h.counters.RecordEviction()
			lognet.AckRegression(context.Background(), h.logs, h.tick(), h.sessionRef(sess.id),
				lognet.AckPayload{Previous: before, Ack: req.First}, nil)
			lognet.InputEvicted(context.Background(), h.logs, h.tick(), h.sessionRef(sess.id),
				lognet.InputEvictedPayload{Seq: before + 1}, nil)
		}
		return nil

	case proto.TypePing:
		sess.markHeartbeat(time.Now(), msg.ClientTime)
		data, err := proto.EncodePong(proto.Pong{
			ServerTime: time.Now().UnixMilli(),
			ClientTime: msg.ClientTime,
		})
		if err != nil {
			return err
		}
		return sess.writer.WriteMessage(data, false)

	case proto.TypeResyncReq:
		h.counters.RecordDesync()
		h.resync.NoteDesync(string(sess.id), h.tick())
		sess.scheduleKeyframe()
		replication.Desync(context.Background(), h.logs, h.tick(), h.sessionRef(sess.id),
			replication.DesyncPayload{Tick: h.tick()}, nil)
		return nil
	case proto.TypeJoin:
		// The transport layer completes the handshake before handing the
		// session over, so a late join frame is a no-op.
		return nil
	}
	return nil
}

func (h *Hub) tick() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Tick()
}

// outbound pairs a session with its encoded frame for delivery outside
// the hub lock.
type outbound struct {
	sess     *Session
	data     []byte
	reliable bool
}

// Step runs exactly one tick: applies pending inputs, advances the world,
// and builds each session's frame. Frames are written outside the lock.
func (h *Hub) Step() {
	start := time.Now()
	frames, stale := h.advance(start)

	for _, id := range stale {
		h.Disconnect(id, "heartbeat timeout")
	}
	for _, out := range frames {
		if err := out.sess.writer.WriteMessage(out.data, out.reliable); err != nil {
			h.Disconnect(out.sess.id, "write failure")
		}
	}

	elapsed := time.Since(start)
	h.counters.RecordTickDuration(elapsed)
	budget := time.Second / time.Duration(h.cfg.TickRate)
	if elapsed > budget {
		replication.TickBudgetOverrun(context.Background(), h.logs, h.tick(),
			replication.TickBudgetOverrunPayload{
				DurationMillis: elapsed.Milliseconds(),
				BudgetMillis:   budget.Milliseconds(),
				Ratio:          float64(elapsed) / float64(budget),
			}, nil)
	}
}

func (h *Hub) advance(now time.Time) ([]outbound, []game.PlayerID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stale []game.PlayerID
	var inputs []world.Input
	// spans records each session's slice of the combined input batch, so
	// every other session can be sent the complement as relayed inputs.
	spans := make(map[game.PlayerID][2]int, len(h.sessions))
	for id, sess := range h.sessions {
		if sess.heartbeatAge(now) > disconnectAfter {
			stale = append(stale, id)
			continue
		}
		batch := sess.takeInputs()
		spans[id] = [2]int{len(inputs), len(inputs) + len(batch)}
		inputs = append(inputs, batch...)
	}
	applied := len(inputs)

	if err := h.w.Advance(&world.Context{Disposition: world.Authoritative}, inputs); err != nil {
		// Advance only fails on malformed targets, which enqueue has
		// already vetted; log and keep the shard running.
		if h.logger != nil {
			h.logger.Printf("tick advance failed: %v", err)
		}
		return nil, stale
	}
	h.counters.RecordInputs(applied)
	tick := h.w.Tick()

	for _, sess := range h.sessions {
		sess.markApplied()
	}

	if tick%uint64(h.cfg.KeyframeInterval) == 0 {
		if frame, err := h.w.Snapshot(); err == nil {
			h.journal.Record(tick, frame)
		} else if h.logger != nil {
			h.logger.Printf("keyframe snapshot failed: %v", err)
		}
	}

	if signal, ok := h.resync.Consume(); ok {
		h.counters.RecordResync()
		for _, sess := range h.sessions {
			sess.scheduleKeyframe()
		}
		replication.ResyncScheduled(context.Background(), h.logs, tick, logging.EntityRef{Kind: logging.EntityKindShard},
			replication.ResyncPayload{Reason: signal.Summary(), Attempts: int(signal.Desyncs)}, nil)
		if h.logger != nil {
			h.logger.Printf("resync scheduled: %s", signal.Summary())
		}
	}

	frames := make([]outbound, 0, len(h.sessions))
	var keyframe *world.Keyframe
	for id, sess := range h.sessions {
		out, err := h.buildFrameLocked(sess, foreignInputs(inputs, spans[id]), &keyframe)
		if err != nil {
			if h.logger != nil {
				h.logger.Printf("frame build failed for %s: %v", sess.id, err)
			}
			continue
		}
		frames = append(frames, out)
	}
	return frames, stale
}

// foreignInputs returns the tick's combined input batch minus the span one
// session contributed. Other clients cannot regenerate these locally, so
// they ride the update alongside the tick.
func foreignInputs(inputs []world.Input, span [2]int) []world.Input {
	if len(inputs) == span[1]-span[0] {
		return nil
	}
	out := make([]world.Input, 0, len(inputs)-(span[1]-span[0]))
	out = append(out, inputs[:span[0]]...)
	return append(out, inputs[span[1]:]...)
}

// buildFrameLocked encodes one session's tick frame: a keyframe when the
// session needs resynchronization, an incremental update otherwise. The
// shared keyframe snapshot is taken at most once per tick.
func (h *Hub) buildFrameLocked(sess *Session, relayed []world.Input, keyframe **world.Keyframe) (outbound, error) {
	lastApplied, lastReceived := sess.acks()

	sess.mu.Lock()
	need := sess.needKeyframe
	sess.mu.Unlock()

	if need {
		if *keyframe == nil {
			frame, err := h.w.Snapshot()
			if err != nil {
				return outbound{}, err
			}
			*keyframe = frame
		}
		data, err := proto.EncodeKeyframe(proto.KeyframeV1{
			Keyframe:     *keyframe,
			LastApplied:  lastApplied,
			LastReceived: lastReceived,
			Occupancy:    sess.occupancy(),
		})
		if err != nil {
			return outbound{}, err
		}
		know, err := h.w.PrimedKnowledge()
		if err != nil {
			return outbound{}, err
		}
		sess.mu.Lock()
		sess.know = know
		sess.needKeyframe = false
		sess.mu.Unlock()
		h.counters.RecordKeyframe(len(data))
		return outbound{sess: sess, data: data, reliable: true}, nil
	}

	upd, err := h.w.BuildUpdate(sess.know, h.pops.VisibleTo(sess.id, h.cfg.VisibilityRadius), sess.acc)
	if err != nil {
		return outbound{}, fmt.Errorf("build update: %w", err)
	}
	data, err := proto.EncodeUpdate(proto.UpdateV1{
		Update:       upd,
		Relayed:      relayed,
		LastApplied:  lastApplied,
		LastReceived: lastReceived,
		Occupancy:    sess.occupancy(),
	})
	if err != nil {
		return outbound{}, err
	}
	h.counters.RecordUpdate(len(data))
	h.resync.NoteUpdate()
	// Updates chain positionally off the previous one, so a lost update
	// cannot be skipped; only the reliable channel may carry them.
	return outbound{sess: sess, data: data, reliable: true}, nil
}

// RunSimulation drives the fixed-rate tick loop until the context ends.
func (h *Hub) RunSimulation(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(h.cfg.TickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Step()
		}
	}
}

// DiagnosticsSnapshot exposes per-session liveness for the diagnostics
// endpoint.
func (h *Hub) DiagnosticsSnapshot() []SessionDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SessionDiagnostics, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sess.mu.Lock()
		out = append(out, SessionDiagnostics{
			ID:            string(sess.id),
			LastHeartbeat: sess.lastHeartbeat.UnixMilli(),
			RTTMillis:     sess.lastRTT.Milliseconds(),
			LastApplied:   sess.lastApplied,
			LastReceived:  sess.lastReceived,
			Pending:       len(sess.pending),
			Dropped:       sess.dropped,
		})
		sess.mu.Unlock()
	}
	return out
}
