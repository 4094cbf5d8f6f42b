package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gridlock/server/internal/game"
	"gridlock/server/internal/net/proto"
	"gridlock/server/internal/world"
	"gridlock/server/logging"
	"gridlock/server/logging/lifecycle"
	loggingSinks "gridlock/server/logging/sinks"
)

type frameRecorder struct {
	mu       sync.Mutex
	frames   [][]byte
	reliable []bool
	closed   bool
	fail     bool
}

func (r *frameRecorder) WriteMessage(data []byte, reliable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("closed pipe")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r.frames = append(r.frames, buf)
	r.reliable = append(r.reliable, reliable)
	return nil
}

func (r *frameRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *frameRecorder) take() [][]byte {
	frames, _ := r.takeWithFlags()
	return frames
}

func (r *frameRecorder) takeWithFlags() ([][]byte, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames, flags := r.frames, r.reliable
	r.frames = nil
	r.reliable = nil
	return frames, flags
}

func frameType(t *testing.T, data []byte) string {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		t.Fatalf("decode frame header: %v", err)
	}
	return head.Type
}

func testHub(t *testing.T) *Hub {
	t.Helper()
	cfg := DefaultConfig()
	cfg.KeyframeInterval = 1000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	return NewHub(cfg, nil, nil, nil)
}

func inputFrame(t *testing.T, id game.PlayerID, first uint32, payloads ...game.PlayerInput) []byte {
	t.Helper()
	msg := proto.ClientMessage{Ver: proto.Version, Type: proto.TypeInput, First: first}
	for _, p := range payloads {
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal input: %v", err)
		}
		msg.Inputs = append(msg.Inputs, world.Input{
			Target:  world.MakeRef(game.PopPlayers, id),
			Payload: raw,
		})
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestJoinHandshakeThenKeyframeThenUpdates(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}

	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	frames := rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeJoined {
		t.Fatalf("expected joined frame, got %d frames", len(frames))
	}

	// First tick delivers the initial keyframe, later ticks increments.
	hub.Step()
	frames = rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeKeyframe {
		t.Fatalf("expected keyframe, got %v", frameType(t, frames[0]))
	}
	var kf proto.KeyframeV1
	if err := json.Unmarshal(frames[0], &kf); err != nil {
		t.Fatalf("decode keyframe: %v", err)
	}
	if kf.Keyframe == nil || kf.Keyframe.Tick != 1 {
		t.Fatalf("unexpected keyframe %+v", kf.Keyframe)
	}

	hub.Step()
	frames = rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeUpdate {
		t.Fatalf("expected update after keyframe")
	}
	var upd proto.UpdateV1
	if err := json.Unmarshal(frames[0], &upd); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if upd.Update == nil || upd.Update.Tick != 2 {
		t.Fatalf("unexpected update tick %+v", upd.Update)
	}
	_ = sess
}

func TestInputsAreAppliedAndAcknowledged(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.Step()
	rec.take()

	frame := inputFrame(t, sess.ID(), 1, game.PlayerInput{Thrust: 8})
	if err := hub.HandleMessage(sess, frame); err != nil {
		t.Fatalf("handle input: %v", err)
	}

	hub.Step()
	frames := rec.take()
	var upd proto.UpdateV1
	if err := json.Unmarshal(frames[0], &upd); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if upd.LastApplied != 1 || upd.LastReceived != 1 {
		t.Fatalf("acks lastApplied=%d lastReceived=%d", upd.LastApplied, upd.LastReceived)
	}

	// Facing east with thrust 8 puts velocity on the player this tick.
	hub.mu.Lock()
	player, ok := hub.pops.Players.Get(sess.ID())
	hub.mu.Unlock()
	if !ok || player.Vel.X != 8 {
		t.Fatalf("input not applied: %+v ok=%v", player, ok)
	}

	// Duplicate retransmission is ignored.
	if err := hub.HandleMessage(sess, frame); err != nil {
		t.Fatalf("handle duplicate: %v", err)
	}
	if len(sess.pending) != 0 {
		t.Fatalf("duplicate input enqueued")
	}
}

func TestResyncRequestSchedulesKeyframe(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.Step()
	hub.Step()
	rec.take()

	msg, _ := json.Marshal(proto.ClientMessage{Ver: proto.Version, Type: proto.TypeResyncReq})
	if err := hub.HandleMessage(sess, msg); err != nil {
		t.Fatalf("handle resync: %v", err)
	}

	hub.Step()
	frames := rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeKeyframe {
		t.Fatalf("expected keyframe resend")
	}
	snap := hub.Counters().Snapshot()
	if snap.DesyncsDetected != 1 || snap.ResyncsScheduled != 1 {
		t.Fatalf("telemetry %+v", snap)
	}

	// Replication resumes incrementally after the keyframe.
	hub.Step()
	frames = rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeUpdate {
		t.Fatalf("expected update after resync")
	}
}

func TestPingUpdatesHeartbeatAndPongs(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	rec.take()

	msg, _ := json.Marshal(proto.ClientMessage{
		Ver:        proto.Version,
		Type:       proto.TypePing,
		ClientTime: time.Now().UnixMilli(),
	})
	if err := hub.HandleMessage(sess, msg); err != nil {
		t.Fatalf("handle ping: %v", err)
	}
	frames := rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypePong {
		t.Fatalf("expected pong")
	}
}

func TestStaleSessionsAreDisconnected(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	sess.mu.Lock()
	sess.lastHeartbeat = time.Now().Add(-2 * disconnectAfter)
	sess.mu.Unlock()

	hub.Step()
	if !rec.closed {
		t.Fatalf("stale session writer not closed")
	}
	if len(hub.DiagnosticsSnapshot()) != 0 {
		t.Fatalf("stale session still registered")
	}
	hub.mu.Lock()
	_, alive := hub.pops.Players.Get(sess.ID())
	hub.mu.Unlock()
	if alive {
		t.Fatalf("player survived disconnect")
	}
}

func TestWriteFailureDropsSession(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	rec.mu.Lock()
	rec.fail = true
	rec.mu.Unlock()

	hub.Step()
	if len(hub.DiagnosticsSnapshot()) != 0 {
		t.Fatalf("session survived write failure")
	}
	_ = sess
}

func TestMalformedFrameIsRejectedNotFatal(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	rec.take()

	if err := hub.HandleMessage(sess, []byte(`{"ver":9,"type":"input"}`)); err != nil {
		t.Fatalf("reject should not error: %v", err)
	}
	frames := rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeReject {
		t.Fatalf("expected reject frame")
	}
	if len(hub.DiagnosticsSnapshot()) != 1 {
		t.Fatalf("session dropped on malformed frame")
	}
}

func TestPeerInputsAreRelayed(t *testing.T) {
	hub := testHub(t)
	recA, recB := &frameRecorder{}, &frameRecorder{}
	sessA, err := hub.Join(recA)
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	sessB, err := hub.Join(recB)
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	hub.Step()
	recA.take()
	recB.take()

	frame := inputFrame(t, sessB.ID(), 1, game.PlayerInput{Thrust: 7})
	if err := hub.HandleMessage(sessB, frame); err != nil {
		t.Fatalf("handle input: %v", err)
	}
	hub.Step()

	// B's input reaches A's mirror through the update, targeting B's
	// actor, so A can replay the tick to the same checksum.
	var updA proto.UpdateV1
	if err := json.Unmarshal(recA.take()[0], &updA); err != nil {
		t.Fatalf("decode a: %v", err)
	}
	if len(updA.Relayed) != 1 {
		t.Fatalf("expected 1 relayed input, got %d", len(updA.Relayed))
	}
	want := world.MakeRef(game.PopPlayers, sessB.ID())
	if !updA.Relayed[0].Target.Equal(want) {
		t.Fatalf("relayed input targets %+v", updA.Relayed[0].Target)
	}

	// B's own input comes back as an acknowledgement, never as a relay.
	var updB proto.UpdateV1
	if err := json.Unmarshal(recB.take()[0], &updB); err != nil {
		t.Fatalf("decode b: %v", err)
	}
	if len(updB.Relayed) != 0 {
		t.Fatalf("own input relayed back: %+v", updB.Relayed)
	}
	if updB.LastApplied != 1 {
		t.Fatalf("lastApplied=%d", updB.LastApplied)
	}
	_ = sessA
}

func TestUpdatesRideReliableChannel(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	if _, err := hub.Join(rec); err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.Step()
	rec.take()

	hub.Step()
	frames, flags := rec.takeWithFlags()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeUpdate {
		t.Fatalf("expected update frame")
	}
	if !flags[0] {
		t.Fatalf("update sent on the unreliable channel")
	}
}

func TestForeignInputIsRejected(t *testing.T) {
	hub := testHub(t)
	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	rec.take()

	frame := inputFrame(t, "someone-else", 1, game.PlayerInput{Thrust: 1})
	if err := hub.HandleMessage(sess, frame); err != nil {
		t.Fatalf("handle: %v", err)
	}
	frames := rec.take()
	if len(frames) != 1 || frameType(t, frames[0]) != proto.TypeReject {
		t.Fatalf("expected reject frame, got %d frames", len(frames))
	}

	// The forged input never reaches the tick queue.
	hub.Step()
	var upd proto.KeyframeV1
	if err := json.Unmarshal(rec.take()[0], &upd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if upd.LastReceived != 0 {
		t.Fatalf("forged input acknowledged: %d", upd.LastReceived)
	}
}

func TestSessionLifecycleEventsReachSinks(t *testing.T) {
	mem := loggingSinks.NewMemory()
	router, err := logging.NewRouter(nil, logging.DefaultConfig(),
		[]logging.NamedSink{{Name: logging.SinkMemory, Sink: mem}})
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	cfg := DefaultConfig()
	cfg.KeyframeInterval = 1000
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	hub := NewHub(cfg, router, nil, nil)

	rec := &frameRecorder{}
	sess, err := hub.Join(rec)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.Disconnect(sess.ID(), "test over")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}

	joined := mem.OfType(lifecycle.EventSessionJoined)
	if len(joined) != 1 {
		t.Fatalf("expected one join event, got %d", len(joined))
	}
	if joined[0].Actor.ID != string(sess.ID()) {
		t.Fatalf("join event names %q", joined[0].Actor.ID)
	}
	closed := mem.OfType(lifecycle.EventSessionClosed)
	if len(closed) != 1 {
		t.Fatalf("expected one close event, got %d", len(closed))
	}
}
