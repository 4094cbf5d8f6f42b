package lockstep_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridlock/server/internal/lockstep"
	"gridlock/server/internal/world"
)

type roverID int

func (id roverID) Less(other roverID) bool { return id < other }

type rover struct {
	ID  roverID `json:"id"`
	Pos int     `json:"pos"`
	Vel int     `json:"vel"`
}

type roverPush struct {
	Delta int `json:"delta"`
}

type roverRules struct{}

func (roverRules) ID(r *rover) roverID   { return r.ID }
func (roverRules) Clone(r *rover) *rover { c := *r; return &c }

func (roverRules) Generate(ctx *world.Context, r *rover, env *world.Env) {
	if r.Vel != 0 {
		env.Emit(world.MakeRef("rover", r.ID), roverPush{Delta: r.Vel})
	}
}

func (roverRules) ApplyInput(ctx *world.Context, r *rover, payload []byte) error {
	var in struct {
		Vel int `json:"vel"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return err
	}
	r.Vel = in.Vel
	return nil
}

func (roverRules) ApplyMessage(ctx *world.Context, r *rover, src world.Ref, msg roverPush) {
	r.Pos += msg.Delta
	ctx.Observed(world.MakeRef("rover", r.ID), "moved", r.Pos)
}

func newRoverWorld() (*world.World, *world.Pop[roverID, rover, roverPush]) {
	rovers := world.NewPopulation[roverID, rover, roverPush]("rover", 4, roverRules{})
	return world.New(rovers), rovers
}

// server is the minimal authoritative loop the client talks to: one world,
// one client's knowledge, and that client's pending input window.
type server struct {
	t       *testing.T
	w       *world.World
	rovers  *world.Pop[roverID, rover, roverPush]
	know    *world.Knowledge
	acc     world.Accumulator
	pending []world.Input
	lastReceived uint32
	lastApplied  uint32
}

func newServer(t *testing.T) *server {
	w, rovers := newRoverWorld()
	return &server{
		t:      t,
		w:      w,
		rovers: rovers,
		know:   w.NewKnowledge(),
		acc:    world.NewAccumulator(),
	}
}

func (s *server) receive(req *lockstep.Request) {
	for i, in := range req.Inputs {
		seq := req.First + uint32(i)
		if seq <= s.lastReceived {
			continue
		}
		s.pending = append(s.pending, in)
		s.lastReceived = seq
	}
}

func (s *server) tick() *lockstep.ServerUpdate {
	s.t.Helper()
	inputs := s.pending
	s.pending = nil
	require.NoError(s.t, s.w.Advance(&world.Context{}, inputs))
	s.lastApplied = s.lastReceived

	vis := func(kind string) []any {
		ids := s.rovers.IDs()
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = id
		}
		return out
	}
	upd, err := s.w.BuildUpdate(s.know, vis, s.acc)
	require.NoError(s.t, err)
	return &lockstep.ServerUpdate{
		Update:       upd,
		LastApplied:  s.lastApplied,
		LastReceived: s.lastReceived,
	}
}

func testConfig() lockstep.Config {
	now := time.Unix(1000, 0)
	return lockstep.Config{
		TickRate:      20,
		QueueCapacity: 8,
		MaxCatchUp:    3,
		Now:           func() time.Time { now = now.Add(10 * time.Millisecond); return now },
	}
}

func velInput(v int) func() json.RawMessage {
	payload, _ := json.Marshal(map[string]int{"vel": v})
	return func() json.RawMessage { return payload }
}

func checksum(t *testing.T, w *world.World) uint64 {
	t.Helper()
	sum, err := w.Checksum(world.NewAccumulator())
	require.NoError(t, err)
	return sum
}

func TestPredictionConvergence(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	srv.rovers.Add(&rover{ID: 2, Vel: 3})

	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)

	// Initial contact before any input.
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	send := func(req *lockstep.Request, reliable bool) { srv.receive(req) }
	for frame := 0; frame < 20; frame++ {
		_, err := cli.Update(0.05, true, velInput(1), send)
		require.NoError(t, err)
		_, err = cli.Receive(srv.tick())
		require.NoError(t, err)
	}

	// Lossless and fully acknowledged: zero residual divergence.
	require.Equal(t, 0, cli.Pending())
	require.Equal(t, checksum(t, cli.Real()), checksum(t, cli.Predicted()))
	require.Equal(t, checksum(t, srv.w), checksum(t, cli.Real()))

	got, ok := world.Find[roverID, rover](cli.Real(), "rover", roverID(1))
	require.True(t, ok)
	require.Greater(t, got.Pos, 0)
}

func TestReceiveAppliesRelayedPeerInputs(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	srv.rovers.Add(&rover{ID: 2})

	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	// A peer steers rover 2. The server folds the input into its tick
	// and relays it; the mirror must replay it or its checksum diverges.
	peer := world.Input{
		Target:  world.MakeRef("rover", roverID(2)),
		Payload: json.RawMessage(`{"vel":7}`),
	}
	srv.pending = append(srv.pending, peer)
	upd := srv.tick()
	upd.Relayed = []world.Input{peer}
	_, err = cli.Receive(upd)
	require.NoError(t, err)

	_, err = cli.Receive(srv.tick())
	require.NoError(t, err)
	got, ok := world.Find[roverID, rover](cli.Real(), "rover", roverID(2))
	require.True(t, ok)
	require.Equal(t, 7, got.Pos)
	require.Equal(t, checksum(t, srv.w), checksum(t, cli.Real()))
}

func TestPredictedRunsAheadOfReal(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})

	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	// Three frames of input with no server contact.
	for i := 0; i < 3; i++ {
		_, err := cli.Update(0.05, true, velInput(2), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, cli.Pending())

	real, _ := world.Find[roverID, rover](cli.Real(), "rover", roverID(1))
	pred, ok := world.Find[roverID, rover](cli.Predicted(), "rover", roverID(1))
	require.True(t, ok)
	require.Equal(t, 0, real.Pos)
	// Input applied on the first predicted tick, movement lands on the
	// following two.
	require.Equal(t, 4, pred.Pos)
}

func TestQueueRejectsWithoutServerContact(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 3
	cfg.MaxCatchUp = 1

	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(cfg, world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	var sent []*lockstep.Request
	send := func(req *lockstep.Request, reliable bool) { sent = append(sent, req) }

	for i := 0; i < 3; i++ {
		_, err := cli.Update(0.05, true, velInput(1), send)
		require.NoError(t, err)
	}
	require.Equal(t, 3, cli.Pending())
	require.Len(t, sent, 3)

	// Queue full, server silent: the new input is rejected outright.
	_, err = cli.Update(0.05, true, velInput(1), send)
	require.NoError(t, err)
	require.Equal(t, 3, cli.Pending())
	require.Len(t, sent, 3)
	require.Equal(t, uint32(1), sent[len(sent)-1].First)

	// One server contact, even without a tick payload, licenses one
	// eviction: the oldest input drops and the new one is accepted.
	_, err = cli.Receive(&lockstep.ServerUpdate{Occupancy: 0.5})
	require.NoError(t, err)
	_, err = cli.Update(0.05, true, velInput(1), send)
	require.NoError(t, err)
	require.Equal(t, 3, cli.Pending())
	require.Len(t, sent, 4)
	require.Equal(t, uint32(2), sent[len(sent)-1].First)

	// The license is spent until the server is heard from again.
	_, err = cli.Update(0.05, true, velInput(1), send)
	require.NoError(t, err)
	require.Len(t, sent, 4)
}

func TestCatchUpIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCatchUp = 3

	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(cfg, world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	// A ten second stall would owe 200 ticks; the cap drops the backlog
	// instead of replaying it.
	_, err = cli.Update(10, true, velInput(1), nil)
	require.NoError(t, err)
	require.Equal(t, 3, cli.Pending())

	_, err = cli.Update(0.05, true, velInput(1), nil)
	require.NoError(t, err)
	require.LessOrEqual(t, cli.Pending(), 5)
}

func TestReceiveValidatesAcknowledgements(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	// The server claims to have applied an input that was never sent.
	upd := srv.tick()
	upd.LastApplied = 7
	upd.LastReceived = 7
	_, err = cli.Receive(upd)
	require.ErrorIs(t, err, world.ErrProtocol)
}

func TestReceiveSurfacesDesync(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1, Vel: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	upd := srv.tick()
	upd.Update.Checksum++
	_, err = cli.Receive(upd)
	require.ErrorIs(t, err, world.ErrDesync)
}

func TestInitKeyframeReplacesWorlds(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1, Pos: 40})
	srv.rovers.Add(&rover{ID: 2, Pos: 7})
	require.NoError(t, srv.w.Advance(&world.Context{}, nil))
	frame, err := srv.w.Snapshot()
	require.NoError(t, err)

	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)

	// Stale speculation before the reconnect.
	_, err = cli.Update(0.05, true, velInput(9), nil)
	require.NoError(t, err)
	require.Equal(t, 1, cli.Pending())

	_, err = cli.Receive(&lockstep.ServerUpdate{Init: frame})
	require.NoError(t, err)
	require.Equal(t, 0, cli.Pending())
	require.Equal(t, checksum(t, srv.w), checksum(t, cli.Real()))
	require.Equal(t, checksum(t, srv.w), checksum(t, cli.Predicted()))
	require.Equal(t, checksum(t, srv.w), checksum(t, cli.Interpolated()))
}

func TestTimingSamplesFromAcknowledgements(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	send := func(req *lockstep.Request, reliable bool) { srv.receive(req) }
	_, err = cli.Update(0.05, true, velInput(1), send)
	require.NoError(t, err)

	timing, err := cli.Receive(srv.tick())
	require.NoError(t, err)
	require.True(t, timing.PingOK)
	require.True(t, timing.TotalOK)
	require.Greater(t, timing.Ping, time.Duration(0))
	require.GreaterOrEqual(t, timing.Total, timing.Ping)
}

func TestObservationAttribution(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	srv.rovers.Add(&rover{ID: 2, Vel: 5})

	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	local := world.MakeRef("rover", roverID(1))
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	send := func(req *lockstep.Request, reliable bool) { srv.receive(req) }
	var seen []world.Observation
	for frame := 0; frame < 6; frame++ {
		obs, err := cli.Update(0.05, true, velInput(2), send)
		require.NoError(t, err)
		seen = append(seen, obs...)
		_, err = cli.Receive(srv.tick())
		require.NoError(t, err)
	}

	var localPredicted, remoteConfirmed int
	for _, o := range seen {
		if o.Actor.Equal(local) {
			// Local effects surface exactly once, speculatively.
			require.NotEqual(t, world.Authoritative, o.Disposition)
			localPredicted++
		} else {
			require.Equal(t, world.Authoritative, o.Disposition)
			remoteConfirmed++
		}
	}
	require.Greater(t, localPredicted, 0)
	require.Greater(t, remoteConfirmed, 0)
}

func TestRequestWindowRetransmitsUnacknowledged(t *testing.T) {
	srv := newServer(t)
	srv.rovers.Add(&rover{ID: 1})
	cw, _ := newRoverWorld()
	cli := lockstep.NewClient(testConfig(), world.MakeRef("rover", roverID(1)), cw)
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)

	var sent []*lockstep.Request
	send := func(req *lockstep.Request, reliable bool) { sent = append(sent, req) }
	for i := 0; i < 3; i++ {
		_, err := cli.Update(0.05, true, velInput(1), send)
		require.NoError(t, err)
	}

	require.Len(t, sent, 3)
	// Every send carries the whole unacknowledged window from seq 1, so
	// any single delivery recovers all prior losses.
	require.Equal(t, uint32(1), sent[2].First)
	require.Len(t, sent[2].Inputs, 3)
}
