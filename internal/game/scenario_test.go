package game_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridlock/server/internal/game"
	"gridlock/server/internal/lockstep"
	"gridlock/server/internal/sector"
	"gridlock/server/internal/world"
)

// shardServer drives one authoritative shard world and one client's
// replication state, the way the hub does per session.
type shardServer struct {
	t            *testing.T
	w            *world.World
	pops         *game.Populations
	know         *world.Knowledge
	acc          world.Accumulator
	pending      []world.Input
	lastReceived uint32
	lastApplied  uint32
}

func newShardServer(t *testing.T, cfg game.Config) *shardServer {
	w, pops := game.Build(cfg)
	return &shardServer{
		t:    t,
		w:    w,
		pops: pops,
		know: w.NewKnowledge(),
		acc:  world.NewAccumulator(),
	}
}

func (s *shardServer) receive(req *lockstep.Request) {
	for i, in := range req.Inputs {
		seq := req.First + uint32(i)
		if seq <= s.lastReceived {
			continue
		}
		s.pending = append(s.pending, in)
		s.lastReceived = seq
	}
}

func (s *shardServer) tick() *lockstep.ServerUpdate {
	s.t.Helper()
	inputs := s.pending
	s.pending = nil
	require.NoError(s.t, s.w.Advance(&world.Context{}, inputs))
	s.lastApplied = s.lastReceived

	upd, err := s.w.BuildUpdate(s.know, s.pops.Everything(), s.acc)
	require.NoError(s.t, err)
	return &lockstep.ServerUpdate{
		Update:       upd,
		LastApplied:  s.lastApplied,
		LastReceived: s.lastReceived,
	}
}

func shardChecksum(t *testing.T, w *world.World) uint64 {
	t.Helper()
	sum, err := w.Checksum(world.NewAccumulator())
	require.NoError(t, err)
	return sum
}

// TestMineralPredictionStaysInLockstep runs a full predicted session over
// a lossless link: the client pushes onto a mineral sector every predicted
// tick while the sector sheds ore and a neighbor feeds tick-scaled pops
// into it. Client and server must agree on the whole world at every tick
// boundary.
func TestMineralPredictionStaysInLockstep(t *testing.T) {
	cfg := game.DefaultConfig()
	v := sector.ID{Col: 1, Row: 1}
	feeder := sector.ID{Col: 0, Row: 0}
	seed := func(pops *game.Populations) {
		pops.Minerals.Add(&game.Mineral{ID: v, Stack: []int{1, 2, 3}})
		pops.Minerals.Add(&game.Mineral{ID: feeder, Stack: []int{9, 9, 9, 9}, Feed: &v})
	}

	srv := newShardServer(t, cfg)
	seed(srv.pops)

	cw, _ := game.Build(cfg)
	now := time.Unix(2000, 0)
	cli := lockstep.NewClient(lockstep.Config{
		TickRate: 20,
		// One predicted tick per frame: surplus accumulation is dropped.
		MaxCatchUp: 1,
		Now:        func() time.Time { now = now.Add(10 * time.Millisecond); return now },
	}, world.MakeRef(game.PopMinerals, v), cw)

	// Initial contact ships the seeded sectors as completes.
	_, err := cli.Receive(srv.tick())
	require.NoError(t, err)
	require.Equal(t, shardChecksum(t, srv.w), shardChecksum(t, cli.Real()))

	send := func(req *lockstep.Request, reliable bool) { srv.receive(req) }
	for frame := 1; frame <= 10; frame++ {
		payload, err := json.Marshal(game.MineralInput{
			Push: []int{3*frame + 4, 3*frame + 5, 3*frame + 6},
		})
		require.NoError(t, err)
		input := func() json.RawMessage { return payload }

		_, err = cli.Update(0.05, true, input, send)
		require.NoError(t, err)
		require.Equal(t, 1, cli.Pending(), "frame %d should predict exactly one tick", frame)

		// Receive verifies the server checksum against the rebuilt real
		// world, so a lockstep divergence surfaces here as a desync.
		_, err = cli.Receive(srv.tick())
		require.NoError(t, err, "tick boundary after frame %d", frame)
		require.Equal(t, 0, cli.Pending())
		require.Equal(t, shardChecksum(t, srv.w), shardChecksum(t, cli.Real()),
			"frame %d", frame)

		if frame == 3 {
			// Pushes land before the shed-and-feed pops, so by now three
			// pushed batches have been partially consumed again.
			m, ok := srv.pops.Minerals.Get(v)
			require.True(t, ok)
			require.Equal(t, []int{1, 2, 7, 10}, m.Stack)
		}
	}

	srvV, ok := srv.pops.Minerals.Get(v)
	require.True(t, ok)
	cliV, ok := world.Find[sector.ID, game.Mineral](cli.Real(), game.PopMinerals, v)
	require.True(t, ok)
	require.Equal(t, srvV.Stack, cliV.Stack)
	// The feed outpaces the pushes late in the run and drains the sector.
	require.Empty(t, srvV.Stack)

	predV, ok := world.Find[sector.ID, game.Mineral](cli.Predicted(), game.PopMinerals, v)
	require.True(t, ok)
	require.Equal(t, fmt.Sprint(srvV.Stack), fmt.Sprint(predV.Stack))
}
