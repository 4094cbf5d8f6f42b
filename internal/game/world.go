package game

import (
	"github.com/google/uuid"

	"gridlock/server/internal/sector"
	"gridlock/server/internal/world"
)

// Config sizes the demo shard.
type Config struct {
	Grid             sector.Grid
	PlayerSpeed      int
	PlayerKeepalive  int
	MineralKeepalive int
}

func DefaultConfig() Config {
	return Config{
		Grid:             sector.NewGrid(16, 16, 100),
		PlayerSpeed:      8,
		PlayerKeepalive:  30,
		MineralKeepalive: 10,
	}
}

// Populations bundles the shard's typed populations with the rules bound
// to its playfield.
type Populations struct {
	Rules    PlayerRules
	Players  *world.Pop[PlayerID, Player, playerStep]
	Minerals *world.Pop[sector.ID, Mineral, MineralMsg]
}

// Build constructs a shard world. Server and client must build from the
// same config: registration order and keepalives are part of the
// protocol.
func Build(cfg Config) (*world.World, *Populations) {
	rules := PlayerRules{Grid: cfg.Grid, Speed: cfg.PlayerSpeed}
	players := world.NewPopulation[PlayerID, Player, playerStep](PopPlayers, cfg.PlayerKeepalive, rules)
	minerals := world.NewPopulation[sector.ID, Mineral, MineralMsg](PopMinerals, cfg.MineralKeepalive, MineralRules{})
	return world.New(players, minerals), &Populations{
		Rules:    rules,
		Players:  players,
		Minerals: minerals,
	}
}

// NewPlayerID mints a fresh player identity.
func NewPlayerID() PlayerID {
	return PlayerID(uuid.NewString())
}

// VisibleTo builds the per-client visibility policy: actors within radius
// world units of the viewer's player. Mineral sectors resolve through the
// grid's radius query, players through a per-actor distance check.
func (p *Populations) VisibleTo(viewer PlayerID, radius int) world.Visibility {
	return func(kind string) []any {
		me, ok := p.Players.Get(viewer)
		if !ok {
			return nil
		}
		switch kind {
		case PopPlayers:
			rr := int64(radius) * int64(radius)
			var out []any
			for _, id := range p.Players.IDs() {
				other, ok := p.Players.Get(id)
				if !ok {
					continue
				}
				dx := int64(other.Pos.X - me.Pos.X)
				dy := int64(other.Pos.Y - me.Pos.Y)
				if dx*dx+dy*dy <= rr {
					out = append(out, id)
				}
			}
			return out
		case PopMinerals:
			var out []any
			p.Rules.Grid.InRadius(me.Pos, radius, func(id sector.ID, _ sector.Coverage) bool {
				if _, ok := p.Minerals.Get(id); ok {
					out = append(out, id)
				}
				return true
			})
			return out
		}
		return nil
	}
}

// Everything is the visibility policy of an omniscient client, used by
// diagnostics and tests.
func (p *Populations) Everything() world.Visibility {
	return func(kind string) []any {
		switch kind {
		case PopPlayers:
			ids := p.Players.IDs()
			out := make([]any, len(ids))
			for i, id := range ids {
				out[i] = id
			}
			return out
		case PopMinerals:
			ids := p.Minerals.IDs()
			out := make([]any, len(ids))
			for i, id := range ids {
				out[i] = id
			}
			return out
		}
		return nil
	}
}
