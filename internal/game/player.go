// Package game holds the demo actor types the gridlock shard simulates:
// players steering across the playfield and mineral sectors accumulating
// and shedding ore. The replication core is game-agnostic; everything
// game-specific lives here.
package game

import (
	"encoding/json"

	"gridlock/server/internal/fixedmath"
	"gridlock/server/internal/sector"
	"gridlock/server/internal/world"
)

// PopPlayers is the player population name on the wire.
const PopPlayers = "players"

// PlayerID is a stable opaque identity, ordered lexicographically.
type PlayerID string

func (id PlayerID) Less(other PlayerID) bool { return id < other }

// Player is one steerable actor. Position and heading are
// integer/fixed-point so every field folds into the checksum
// deterministically.
type Player struct {
	ID     PlayerID        `json:"id"`
	Pos    sector.Point    `json:"pos"`
	Vel    sector.Point    `json:"vel"`
	Facing fixedmath.Angle `json:"facing"`
	Thrust int             `json:"thrust"`
}

// PlayerInput is the client-supplied steering payload.
type PlayerInput struct {
	Facing fixedmath.Angle `json:"facing"`
	Thrust int             `json:"thrust"`
}

// playerStep is the per-tick movement event a player emits to itself.
type playerStep struct {
	Delta sector.Point `json:"delta"`
}

// PlayerRules binds player behavior to a playfield.
type PlayerRules struct {
	Grid  sector.Grid
	Speed int
}

func (PlayerRules) ID(p *Player) PlayerID { return p.ID }

func (PlayerRules) Clone(p *Player) *Player {
	c := *p
	return &c
}

func (r PlayerRules) Generate(ctx *world.Context, p *Player, env *world.Env) {
	if p.Vel.X == 0 && p.Vel.Y == 0 {
		return
	}
	env.Emit(world.MakeRef(PopPlayers, p.ID), playerStep{Delta: p.Vel})
}

func (r PlayerRules) ApplyInput(ctx *world.Context, p *Player, payload []byte) error {
	var in PlayerInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return err
	}
	speed := r.Speed
	if speed < 1 {
		speed = 1
	}
	thrust := in.Thrust
	if thrust < 0 {
		thrust = 0
	}
	if thrust > speed {
		thrust = speed
	}
	p.Facing = in.Facing
	p.Thrust = thrust
	p.Vel = sector.Point{
		X: fixedmath.Cos(p.Facing).Mul(fixedmath.FromInt(thrust)).Round(),
		Y: fixedmath.Sin(p.Facing).Mul(fixedmath.FromInt(thrust)).Round(),
	}
	return nil
}

func (r PlayerRules) ApplyMessage(ctx *world.Context, p *Player, src world.Ref, msg playerStep) {
	p.Pos.X += msg.Delta.X
	p.Pos.Y += msg.Delta.Y
	p.Pos = r.clampToField(p.Pos)
	ctx.Observed(world.MakeRef(PopPlayers, p.ID), "player_moved", p.Pos)
}

// Blend interpolates position and heading for rendering between ticks.
func (r PlayerRules) Blend(from, to *Player, alpha float64) *Player {
	out := *from
	out.Pos.X = from.Pos.X + int(float64(to.Pos.X-from.Pos.X)*alpha)
	out.Pos.Y = from.Pos.Y + int(float64(to.Pos.Y-from.Pos.Y)*alpha)
	diff := int16(to.Facing - from.Facing)
	out.Facing = from.Facing + fixedmath.Angle(int16(float64(diff)*alpha))
	return &out
}

// clampToField keeps players on the playfield.
func (r PlayerRules) clampToField(p sector.Point) sector.Point {
	halfW := r.Grid.Cols * r.Grid.Scale / 2
	halfH := r.Grid.Rows * r.Grid.Scale / 2
	if p.X < -halfW {
		p.X = -halfW
	}
	if p.X >= halfW {
		p.X = halfW - 1
	}
	if p.Y < -halfH {
		p.Y = -halfH
	}
	if p.Y >= halfH {
		p.Y = halfH - 1
	}
	return p
}

// Sector returns the grid cell the player currently occupies.
func (r PlayerRules) Sector(p *Player) sector.ID {
	return r.Grid.CellClamped(p.Pos)
}
