package game

import (
	"encoding/json"

	"gridlock/server/internal/sector"
	"gridlock/server/internal/world"
)

// PopMinerals is the mineral sector population name on the wire.
const PopMinerals = "minerals"

// Mineral is one grid cell's ore stack. A sector may feed a neighbor, in
// which case it propagates part of its shedding there every tick.
type Mineral struct {
	ID    sector.ID  `json:"id"`
	Stack []int      `json:"stack"`
	Feed  *sector.ID `json:"feed,omitempty"`
}

// MineralMsg pops from or pushes onto a sector's stack.
type MineralMsg struct {
	Pop  int   `json:"pop,omitempty"`
	Push []int `json:"push,omitempty"`
}

// MineralInput is the externally supplied push payload.
type MineralInput struct {
	Push []int `json:"push"`
}

// MineralRules sheds one stack element per tick from every sector and
// propagates a tick-scaled pop into the fed neighbor.
type MineralRules struct{}

func (MineralRules) ID(m *Mineral) sector.ID { return m.ID }

func (MineralRules) Clone(m *Mineral) *Mineral {
	c := *m
	c.Stack = append([]int(nil), m.Stack...)
	if m.Feed != nil {
		feed := *m.Feed
		c.Feed = &feed
	}
	return &c
}

func (MineralRules) Generate(ctx *world.Context, m *Mineral, env *world.Env) {
	env.Emit(world.MakeRef(PopMinerals, m.ID), MineralMsg{Pop: 1})
	if m.Feed != nil {
		if n := int(ctx.Tick / 2); n > 0 {
			env.Emit(world.MakeRef(PopMinerals, *m.Feed), MineralMsg{Pop: n})
		}
	}
}

func (MineralRules) ApplyInput(ctx *world.Context, m *Mineral, payload []byte) error {
	var in MineralInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return err
	}
	m.Stack = append(m.Stack, in.Push...)
	return nil
}

func (MineralRules) ApplyMessage(ctx *world.Context, m *Mineral, src world.Ref, msg MineralMsg) {
	if msg.Pop > 0 {
		n := msg.Pop
		if n > len(m.Stack) {
			n = len(m.Stack)
		}
		m.Stack = m.Stack[:len(m.Stack)-n]
	}
	if len(msg.Push) > 0 {
		m.Stack = append(m.Stack, msg.Push...)
	}
}
