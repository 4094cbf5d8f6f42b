package world

import (
	"encoding/json"
	"fmt"
)

// Complete is one actor's full serialized state, sent when a client first
// learns of the actor.
type Complete struct {
	ID    json.RawMessage `json:"id"`
	Actor json.RawMessage `json:"actor"`
}

// PopUpdate is one population's slice of an incremental update. Completes
// carry newly known actors; Removals name actors the client must forget;
// Inboxes correspond positionally, in ascending id order, to the actors
// the client knows after the removals are applied.
type PopUpdate struct {
	Kind      string            `json:"kind"`
	Completes []Complete        `json:"completes,omitempty"`
	Removals  []json.RawMessage `json:"removals,omitempty"`
	Inboxes   []json.RawMessage `json:"inboxes,omitempty"`
}

// Update is one tick's incremental state delta for one client, paired with
// the checksum the client's mirror must reach after applying it.
type Update struct {
	Tick     uint64      `json:"t"`
	Pops     []PopUpdate `json:"pops"`
	Checksum uint64      `json:"sum"`
}

// Visibility reports which actors of one population a given client should
// currently know, as a slice of that population's id type.
type Visibility func(kind string) []any

// BuildUpdate advances one client's knowledge against the world's committed
// state and produces the incremental update that brings the client's mirror
// to this tick. Call it once per client per tick, after Advance, while the
// tick's inboxes are still staged.
//
// Events whose source the client actively simulates (known before this
// tick and not evicted by it) are filtered out of shipped inboxes: the
// client regenerates those locally, and shipping them too would apply them
// twice. Server events and events from actors the client just learned of
// or just forgot always ship.
func (w *World) BuildUpdate(know *Knowledge, visible Visibility, acc Accumulator) (*Update, error) {
	if know == nil || len(know.pops) != len(w.pops) {
		return nil, fmt.Errorf("%w: knowledge layout does not match world", ErrProtocol)
	}

	active := make(map[string]map[string]struct{}, len(w.pops))
	upd := &Update{Tick: w.tick, Pops: make([]PopUpdate, len(w.pops))}

	for i, p := range w.pops {
		ids, err := p.activeIDs(know.pops[i])
		if err != nil {
			return nil, err
		}
		active[p.Kind()] = ids

		var vis []any
		if visible != nil {
			vis = visible(p.Kind())
		}
		removals, err := p.updateKnowledge(know.pops[i], vis)
		if err != nil {
			return nil, err
		}
		// A source evicted this tick stops running on the client before the
		// tick replays, so its events cannot be regenerated there and must
		// ship.
		for _, raw := range removals {
			delete(ids, string(raw))
		}
		upd.Pops[i] = PopUpdate{Kind: p.Kind(), Removals: removals}
	}

	include := func(src Ref) bool {
		if src.IsServer() {
			return true
		}
		ids, ok := active[src.Pop]
		if !ok {
			return true
		}
		_, simulated := ids[string(src.ID)]
		return !simulated
	}

	acc.Reset()
	for i, p := range w.pops {
		completes, inboxes, err := p.emit(know.pops[i], include)
		if err != nil {
			return nil, err
		}
		upd.Pops[i].Completes = completes
		upd.Pops[i].Inboxes = inboxes
		if err := p.accumulateKnown(know.pops[i], acc); err != nil {
			return nil, err
		}
	}
	upd.Checksum = acc.Sum()
	return upd, nil
}

// ApplyOwned advances a client's authoritative mirror by one update:
// removals first, then the shipped inboxes are staged over the cleared
// local ones, then the full tick runs so locally simulated actors
// regenerate their own events, and finally newly known actors are
// inserted. The resulting checksum must match the server's; a mismatch
// means the mirror has diverged and returns ErrDesync.
func (w *World) ApplyOwned(upd *Update, ctx *Context, inputs []Input, acc Accumulator) error {
	if upd == nil {
		return fmt.Errorf("%w: nil update", ErrProtocol)
	}
	if len(upd.Pops) != len(w.pops) {
		return fmt.Errorf("%w: update carries %d populations, world has %d", ErrProtocol, len(upd.Pops), len(w.pops))
	}

	for i, p := range w.pops {
		pu := &upd.Pops[i]
		if pu.Kind != p.Kind() {
			return fmt.Errorf("%w: update population %q at index %d, expected %q", ErrProtocol, pu.Kind, i, p.Kind())
		}
		if err := p.removeActors(pu.Removals); err != nil {
			return err
		}
	}

	for i, p := range w.pops {
		p.clearInboxes()
		if err := p.setInboxes(upd.Pops[i].Inboxes); err != nil {
			return err
		}
	}

	if err := w.run(ctx, inputs); err != nil {
		return err
	}

	for i, p := range w.pops {
		if err := p.insertCompletes(upd.Pops[i].Completes); err != nil {
			return err
		}
	}

	w.tick = upd.Tick
	ctx.Tick = w.tick

	sum, err := w.Checksum(acc)
	if err != nil {
		return err
	}
	if sum != upd.Checksum {
		return fmt.Errorf("%w: tick %d checksum %016x, server sent %016x", ErrDesync, upd.Tick, sum, upd.Checksum)
	}
	return nil
}
