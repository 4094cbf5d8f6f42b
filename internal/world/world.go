// Package world implements the generic actor replication core: a World of
// typed actor populations advanced by a two-phase deterministic tick,
// per-client Knowledge with keepalive expiry, incremental ActorUpdate
// construction and application, and an order-sensitive consistency
// checksum. Game-specific simulation rules live in the actor types
// registered into a World, not here.
package world

import (
	"encoding/json"
	"fmt"
)

// Population is the type-erased face of one actor type's collection. The
// only implementation is Pop; the interface exists so a World can hold
// heterogeneous actor types in a fixed registration order.
type Population interface {
	Kind() string
	Keepalive() int
	Len() int

	clone() Population
	blendToward(next Population, alpha float64)
	reset()

	clearInboxes()
	generate(ctx *Context, w *World)
	applyInput(ctx *Context, idRaw, payload json.RawMessage) error
	applyInboxes(ctx *Context, w *World)

	deliver(src Ref, idRaw json.RawMessage, msg any) bool
	lookupRaw(idRaw json.RawMessage) (any, bool)
	compareIDs(a, b json.RawMessage) int

	newKnowledge() popKnowledge
	primeKnowledge(know popKnowledge) error
	updateKnowledge(know popKnowledge, visible []any) ([]json.RawMessage, error)
	activeIDs(know popKnowledge) (map[string]struct{}, error)
	emit(know popKnowledge, include func(src Ref) bool) ([]Complete, []json.RawMessage, error)
	accumulateKnown(know popKnowledge, acc Accumulator) error

	removeActors(ids []json.RawMessage) error
	setInboxes(inboxes []json.RawMessage) error
	insertCompletes(completes []Complete) error
	accumulateAll(acc Accumulator) error
	snapshotAll() ([]Complete, error)
}

// World owns the complete collection of actor states across all registered
// actor types. It is the unit of tick execution and of update construction
// and application; one goroutine owns it at a time and there are no
// internal locks.
type World struct {
	pops   []Population
	index  map[string]int
	tick   uint64
	posted []post
}

// post is one staged server-sourced event.
type post struct {
	dst Ref
	msg any
}

// New constructs a world over the given populations. Registration order is
// fixed and is part of the checksum protocol, so server and client must
// register identically.
func New(pops ...Population) *World {
	w := &World{
		pops:  pops,
		index: make(map[string]int, len(pops)),
	}
	for i, p := range pops {
		if _, dup := w.index[p.Kind()]; dup {
			panic("world: duplicate population " + p.Kind())
		}
		w.index[p.Kind()] = i
	}
	return w
}

// Tick reports the number of ticks this world has advanced.
func (w *World) Tick() uint64 { return w.tick }

// Populations returns the registered populations in registration order.
func (w *World) Populations() []Population { return w.pops }

// Population returns the registered population with the given name.
func (w *World) Population(kind string) (Population, bool) {
	idx, ok := w.index[kind]
	if !ok {
		return nil, false
	}
	return w.pops[idx], true
}

// popOrder returns the registration index for sorting, with the synthetic
// server source ordered ahead of every population.
func (w *World) popOrder(kind string) int {
	if kind == ServerPop {
		return -1
	}
	if idx, ok := w.index[kind]; ok {
		return idx
	}
	return len(w.pops)
}

// Post stages an event from the synthetic server source for delivery on
// the next Advance. Server events bypass visibility filtering and order
// ahead of every actor-sourced event. Posts to absent actors are dropped
// when the tick runs.
func (w *World) Post(dst Ref, msg any) {
	w.posted = append(w.posted, post{dst: dst, msg: msg})
}

// Advance runs one full tick: discard the previous tick's inboxes, let
// every actor observe the committed state and generate events, fold the
// supplied inputs, then apply the buffered events. Servers and speculative
// client worlds advance through here; the client's authoritative mirror
// advances through ApplyOwned instead.
func (w *World) Advance(ctx *Context, inputs []Input) error {
	for _, p := range w.pops {
		p.clearInboxes()
	}
	return w.run(ctx, inputs)
}

// run executes the two-phase tick against whatever inboxes are already
// staged. Phase one only reads actor state and buffers events, so every
// actor observes one consistent snapshot regardless of visitation order;
// the final phase applies the buffer in the deterministic envelope order.
func (w *World) run(ctx *Context, inputs []Input) error {
	w.tick++
	ctx.Tick = w.tick

	for _, p := range w.pops {
		p.generate(ctx, w)
	}

	for _, ev := range w.posted {
		if idx, ok := w.index[ev.dst.Pop]; ok {
			w.pops[idx].deliver(ServerRef, ev.dst.ID, ev.msg)
		}
	}
	w.posted = w.posted[:0]

	for _, input := range inputs {
		idx, ok := w.index[input.Target.Pop]
		if !ok {
			// Inputs for unregistered populations are dropped.
			continue
		}
		if err := w.pops[idx].applyInput(ctx, input.Target.ID, input.Payload); err != nil {
			return err
		}
	}

	for _, p := range w.pops {
		p.applyInboxes(ctx, w)
	}
	return nil
}

// Clone returns an independently ownable deep copy. Pending inboxes are
// tick-transient and are not carried over.
func (w *World) Clone() *World {
	out := &World{
		pops:  make([]Population, len(w.pops)),
		index: make(map[string]int, len(w.index)),
		tick:  w.tick,
	}
	for i, p := range w.pops {
		out.pops[i] = p.clone()
		out.index[p.Kind()] = i
	}
	return out
}

// Blend returns a copy of w with every actor drawn alpha of the way toward
// its counterpart in next. Populations without the Blender capability keep
// w's state.
func (w *World) Blend(next *World, alpha float64) *World {
	out := w.Clone()
	if next == nil {
		return out
	}
	for i, p := range out.pops {
		if i < len(next.pops) && p.Kind() == next.pops[i].Kind() {
			p.blendToward(next.pops[i], alpha)
		}
	}
	return out
}

// NewKnowledge builds an empty per-client knowledge record matching this
// world's population layout.
func (w *World) NewKnowledge() *Knowledge {
	know := &Knowledge{pops: make([]popKnowledge, len(w.pops))}
	for i, p := range w.pops {
		know.pops[i] = p.newKnowledge()
	}
	return know
}

// PrimedKnowledge builds a knowledge record that already counts every live
// actor as known, as it stands after a client restored a full snapshot.
// Updates built from it carry inboxes for the snapshot's actors instead of
// re-shipping them as completes.
func (w *World) PrimedKnowledge() (*Knowledge, error) {
	know := w.NewKnowledge()
	for i, p := range w.pops {
		if err := p.primeKnowledge(know.pops[i]); err != nil {
			return nil, err
		}
	}
	return know, nil
}

// Checksum folds every live actor across all populations in protocol order.
func (w *World) Checksum(acc Accumulator) (uint64, error) {
	acc.Reset()
	for _, p := range w.pops {
		if err := p.accumulateAll(acc); err != nil {
			return 0, err
		}
	}
	return acc.Sum(), nil
}

// Env lets an actor observe the world and emit events during the
// generation phase.
type Env struct {
	w   *World
	src Ref
}

// Source identifies the generating actor.
func (e *Env) Source() Ref { return e.src }

// Emit queues an event into the destination actor's inbox for application
// in this tick's final phase. Events addressed to an absent actor are
// silently dropped: client worlds are partial by design.
func (e *Env) Emit(dst Ref, msg any) bool {
	idx, ok := e.w.index[dst.Pop]
	if !ok {
		return false
	}
	return e.w.pops[idx].deliver(e.src, dst.ID, msg)
}

// Lookup returns a read-only view of another actor's committed state, or
// nil if it is absent. Callers must not mutate the result during
// generation.
func (e *Env) Lookup(dst Ref) (any, bool) {
	idx, ok := e.w.index[dst.Pop]
	if !ok {
		return nil, false
	}
	return e.w.pops[idx].lookupRaw(dst.ID)
}

// Find returns the typed actor stored under kind/id in w.
func Find[K interface {
	comparable
	Less(K) bool
}, A any](w *World, kind string, id K) (*A, bool) {
	p, ok := w.Population(kind)
	if !ok {
		return nil, false
	}
	ref := MakeRef(kind, id)
	value, ok := p.lookupRaw(ref.ID)
	if !ok {
		return nil, false
	}
	actor, ok := value.(*A)
	return actor, ok
}

// Keyframe is a complete serialization of a world, used to seed a client on
// (re)connection.
type Keyframe struct {
	Tick uint64        `json:"t"`
	Pops []PopKeyframe `json:"pops"`
}

// PopKeyframe carries one population's full actor set.
type PopKeyframe struct {
	Kind   string     `json:"kind"`
	Actors []Complete `json:"actors,omitempty"`
}

// Snapshot serializes every live actor into a keyframe.
func (w *World) Snapshot() (*Keyframe, error) {
	frame := &Keyframe{Tick: w.tick, Pops: make([]PopKeyframe, 0, len(w.pops))}
	for _, p := range w.pops {
		actors, err := p.snapshotAll()
		if err != nil {
			return nil, err
		}
		frame.Pops = append(frame.Pops, PopKeyframe{Kind: p.Kind(), Actors: actors})
	}
	return frame, nil
}

// Restore replaces the world's entire contents from a keyframe.
func (w *World) Restore(frame *Keyframe) error {
	if frame == nil {
		return fmt.Errorf("%w: nil keyframe", ErrProtocol)
	}
	for _, p := range w.pops {
		p.reset()
	}
	for _, pk := range frame.Pops {
		idx, ok := w.index[pk.Kind]
		if !ok {
			return fmt.Errorf("%w: keyframe for unregistered population %s", ErrProtocol, pk.Kind)
		}
		if err := w.pops[idx].insertCompletes(pk.Actors); err != nil {
			return err
		}
	}
	w.tick = frame.Tick
	return nil
}
