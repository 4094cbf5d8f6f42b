package world

import (
	"encoding/json"
	"fmt"
	"sort"

	"gridlock/server/internal/keyed"
)

// Behavior binds one actor type's capabilities to its population. A single
// stateless value implements it per type; the world stores actors, the
// behavior knows how to tick, serialize, and mutate them.
type Behavior[K keyed.Key[K], A any, M any] interface {
	// ID returns the actor's stable identity.
	ID(a *A) K
	// Clone returns an independent deep copy.
	Clone(a *A) *A
	// Generate lets the actor observe the previous tick's committed state
	// of the world and emit events. It must not mutate any actor;
	// mutations happen when events apply.
	Generate(ctx *Context, a *A, env *Env)
	// ApplyInput folds one input payload into the actor.
	ApplyInput(ctx *Context, a *A, payload []byte) error
	// ApplyMessage folds one inbox event into the actor.
	ApplyMessage(ctx *Context, a *A, src Ref, msg M)
}

// Blender is the optional interpolation capability. Populations whose
// behavior does not implement it keep the receiver's state when worlds are
// blended.
type Blender[A any] interface {
	Blend(from, to *A, alpha float64) *A
}

// envelope is one pending inbox event.
type envelope[M any] struct {
	src Ref
	msg M
}

// wireEnvelope is the JSON form of an inbox event.
type wireEnvelope struct {
	Src Ref             `json:"src"`
	Msg json.RawMessage `json:"msg"`
}

type state[K keyed.Key[K], A any, M any] struct {
	actor *A
	// inbox holds this tick's pending events, network-delivered and
	// locally generated. It stays readable after apply so the update
	// builder can ship it, and is discarded when the next tick begins.
	inbox []envelope[M]
}

// Pop is the generic population implementation registered into a World.
type Pop[K keyed.Key[K], A any, M any] struct {
	kind      string
	keepalive int
	behavior  Behavior[K, A, M]
	states    *keyed.Sorted[K, *state[K, A, M]]
}

// NewPopulation constructs a population for one actor type. keepalive is
// the number of ticks an actor stays known to a client after last being
// visible.
func NewPopulation[K keyed.Key[K], A any, M any](kind string, keepalive int, behavior Behavior[K, A, M]) *Pop[K, A, M] {
	if kind == ServerPop {
		panic("world: population name " + ServerPop + " is reserved")
	}
	if keepalive < 1 {
		keepalive = 1
	}
	return &Pop[K, A, M]{
		kind:      kind,
		keepalive: keepalive,
		behavior:  behavior,
		states:    keyed.NewSorted[K, *state[K, A, M]](),
	}
}

// Kind returns the population name used on the wire.
func (p *Pop[K, A, M]) Kind() string { return p.kind }

// Keepalive returns the knowledge retention in ticks.
func (p *Pop[K, A, M]) Keepalive() int { return p.keepalive }

// Len reports the number of live actors.
func (p *Pop[K, A, M]) Len() int { return p.states.Len() }

// Add inserts an actor, replacing any existing actor with the same id.
func (p *Pop[K, A, M]) Add(a *A) {
	p.states.Set(p.behavior.ID(a), &state[K, A, M]{actor: a})
}

// Remove deletes an actor and reports whether it was present.
func (p *Pop[K, A, M]) Remove(id K) bool {
	return p.states.Delete(id)
}

// Get returns the live actor for id.
func (p *Pop[K, A, M]) Get(id K) (*A, bool) {
	st, ok := p.states.Get(id)
	if !ok {
		return nil, false
	}
	return st.actor, true
}

// IDs returns the live actor ids in ascending order.
func (p *Pop[K, A, M]) IDs() []K {
	return p.states.Keys()
}

func (p *Pop[K, A, M]) encodeID(id K) (json.RawMessage, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("%s: encode id: %w", p.kind, err)
	}
	return raw, nil
}

func (p *Pop[K, A, M]) decodeID(raw json.RawMessage) (K, error) {
	var id K
	if err := json.Unmarshal(raw, &id); err != nil {
		return id, fmt.Errorf("%s: decode id: %w", p.kind, err)
	}
	return id, nil
}

func (p *Pop[K, A, M]) clone() Population {
	out := &Pop[K, A, M]{
		kind:      p.kind,
		keepalive: p.keepalive,
		behavior:  p.behavior,
	}
	// Pending inboxes are transient tick state and are not carried into
	// clones.
	out.states = p.states.Clone(func(st *state[K, A, M]) *state[K, A, M] {
		return &state[K, A, M]{actor: p.behavior.Clone(st.actor)}
	})
	return out
}

func (p *Pop[K, A, M]) blendToward(next Population, alpha float64) {
	blender, ok := any(p.behavior).(Blender[A])
	if !ok {
		return
	}
	target, ok := next.(*Pop[K, A, M])
	if !ok {
		return
	}
	p.states.Ascend(func(id K, st *state[K, A, M]) bool {
		if counterpart, ok := target.states.Get(id); ok {
			st.actor = blender.Blend(st.actor, counterpart.actor, alpha)
		}
		return true
	})
}

func (p *Pop[K, A, M]) clearInboxes() {
	p.states.Ascend(func(_ K, st *state[K, A, M]) bool {
		st.inbox = nil
		return true
	})
}

func (p *Pop[K, A, M]) generate(ctx *Context, w *World) {
	p.states.Ascend(func(id K, st *state[K, A, M]) bool {
		env := Env{w: w, src: MakeRef(p.kind, id)}
		p.behavior.Generate(ctx, st.actor, &env)
		return true
	})
}

func (p *Pop[K, A, M]) applyInput(ctx *Context, idRaw, payload json.RawMessage) error {
	id, err := p.decodeID(idRaw)
	if err != nil {
		return err
	}
	st, ok := p.states.Get(id)
	if !ok {
		// Inputs addressed to absent actors are dropped.
		return nil
	}
	if err := p.behavior.ApplyInput(ctx, st.actor, payload); err != nil {
		return fmt.Errorf("%s: apply input: %w", p.kind, err)
	}
	return nil
}

func (p *Pop[K, A, M]) applyInboxes(ctx *Context, w *World) {
	p.states.Ascend(func(id K, st *state[K, A, M]) bool {
		if len(st.inbox) > 1 {
			sortEnvelopes(w, st.inbox)
		}
		for _, env := range st.inbox {
			p.behavior.ApplyMessage(ctx, st.actor, env.src, env.msg)
		}
		return true
	})
}

// sortEnvelopes reorders a destination's pending events into the server's
// generation traversal order: source populations in registration order,
// sources ascending by id, emission order preserved per source. The client
// merges network-delivered and locally generated events through the same
// sort, so both sides apply the identical sequence.
func sortEnvelopes[M any](w *World, envs []envelope[M]) {
	sort.SliceStable(envs, func(i, j int) bool {
		a, b := envs[i].src, envs[j].src
		ai, bi := w.popOrder(a.Pop), w.popOrder(b.Pop)
		if ai != bi {
			return ai < bi
		}
		if ai < 0 {
			// Both from the server source; keep arrival order.
			return false
		}
		return w.pops[ai].compareIDs(a.ID, b.ID) < 0
	})
}

func (p *Pop[K, A, M]) deliver(src Ref, idRaw json.RawMessage, msg any) bool {
	typed, ok := msg.(M)
	if !ok {
		panic(fmt.Sprintf("world: population %s cannot receive %T", p.kind, msg))
	}
	id, err := p.decodeID(idRaw)
	if err != nil {
		return false
	}
	st, ok := p.states.Get(id)
	if !ok {
		return false
	}
	st.inbox = append(st.inbox, envelope[M]{src: src, msg: typed})
	return true
}

func (p *Pop[K, A, M]) lookupRaw(idRaw json.RawMessage) (any, bool) {
	id, err := p.decodeID(idRaw)
	if err != nil {
		return nil, false
	}
	st, ok := p.states.Get(id)
	if !ok {
		return nil, false
	}
	return st.actor, true
}

func (p *Pop[K, A, M]) compareIDs(a, b json.RawMessage) int {
	ka, errA := p.decodeID(a)
	kb, errB := p.decodeID(b)
	if errA != nil || errB != nil {
		return 0
	}
	switch {
	case ka.Less(kb):
		return -1
	case kb.Less(ka):
		return 1
	default:
		return 0
	}
}

func (p *Pop[K, A, M]) insertActor(idRaw, actorRaw json.RawMessage) error {
	id, err := p.decodeID(idRaw)
	if err != nil {
		return err
	}
	if _, exists := p.states.Get(id); exists {
		return fmt.Errorf("%w: %s: complete for already-known actor %s", ErrProtocol, p.kind, idRaw)
	}
	actor := new(A)
	if err := json.Unmarshal(actorRaw, actor); err != nil {
		return fmt.Errorf("%s: decode actor %s: %w", p.kind, idRaw, err)
	}
	p.states.Set(id, &state[K, A, M]{actor: actor})
	return nil
}

func (p *Pop[K, A, M]) removeActors(ids []json.RawMessage) error {
	for _, raw := range ids {
		id, err := p.decodeID(raw)
		if err != nil {
			return err
		}
		if !p.states.Delete(id) {
			return fmt.Errorf("%w: %s: removal of unknown actor %s", ErrProtocol, p.kind, raw)
		}
	}
	return nil
}

func (p *Pop[K, A, M]) setInboxes(inboxes []json.RawMessage) error {
	if len(inboxes) != p.states.Len() {
		return fmt.Errorf("%w: %s: %d inboxes for %d known actors", ErrProtocol, p.kind, len(inboxes), p.states.Len())
	}
	idx := 0
	var failure error
	p.states.Ascend(func(_ K, st *state[K, A, M]) bool {
		var wire []wireEnvelope
		if err := json.Unmarshal(inboxes[idx], &wire); err != nil {
			failure = fmt.Errorf("%s: decode inbox %d: %w", p.kind, idx, err)
			return false
		}
		st.inbox = make([]envelope[M], 0, len(wire))
		for _, we := range wire {
			var msg M
			if err := json.Unmarshal(we.Msg, &msg); err != nil {
				failure = fmt.Errorf("%s: decode inbox event: %w", p.kind, err)
				return false
			}
			st.inbox = append(st.inbox, envelope[M]{src: we.Src, msg: msg})
		}
		idx++
		return true
	})
	return failure
}

func (p *Pop[K, A, M]) insertCompletes(completes []Complete) error {
	for _, c := range completes {
		if err := p.insertActor(c.ID, c.Actor); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pop[K, A, M]) accumulateAll(acc Accumulator) error {
	var failure error
	p.states.Ascend(func(id K, st *state[K, A, M]) bool {
		idRaw, err := p.encodeID(id)
		if err != nil {
			failure = err
			return false
		}
		actorRaw, err := json.Marshal(st.actor)
		if err != nil {
			failure = fmt.Errorf("%s: encode actor %s: %w", p.kind, idRaw, err)
			return false
		}
		acc.Fold(idRaw, actorRaw)
		return true
	})
	return failure
}

func (p *Pop[K, A, M]) snapshotAll() ([]Complete, error) {
	out := make([]Complete, 0, p.states.Len())
	var failure error
	p.states.Ascend(func(id K, st *state[K, A, M]) bool {
		idRaw, err := p.encodeID(id)
		if err != nil {
			failure = err
			return false
		}
		actorRaw, err := json.Marshal(st.actor)
		if err != nil {
			failure = fmt.Errorf("%s: encode actor %s: %w", p.kind, idRaw, err)
			return false
		}
		out = append(out, Complete{ID: idRaw, Actor: actorRaw})
		return true
	})
	return out, failure
}

func (p *Pop[K, A, M]) reset() {
	p.states = keyed.NewSorted[K, *state[K, A, M]]()
}
