package world

import (
	"encoding/json"
	"fmt"

	"gridlock/server/internal/keyed"
)

// kentry tracks one client's awareness of one actor.
//
// Lifecycle: fresh (just became visible, pending its complete) -> known
// (keepalive ticking down, refreshed while visible) -> expiring (keepalive
// exhausted, not yet physically removed) -> removed. Keepalive absorbs
// visibility flicker without resending full state.
type kentry struct {
	remaining int
	fresh     bool
	expiring  bool
}

func (e *kentry) expired() bool {
	return e.expiring
}

// popKnowledge is the type-erased per-population half of a client's
// knowledge; the concrete value is created and consumed by the same
// population, which restores the typed view internally.
type popKnowledge interface {
	size() int
}

type popK[K keyed.Key[K]] struct {
	entries *keyed.Sorted[K, *kentry]
}

func (k *popK[K]) size() int {
	return k.entries.Len()
}

// Knowledge is one client's per-actor-type record of which actors it
// currently knows and for how much longer. It holds only ids and counters,
// never references into the World.
type Knowledge struct {
	pops []popKnowledge
}

// KnownCount reports the number of known actors for the population at the
// given registration index.
func (k *Knowledge) KnownCount(index int) int {
	if k == nil || index < 0 || index >= len(k.pops) {
		return 0
	}
	return k.pops[index].size()
}

func (p *Pop[K, A, M]) newKnowledge() popKnowledge {
	return &popK[K]{entries: keyed.NewSorted[K, *kentry]()}
}

func (p *Pop[K, A, M]) primeKnowledge(know popKnowledge) error {
	typed, err := p.typedKnowledge(know)
	if err != nil {
		return err
	}
	p.states.Ascend(func(id K, _ *state[K, A, M]) bool {
		typed.entries.Set(id, &kentry{remaining: p.keepalive})
		return true
	})
	return nil
}

func (p *Pop[K, A, M]) typedKnowledge(know popKnowledge) (*popK[K], error) {
	typed, ok := know.(*popK[K])
	if !ok {
		return nil, fmt.Errorf("%w: %s: knowledge built for a different world layout", ErrProtocol, p.kind)
	}
	return typed, nil
}

// updateKnowledge runs the per-tick knowledge steps for this population:
// decrement keepalives and mark expired or vanished actors, refresh or
// insert entries for the currently visible ids, then evict everything still
// marked and return the removed ids.
func (p *Pop[K, A, M]) updateKnowledge(know popKnowledge, visible []any) ([]json.RawMessage, error) {
	typed, err := p.typedKnowledge(know)
	if err != nil {
		return nil, err
	}

	typed.entries.Ascend(func(id K, e *kentry) bool {
		e.remaining--
		if e.remaining <= 0 {
			e.expiring = true
		}
		if _, alive := p.states.Get(id); !alive {
			e.expiring = true
		}
		return true
	})

	for _, raw := range visible {
		id, ok := raw.(K)
		if !ok {
			return nil, fmt.Errorf("%w: %s: visibility yielded %T", ErrProtocol, p.kind, raw)
		}
		if _, alive := p.states.Get(id); !alive {
			continue
		}
		if e, ok := typed.entries.Get(id); ok {
			e.remaining = p.keepalive
			e.expiring = false
			continue
		}
		typed.entries.Set(id, &kentry{remaining: p.keepalive, fresh: true})
	}

	var removals []json.RawMessage
	var evicted []K
	typed.entries.Ascend(func(id K, e *kentry) bool {
		if e.expiring {
			evicted = append(evicted, id)
		}
		return true
	})
	for _, id := range evicted {
		raw, err := p.encodeID(id)
		if err != nil {
			return nil, err
		}
		removals = append(removals, raw)
		typed.entries.Delete(id)
	}
	return removals, nil
}

// activeIDs returns the encoded ids of actors this client simulates itself:
// known, non-fresh entries. Events from active sources are filtered out of
// shipped inboxes because the client regenerates them locally; shipping
// them too would double-apply.
func (p *Pop[K, A, M]) activeIDs(know popKnowledge) (map[string]struct{}, error) {
	typed, err := p.typedKnowledge(know)
	if err != nil {
		return nil, err
	}
	active := make(map[string]struct{}, typed.entries.Len())
	var failure error
	typed.entries.Ascend(func(id K, e *kentry) bool {
		if e.fresh {
			return true
		}
		raw, err := p.encodeID(id)
		if err != nil {
			failure = err
			return false
		}
		active[string(raw)] = struct{}{}
		return true
	})
	return active, failure
}

// emit produces the per-actor payloads for one update: a complete for every
// fresh entry and a filtered inbox for every known one. Fresh flags clear
// once their complete is emitted. The positional correspondence between
// inboxes and known actors is part of the protocol.
func (p *Pop[K, A, M]) emit(know popKnowledge, include func(src Ref) bool) ([]Complete, []json.RawMessage, error) {
	typed, err := p.typedKnowledge(know)
	if err != nil {
		return nil, nil, err
	}
	var completes []Complete
	var inboxes []json.RawMessage
	var failure error
	typed.entries.Ascend(func(id K, e *kentry) bool {
		st, ok := p.states.Get(id)
		if !ok {
			failure = fmt.Errorf("%w: %s: known actor missing after eviction pass", ErrProtocol, p.kind)
			return false
		}
		idRaw, err := p.encodeID(id)
		if err != nil {
			failure = err
			return false
		}
		if e.fresh {
			actorRaw, err := json.Marshal(st.actor)
			if err != nil {
				failure = fmt.Errorf("%s: encode actor %s: %w", p.kind, idRaw, err)
				return false
			}
			completes = append(completes, Complete{ID: idRaw, Actor: actorRaw})
			e.fresh = false
			return true
		}
		wire := make([]wireEnvelope, 0, len(st.inbox))
		for _, env := range st.inbox {
			if include != nil && !include(env.src) {
				continue
			}
			msgRaw, err := json.Marshal(env.msg)
			if err != nil {
				failure = fmt.Errorf("%s: encode inbox event: %w", p.kind, err)
				return false
			}
			wire = append(wire, wireEnvelope{Src: env.src, Msg: msgRaw})
		}
		encoded, err := json.Marshal(wire)
		if err != nil {
			failure = fmt.Errorf("%s: encode inbox: %w", p.kind, err)
			return false
		}
		inboxes = append(inboxes, encoded)
		return true
	})
	if failure != nil {
		return nil, nil, failure
	}
	return completes, inboxes, nil
}

// accumulateKnown folds (id, actor) for every actor the client knows, in
// ascending id order.
func (p *Pop[K, A, M]) accumulateKnown(know popKnowledge, acc Accumulator) error {
	typed, err := p.typedKnowledge(know)
	if err != nil {
		return err
	}
	var failure error
	typed.entries.Ascend(func(id K, _ *kentry) bool {
		st, ok := p.states.Get(id)
		if !ok {
			failure = fmt.Errorf("%w: %s: known actor missing during checksum", ErrProtocol, p.kind)
			return false
		}
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
