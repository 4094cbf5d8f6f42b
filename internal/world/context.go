package world

import "encoding/json"

// Disposition tags why a mutation is happening so game logic can react
// differently, e.g. suppressing side effects while resimulating state the
// player has already seen.
type Disposition int

const (
	// Authoritative marks server ground truth and its acknowledged mirror
	// on the client's real world.
	Authoritative Disposition = iota
	// Predicted marks locally speculative simulation ahead of the last
	// authoritative tick.
	Predicted
	// Replayed marks resimulation of ticks whose outcome was already
	// observed, such as the rollback-and-replay of unacknowledged inputs.
	Replayed
)

func (d Disposition) String() string {
	switch d {
	case Authoritative:
		return "authoritative"
	case Predicted:
		return "predicted"
	case Replayed:
		return "replayed"
	default:
		return "unknown"
	}
}

// Ref names one actor across populations. The id travels in its canonical
// JSON encoding so refs survive a wire round trip without losing identity.
type Ref struct {
	Pop string          `json:"pop"`
	ID  json.RawMessage `json:"id,omitempty"`
}

// ServerPop is the population name of the synthetic always-delivered
// source. Its events bypass knowledge filtering entirely.
const ServerPop = "server"

// ServerRef is the synthetic reliable-ordered source.
var ServerRef = Ref{Pop: ServerPop}

// MakeRef builds a Ref from a typed id.
func MakeRef[K any](pop string, id K) Ref {
	raw, err := json.Marshal(id)
	if err != nil {
		// Ids are plain ints or small structs; a marshal failure is a
		// programming error in the actor type.
		panic("world: unencodable actor id: " + err.Error())
	}
	return Ref{Pop: pop, ID: raw}
}

// Equal reports whether two refs name the same actor.
func (r Ref) Equal(other Ref) bool {
	return r.Pop == other.Pop && string(r.ID) == string(other.ID)
}

// IsServer reports whether the ref is the synthetic server source.
func (r Ref) IsServer() bool {
	return r.Pop == ServerPop
}

// Input is one externally supplied input, addressed to the actor that owns
// it and delivered through the synthetic server source.
type Input struct {
	Target  Ref             `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// Observation is one observable side effect raised while events or inputs
// apply, handed to the tick observer for sound/UI style hooks.
type Observation struct {
	Tick        uint64
	Disposition Disposition
	Actor       Ref
	Kind        string
	Detail      any
}

// Context carries the why and the when of a mutation through the tick call
// chain. It is one explicit record passed by reference rather than a stack
// of wrapper types.
type Context struct {
	Tick        uint64
	Disposition Disposition
	// Observe, when set, receives observable side effects as they apply.
	Observe func(Observation)
}

// Observed raises one observation against the context's observer.
func (c *Context) Observed(actor Ref, kind string, detail any) {
	if c == nil || c.Observe == nil {
		return
	}
	c.Observe(Observation{
		Tick:        c.Tick,
		Disposition: c.Disposition,
		Actor:       actor,
		Kind:        kind,
		Detail:      detail,
	})
}
