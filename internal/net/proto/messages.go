// Package proto defines the versioned JSON envelopes exchanged between the
// gridlock server and its clients. Every frame carries the protocol version
// and a type tag; payload layouts are frozen per version.
package proto

import (
	"encoding/json"
	"fmt"

	"gridlock/server/internal/lockstep"
	"gridlock/server/internal/world"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound frames.
	typeJoined   = "joined"
	typeKeyframe = "keyframe"
	typeUpdate   = "update"
	typePong     = "pong"
	typeReject   = "reject"
)

// Client message type identifiers.
const (
	TypeJoin      = "join"
	TypeInput     = "input"
	TypePing      = "ping"
	TypeResyncReq = "resyncRequest"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeJoined   = typeJoined
	TypeKeyframe = typeKeyframe
	TypeUpdate   = typeUpdate
	TypePong     = typePong
	TypeReject   = typeReject
)

// ClientMessage captures an inbound frame from the client. Fields beyond
// Type are populated per message kind.
type ClientMessage struct {
	Ver  int    `json:"ver,omitempty"`
	Type string `json:"type"`

	// TypeJoin
	Name string `json:"name,omitempty"`

	// TypeInput
	First  uint32        `json:"first,omitempty"`
	Inputs []world.Input `json:"inputs,omitempty"`

	// TypePing
	ClientTime int64 `json:"clientTime,omitempty"`
}

// DecodeClientMessage converts a raw frame into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// InputRequest extracts the lockstep request carried by an input message.
func InputRequest(msg ClientMessage) (*lockstep.Request, bool) {
	if msg.Type != TypeInput || len(msg.Inputs) == 0 {
		return nil, false
	}
	return &lockstep.Request{First: msg.First, Inputs: msg.Inputs}, true
}

// Joined is the handshake response assigning the client its identity.
type Joined struct {
	ID       string
	TickRate int
	Radius   int
}

// EncodeJoined renders the handshake response payload.
func EncodeJoined(msg Joined) ([]byte, error) {
	frame := struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		ID       string `json:"id"`
		TickRate int    `json:"tickRate"`
		Radius   int    `json:"radius"`
	}{
		Ver:      Version,
		Type:     typeJoined,
		ID:       msg.ID,
		TickRate: msg.TickRate,
		Radius:   msg.Radius,
	}
	return json.Marshal(frame)
}

// KeyframeV1 carries a full world snapshot that replaces the client's
// replicated state, plus the acknowledgement cursor it resets to.
type KeyframeV1 struct {
	Ver          int             `json:"ver"`
	Type         string          `json:"type"`
	Keyframe     *world.Keyframe `json:"keyframe"`
	LastApplied  uint32          `json:"lastApplied"`
	LastReceived uint32          `json:"lastReceived"`
	Occupancy    float64         `json:"occupancy"`
}

// EncodeKeyframe renders a keyframe payload.
func EncodeKeyframe(msg KeyframeV1) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeKeyframe
	return json.Marshal(msg)
}

// UpdateV1 carries one tick's incremental update together with the inputs
// other clients fed into it, the input acknowledgement cursors, and the
// server's view of the input queue.
type UpdateV1 struct {
	Ver          int           `json:"ver"`
	Type         string        `json:"type"`
	Update       *world.Update `json:"update"`
	Relayed      []world.Input `json:"relayed,omitempty"`
	LastApplied  uint32        `json:"lastApplied"`
	LastReceived uint32        `json:"lastReceived"`
	Occupancy    float64       `json:"occupancy"`
}

// EncodeUpdate renders an incremental update payload.
func EncodeUpdate(msg UpdateV1) ([]byte, error) {
	msg.Ver = Version
	msg.Type = typeUpdate
	return json.Marshal(msg)
}

// ServerUpdate converts a decoded keyframe or update frame into the form
// the lockstep client consumes.
func (m KeyframeV1) ServerUpdate() *lockstep.ServerUpdate {
	return &lockstep.ServerUpdate{
		Init:         m.Keyframe,
		LastApplied:  m.LastApplied,
		LastReceived: m.LastReceived,
		Occupancy:    m.Occupancy,
	}
}

// ServerUpdate converts a decoded update frame into the form the lockstep
// client consumes.
func (m UpdateV1) ServerUpdate() *lockstep.ServerUpdate {
	return &lockstep.ServerUpdate{
		Update:       m.Update,
		Relayed:      m.Relayed,
		LastApplied:  m.LastApplied,
		LastReceived: m.LastReceived,
		Occupancy:    m.Occupancy,
	}
}

// Pong echoes timing metadata back to the client.
type Pong struct {
	ServerTime int64
	ClientTime int64
}

// EncodePong renders a ping acknowledgement payload.
func EncodePong(msg Pong) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
	}{
		Ver:        Version,
		Type:       typePong,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
	}
	return json.Marshal(frame)
}

// Reject notifies the client that a frame was refused.
type Reject struct {
	Reason string
	Fatal  bool
}

// EncodeReject renders a rejection payload.
func EncodeReject(msg Reject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Reason string `json:"reason"`
		Fatal  bool   `json:"fatal,omitempty"`
	}{
		Ver:    Version,
		Type:   typeReject,
		Reason: msg.Reason,
		Fatal:  msg.Fatal,
	}
	return json.Marshal(frame)
}
