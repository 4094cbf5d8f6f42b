package proto

import (
	"encoding/json"
	"testing"

	"gridlock/server/internal/world"
)

func TestDecodeClientMessageDefaultsVersion(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"ping","clientTime":42}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Ver != Version {
		t.Fatalf("expected implied version %d, got %d", Version, msg.Ver)
	}
	if msg.Type != TypePing || msg.ClientTime != 42 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDecodeClientMessageRejectsUnknownVersion(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"ver":9,"type":"ping"}`)); err == nil {
		t.Fatalf("expected version mismatch to be rejected")
	}
}

func TestDecodeClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected malformed payload to be rejected")
	}
}

func TestInputRequestExtractsWindow(t *testing.T) {
	payload := []byte(`{"type":"input","first":7,"inputs":[` +
		`{"target":{"pop":"players","id":"p1"},"payload":{"thrust":1}},` +
		`{"target":{"pop":"players","id":"p1"},"payload":{"thrust":0}}]}`)
	msg, err := DecodeClientMessage(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req, ok := InputRequest(msg)
	if !ok {
		t.Fatalf("expected input request")
	}
	if req.First != 7 || len(req.Inputs) != 2 {
		t.Fatalf("unexpected request first=%d inputs=%d", req.First, len(req.Inputs))
	}
	if req.Inputs[0].Target.Pop != "players" {
		t.Fatalf("unexpected target %+v", req.Inputs[0].Target)
	}
}

func TestInputRequestIgnoresEmptyAndForeignMessages(t *testing.T) {
	if _, ok := InputRequest(ClientMessage{Type: TypeInput}); ok {
		t.Fatalf("expected empty input batch to be ignored")
	}
	if _, ok := InputRequest(ClientMessage{Type: TypePing}); ok {
		t.Fatalf("expected ping to be ignored")
	}
}

func TestEncodeJoinedStampsVersionAndType(t *testing.T) {
	encoded, err := EncodeJoined(Joined{ID: "p1", TickRate: 20, Radius: 300})
	if err != nil {
		t.Fatalf("encode joined: %v", err)
	}
	var decoded struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		ID       string `json:"id"`
		TickRate int    `json:"tickRate"`
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Ver != Version || decoded.Type != TypeJoined {
		t.Fatalf("unexpected envelope %+v", decoded)
	}
	if decoded.ID != "p1" || decoded.TickRate != 20 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKeyframeRoundTripFeedsReplication(t *testing.T) {
	frame := &world.Keyframe{Tick: 12}
	encoded, err := EncodeKeyframe(KeyframeV1{
		Keyframe:     frame,
		LastApplied:  3,
		LastReceived: 5,
		Occupancy:    0.25,
	})
	if err != nil {
		t.Fatalf("encode keyframe: %v", err)
	}

	var decoded KeyframeV1
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal keyframe: %v", err)
	}
	if decoded.Ver != Version || decoded.Type != TypeKeyframe {
		t.Fatalf("unexpected envelope ver=%d type=%q", decoded.Ver, decoded.Type)
	}

	update := decoded.ServerUpdate()
	if update.Init == nil || update.Init.Tick != 12 {
		t.Fatalf("expected keyframe payload to survive the round trip: %+v", update.Init)
	}
	if update.Update != nil {
		t.Fatalf("keyframes must not carry an incremental update")
	}
	if update.LastApplied != 3 || update.LastReceived != 5 || update.Occupancy != 0.25 {
		t.Fatalf("unexpected cursors %+v", update)
	}
}

func TestUpdateRoundTripFeedsReplication(t *testing.T) {
	encoded, err := EncodeUpdate(UpdateV1{
		Update:       &world.Update{Tick: 13},
		LastApplied:  4,
		LastReceived: 4,
		Occupancy:    0.5,
	})
	if err != nil {
		t.Fatalf("encode update: %v", err)
	}

	var decoded UpdateV1
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if decoded.Type != TypeUpdate {
		t.Fatalf("unexpected type %q", decoded.Type)
	}

	update := decoded.ServerUpdate()
	if update.Init != nil {
		t.Fatalf("incremental updates must not carry a keyframe")
	}
	if update.Update == nil || update.Update.Tick != 13 {
		t.Fatalf("expected update payload to survive the round trip: %+v", update.Update)
	}
}

func TestEncodeRejectOmitsFatalWhenRecoverable(t *testing.T) {
	encoded, err := EncodeReject(Reject{Reason: "bad frame"})
	if err != nil {
		t.Fatalf("encode reject: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal reject: %v", err)
	}
	if decoded["type"] != TypeReject || decoded["reason"] != "bad frame" {
		t.Fatalf("unexpected reject %+v", decoded)
	}
	if _, present := decoded["fatal"]; present {
		t.Fatalf("recoverable rejects should omit the fatal flag")
	}
}
