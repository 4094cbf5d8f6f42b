// Package intake vets inbound input batches before they reach a session's
// tick queue. The authoritative loop trusts queued inputs, so everything a
// client could forge is checked here.
package intake

import (
	"bytes"

	"gridlock/server/internal/game"
	"gridlock/server/internal/lockstep"
	"gridlock/server/internal/world"
)

// Rejection reasons reported back to the client.
const (
	RejectForeignTarget = "input targets another actor"
	RejectWrongPop      = "input targets a non-player population"
	RejectEmptyPayload  = "input carries no payload"
	RejectBatchTooLarge = "input batch exceeds the window"
)

// MaxBatch bounds one frame's input batch. A well-behaved client never
// retransmits more than its own window, which is far below this.
const MaxBatch = 256

// VetRequest checks that every input in a batch steers the sender's own
// actor. It returns the reason for the first offending input, or ok.
func VetRequest(owner game.PlayerID, req *lockstep.Request) (bool, string) {
	if len(req.Inputs) > MaxBatch {
		return false, RejectBatchTooLarge
	}
	own := world.MakeRef(game.PopPlayers, owner)
	for _, in := range req.Inputs {
		if in.Target.Pop != game.PopPlayers {
			return false, RejectWrongPop
		}
		if !bytes.Equal(in.Target.ID, own.ID) {
			return false, RejectForeignTarget
		}
		if len(in.Payload) == 0 {
			return false, RejectEmptyPayload
		}
	}
	return true, ""
}
