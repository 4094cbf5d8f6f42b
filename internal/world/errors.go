package world

import "errors"

// ErrProtocol marks a malformed or internally inconsistent update. It is a
// server-side construction bug or a version mismatch, never an expected
// runtime network condition, so callers treat it as fatal.
var ErrProtocol = errors.New("replication protocol violation")

// ErrDesync marks a checksum mismatch between the client's world and the
// server's. No partial repair is attempted; recovery is a full resync at a
// higher layer.
var ErrDesync = errors.New("simulation desync")
