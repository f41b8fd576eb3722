// Package rsmlink contains the plain structs exchanged
// between the engine kernel and the behaviour driver.
package rsmlink

import (
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// RoundEntrance is emitted by the engine when it activates a round.
// The driver reacts by running the behaviour matching the round ID.
type RoundEntrance struct {
	RoundID string
	Period  uint64

	// Keeper assigned for the current settlement attempt.
	// Empty when the active round is not keeper-gated.
	Keeper rsm.Participant

	// Data is the engine-owned synchronized data.
	// Drivers read it; only the engine writes it.
	Data *rsmsync.Data
}

// RoundResolution is emitted by the engine when the active round resolves,
// waking any driver suspended on it.
type RoundResolution struct {
	RoundID string
	Period  uint64
	Event   rsm.Event
}
