// Package rsmround implements the round kinds of the engine.
//
// A round collects payloads from the participant cohort,
// applies its resolution policy,
// and emits the event that selects the next round in the transition table.
// Rounds are selected by constructor, not by type hierarchy;
// all kinds share the one [Round] interface.
//
// Rounds are replay-deterministic:
// submitting the same payload stream in the same order
// always yields the same event and the same synchronized data mutation.
package rsmround

import (
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// Round is one phase of the workflow requiring participant agreement.
type Round interface {
	// ID is the stable name of the round, unique within the app.
	ID() string

	// Submit offers one participant's payload to the round.
	//
	// On acceptance that meets the resolution criteria,
	// Submit returns the resolution event and resolved=true.
	// On acceptance that leaves the round pending, it returns (0, false, nil).
	// On rejection it returns a non-nil error and the round is unchanged;
	// rejections are local conditions, never fatal.
	Submit(p rsm.Payload) (ev rsm.Event, resolved bool, err error)

	// CheckResolution reports the resolution event, if any,
	// without submitting anything.
	CheckResolution() (rsm.Event, bool)

	// Apply writes the round's agreed outcome into the synchronized data.
	// The engine calls Apply exactly once, after a successful resolution.
	Apply(sd *rsmsync.Data)
}

// KeeperRound is implemented by rounds that only accept
// the currently assigned keeper's payload.
type KeeperRound interface {
	Round

	// Keeper returns the participant whose payload the round accepts.
	Keeper() rsm.Participant
}
