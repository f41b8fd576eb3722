// Package rsmkeeper chooses the single participant responsible
// for a side-effecting settlement attempt,
// and bounds how many attempts a period may make.
//
// Selection is a pure function of the agreed synchronized data,
// so every node derives the same keeper for the same attempt
// without an extra consensus round.
package rsmkeeper

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// ErrRetriesExhausted indicates the rotation's attempt budget is spent.
// The owning round must resolve with a terminal error event,
// never retry indefinitely.
var ErrRetriesExhausted = errors.New("keeper retry budget exhausted")

// Select derives the keeper for the given attempt
// from the period counter and the agreed seed field.
//
// The seed is typically the agreed price round's winning value;
// any field set by a resolved round works,
// since resolved fields are identical on every honest node.
func Select(sd *rsmsync.Data, seedField string, set rsm.ParticipantSet, attempt uint32) rsm.Participant {
	seed, _ := sd.Get(seedField)

	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], sd.Period())
	binary.BigEndian.PutUint32(buf[8:], attempt)

	sum := blake2b.Sum256(append([]byte(seed), buf[:]...))

	idx := binary.BigEndian.Uint64(sum[:8]) % uint64(set.Len())
	return set.ByIndex(int(idx))
}

// State is the rotation's position in its lifecycle.
type State uint8

const (
	_ State = iota // Zero value reserved.

	// StateUnassigned means no settlement attempt is in flight.
	StateUnassigned

	// StateAssigned means a keeper is responsible for the current attempt.
	StateAssigned

	// StateConfirmed means the keeper's submission resolved the round.
	StateConfirmed

	// StateExhausted means the attempt budget is spent;
	// the period must end with an error.
	StateExhausted
)

// Rotation tracks keeper assignment across the bounded retry budget
// of one settlement round.
type Rotation struct {
	set        rsm.ParticipantSet
	seedField  string
	maxRetries uint32

	state   State
	attempt uint32
	keeper  rsm.Participant
}

// NewRotation returns an unassigned rotation allowing
// maxRetries reassignments after the initial attempt.
func NewRotation(set rsm.ParticipantSet, seedField string, maxRetries uint32) *Rotation {
	return &Rotation{
		set:        set,
		seedField:  seedField,
		maxRetries: maxRetries,

		state: StateUnassigned,
	}
}

// State returns the current lifecycle state.
func (r *Rotation) State() State {
	return r.state
}

// Attempt returns the zero-based attempt counter.
func (r *Rotation) Attempt() uint32 {
	return r.attempt
}

// Keeper returns the assigned keeper.
// Valid only in [StateAssigned] and [StateConfirmed].
func (r *Rotation) Keeper() rsm.Participant {
	return r.keeper
}

// Assign derives and records the keeper for the current attempt.
func (r *Rotation) Assign(sd *rsmsync.Data) (rsm.Participant, error) {
	switch r.state {
	case StateUnassigned:
		// First attempt or post-failure reassignment.
	case StateExhausted:
		return "", ErrRetriesExhausted
	default:
		return "", fmt.Errorf("cannot assign keeper in state %d", r.state)
	}

	r.keeper = Select(sd, r.seedField, r.set, r.attempt)
	r.state = StateAssigned
	return r.keeper, nil
}

// Confirm records that the keeper's submission resolved the round.
func (r *Rotation) Confirm() {
	r.state = StateConfirmed
}

// Fail invalidates the current assignment after a timeout or failure.
//
// Any transaction the failed keeper had in flight is discarded:
// the replacement keeper rebuilds from the agreed synchronized data,
// which is the only artifact all nodes share.
// Exceeding the budget returns [ErrRetriesExhausted]
// and pins the rotation in [StateExhausted].
func (r *Rotation) Fail() error {
	if r.attempt >= r.maxRetries {
		r.state = StateExhausted
		return ErrRetriesExhausted
	}

	r.attempt++
	r.state = StateUnassigned
	r.keeper = ""
	return nil
}
