package rsmround

import (
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// Degenerate is a terminal marker round.
// It collects nothing and never resolves on its own;
// the engine leaves it via its configured timeout edge
// (the reset round's pause) or halts on it (a final state).
type Degenerate struct {
	id string
}

// NewDegenerate returns a terminal round with the given ID.
func NewDegenerate(id string) *Degenerate {
	return &Degenerate{id: id}
}

func (r *Degenerate) ID() string {
	return r.id
}

func (r *Degenerate) Submit(rsm.Payload) (rsm.Event, bool, error) {
	return 0, false, ErrDegenerateRound
}

func (r *Degenerate) CheckResolution() (rsm.Event, bool) {
	return 0, false
}

func (r *Degenerate) Apply(*rsmsync.Data) {}
