package rsmround

import (
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// OnlyKeeperConfig configures an [OnlyKeeper] round.
type OnlyKeeperConfig struct {
	ID string

	Participants rsm.ParticipantSet

	PayloadKind rsm.PayloadKind

	// Keeper is the single participant whose payload the round accepts.
	Keeper rsm.Participant

	// SelectionKey receives the keeper's value on resolution.
	SelectionKey string
}

// OnlyKeeper accepts a payload only from the assigned keeper
// and resolves done on receipt.
// The keeper failing to submit in time is handled by the engine's
// round deadline, not by the round itself.
type OnlyKeeper struct {
	cfg OnlyKeeperConfig

	value    string
	resolved bool
}

// NewOnlyKeeper returns an unresolved OnlyKeeper round.
func NewOnlyKeeper(cfg OnlyKeeperConfig) *OnlyKeeper {
	return &OnlyKeeper{cfg: cfg}
}

func (r *OnlyKeeper) ID() string {
	return r.cfg.ID
}

// Keeper implements [KeeperRound].
func (r *OnlyKeeper) Keeper() rsm.Participant {
	return r.cfg.Keeper
}

func (r *OnlyKeeper) Submit(p rsm.Payload) (rsm.Event, bool, error) {
	if r.resolved {
		return 0, false, ErrAlreadyResolved
	}
	if p.RoundID != r.cfg.ID {
		return 0, false, ErrWrongRound
	}
	if p.Kind != r.cfg.PayloadKind {
		return 0, false, ErrWrongKind
	}
	if !r.cfg.Participants.Has(p.Sender) {
		return 0, false, ErrUnknownSender
	}
	if p.Sender != r.cfg.Keeper {
		return 0, false, ErrNotKeeper
	}

	r.value = p.Value
	r.resolved = true
	return rsm.EventDone, true, nil
}

func (r *OnlyKeeper) CheckResolution() (rsm.Event, bool) {
	if r.resolved {
		return rsm.EventDone, true
	}
	return 0, false
}

func (r *OnlyKeeper) Apply(sd *rsmsync.Data) {
	if !r.resolved {
		return
	}

	sd.Set(r.cfg.SelectionKey, r.value)
	sd.SetCollection(r.cfg.ID, rsmsync.Collection{r.cfg.Keeper: r.value})
}
