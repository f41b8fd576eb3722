package rsmround

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// CollectDifferentConfig configures a [CollectDifferent] round.
type CollectDifferentConfig struct {
	ID string

	Participants rsm.ParticipantSet

	PayloadKind rsm.PayloadKind
}

// CollectDifferent gathers one artifact per participant,
// resolving done once every participant has submitted.
// Values may differ; only the collection snapshot is recorded.
type CollectDifferent struct {
	cfg CollectDifferentConfig

	submitted *bitset.BitSet

	entries map[rsm.Participant]string

	resolved bool
}

// NewCollectDifferent returns an unresolved CollectDifferent round.
func NewCollectDifferent(cfg CollectDifferentConfig) *CollectDifferent {
	return &CollectDifferent{
		cfg: cfg,

		submitted: bitset.New(uint(cfg.Participants.Len())),

		entries: make(map[rsm.Participant]string, cfg.Participants.Len()),
	}
}

func (r *CollectDifferent) ID() string {
	return r.cfg.ID
}

func (r *CollectDifferent) Submit(p rsm.Payload) (rsm.Event, bool, error) {
	if r.resolved {
		return 0, false, ErrAlreadyResolved
	}
	if p.RoundID != r.cfg.ID {
		return 0, false, ErrWrongRound
	}
	if p.Kind != r.cfg.PayloadKind {
		return 0, false, ErrWrongKind
	}

	idx := r.cfg.Participants.Index(p.Sender)
	if idx < 0 {
		return 0, false, ErrUnknownSender
	}
	if r.submitted.Test(uint(idx)) {
		return 0, false, ErrDuplicateSubmission
	}

	r.submitted.Set(uint(idx))
	r.entries[p.Sender] = p.Value

	ev, resolved := r.CheckResolution()
	return ev, resolved, nil
}

func (r *CollectDifferent) CheckResolution() (rsm.Event, bool) {
	if r.resolved {
		return rsm.EventDone, true
	}
	if r.submitted.Count() == uint(r.cfg.Participants.Len()) {
		r.resolved = true
		return rsm.EventDone, true
	}
	return 0, false
}

func (r *CollectDifferent) Apply(sd *rsmsync.Data) {
	if !r.resolved {
		return
	}

	c := make(rsmsync.Collection, len(r.entries))
	for sender, value := range r.entries {
		c[sender] = value
	}
	sd.SetCollection(r.cfg.ID, c)
}
