package rsmround

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// CollectSameConfig configures a [CollectSame] round.
type CollectSameConfig struct {
	ID string

	Participants rsm.ParticipantSet

	// Kind the round accepts; any other kind is rejected.
	PayloadKind rsm.PayloadKind

	// SelectionKey is the synchronized data field
	// that receives the winning value on resolution.
	SelectionKey string

	// SelectEvent maps the winning value to the resolution event.
	// Nil means every winning value resolves [rsm.EventDone].
	SelectEvent func(value string) rsm.Event
}

// CollectSame resolves once at least the consensus threshold of participants
// submit an identical value,
// and resolves no-majority as soon as no value can still reach the threshold
// given the participants yet to submit.
type CollectSame struct {
	cfg CollectSameConfig

	submitted *bitset.BitSet

	entries map[rsm.Participant]string
	tally   map[string]uint

	resolvedEvent rsm.Event
	winningValue  string
}

// NewCollectSame returns an unresolved CollectSame round.
func NewCollectSame(cfg CollectSameConfig) *CollectSame {
	return &CollectSame{
		cfg: cfg,

		submitted: bitset.New(uint(cfg.Participants.Len())),

		entries: make(map[rsm.Participant]string, cfg.Participants.Len()),
		tally:   make(map[string]uint),
	}
}

func (r *CollectSame) ID() string {
	return r.cfg.ID
}

func (r *CollectSame) Submit(p rsm.Payload) (rsm.Event, bool, error) {
	if r.resolvedEvent != 0 {
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

	if prev, ok := r.entries[p.Sender]; ok {
		if prev == p.Value {
			return 0, false, ErrDuplicateSubmission
		}
		// A changed value replaces the sender's entry,
		// permitted only while the round is unresolved.
		r.tally[prev]--
		if r.tally[prev] == 0 {
			delete(r.tally, prev)
		}
	}

	r.submitted.Set(uint(idx))
	r.entries[p.Sender] = p.Value
	r.tally[p.Value]++

	ev, resolved := r.CheckResolution()
	return ev, resolved, nil
}

func (r *CollectSame) CheckResolution() (rsm.Event, bool) {
	if r.resolvedEvent != 0 {
		return r.resolvedEvent, true
	}

	threshold := uint(r.cfg.Participants.Threshold())

	var best uint
	for value, n := range r.tally {
		if n >= threshold {
			r.winningValue = value
			r.resolvedEvent = rsm.EventDone
			if r.cfg.SelectEvent != nil {
				r.resolvedEvent = r.cfg.SelectEvent(value)
			}
			return r.resolvedEvent, true
		}
		if n > best {
			best = n
		}
	}

	// Eager no-majority: even if every remaining participant
	// joined the current best value, the threshold is unreachable.
	remaining := uint(r.cfg.Participants.Len()) - r.submitted.Count()
	if best+remaining < threshold {
		r.resolvedEvent = rsm.EventNoMajority
		return r.resolvedEvent, true
	}

	return 0, false
}

func (r *CollectSame) Apply(sd *rsmsync.Data) {
	if r.resolvedEvent == 0 || r.resolvedEvent == rsm.EventNoMajority {
		return
	}

	sd.Set(r.cfg.SelectionKey, r.winningValue)

	c := make(rsmsync.Collection, len(r.entries))
	for sender, value := range r.entries {
		c[sender] = value
	}
	sd.SetCollection(r.cfg.ID, c)
}
