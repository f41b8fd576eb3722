package rsm

import (
	"fmt"
	"slices"
)

// Participant is the identity of one agent in the cohort,
// conventionally its on-chain address.
type Participant string

// ParticipantSet is the fixed, ordered cohort for one period.
//
// The set is immutable once constructed;
// every round's quorum threshold is computed against the same set.
type ParticipantSet struct {
	// Ordered, deduplicated members.
	members []Participant

	// Quorum threshold in number of matching submissions.
	threshold int

	indices map[Participant]int
}

// NewParticipantSet returns a set over the given members
// with the default supermajority threshold, ceil((2N+1)/3).
//
// The member order is canonicalized by sorting,
// so every node derives the same indices from the same cohort.
func NewParticipantSet(members []Participant) (ParticipantSet, error) {
	return NewParticipantSetWithThreshold(members, 0)
}

// NewParticipantSetWithThreshold is like [NewParticipantSet]
// but with an explicit consensus threshold.
// A zero threshold selects the default supermajority.
func NewParticipantSetWithThreshold(members []Participant, threshold int) (ParticipantSet, error) {
	if len(members) == 0 {
		return ParticipantSet{}, fmt.Errorf("participant set must not be empty")
	}

	ms := slices.Clone(members)
	slices.Sort(ms)
	ms = slices.Compact(ms)
	if len(ms) != len(members) {
		return ParticipantSet{}, fmt.Errorf(
			"participant set contained duplicates: %d members, %d distinct",
			len(members), len(ms),
		)
	}

	if threshold == 0 {
		threshold = SupermajorityThreshold(len(ms))
	}
	if threshold < 1 || threshold > len(ms) {
		return ParticipantSet{}, fmt.Errorf(
			"threshold %d out of range for %d participants", threshold, len(ms),
		)
	}

	idx := make(map[Participant]int, len(ms))
	for i, m := range ms {
		idx[m] = i
	}

	return ParticipantSet{members: ms, threshold: threshold, indices: idx}, nil
}

// SupermajorityThreshold returns ceil((2n+1)/3),
// the smallest count strictly greater than two thirds of n.
func SupermajorityThreshold(n int) int {
	return (2*n + 3) / 3
}

// Len returns the cohort size N.
func (s ParticipantSet) Len() int {
	return len(s.members)
}

// Threshold returns the consensus threshold for this set.
func (s ParticipantSet) Threshold() int {
	return s.threshold
}

// Index returns the canonical index of p, or -1 if p is not a member.
func (s ParticipantSet) Index(p Participant) int {
	i, ok := s.indices[p]
	if !ok {
		return -1
	}
	return i
}

// ByIndex returns the participant at canonical index i.
func (s ParticipantSet) ByIndex(i int) Participant {
	return s.members[i]
}

// Members returns a copy of the ordered member list.
func (s ParticipantSet) Members() []Participant {
	return slices.Clone(s.members)
}

// Has reports whether p is a member of the set.
func (s ParticipantSet) Has(p Participant) bool {
	_, ok := s.indices[p]
	return ok
}
