package oracleapp

import (
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/petrel-net/petrel/sigshare"
)

// ShareSink receives signature shares produced by behaviours
// and answers whether a digest has reached the share threshold.
//
// In production this is the external signing collaborator;
// the in-memory implementation below serves tests and the local demo,
// where the whole cohort runs in one process.
type ShareSink interface {
	AddShare(digest string, sh sigshare.Share) error
	Thresholded(digest string) bool
}

// InmemShares accumulates shares per digest using [sigshare.Accumulator].
type InmemShares struct {
	pubKeys   []ed25519.PublicKey
	threshold int

	mu   sync.Mutex
	accs map[string]*sigshare.Accumulator
}

// NewInmemShares returns an empty share store for the cohort's keys.
func NewInmemShares(pubKeys []ed25519.PublicKey, threshold int) *InmemShares {
	return &InmemShares{
		pubKeys:   pubKeys,
		threshold: threshold,

		accs: make(map[string]*sigshare.Accumulator),
	}
}

// AddShare implements [ShareSink].
// A duplicate share from the same signer is harmless:
// behaviours may retry after a transient failure.
func (s *InmemShares) AddShare(digest string, sh sigshare.Share) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accs[digest]
	if !ok {
		var err error
		acc, err = sigshare.NewAccumulator(digest, s.pubKeys, s.threshold)
		if err != nil {
			return err
		}
		s.accs[digest] = acc
	}

	if _, err := acc.Add(sh); err != nil && !errors.Is(err, sigshare.ErrDuplicateShare) {
		return err
	}
	return nil
}

// Thresholded implements [ShareSink].
func (s *InmemShares) Thresholded(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accs[digest]
	return ok && acc.Thresholded()
}
