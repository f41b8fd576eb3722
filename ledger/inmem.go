package ledger

import (
	"context"
	"sync"
)

// InmemSubmitter is a deterministic in-process [Submitter],
// used by tests and the local demo cohort.
type InmemSubmitter struct {
	mu sync.Mutex

	block    uint64
	receipts map[string]Receipt

	// failNext forces the next n submissions to time out,
	// for keeper failover tests.
	failNext int
}

// NewInmemSubmitter returns an empty in-memory ledger.
func NewInmemSubmitter() *InmemSubmitter {
	return &InmemSubmitter{
		receipts: make(map[string]Receipt),
	}
}

// FailNext makes the next n submissions return [ErrSubmitTimeout].
func (s *InmemSubmitter) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Submit implements [Submitter].
// Resubmitting an already included transaction returns its original receipt,
// so a rotated keeper rebuilding the same multisend is harmless.
func (s *InmemSubmitter) Submit(ctx context.Context, tx Tx) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, context.Cause(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext > 0 {
		s.failNext--
		return Receipt{}, ErrSubmitTimeout
	}

	if r, ok := s.receipts[tx.Hash()]; ok {
		return r, nil
	}

	s.block++
	r := Receipt{TxHash: tx.Hash(), Block: s.block}
	s.receipts[tx.Hash()] = r
	return r, nil
}

// Receipt returns the receipt for a previously included transaction.
func (s *InmemSubmitter) Receipt(txHash string) (Receipt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[txHash]
	return r, ok
}
