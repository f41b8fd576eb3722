// Package ledger is the contract collaborator:
// it builds multisend transactions targeting a fixed multisig (safe) address
// and submits them for inclusion.
//
// The engine only orchestrates when these calls happen
// and what quorum authorizes them;
// broadcasting mechanics live behind the [Submitter] interface.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// ErrSubmitTimeout indicates the ledger did not confirm the transaction
// within the submitter's deadline.
var ErrSubmitTimeout = errors.New("transaction submission timed out")

// Call is one entry of a multisend transaction.
type Call struct {
	To    string
	Value uint64
	Data  []byte
}

// Tx is a built, hashable multisend transaction.
type Tx struct {
	Safe  string
	Calls []Call

	hash string
}

// Hash returns the transaction hash computed at build time.
func (tx Tx) Hash() string {
	return tx.hash
}

// Receipt is the ledger's confirmation of an included transaction.
type Receipt struct {
	TxHash string
	Block  uint64
}

// TxBuilder builds multisend transactions for one safe address.
type TxBuilder struct {
	safe string
}

// NewTxBuilder returns a builder targeting the given safe address.
func NewTxBuilder(safe string) *TxBuilder {
	return &TxBuilder{safe: safe}
}

// BuildMultisend assembles the calls into a transaction
// with a deterministic hash:
// every node building from the same agreed calls derives the same hash.
func (b *TxBuilder) BuildMultisend(calls []Call) (Tx, error) {
	if len(calls) == 0 {
		return Tx{}, fmt.Errorf("multisend requires at least one call")
	}

	// Canonical call order, so hash equality
	// does not depend on collection order.
	sorted := make([]Call, len(calls))
	copy(sorted, calls)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].To != sorted[j].To {
			return sorted[i].To < sorted[j].To
		}
		return sorted[i].Value < sorted[j].Value
	})

	h, err := blake2b.New256(nil)
	if err != nil {
		return Tx{}, fmt.Errorf("failed to initialize transaction hasher: %w", err)
	}

	h.Write([]byte(b.safe))
	var buf [8]byte
	for _, c := range sorted {
		h.Write([]byte(c.To))
		binary.BigEndian.PutUint64(buf[:], c.Value)
		h.Write(buf[:])
		h.Write(c.Data)
	}

	return Tx{
		Safe:  b.safe,
		Calls: sorted,
		hash:  "0x" + hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Submitter submits built transactions to the ledger.
type Submitter interface {
	// Submit broadcasts tx and blocks until inclusion,
	// the submitter's own deadline ([ErrSubmitTimeout]),
	// or ctx cancellation.
	Submit(ctx context.Context, tx Tx) (Receipt, error)
}
