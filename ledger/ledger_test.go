package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrel-net/petrel/ledger"
)

func TestBuildMultisendDeterministicHash(t *testing.T) {
	b := ledger.NewTxBuilder("0xsafe")

	calls := []ledger.Call{
		{To: "0xbbb", Value: 7},
		{To: "0xaaa", Value: 3, Data: []byte("memo")},
	}

	tx1, err := b.BuildMultisend(calls)
	require.NoError(t, err)

	// Same calls in reverse order hash identically.
	reversed := []ledger.Call{calls[1], calls[0]}
	tx2, err := b.BuildMultisend(reversed)
	require.NoError(t, err)

	require.Equal(t, tx1.Hash(), tx2.Hash())
	require.Equal(t, tx1.Calls, tx2.Calls)

	// Any change to the content changes the hash.
	tx3, err := b.BuildMultisend([]ledger.Call{
		{To: "0xbbb", Value: 8},
		{To: "0xaaa", Value: 3, Data: []byte("memo")},
	})
	require.NoError(t, err)
	require.NotEqual(t, tx1.Hash(), tx3.Hash())

	// A different safe address changes the hash too.
	other := ledger.NewTxBuilder("0xother")
	tx4, err := other.BuildMultisend(calls)
	require.NoError(t, err)
	require.NotEqual(t, tx1.Hash(), tx4.Hash())
}

func TestBuildMultisendRejectsEmpty(t *testing.T) {
	b := ledger.NewTxBuilder("0xsafe")
	_, err := b.BuildMultisend(nil)
	require.Error(t, err)
}

func TestInmemSubmitterIdempotent(t *testing.T) {
	ctx := context.Background()

	b := ledger.NewTxBuilder("0xsafe")
	tx, err := b.BuildMultisend([]ledger.Call{{To: "0xaaa", Value: 1}})
	require.NoError(t, err)

	s := ledger.NewInmemSubmitter()

	r1, err := s.Submit(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), r1.TxHash)

	// A rotated keeper resubmitting the same transaction
	// gets the original receipt, not a new inclusion.
	r2, err := s.Submit(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, r1, r2)

	stored, ok := s.Receipt(tx.Hash())
	require.True(t, ok)
	require.Equal(t, r1, stored)
}

func TestInmemSubmitterFailNext(t *testing.T) {
	ctx := context.Background()

	b := ledger.NewTxBuilder("0xsafe")
	tx, err := b.BuildMultisend([]ledger.Call{{To: "0xaaa", Value: 1}})
	require.NoError(t, err)

	s := ledger.NewInmemSubmitter()
	s.FailNext(2)

	_, err = s.Submit(ctx, tx)
	require.ErrorIs(t, err, ledger.ErrSubmitTimeout)
	_, err = s.Submit(ctx, tx)
	require.ErrorIs(t, err, ledger.ErrSubmitTimeout)

	r, err := s.Submit(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), r.TxHash)

	// No receipt was recorded for the failed attempts.
	require.Equal(t, uint64(1), r.Block)
}
