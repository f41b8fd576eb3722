// Package sigshare is the signing collaborator:
// per-participant ed25519 signature shares over an agreed message,
// collected until the participant quorum is met.
//
// There is no aggregate signature here;
// authorization is the count of distinct valid shares,
// mirroring the quorum rule of the rounds that feed it.
package sigshare

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrDuplicateShare indicates a share from an index
	// that already contributed.
	ErrDuplicateShare = errors.New("signer index already contributed a share")

	// ErrInvalidShare indicates a share that does not verify
	// against the signer's public key.
	ErrInvalidShare = errors.New("share does not verify against signer public key")

	// ErrUnknownSigner indicates a share index outside the cohort.
	ErrUnknownSigner = errors.New("signer index out of range")
)

// Digest returns the canonical hex digest of the message to sign.
// Agents agree on this value in a round before producing shares,
// so every share covers identical bytes.
func Digest(msg []byte) string {
	sum := blake2b.Sum256(msg)
	return hex.EncodeToString(sum[:])
}

// Share is one participant's contribution.
type Share struct {
	Index int
	Sig   []byte
}

// Signer produces shares for one participant.
type Signer struct {
	index int
	priv  ed25519.PrivateKey
}

// NewSigner returns a signer for the participant at the given cohort index.
func NewSigner(index int, priv ed25519.PrivateKey) Signer {
	return Signer{index: index, priv: priv}
}

// Sign produces this participant's share over the message digest.
func (s Signer) Sign(digest string) Share {
	return Share{
		Index: s.index,
		Sig:   ed25519.Sign(s.priv, []byte(digest)),
	}
}

// Accumulator collects shares until the threshold is reached.
type Accumulator struct {
	digest    string
	pubKeys   []ed25519.PublicKey
	threshold int

	have   *bitset.BitSet
	shares []Share
}

// NewAccumulator returns an empty accumulator for the given digest.
// pubKeys is ordered by cohort index; threshold is the participant quorum.
func NewAccumulator(digest string, pubKeys []ed25519.PublicKey, threshold int) (*Accumulator, error) {
	if threshold < 1 || threshold > len(pubKeys) {
		return nil, fmt.Errorf(
			"threshold %d out of range for %d signers", threshold, len(pubKeys),
		)
	}

	return &Accumulator{
		digest:    digest,
		pubKeys:   pubKeys,
		threshold: threshold,

		have: bitset.New(uint(len(pubKeys))),
	}, nil
}

// Add verifies and records a share.
// It returns true once the threshold is met;
// further valid shares are still recorded.
func (a *Accumulator) Add(sh Share) (bool, error) {
	if sh.Index < 0 || sh.Index >= len(a.pubKeys) {
		return a.Thresholded(), ErrUnknownSigner
	}
	if a.have.Test(uint(sh.Index)) {
		return a.Thresholded(), ErrDuplicateShare
	}
	if !ed25519.Verify(a.pubKeys[sh.Index], []byte(a.digest), sh.Sig) {
		return a.Thresholded(), ErrInvalidShare
	}

	a.have.Set(uint(sh.Index))
	a.shares = append(a.shares, sh)
	return a.Thresholded(), nil
}

// Thresholded reports whether enough distinct shares have been collected.
func (a *Accumulator) Thresholded() bool {
	return a.have.Count() >= uint(a.threshold)
}

// Shares returns the collected shares in arrival order.
func (a *Accumulator) Shares() []Share {
	out := make([]Share, len(a.shares))
	copy(out, a.shares)
	return out
}
