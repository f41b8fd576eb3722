// Package rsmp2p declares the boundary to the external consensus transport.
//
// The transport is the component that accepts payload proposals,
// totally orders them across the cohort,
// and delivers the same committed stream to every node.
// The engine only consumes these guarantees;
// it does not implement ordering, gossip, or leader election.
package rsmp2p

import (
	"context"

	"github.com/petrel-net/petrel/rsm"
)

// CommittedEntry is one committed payload in the transport's total order.
// A payload must not be treated as accepted before it arrives here.
type CommittedEntry struct {
	Sender  rsm.Participant
	Payload rsm.Payload
}

// Broadcaster submits payloads to the transport for ordering.
type Broadcaster interface {
	// Propose offers the payload for ordering.
	// A nil return means the transport took custody of the payload,
	// not that the payload was committed.
	Propose(ctx context.Context, p rsm.Payload) error
}

// CommitStream delivers the transport's committed entries in total order.
type CommitStream interface {
	// Committed returns the channel of committed entries.
	// The channel is closed when the transport shuts down.
	Committed() <-chan CommittedEntry
}

// Connection is one node's attachment to the transport.
type Connection interface {
	Broadcaster
	CommitStream

	// Disconnect detaches the node; Committed's channel is closed.
	Disconnect()
}
