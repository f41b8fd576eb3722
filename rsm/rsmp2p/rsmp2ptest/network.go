// Package rsmp2ptest provides an in-memory ordered transport
// for multi-node engine tests.
//
// Every proposed payload is committed in a single total order
// and delivered to every connection in that order,
// which is exactly the guarantee the engine assumes
// from a production BFT transport.
package rsmp2ptest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/petrel-net/petrel/internal/rchan"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
)

// Network is the in-memory transport hub.
type Network struct {
	log *slog.Logger

	proposals chan rsm.Payload

	mu    sync.Mutex
	conns []*Conn

	done chan struct{}
}

// NewNetwork returns a running network hub.
// Cancel ctx and call Wait to shut it down.
func NewNetwork(ctx context.Context, log *slog.Logger) *Network {
	n := &Network{
		log: log,

		// Arbitrary buffer so slow delivery rarely blocks proposers.
		proposals: make(chan rsm.Payload, 16),

		done: make(chan struct{}),
	}
	go n.kernel(ctx)
	return n
}

// Wait blocks until the hub goroutine has stopped.
func (n *Network) Wait() {
	<-n.done
}

// Connect attaches one node to the network.
func (n *Network) Connect() *Conn {
	c := &Conn{
		n: n,
		// Generously buffered: test nodes may connect
		// before their engines start consuming.
		committed: make(chan rsmp2p.CommittedEntry, 256),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns = append(n.conns, c)
	return c
}

func (n *Network) kernel(ctx context.Context) {
	defer close(n.done)
	defer n.closeAll()

	for {
		p, ok := rchan.RecvC(ctx, n.log, n.proposals, "receiving proposal in network kernel")
		if !ok {
			return
		}

		entry := rsmp2p.CommittedEntry{Sender: p.Sender, Payload: p}

		n.mu.Lock()
		conns := make([]*Conn, len(n.conns))
		copy(conns, n.conns)
		n.mu.Unlock()

		// Deliver in connection order, blocking per connection,
		// so every node observes the identical committed sequence.
		for _, c := range conns {
			if c.disconnected.Load() {
				continue
			}
			if !rchan.SendC(ctx, n.log, c.committed, entry, "delivering committed entry") {
				return
			}
		}
	}
}

func (n *Network) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		c.closeOnce.Do(func() { close(c.committed) })
	}
}

// Conn is one node's attachment to the test network.
type Conn struct {
	n *Network

	committed chan rsmp2p.CommittedEntry

	disconnected atomic.Bool
	closeOnce    sync.Once
}

var _ rsmp2p.Connection = (*Conn)(nil)

// Propose implements [rsmp2p.Broadcaster].
func (c *Conn) Propose(ctx context.Context, p rsm.Payload) error {
	select {
	case c.n.proposals <- p:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Committed implements [rsmp2p.CommitStream].
func (c *Conn) Committed() <-chan rsmp2p.CommittedEntry {
	return c.committed
}

// Disconnect implements [rsmp2p.Connection].
// The connection's committed channel stops receiving new entries;
// it is closed when the network shuts down.
func (c *Conn) Disconnect() {
	c.disconnected.Store(true)
}
