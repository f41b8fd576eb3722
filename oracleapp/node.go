package oracleapp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmapp"
	"github.com/petrel-net/petrel/rsm/rsmdriver"
	"github.com/petrel-net/petrel/rsm/rsmengine"
	"github.com/petrel-net/petrel/rsm/rsmengine/rsmlink"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// NodeConfig wires one agent's engine and driver together.
type NodeConfig struct {
	// Self is this agent's identity within the cohort.
	Self rsm.Participant

	Participants rsm.ParticipantSet

	App rsmapp.App

	// Conn is this node's attachment to the ordered transport.
	Conn rsmp2p.Connection

	Behaviours []rsmdriver.Behaviour

	Retry rsmdriver.RetryConfig

	KeeperAllowedRetries uint32

	// MaxFailedPeriods bounds consecutive failed periods; zero is unlimited.
	MaxFailedPeriods uint

	// InitialData seeds the synchronized data; nil starts empty.
	InitialData *rsmsync.Data
}

// Node is one agent process: an engine kernel folding the committed stream
// and a driver running the agent's behaviours.
type Node struct {
	Engine *rsmengine.Engine
	Driver *rsmdriver.Driver
}

// NewNode starts the engine and driver for one agent.
// Stop the node by canceling ctx, then call Wait.
func NewNode(ctx context.Context, log *slog.Logger, cfg NodeConfig) (*Node, error) {
	// Unbuffered on purpose: the engine must not race ahead of the driver,
	// matching the one-behaviour-at-a-time cooperative model.
	entrances := make(chan rsmlink.RoundEntrance)
	resolutions := make(chan rsmlink.RoundResolution)

	engine, err := rsmengine.New(ctx, log.With("sys", "engine"), rsmengine.Config{
		App: cfg.App,

		Participants: cfg.Participants,

		InitialData: cfg.InitialData,

		Commits: cfg.Conn,

		KeeperSeedField:      rsmapp.FieldMostVotedPrice,
		KeeperAllowedRetries: cfg.KeeperAllowedRetries,

		MaxFailedPeriods: cfg.MaxFailedPeriods,

		RoundEntrances:   entrances,
		RoundResolutions: resolutions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	driver, err := rsmdriver.New(ctx, log.With("sys", "driver"), rsmdriver.Config{
		Self: cfg.Self,

		Behaviours: cfg.Behaviours,

		Broadcaster: cfg.Conn,

		Retry: cfg.Retry,

		RoundEntrances:   entrances,
		RoundResolutions: resolutions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start driver: %w", err)
	}

	return &Node{Engine: engine, Driver: driver}, nil
}

// Wait blocks until both the engine and driver goroutines have stopped.
func (n *Node) Wait() {
	n.Engine.Wait()
	n.Driver.Wait()
}
