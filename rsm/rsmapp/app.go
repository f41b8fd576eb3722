// Package rsmapp defines the static transition table
// that wires round kinds into one workflow,
// and the concrete price oracle workflow the node runs.
package rsmapp

import (
	"fmt"
	"time"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmround"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// RoundContext carries the inputs a round factory may need
// when the engine activates a round.
type RoundContext struct {
	Participants rsm.ParticipantSet

	// Data is the synchronized data snapshot at activation time.
	// Factories read it; only the engine writes it.
	Data *rsmsync.Data

	// Keeper is the participant assigned for the current settlement attempt.
	// Meaningful only to keeper-only rounds.
	Keeper rsm.Participant
}

// RoundFactory builds a fresh round instance at activation.
// Round instances are single-use:
// the engine discards them the moment they resolve or time out.
type RoundFactory func(rc RoundContext) rsmround.Round

// App is the static directed graph of rounds.
//
// Nodes are round IDs, edges are labeled by events.
// The graph is fixed for the lifetime of the engine;
// a period is one pass from Initial through Reset and back.
type App struct {
	// Initial is the designated start round of each period.
	Initial string

	// Reset is the round that closes a period.
	// It must carry an [rsm.EventReset] edge back to Initial.
	Reset string

	// Rounds maps round ID to its factory.
	Rounds map[string]RoundFactory

	// Transitions maps round ID and event to the next round ID.
	// Using a map per round makes a second edge for the same event
	// unrepresentable, which is the determinism invariant.
	Transitions map[string]map[rsm.Event]string

	// Final marks rounds with no outgoing edges;
	// reaching one halts the engine cleanly.
	Final map[string]bool

	// Deadlines maps round ID to its timeout.
	// A zero or absent entry means the round has no deadline.
	Deadlines map[string]time.Duration

	// PreConditions and PostConditions name synchronized data fields
	// that must be set when the round is entered and exited.
	// A violated condition is a determinism bug and is fatal.
	PreConditions  map[string][]string
	PostConditions map[string][]string
}

// Next returns the round following id on event ev.
func (a App) Next(id string, ev rsm.Event) (string, error) {
	edges, ok := a.Transitions[id]
	if !ok {
		return "", fmt.Errorf("round %q has no outgoing edges", id)
	}
	next, ok := edges[ev]
	if !ok {
		return "", fmt.Errorf("round %q has no edge for event %s", id, ev)
	}
	return next, nil
}

// Validate checks the structural invariants of the app.
func (a App) Validate() error {
	if a.Initial == "" {
		return fmt.Errorf("app has no initial round")
	}
	if _, ok := a.Rounds[a.Initial]; !ok {
		return fmt.Errorf("initial round %q has no factory", a.Initial)
	}

	if a.Reset != "" {
		edges, ok := a.Transitions[a.Reset]
		if !ok {
			return fmt.Errorf("reset round %q has no outgoing edges", a.Reset)
		}
		if next, ok := edges[rsm.EventReset]; !ok {
			return fmt.Errorf("reset round %q has no reset edge", a.Reset)
		} else if next != a.Initial {
			return fmt.Errorf(
				"reset round %q must transition to initial round %q on reset, not %q",
				a.Reset, a.Initial, next,
			)
		}
	}

	for id, edges := range a.Transitions {
		if _, ok := a.Rounds[id]; !ok {
			return fmt.Errorf("transition source %q has no factory", id)
		}
		if a.Final[id] {
			return fmt.Errorf("final round %q must not have outgoing edges", id)
		}
		for ev, next := range edges {
			if _, ok := a.Rounds[next]; !ok {
				return fmt.Errorf(
					"round %q transitions to unknown round %q on event %s",
					id, next, ev,
				)
			}
		}
	}

	for id := range a.Rounds {
		if a.Final[id] {
			continue
		}
		if _, ok := a.Transitions[id]; !ok {
			return fmt.Errorf("non-final round %q has no outgoing edges", id)
		}
	}

	return nil
}
