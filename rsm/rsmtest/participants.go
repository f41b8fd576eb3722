// Package rsmtest contains deterministic fixtures
// for tests that need a participant cohort.
package rsmtest

import (
	"fmt"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/petrel-net/petrel/rsm"
)

// Agent is one test cohort member:
// a stable address plus a human-readable label for log output.
type Agent struct {
	Addr rsm.Participant
	Name string
}

// DeterministicAgents returns n agents with fixed addresses.
// Addresses are stable across runs so tests can assert on keeper selection;
// names are petnames and only intended for log readability.
func DeterministicAgents(n int) []Agent {
	agents := make([]Agent, n)
	for i := range agents {
		agents[i] = Agent{
			Addr: rsm.Participant(fmt.Sprintf("agent%04d", i)),
			Name: petname.Generate(2, "-"),
		}
	}
	return agents
}

// NewParticipantSet returns a participant set over n deterministic agents,
// panicking on error since the fixture inputs are fixed.
func NewParticipantSet(n int) rsm.ParticipantSet {
	agents := DeterministicAgents(n)
	members := make([]rsm.Participant, n)
	for i, a := range agents {
		members[i] = a.Addr
	}

	ps, err := rsm.NewParticipantSet(members)
	if err != nil {
		panic(fmt.Errorf("rsmtest: failed to build participant set: %w", err))
	}
	return ps
}
