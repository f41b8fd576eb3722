// Package rsmsync holds the synchronized data:
// the replicated key/value state every round and behaviour can read,
// mutated only by the engine when a round resolves.
//
// A Data value is owned by exactly one engine goroutine per node
// and is deliberately unlocked.
// It is "shared" across nodes only through the ordered transport stream:
// every node applies the same mutations in the same order,
// never through in-process shared memory.
package rsmsync

import (
	"fmt"
	"maps"

	"github.com/petrel-net/petrel/rsm"
)

// Collection is a snapshot of one round's accepted payload values,
// keyed by participant.
type Collection map[rsm.Participant]string

// Data is the synchronized data for one period.
type Data struct {
	period uint64

	fields map[string]string

	// Per-round collection snapshots, recorded when the round resolves.
	collections map[string]Collection

	// Full history of most-voted results per field,
	// in resolution order within the period.
	mostVoted map[string][]string

	// Fields carried into the next period on reset.
	persistedKeys []string
}

// New returns empty synchronized data for period 0.
// persistedKeys names the fields that survive a period reset.
func New(persistedKeys []string) *Data {
	return &Data{
		fields:        make(map[string]string),
		collections:   make(map[string]Collection),
		mostVoted:     make(map[string][]string),
		persistedKeys: persistedKeys,
	}
}

// Period returns the zero-based period counter.
func (d *Data) Period() uint64 {
	return d.period
}

// Get returns the current value of the named field,
// and whether the field has been set this period.
func (d *Data) Get(field string) (string, bool) {
	v, ok := d.fields[field]
	return v, ok
}

// GetStrict is like Get but errors when the field is unset,
// for use in behaviours whose round preconditions guarantee presence.
func (d *Data) GetStrict(field string) (string, error) {
	v, ok := d.fields[field]
	if !ok {
		return "", fmt.Errorf("synchronized data field %q not set", field)
	}
	return v, nil
}

// Set records the agreed value for a field.
// Only the engine's round-resolution step may call Set;
// a resolved field is never retroactively altered within a period.
func (d *Data) Set(field, value string) {
	d.fields[field] = value
	d.mostVoted[field] = append(d.mostVoted[field], value)
}

// SetCollection records the full participant-to-value snapshot
// for a resolved round.
func (d *Data) SetCollection(roundID string, c Collection) {
	d.collections[roundID] = maps.Clone(c)
}

// Collection returns the recorded snapshot for a resolved round,
// or nil if the round has not resolved this period.
func (d *Data) Collection(roundID string) Collection {
	c, ok := d.collections[roundID]
	if !ok {
		return nil
	}
	return maps.Clone(c)
}

// MostVoted returns the in-period history of agreed values for a field,
// oldest first.
func (d *Data) MostVoted(field string) []string {
	history := d.mostVoted[field]
	out := make([]string, len(history))
	copy(out, history)
	return out
}

// NewPeriod returns a fresh Data for the next period,
// carrying only the persisted fields and an incremented period counter.
func (d *Data) NewPeriod() *Data {
	next := New(d.persistedKeys)
	next.period = d.period + 1

	for _, k := range d.persistedKeys {
		if v, ok := d.fields[k]; ok {
			next.fields[k] = v
		}
	}
	return next
}
