package rsm

// Event is the terminal signal of a round's resolution,
// selecting the single edge taken in the transition table.
type Event uint8

const (
	_ Event = iota // Zero value reserved so an unset Event is detectable.

	// EventDone indicates ordinary successful resolution.
	EventDone

	// EventTransact indicates the cohort decided to act on-chain,
	// routing the workflow through the settlement rounds.
	EventTransact

	// EventNoMajority indicates no value can still reach the threshold.
	EventNoMajority

	// EventRoundTimeout indicates the round deadline elapsed
	// before the resolution criteria were met.
	EventRoundTimeout

	// EventError indicates an unrecoverable failure within the round,
	// such as an exhausted keeper retry budget.
	EventError

	// EventReset marks the transition out of the reset round,
	// beginning a new period.
	EventReset
)

// IsFailure reports whether the event represents a failed resolution.
// Failure events route a period into reset rather than forward.
func (e Event) IsFailure() bool {
	switch e {
	case EventNoMajority, EventRoundTimeout, EventError:
		return true
	default:
		return false
	}
}

// String returns the lowercase wire name of the event.
func (e Event) String() string {
	switch e {
	case EventDone:
		return "done"
	case EventTransact:
		return "transact"
	case EventNoMajority:
		return "no_majority"
	case EventRoundTimeout:
		return "round_timeout"
	case EventError:
		return "error"
	case EventReset:
		return "reset"
	default:
		return "invalid"
	}
}
