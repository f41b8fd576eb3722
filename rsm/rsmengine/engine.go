// Package rsmengine contains the per-node kernel
// that folds the transport's committed payload stream
// into rounds and synchronized data.
//
// Every honest node runs one kernel over the identical ordered stream,
// so every node takes identical state transitions.
// The kernel goroutine is the single writer of the synchronized data;
// no internal locking is needed.
package rsmengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrel-net/petrel/internal/rchan"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmapp"
	"github.com/petrel-net/petrel/rsm/rsmengine/rsmlink"
	"github.com/petrel-net/petrel/rsm/rsmkeeper"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
	"github.com/petrel-net/petrel/rsm/rsmround"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// ErrPeriodsExhausted indicates too many consecutive periods
// ended in failure; the node surfaces this as a halt,
// so operators observe the condition instead of an endless reset loop.
var ErrPeriodsExhausted = errors.New("consecutive failed period budget exhausted")

// Config holds everything required to start an [Engine].
type Config struct {
	App rsmapp.App

	Participants rsm.ParticipantSet

	// InitialData seeds the synchronized data.
	// Nil starts period 0 empty with no cross-period persisted keys.
	InitialData *rsmsync.Data

	// Commits is the transport's committed entry stream.
	Commits rsmp2p.CommitStream

	// KeeperSeedField names the synchronized data field
	// seeding keeper selection.
	KeeperSeedField string

	// KeeperAllowedRetries bounds keeper reassignments per settlement round.
	KeeperAllowedRetries uint32

	// MaxFailedPeriods bounds consecutive failed periods; zero is unlimited.
	MaxFailedPeriods uint

	// RoundEntrances and RoundResolutions notify the behaviour driver.
	// Either may be nil when no driver is attached.
	RoundEntrances   chan<- rsmlink.RoundEntrance
	RoundResolutions chan<- rsmlink.RoundResolution
}

// Engine folds the ordered payload stream into the active round,
// advances the transition table on resolution,
// and runs the period lifecycle.
type Engine struct {
	log *slog.Logger

	cfg Config

	done chan struct{}

	// Set only by the kernel goroutine before closing done.
	err error
}

// New validates cfg and starts the engine kernel.
// Stop the engine by canceling ctx, then call Wait.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Engine, error) {
	if err := cfg.App.Validate(); err != nil {
		return nil, fmt.Errorf("invalid app: %w", err)
	}
	if cfg.Participants.Len() == 0 {
		return nil, fmt.Errorf("config must include a non-empty participant set")
	}
	if cfg.Commits == nil {
		return nil, fmt.Errorf("config must include a commit stream")
	}

	e := &Engine{
		log: log,

		cfg: cfg,

		done: make(chan struct{}),
	}
	go e.kernel(ctx)
	return e, nil
}

// Wait blocks until the kernel goroutine has stopped.
func (e *Engine) Wait() {
	<-e.done
}

// Err reports why the kernel halted.
// It is valid only after Wait returns;
// nil means a clean shutdown or a final round.
func (e *Engine) Err() error {
	return e.err
}

// kState is the kernel's mutable state, confined to the kernel goroutine.
type kState struct {
	sd  *rsmsync.Data
	rot *rsmkeeper.Rotation

	roundID string
	round   rsmround.Round

	deadline  *time.Timer
	deadlineC <-chan time.Time

	// periodFailed records that the current period
	// routed into reset through a failure event.
	periodFailed bool

	consecFailed uint
}

func (e *Engine) kernel(ctx context.Context) {
	defer close(e.done)

	k := &kState{
		sd: e.cfg.InitialData,
	}
	if k.sd == nil {
		k.sd = rsmsync.New(nil)
	}
	k.rot = e.newRotation()

	if !e.activate(ctx, k, e.cfg.App.Initial) {
		return
	}

	commits := e.cfg.Commits.Committed()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("Engine kernel stopping", "cause", context.Cause(ctx))
			return

		case entry, ok := <-commits:
			if !ok {
				e.log.Info("Commit stream closed; engine kernel stopping")
				return
			}
			if !e.fold(ctx, k, entry) {
				return
			}

		case <-k.deadlineC:
			if !e.onDeadline(ctx, k, commits) {
				return
			}
		}
	}
}

func (e *Engine) newRotation() *rsmkeeper.Rotation {
	return rsmkeeper.NewRotation(
		e.cfg.Participants, e.cfg.KeeperSeedField, e.cfg.KeeperAllowedRetries,
	)
}

// fold applies one committed entry to the active round.
// It returns false only when the kernel must stop.
func (e *Engine) fold(ctx context.Context, k *kState, entry rsmp2p.CommittedEntry) bool {
	p := entry.Payload

	if p.RoundID != k.roundID || p.Period != k.sd.Period() {
		// Late or early payloads are expected:
		// a slow agent's submission can land after its round resolved,
		// or after a timeout already rolled the period
		// past the instance it was produced for.
		e.log.Debug(
			"Dropping payload for inactive round instance",
			"payload_round", p.RoundID, "payload_period", p.Period,
			"active_round", k.roundID, "active_period", k.sd.Period(),
			"sender", p.Sender,
		)
		return true
	}

	ev, resolved, err := k.round.Submit(p)
	if err != nil {
		// Rejections are local conditions, never fatal.
		e.log.Debug(
			"Rejected payload",
			"round", k.roundID, "sender", p.Sender, "reason", err,
		)
		return true
	}
	if !resolved {
		return true
	}

	return e.resolve(ctx, k, ev)
}

// onDeadline handles the active round's deadline firing.
//
// Local timers are not part of the ordered stream,
// so the timeout is non-authoritative:
// any already-committed entries are folded first,
// and the timeout event is applied only if the round is still unresolved.
// This keeps the timeout's position in the transition sequence
// deterministic relative to the committed entries each node has seen.
func (e *Engine) onDeadline(ctx context.Context, k *kState, commits <-chan rsmp2p.CommittedEntry) bool {
	timedOutRound := k.roundID

drain:
	for {
		select {
		case entry, ok := <-commits:
			if !ok {
				e.log.Info("Commit stream closed; engine kernel stopping")
				return false
			}
			if !e.fold(ctx, k, entry) {
				return false
			}
			if k.roundID != timedOutRound {
				// The stream resolved the round before the deadline counted.
				return true
			}
		default:
			break drain
		}
	}

	ev := rsm.EventRoundTimeout
	if k.roundID == e.cfg.App.Reset {
		ev = rsm.EventReset
	}

	e.log.Info("Round deadline elapsed", "round", k.roundID, "event", ev.String())
	return e.resolve(ctx, k, ev)
}

// resolve applies a round's resolution event:
// synchronized data mutation, driver notification,
// keeper bookkeeping, and the transition to the next round.
func (e *Engine) resolve(ctx context.Context, k *kState, ev rsm.Event) bool {
	k.stopDeadline()

	k.round.Apply(k.sd)

	if ev == rsm.EventDone || ev == rsm.EventTransact {
		for _, field := range e.cfg.App.PostConditions[k.roundID] {
			if _, ok := k.sd.Get(field); !ok {
				return e.fatal(fmt.Errorf(
					"postcondition violated: round %q resolved without setting %q",
					k.roundID, field,
				))
			}
		}
	}

	if _, isKeeper := k.round.(rsmround.KeeperRound); isKeeper {
		switch {
		case ev == rsm.EventDone:
			k.rot.Confirm()
		case ev.IsFailure():
			if err := k.rot.Fail(); err != nil {
				e.log.Warn(
					"Keeper retry budget exhausted",
					"round", k.roundID, "attempts", k.rot.Attempt()+1,
				)
				ev = rsm.EventError
			}
		}
	}

	e.log.Info(
		"Round resolved",
		"round", k.roundID, "event", ev.String(), "period", k.sd.Period(),
	)

	if e.cfg.RoundResolutions != nil {
		res := rsmlink.RoundResolution{
			RoundID: k.roundID,
			Period:  k.sd.Period(),
			Event:   ev,
		}
		if !rchan.SendC(ctx, e.log, e.cfg.RoundResolutions, res, "notifying round resolution") {
			return false
		}
	}

	next, err := e.cfg.App.Next(k.roundID, ev)
	if err != nil {
		// A missing edge for an emitted event is a determinism bug,
		// not an environmental failure.
		return e.fatal(err)
	}

	if ev.IsFailure() && next == e.cfg.App.Reset {
		k.periodFailed = true
	}

	if k.roundID == e.cfg.App.Reset && ev == rsm.EventReset {
		if !e.rollPeriod(k) {
			return false
		}
	}

	if e.cfg.App.Final[next] {
		e.log.Info("Final round reached; engine halting", "round", next)
		return false
	}

	return e.activate(ctx, k, next)
}

// rollPeriod starts a new period:
// fresh synchronized data carrying only persisted keys,
// a fresh keeper rotation, and the failed-period bookkeeping.
func (e *Engine) rollPeriod(k *kState) bool {
	if k.periodFailed {
		k.consecFailed++
		if e.cfg.MaxFailedPeriods > 0 && k.consecFailed >= e.cfg.MaxFailedPeriods {
			return e.fatal(fmt.Errorf(
				"%w: %d consecutive periods failed", ErrPeriodsExhausted, k.consecFailed,
			))
		}
	} else {
		k.consecFailed = 0
	}
	k.periodFailed = false

	k.sd = k.sd.NewPeriod()
	k.rot = e.newRotation()

	e.log.Info("Starting new period", "period", k.sd.Period())
	return true
}

// activate instantiates and enters the given round.
func (e *Engine) activate(ctx context.Context, k *kState, id string) bool {
	for _, field := range e.cfg.App.PreConditions[id] {
		if _, ok := k.sd.Get(field); !ok {
			return e.fatal(fmt.Errorf(
				"precondition violated: entering round %q without field %q set",
				id, field,
			))
		}
	}

	// The keeper candidate is derived for every activation;
	// only keeper-gated rounds bind it into the rotation.
	candidate := rsmkeeper.Select(
		k.sd, e.cfg.KeeperSeedField, e.cfg.Participants, k.rot.Attempt(),
	)

	factory := e.cfg.App.Rounds[id]
	round := factory(rsmapp.RoundContext{
		Participants: e.cfg.Participants,
		Data:         k.sd,
		Keeper:       candidate,
	})

	var keeper rsm.Participant
	if _, isKeeper := round.(rsmround.KeeperRound); isKeeper {
		assigned, err := k.rot.Assign(k.sd)
		if err != nil {
			return e.fatal(fmt.Errorf(
				"failed to assign keeper entering round %q: %w", id, err,
			))
		}
		keeper = assigned
	}

	k.roundID = id
	k.round = round
	k.setDeadline(e.cfg.App.Deadlines[id])

	e.log.Info(
		"Round activated",
		"round", id, "period", k.sd.Period(), "keeper", string(keeper),
	)

	if e.cfg.RoundEntrances != nil {
		entrance := rsmlink.RoundEntrance{
			RoundID: id,
			Period:  k.sd.Period(),
			Keeper:  keeper,
			Data:    k.sd,
		}
		if !rchan.SendC(ctx, e.log, e.cfg.RoundEntrances, entrance, "announcing round entrance") {
			return false
		}
	}

	return true
}

func (e *Engine) fatal(err error) bool {
	e.err = err
	e.log.Error("Engine halting", "err", err)
	return false
}

func (k *kState) setDeadline(d time.Duration) {
	k.stopDeadline()
	if d <= 0 {
		return
	}
	k.deadline = time.NewTimer(d)
	k.deadlineC = k.deadline.C
}

func (k *kState) stopDeadline() {
	if k.deadline != nil {
		k.deadline.Stop()
		k.deadline = nil
	}
	k.deadlineC = nil
}
