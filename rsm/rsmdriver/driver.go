// Package rsmdriver runs one agent's behaviours:
// for each round the engine activates,
// the matching behaviour performs its external work,
// derives a payload, submits it through the transport,
// and suspends until the engine reports the round resolved.
//
// The driver is a single cooperative goroutine per agent.
// It never busy-polls: it blocks on the engine's entrance and
// resolution channels and on external calls.
package rsmdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrel-net/petrel/internal/rchan"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmengine/rsmlink"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
	"github.com/petrel-net/petrel/rsm/rsmsync"
)

// ErrNoSubmission is returned by a behaviour that intentionally
// submits nothing for the round,
// such as a settlement behaviour on an agent that is not the keeper.
var ErrNoSubmission = errors.New("behaviour submits nothing for this round")

// BehaviourContext is the read-only view a behaviour acts on.
type BehaviourContext struct {
	// Self is this agent's identity.
	Self rsm.Participant

	Period uint64

	// Keeper is the assigned keeper for the active round,
	// empty when the round is not keeper-gated.
	Keeper rsm.Participant

	// Data is the engine-owned synchronized data.
	// Behaviours must only read it.
	Data *rsmsync.Data
}

// Behaviour produces one agent's payload for one round kind.
type Behaviour interface {
	// RoundID names the round this behaviour matches.
	RoundID() string

	// Act performs the behaviour's external work and derives the payload.
	// Returning [ErrNoSubmission] suspends without submitting.
	Act(ctx context.Context, bc BehaviourContext) (rsm.Payload, error)
}

// BehaviourFunc adapts a standalone function into a [Behaviour].
type BehaviourFunc struct {
	ID string
	Fn func(ctx context.Context, bc BehaviourContext) (rsm.Payload, error)
}

func (b BehaviourFunc) RoundID() string {
	return b.ID
}

func (b BehaviourFunc) Act(ctx context.Context, bc BehaviourContext) (rsm.Payload, error) {
	return b.Fn(ctx, bc)
}

// RetryConfig bounds a behaviour's external work.
type RetryConfig struct {
	// MaxAttempts per activation; values below 1 are treated as 1.
	MaxAttempts int

	// RequestTimeout bounds each attempt; zero means unbounded.
	RequestTimeout time.Duration

	// RetryDelay is slept between attempts.
	RetryDelay time.Duration
}

// Config holds everything needed to start a [Driver].
type Config struct {
	// Self is the agent this driver acts for.
	Self rsm.Participant

	Behaviours []Behaviour

	// Broadcaster submits derived payloads for ordering.
	Broadcaster rsmp2p.Broadcaster

	Retry RetryConfig

	// RoundEntrances and RoundResolutions connect to the engine.
	RoundEntrances   <-chan rsmlink.RoundEntrance
	RoundResolutions <-chan rsmlink.RoundResolution
}

// Driver is one agent's behaviour loop.
type Driver struct {
	log *slog.Logger

	cfg Config

	behaviours map[string]Behaviour

	done chan struct{}
}

// New validates cfg and starts the driver goroutine.
// Stop the driver by canceling ctx, then call Wait.
func New(ctx context.Context, log *slog.Logger, cfg Config) (*Driver, error) {
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("config must include a broadcaster")
	}
	if cfg.RoundEntrances == nil || cfg.RoundResolutions == nil {
		return nil, fmt.Errorf("config must include entrance and resolution channels")
	}

	behaviours := make(map[string]Behaviour, len(cfg.Behaviours))
	for _, b := range cfg.Behaviours {
		if _, dup := behaviours[b.RoundID()]; dup {
			return nil, fmt.Errorf("duplicate behaviour for round %q", b.RoundID())
		}
		behaviours[b.RoundID()] = b
	}

	d := &Driver{
		log: log,

		cfg: cfg,

		behaviours: behaviours,

		done: make(chan struct{}),
	}
	go d.run(ctx)
	return d, nil
}

// Wait blocks until the driver goroutine has stopped.
func (d *Driver) Wait() {
	<-d.done
}

func (d *Driver) run(ctx context.Context) {
	defer close(d.done)

	for {
		entrance, ok := rchan.RecvC(
			ctx, d.log, d.cfg.RoundEntrances, "waiting for round entrance",
		)
		if !ok {
			return
		}

		if !d.handleRound(ctx, entrance) {
			return
		}
	}
}

// handleRound runs one activation end to end:
// act, submit, then suspend until the round resolves.
// It returns false only when ctx was canceled.
func (d *Driver) handleRound(ctx context.Context, entrance rsmlink.RoundEntrance) bool {
	b := d.behaviours[entrance.RoundID]

	if b != nil {
		payload, err := d.act(ctx, b, entrance)
		switch {
		case err == nil:
			// The round may have resolved while we were acting.
			// A pending submission to a round we no longer believe active
			// is discarded rather than proposed.
			select {
			case res := <-d.cfg.RoundResolutions:
				if d.matches(res, entrance) {
					d.log.Debug(
						"Discarding pending submission; round resolved first",
						"round", entrance.RoundID,
					)
					return true
				}
				d.logStaleResolution(res, entrance)
			default:
			}

			if err := d.cfg.Broadcaster.Propose(ctx, payload); err != nil {
				if ctx.Err() != nil {
					return false
				}
				d.log.Warn(
					"Failed to propose payload; relying on peers for resolution",
					"round", entrance.RoundID, "err", err,
				)
			}

		case errors.Is(err, ErrNoSubmission):
			// Suspend without submitting.

		case ctx.Err() != nil:
			return false

		default:
			// External failures are absorbed here:
			// this agent contributes nothing and the round's own
			// timeout or no-majority policy produces the typed event.
			d.log.Warn(
				"Behaviour failed; skipping submission",
				"round", entrance.RoundID, "err", err,
			)
		}
	}

	// Suspend until this round resolves.
	for {
		res, ok := rchan.RecvC(
			ctx, d.log, d.cfg.RoundResolutions, "waiting for round resolution",
		)
		if !ok {
			return false
		}
		if d.matches(res, entrance) {
			return true
		}
		d.logStaleResolution(res, entrance)
	}
}

// act runs the behaviour with the configured bounded retries.
func (d *Driver) act(ctx context.Context, b Behaviour, entrance rsmlink.RoundEntrance) (rsm.Payload, error) {
	bc := BehaviourContext{
		Self:   d.cfg.Self,
		Period: entrance.Period,
		Keeper: entrance.Keeper,
		Data:   entrance.Data,
	}

	attempts := d.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		payload, err := d.actOnce(ctx, b, bc)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if errors.Is(err, ErrNoSubmission) || ctx.Err() != nil {
			break
		}

		d.log.Info(
			"Behaviour attempt failed",
			"round", b.RoundID(), "attempt", attempt, "max", attempts, "err", err,
		)

		if attempt < attempts && d.cfg.Retry.RetryDelay > 0 {
			select {
			case <-time.After(d.cfg.Retry.RetryDelay):
			case <-ctx.Done():
				return rsm.Payload{}, context.Cause(ctx)
			}
		}
	}

	return rsm.Payload{}, lastErr
}

func (d *Driver) actOnce(ctx context.Context, b Behaviour, bc BehaviourContext) (rsm.Payload, error) {
	if d.cfg.Retry.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Retry.RequestTimeout)
		defer cancel()
	}
	return b.Act(ctx, bc)
}

func (d *Driver) matches(res rsmlink.RoundResolution, entrance rsmlink.RoundEntrance) bool {
	return res.RoundID == entrance.RoundID && res.Period == entrance.Period
}

func (d *Driver) logStaleResolution(res rsmlink.RoundResolution, entrance rsmlink.RoundEntrance) {
	d.log.Debug(
		"Ignoring resolution for another round",
		"resolved_round", res.RoundID, "active_round", entrance.RoundID,
	)
}
