package rsmengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrel-net/petrel/internal/rtest"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmapp"
	"github.com/petrel-net/petrel/rsm/rsmengine"
	"github.com/petrel-net/petrel/rsm/rsmengine/rsmlink"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
	"github.com/petrel-net/petrel/rsm/rsmround"
	"github.com/petrel-net/petrel/rsm/rsmtest"
)

// commitStream is a hand-fed transport stand-in.
type commitStream struct {
	ch chan rsmp2p.CommittedEntry
}

func newCommitStream() *commitStream {
	return &commitStream{ch: make(chan rsmp2p.CommittedEntry, 64)}
}

func (s *commitStream) Committed() <-chan rsmp2p.CommittedEntry {
	return s.ch
}

func (s *commitStream) push(p rsm.Payload) {
	s.ch <- rsmp2p.CommittedEntry{Sender: p.Sender, Payload: p}
}

// fixture bundles one engine under test with its channels.
type fixture struct {
	ps rsm.ParticipantSet

	stream *commitStream

	entrances   chan rsmlink.RoundEntrance
	resolutions chan rsmlink.RoundResolution

	engine *rsmengine.Engine
}

type fixtureOpts struct {
	roundTimeout    time.Duration
	finalizeTimeout time.Duration
	resetPause      time.Duration

	keeperRetries    uint32
	maxFailedPeriods uint
}

func newFixture(t *testing.T, ctx context.Context, n int, opts fixtureOpts) *fixture {
	t.Helper()

	if opts.roundTimeout == 0 {
		opts.roundTimeout = time.Minute
	}
	if opts.finalizeTimeout == 0 {
		opts.finalizeTimeout = time.Minute
	}
	if opts.resetPause == 0 {
		opts.resetPause = 10 * time.Millisecond
	}

	ps := rsmtest.NewParticipantSet(n)

	app := rsmapp.PriceOracle(rsmapp.OracleConfig{
		Participants:    ps,
		RoundTimeout:    opts.roundTimeout,
		ValidateTimeout: opts.roundTimeout,
		FinalizeTimeout: opts.finalizeTimeout,
		ResetPause:      opts.resetPause,
	})

	f := &fixture{
		ps: ps,

		stream: newCommitStream(),

		// Buffered so the engine never blocks on an absent driver.
		entrances:   make(chan rsmlink.RoundEntrance, 64),
		resolutions: make(chan rsmlink.RoundResolution, 64),
	}

	engine, err := rsmengine.New(ctx, rtest.NewLogger(t), rsmengine.Config{
		App: app,

		Participants: ps,

		Commits: f.stream,

		KeeperSeedField:      rsmapp.FieldMostVotedPrice,
		KeeperAllowedRetries: opts.keeperRetries,

		MaxFailedPeriods: opts.maxFailedPeriods,

		RoundEntrances:   f.entrances,
		RoundResolutions: f.resolutions,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) payload(idx int, roundID string, kind rsm.PayloadKind, value string) rsm.Payload {
	return f.payloadAt(0, idx, roundID, kind, value)
}

func (f *fixture) payloadAt(period uint64, idx int, roundID string, kind rsm.PayloadKind, value string) rsm.Payload {
	return rsm.Payload{
		Sender:  f.ps.ByIndex(idx),
		RoundID: roundID,
		Period:  period,
		Kind:    kind,
		Value:   value,
	}
}

func requireRecv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func requireEntrance(t *testing.T, f *fixture, roundID string, period uint64) rsmlink.RoundEntrance {
	t.Helper()
	e := requireRecv(t, f.entrances, "entrance of "+roundID)
	require.Equal(t, roundID, e.RoundID)
	require.Equal(t, period, e.Period)
	return e
}

func requireResolution(t *testing.T, f *fixture, roundID string, ev rsm.Event) rsmlink.RoundResolution {
	t.Helper()
	r := requireRecv(t, f.resolutions, "resolution of "+roundID)
	require.Equal(t, roundID, r.RoundID)
	require.Equal(t, ev, r.Event)
	return r
}

func TestEngineSkipPeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{})
	defer f.engine.Wait()
	defer cancel()

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)

	for i := 0; i < 4; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "1.2"))
	}
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventDone)

	e := requireEntrance(t, f, rsmapp.RoundAgreePrice, 0)
	require.Len(t, e.Data.Collection(rsmapp.RoundCollectPrice), 4)

	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundAgreePrice, rsm.PayloadKindPrice, "1.2"))
	}
	requireResolution(t, f, rsmapp.RoundAgreePrice, rsm.EventDone)

	e = requireEntrance(t, f, rsmapp.RoundDecideAction, 0)
	agreed, err := e.Data.GetStrict(rsmapp.FieldMostVotedPrice)
	require.NoError(t, err)
	require.Equal(t, "1.2", agreed)

	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundDecideAction, rsm.PayloadKindDecision, rsmapp.DecisionSkip))
	}
	requireResolution(t, f, rsmapp.RoundDecideAction, rsm.EventDone)

	// Skip routes straight to reset, which pauses and rolls the period.
	requireEntrance(t, f, rsmapp.RoundReset, 0)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)
	e = requireEntrance(t, f, rsmapp.RoundCollectPrice, 1)

	// The new period starts with fresh data.
	_, ok := e.Data.Get(rsmapp.FieldMostVotedPrice)
	require.False(t, ok)
}

func TestEngineTimeoutRollsPeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{roundTimeout: 100 * time.Millisecond})
	defer f.engine.Wait()
	defer cancel()

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)

	// Only two of four submit before the deadline.
	f.stream.push(f.payload(0, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "1.2"))
	f.stream.push(f.payload(1, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "1.2"))

	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventRoundTimeout)

	requireEntrance(t, f, rsmapp.RoundReset, 0)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)

	// Period counter incremented.
	requireEntrance(t, f, rsmapp.RoundCollectPrice, 1)
}

func TestEngineRejectsEmptyParticipantSet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := rsmtest.NewParticipantSet(4)
	app := rsmapp.PriceOracle(rsmapp.OracleConfig{
		Participants: ps,
		RoundTimeout: time.Minute,
	})

	_, err := rsmengine.New(ctx, rtest.NewLogger(t), rsmengine.Config{
		App: app,
		// Participants left zero.
		Commits: newCommitStream(),
	})
	require.Error(t, err)
}

func TestEngineDropsStalePeriodPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{roundTimeout: 100 * time.Millisecond})
	defer f.engine.Wait()
	defer cancel()

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)

	// Two agents submit before the deadline; the period rolls.
	f.stream.push(f.payload(0, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "9.9"))
	f.stream.push(f.payload(1, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "9.9"))
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventRoundTimeout)
	requireEntrance(t, f, rsmapp.RoundReset, 0)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 1)

	// The slow agents' period-0 observations arrive now.
	// They are for a dead round instance and must not count
	// toward the period-1 collection.
	f.stream.push(f.payloadAt(0, 2, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "9.9"))
	f.stream.push(f.payloadAt(0, 3, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "9.9"))

	for i := 0; i < 4; i++ {
		f.stream.push(f.payloadAt(1, i, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "1.0"))
	}
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventDone)

	e := requireEntrance(t, f, rsmapp.RoundAgreePrice, 1)
	collected := e.Data.Collection(rsmapp.RoundCollectPrice)
	require.Len(t, collected, 4)
	for _, v := range collected {
		require.Equal(t, "1.0", v)
	}
}

func TestEngineTransactPeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{keeperRetries: 2})
	defer f.engine.Wait()
	defer cancel()

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)
	for i := 0; i < 4; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "2.0"))
	}
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventDone)

	requireEntrance(t, f, rsmapp.RoundAgreePrice, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundAgreePrice, rsm.PayloadKindPrice, "2.0"))
	}
	requireResolution(t, f, rsmapp.RoundAgreePrice, rsm.EventDone)

	requireEntrance(t, f, rsmapp.RoundDecideAction, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundDecideAction, rsm.PayloadKindDecision, rsmapp.DecisionAct))
	}
	requireResolution(t, f, rsmapp.RoundDecideAction, rsm.EventTransact)

	requireEntrance(t, f, rsmapp.RoundCollectSignatures, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundCollectSignatures, rsm.PayloadKindSigShare, "digest123"))
	}
	requireResolution(t, f, rsmapp.RoundCollectSignatures, rsm.EventDone)

	e := requireEntrance(t, f, rsmapp.RoundSubmitTx, 0)
	require.True(t, f.ps.Has(e.Keeper), "keeper must be a cohort member")

	keeperIdx := f.ps.Index(e.Keeper)
	f.stream.push(f.payload(keeperIdx, rsmapp.RoundSubmitTx, rsm.PayloadKindTxHash, "0xfeed"))
	requireResolution(t, f, rsmapp.RoundSubmitTx, rsm.EventDone)

	e = requireEntrance(t, f, rsmapp.RoundReset, 0)
	txHash, err := e.Data.GetStrict(rsmapp.FieldFinalTxHash)
	require.NoError(t, err)
	require.Equal(t, "0xfeed", txHash)
}

func TestEngineKeeperExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{
		finalizeTimeout: 75 * time.Millisecond,
		keeperRetries:   1,
	})
	defer f.engine.Wait()
	defer cancel()

	// Walk to the keeper round.
	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)
	for i := 0; i < 4; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "2.0"))
	}
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventDone)

	requireEntrance(t, f, rsmapp.RoundAgreePrice, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundAgreePrice, rsm.PayloadKindPrice, "2.0"))
	}
	requireResolution(t, f, rsmapp.RoundAgreePrice, rsm.EventDone)

	requireEntrance(t, f, rsmapp.RoundDecideAction, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundDecideAction, rsm.PayloadKindDecision, rsmapp.DecisionAct))
	}
	requireResolution(t, f, rsmapp.RoundDecideAction, rsm.EventTransact)

	requireEntrance(t, f, rsmapp.RoundCollectSignatures, 0)
	for i := 0; i < 3; i++ {
		f.stream.push(f.payload(i, rsmapp.RoundCollectSignatures, rsm.PayloadKindSigShare, "digest123"))
	}
	requireResolution(t, f, rsmapp.RoundCollectSignatures, rsm.EventDone)

	// The keeper never submits.
	// First deadline rotates the keeper; second exhausts the budget.
	e1 := requireEntrance(t, f, rsmapp.RoundSubmitTx, 0)
	requireResolution(t, f, rsmapp.RoundSubmitTx, rsm.EventRoundTimeout)

	e2 := requireEntrance(t, f, rsmapp.RoundSubmitTx, 0)
	require.True(t, f.ps.Has(e1.Keeper))
	require.True(t, f.ps.Has(e2.Keeper))

	requireResolution(t, f, rsmapp.RoundSubmitTx, rsm.EventError)

	// Exhaustion is terminal for the period, not for the node.
	requireEntrance(t, f, rsmapp.RoundReset, 0)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)
	requireEntrance(t, f, rsmapp.RoundCollectPrice, 1)
}

func TestEngineDeterminism(t *testing.T) {
	// The identical committed stream replayed on two engine instances
	// yields identical event sequences and synchronized data.
	run := func() ([]rsmlink.RoundResolution, string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		f := newFixture(t, ctx, 4, fixtureOpts{})
		defer f.engine.Wait()
		defer cancel()

		requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)
		for i := 0; i < 4; i++ {
			f.stream.push(f.payload(i, rsmapp.RoundCollectPrice, rsm.PayloadKindPrice, "1.5"))
		}
		var events []rsmlink.RoundResolution
		events = append(events, requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventDone))

		requireEntrance(t, f, rsmapp.RoundAgreePrice, 0)
		// An eager no-majority: four distinct estimates.
		for i := 0; i < 4; i++ {
			f.stream.push(f.payload(i, rsmapp.RoundAgreePrice, rsm.PayloadKindPrice, "1.5"+string(rune('0'+i))))
		}
		events = append(events, requireResolution(t, f, rsmapp.RoundAgreePrice, rsm.EventNoMajority))

		e := requireEntrance(t, f, rsmapp.RoundReset, 0)
		prices := e.Data.Collection(rsmapp.RoundCollectPrice)

		var fingerprint string
		for _, p := range f.ps.Members() {
			fingerprint += prices[p] + "|"
		}
		return events, fingerprint
	}

	ev1, fp1 := run()
	ev2, fp2 := run()

	require.Equal(t, ev1, ev2)
	require.Equal(t, fp1, fp2)
}

func TestEngineHaltsOnMissingEdge(t *testing.T) {
	// A round emitting an event with no edge is a determinism bug
	// and must halt the engine, unlike environmental failures.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := rsmtest.NewParticipantSet(4)
	stream := newCommitStream()

	app := rsmapp.App{
		Initial: "vote",
		Rounds: map[string]rsmapp.RoundFactory{
			"vote": func(rc rsmapp.RoundContext) rsmround.Round {
				return rsmround.NewCollectSame(rsmround.CollectSameConfig{
					ID:           "vote",
					Participants: ps,
					PayloadKind:  rsm.PayloadKindDecision,
					SelectionKey: "most_voted_decision",
					SelectEvent: func(string) rsm.Event {
						return rsm.EventTransact
					},
				})
			},
			"end": func(rc rsmapp.RoundContext) rsmround.Round {
				return rsmround.NewDegenerate("end")
			},
		},
		Transitions: map[string]map[rsm.Event]string{
			// No edge for the Transact the round will emit.
			"vote": {rsm.EventDone: "end"},
		},
		Final: map[string]bool{"end": true},
	}

	engine, err := rsmengine.New(ctx, rtest.NewLogger(t), rsmengine.Config{
		App:          app,
		Participants: ps,
		Commits:      stream,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		stream.push(rsm.Payload{
			Sender:  ps.ByIndex(i),
			RoundID: "vote",
			Kind:    rsm.PayloadKindDecision,
			Value:   "yes",
		})
	}

	engine.Wait()
	require.ErrorContains(t, engine.Err(), "no edge")
}

func TestEnginePeriodBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ctx, 4, fixtureOpts{
		roundTimeout:     50 * time.Millisecond,
		maxFailedPeriods: 2,
	})

	// Two consecutive periods fail by timeout with no submissions;
	// the engine halts with the budget error instead of looping forever.
	requireEntrance(t, f, rsmapp.RoundCollectPrice, 0)
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventRoundTimeout)
	requireEntrance(t, f, rsmapp.RoundReset, 0)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)

	requireEntrance(t, f, rsmapp.RoundCollectPrice, 1)
	requireResolution(t, f, rsmapp.RoundCollectPrice, rsm.EventRoundTimeout)
	requireEntrance(t, f, rsmapp.RoundReset, 1)
	requireResolution(t, f, rsmapp.RoundReset, rsm.EventReset)

	f.engine.Wait()
	require.ErrorIs(t, f.engine.Err(), rsmengine.ErrPeriodsExhausted)
}
