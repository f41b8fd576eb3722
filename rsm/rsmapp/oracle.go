package rsmapp

import (
	"time"

	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmround"
)

// Round IDs of the price oracle workflow.
const (
	RoundCollectPrice      = "collect_price"
	RoundAgreePrice        = "agree_price"
	RoundDecideAction      = "decide_action"
	RoundCollectSignatures = "collect_signatures"
	RoundSubmitTx          = "submit_tx"
	RoundReset             = "reset"
)

// Synchronized data fields written by the oracle rounds.
const (
	FieldMostVotedPrice     = "most_voted_price"
	FieldMostVotedDecision  = "most_voted_decision"
	FieldMostVotedSignature = "most_voted_signature"
	FieldFinalTxHash        = "final_tx_hash"
)

// Decision values agreed in [RoundDecideAction].
const (
	DecisionAct  = "act"
	DecisionSkip = "skip"
)

// OracleConfig carries the per-round deadlines of the oracle workflow.
type OracleConfig struct {
	Participants rsm.ParticipantSet

	// RoundTimeout bounds the collection and agreement rounds.
	RoundTimeout time.Duration

	// ValidateTimeout bounds the signature collection round.
	ValidateTimeout time.Duration

	// FinalizeTimeout bounds the keeper's transaction submission round.
	FinalizeTimeout time.Duration

	// ResetPause is how long the reset round idles
	// before starting the next period.
	ResetPause time.Duration
}

// PriceOracle returns the transition table for the price oracle workflow:
// collect per-agent price observations, agree on an estimate,
// decide whether to act, gather signature agreement,
// have the keeper submit the transaction, then pause and reset.
//
// Every failure edge routes to the reset round;
// a full period failure restarts the workflow rather than crashing the node.
func PriceOracle(cfg OracleConfig) App {
	ps := cfg.Participants

	return App{
		Initial: RoundCollectPrice,
		Reset:   RoundReset,

		Rounds: map[string]RoundFactory{
			RoundCollectPrice: func(rc RoundContext) rsmround.Round {
				return rsmround.NewCollectDifferent(rsmround.CollectDifferentConfig{
					ID:           RoundCollectPrice,
					Participants: ps,
					PayloadKind:  rsm.PayloadKindPrice,
				})
			},
			RoundAgreePrice: func(rc RoundContext) rsmround.Round {
				return rsmround.NewCollectSame(rsmround.CollectSameConfig{
					ID:           RoundAgreePrice,
					Participants: ps,
					PayloadKind:  rsm.PayloadKindPrice,
					SelectionKey: FieldMostVotedPrice,
				})
			},
			RoundDecideAction: func(rc RoundContext) rsmround.Round {
				return rsmround.NewCollectSame(rsmround.CollectSameConfig{
					ID:           RoundDecideAction,
					Participants: ps,
					PayloadKind:  rsm.PayloadKindDecision,
					SelectionKey: FieldMostVotedDecision,
					SelectEvent: func(value string) rsm.Event {
						if value == DecisionAct {
							return rsm.EventTransact
						}
						return rsm.EventDone
					},
				})
			},
			RoundCollectSignatures: func(rc RoundContext) rsmround.Round {
				return rsmround.NewCollectSame(rsmround.CollectSameConfig{
					ID:           RoundCollectSignatures,
					Participants: ps,
					PayloadKind:  rsm.PayloadKindSigShare,
					SelectionKey: FieldMostVotedSignature,
				})
			},
			RoundSubmitTx: func(rc RoundContext) rsmround.Round {
				return rsmround.NewOnlyKeeper(rsmround.OnlyKeeperConfig{
					ID:           RoundSubmitTx,
					Participants: ps,
					PayloadKind:  rsm.PayloadKindTxHash,
					Keeper:       rc.Keeper,
					SelectionKey: FieldFinalTxHash,
				})
			},
			RoundReset: func(rc RoundContext) rsmround.Round {
				return rsmround.NewDegenerate(RoundReset)
			},
		},

		Transitions: map[string]map[rsm.Event]string{
			RoundCollectPrice: {
				rsm.EventDone:         RoundAgreePrice,
				rsm.EventRoundTimeout: RoundReset,
			},
			RoundAgreePrice: {
				rsm.EventDone:         RoundDecideAction,
				rsm.EventNoMajority:   RoundReset,
				rsm.EventRoundTimeout: RoundReset,
			},
			RoundDecideAction: {
				rsm.EventTransact:     RoundCollectSignatures,
				rsm.EventDone:         RoundReset,
				rsm.EventNoMajority:   RoundReset,
				rsm.EventRoundTimeout: RoundReset,
			},
			RoundCollectSignatures: {
				rsm.EventDone:         RoundSubmitTx,
				rsm.EventNoMajority:   RoundReset,
				rsm.EventRoundTimeout: RoundReset,
			},
			RoundSubmitTx: {
				rsm.EventDone:         RoundReset,
				rsm.EventRoundTimeout: RoundSubmitTx,
				rsm.EventError:        RoundReset,
			},
			RoundReset: {
				rsm.EventReset: RoundCollectPrice,
			},
		},

		Deadlines: map[string]time.Duration{
			RoundCollectPrice:      cfg.RoundTimeout,
			RoundAgreePrice:        cfg.RoundTimeout,
			RoundDecideAction:      cfg.RoundTimeout,
			RoundCollectSignatures: cfg.ValidateTimeout,
			RoundSubmitTx:          cfg.FinalizeTimeout,
			RoundReset:             cfg.ResetPause,
		},

		PreConditions: map[string][]string{
			RoundDecideAction:      {FieldMostVotedPrice},
			RoundCollectSignatures: {FieldMostVotedPrice, FieldMostVotedDecision},
			RoundSubmitTx:          {FieldMostVotedSignature},
		},
		PostConditions: map[string][]string{
			RoundAgreePrice: {FieldMostVotedPrice},
			RoundSubmitTx:   {FieldFinalTxHash},
		},
	}
}
