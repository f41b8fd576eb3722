// Package oracleapp assembles the price oracle workflow:
// the concrete behaviours that bind the feed, ledger,
// and signing collaborators to the rounds of [rsmapp.PriceOracle],
// and the per-agent node wiring used by the CLI and integration tests.
package oracleapp

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/petrel-net/petrel/ledger"
	"github.com/petrel-net/petrel/oracle"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmapp"
	"github.com/petrel-net/petrel/rsm/rsmdriver"
	"github.com/petrel-net/petrel/sigshare"
)

// Params is the persisted configuration surface of the oracle workflow.
// The engine reads these values; it never mutates them.
type Params struct {
	// ActThreshold is the agreed price at or above which
	// the cohort decides to transact.
	ActThreshold float64

	// SafeAddress is the fixed multisig receiving the multisend.
	SafeAddress string

	// TokenAddress and TransferValue define the single call
	// of the multisend transaction.
	TokenAddress  string
	TransferValue uint64
}

// Behaviours returns the full behaviour set for one agent.
func Behaviours(
	params Params,
	feed *oracle.Client,
	builder *ledger.TxBuilder,
	submitter ledger.Submitter,
	signer sigshare.Signer,
	shares ShareSink,
) []rsmdriver.Behaviour {
	return []rsmdriver.Behaviour{
		CollectPriceBehaviour{Feed: feed},
		AgreePriceBehaviour{},
		DecideActionBehaviour{Params: params},
		CollectSignaturesBehaviour{Params: params, Builder: builder, Signer: signer, Shares: shares},
		SubmitTxBehaviour{Params: params, Builder: builder, Submitter: submitter, Shares: shares},
	}
}

// CollectPriceBehaviour fetches this agent's own price observation.
type CollectPriceBehaviour struct {
	Feed *oracle.Client
}

func (CollectPriceBehaviour) RoundID() string {
	return rsmapp.RoundCollectPrice
}

func (b CollectPriceBehaviour) Act(ctx context.Context, bc rsmdriver.BehaviourContext) (rsm.Payload, error) {
	price, err := b.Feed.FetchPrice(ctx)
	if err != nil {
		return rsm.Payload{}, fmt.Errorf("failed to fetch price observation: %w", err)
	}

	return rsm.Payload{
		Sender:  bc.Self,
		RoundID: rsmapp.RoundCollectPrice,
		Period:  bc.Period,
		Kind:    rsm.PayloadKindPrice,
		Value:   price,
	}, nil
}

// AgreePriceBehaviour derives the cohort's price estimate
// from the collected observations.
//
// The estimate is the numeric median observation, submitted verbatim:
// selecting an existing string rather than computing a new number
// keeps the value byte-identical across agents.
type AgreePriceBehaviour struct{}

func (AgreePriceBehaviour) RoundID() string {
	return rsmapp.RoundAgreePrice
}

func (AgreePriceBehaviour) Act(ctx context.Context, bc rsmdriver.BehaviourContext) (rsm.Payload, error) {
	collected := bc.Data.Collection(rsmapp.RoundCollectPrice)
	if len(collected) == 0 {
		return rsm.Payload{}, fmt.Errorf("no collected price observations")
	}

	values := make([]string, 0, len(collected))
	for _, v := range collected {
		values = append(values, v)
	}

	median, err := medianPrice(values)
	if err != nil {
		return rsm.Payload{}, err
	}

	return rsm.Payload{
		Sender:  bc.Self,
		RoundID: rsmapp.RoundAgreePrice,
		Period:  bc.Period,
		Kind:    rsm.PayloadKindPrice,
		Value:   median,
	}, nil
}

func medianPrice(values []string) (string, error) {
	type obs struct {
		raw string
		f   float64
	}

	parsed := make([]obs, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", fmt.Errorf("unparseable price observation %q: %w", v, err)
		}
		parsed = append(parsed, obs{raw: v, f: f})
	}

	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].f != parsed[j].f {
			return parsed[i].f < parsed[j].f
		}
		// Numeric ties break on the raw string,
		// so the selection is total and identical everywhere.
		return parsed[i].raw < parsed[j].raw
	})

	return parsed[(len(parsed)-1)/2].raw, nil
}

// DecideActionBehaviour votes act or skip
// based on the agreed price and the configured threshold.
type DecideActionBehaviour struct {
	Params Params
}

func (DecideActionBehaviour) RoundID() string {
	return rsmapp.RoundDecideAction
}

func (b DecideActionBehaviour) Act(ctx context.Context, bc rsmdriver.BehaviourContext) (rsm.Payload, error) {
	agreed, err := bc.Data.GetStrict(rsmapp.FieldMostVotedPrice)
	if err != nil {
		return rsm.Payload{}, err
	}

	price, err := strconv.ParseFloat(agreed, 64)
	if err != nil {
		return rsm.Payload{}, fmt.Errorf("unparseable agreed price %q: %w", agreed, err)
	}

	decision := rsmapp.DecisionSkip
	if price >= b.Params.ActThreshold {
		decision = rsmapp.DecisionAct
	}

	return rsm.Payload{
		Sender:  bc.Self,
		RoundID: rsmapp.RoundDecideAction,
		Period:  bc.Period,
		Kind:    rsm.PayloadKindDecision,
		Value:   decision,
	}, nil
}

// CollectSignaturesBehaviour builds the settlement transaction
// from the agreed state, signs its digest,
// hands the share to the signing collaborator,
// and votes the digest so the cohort agrees on what was signed.
type CollectSignaturesBehaviour struct {
	Params  Params
	Builder *ledger.TxBuilder
	Signer  sigshare.Signer
	Shares  ShareSink
}

func (CollectSignaturesBehaviour) RoundID() string {
	return rsmapp.RoundCollectSignatures
}

func (b CollectSignaturesBehaviour) Act(ctx context.Context, bc rsmdriver.BehaviourContext) (rsm.Payload, error) {
	tx, err := settlementTx(b.Params, b.Builder)
	if err != nil {
		return rsm.Payload{}, err
	}

	digest := sigshare.Digest([]byte(tx.Hash()))

	if err := b.Shares.AddShare(digest, b.Signer.Sign(digest)); err != nil {
		return rsm.Payload{}, fmt.Errorf("failed to contribute signature share: %w", err)
	}

	return rsm.Payload{
		Sender:  bc.Self,
		RoundID: rsmapp.RoundCollectSignatures,
		Period:  bc.Period,
		Kind:    rsm.PayloadKindSigShare,
		Value:   digest,
	}, nil
}

// SubmitTxBehaviour is keeper-only:
// the assigned keeper rebuilds the agreed transaction,
// confirms the share threshold, submits, and reports the hash.
// Every other agent suspends without submitting.
type SubmitTxBehaviour struct {
	Params    Params
	Builder   *ledger.TxBuilder
	Submitter ledger.Submitter
	Shares    ShareSink
}

func (SubmitTxBehaviour) RoundID() string {
	return rsmapp.RoundSubmitTx
}

func (b SubmitTxBehaviour) Act(ctx context.Context, bc rsmdriver.BehaviourContext) (rsm.Payload, error) {
	if bc.Self != bc.Keeper {
		return rsm.Payload{}, rsmdriver.ErrNoSubmission
	}

	tx, err := settlementTx(b.Params, b.Builder)
	if err != nil {
		return rsm.Payload{}, err
	}

	agreedDigest, err := bc.Data.GetStrict(rsmapp.FieldMostVotedSignature)
	if err != nil {
		return rsm.Payload{}, err
	}
	digest := sigshare.Digest([]byte(tx.Hash()))
	if digest != agreedDigest {
		return rsm.Payload{}, fmt.Errorf(
			"rebuilt transaction digest %q does not match agreed digest %q",
			digest, agreedDigest,
		)
	}

	if !b.Shares.Thresholded(digest) {
		return rsm.Payload{}, fmt.Errorf("signature shares below threshold for digest %q", digest)
	}

	receipt, err := b.Submitter.Submit(ctx, tx)
	if err != nil {
		return rsm.Payload{}, fmt.Errorf("failed to submit settlement transaction: %w", err)
	}

	return rsm.Payload{
		Sender:  bc.Self,
		RoundID: rsmapp.RoundSubmitTx,
		Period:  bc.Period,
		Kind:    rsm.PayloadKindTxHash,
		Value:   receipt.TxHash,
	}, nil
}

// settlementTx builds the multisend from agreed configuration only,
// so every agent (and every rotated keeper) derives the same transaction.
func settlementTx(params Params, builder *ledger.TxBuilder) (ledger.Tx, error) {
	tx, err := builder.BuildMultisend([]ledger.Call{
		{To: params.TokenAddress, Value: params.TransferValue},
	})
	if err != nil {
		return ledger.Tx{}, fmt.Errorf("failed to build settlement transaction: %w", err)
	}
	return tx, nil
}
