package rsm

import (
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the round-specific shape of a payload value.
type PayloadKind uint8

const (
	_ PayloadKind = iota // Zero value reserved.

	// PayloadKindPrice carries one agent's observed price string.
	PayloadKindPrice

	// PayloadKindDecision carries an act/skip decision flag.
	PayloadKindDecision

	// PayloadKindTxHash carries the hash of a built transaction.
	PayloadKindTxHash

	// PayloadKindSigShare carries a signature share digest.
	PayloadKindSigShare
)

var payloadKindNames = map[PayloadKind]string{
	PayloadKindPrice:    "price",
	PayloadKindDecision: "decision",
	PayloadKindTxHash:   "tx_hash",
	PayloadKindSigShare: "sig_share",
}

func (k PayloadKind) String() string {
	if s, ok := payloadKindNames[k]; ok {
		return s
	}
	return "invalid"
}

// Payload is one participant's contribution for one round instance.
//
// RoundID and Period together identify the instance:
// periods reuse round IDs, so a payload for a prior period's instance
// must not land in the current one.
//
// The Value is a string whose interpretation depends on Kind;
// rounds compare values byte-for-byte, so producers are responsible
// for emitting a canonical representation.
type Payload struct {
	Sender  Participant
	RoundID string
	Period  uint64
	Kind    PayloadKind
	Value   string
}

// payloadJSON is the wire framing for a payload.
// Field names are fixed; the transport orders entries,
// so the codec only needs to be stable, not self-describing.
type payloadJSON struct {
	Sender  string `json:"sender"`
	RoundID string `json:"round_id"`
	Period  uint64 `json:"period"`
	Kind    string `json:"kind"`
	Value   string `json:"value"`
}

// MarshalBinary encodes the payload for transport framing.
func (p Payload) MarshalBinary() ([]byte, error) {
	kind, ok := payloadKindNames[p.Kind]
	if !ok {
		return nil, fmt.Errorf("cannot marshal payload with invalid kind %d", p.Kind)
	}
	return json.Marshal(payloadJSON{
		Sender:  string(p.Sender),
		RoundID: p.RoundID,
		Period:  p.Period,
		Kind:    kind,
		Value:   p.Value,
	})
}

// UnmarshalBinary decodes a payload previously encoded with MarshalBinary.
func (p *Payload) UnmarshalBinary(b []byte) error {
	var pj payloadJSON
	if err := json.Unmarshal(b, &pj); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	var kind PayloadKind
	for k, name := range payloadKindNames {
		if name == pj.Kind {
			kind = k
			break
		}
	}
	if kind == 0 {
		return fmt.Errorf("unknown payload kind %q", pj.Kind)
	}

	p.Sender = Participant(pj.Sender)
	p.RoundID = pj.RoundID
	p.Period = pj.Period
	p.Kind = kind
	p.Value = pj.Value
	return nil
}
