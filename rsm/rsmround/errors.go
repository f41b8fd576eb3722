package rsmround

import "errors"

var (
	// ErrUnknownSender indicates a payload from outside the participant set.
	ErrUnknownSender = errors.New("payload sender is not in the participant set")

	// ErrWrongRound indicates a payload addressed to a different round ID.
	ErrWrongRound = errors.New("payload round ID does not match this round")

	// ErrWrongKind indicates a payload whose kind the round does not collect.
	ErrWrongKind = errors.New("payload kind does not match this round")

	// ErrDuplicateSubmission indicates the sender already has an accepted
	// entry for this round instance.
	ErrDuplicateSubmission = errors.New("sender already has an accepted payload for this round")

	// ErrAlreadyResolved indicates a submission arriving after resolution.
	ErrAlreadyResolved = errors.New("round has already resolved")

	// ErrNotKeeper indicates a payload to a keeper-only round
	// from a participant other than the assigned keeper.
	ErrNotKeeper = errors.New("payload sender is not the assigned keeper")

	// ErrDegenerateRound indicates a submission to a terminal round,
	// which collects nothing.
	ErrDegenerateRound = errors.New("degenerate round does not accept payloads")
)
