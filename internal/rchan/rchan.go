// Package rchan provides small helpers for channel operations
// that must respect context cancellation.
package rchan

import (
	"context"
	"log/slog"
)

// SendC attempts to send val to ch, returning true on success
// or false if ctx was canceled first.
// The purpose argument is a plain description of the send,
// used only in the debug log line emitted when the send is abandoned.
func SendC[T any](ctx context.Context, log *slog.Logger, ch chan<- T, val T, purpose string) bool {
	select {
	case ch <- val:
		return true
	case <-ctx.Done():
		log.Debug("Context canceled while "+purpose, "cause", context.Cause(ctx))
		return false
	}
}

// RecvC attempts to receive a value from ch,
// returning the zero value and false if ctx was canceled first.
func RecvC[T any](ctx context.Context, log *slog.Logger, ch <-chan T, purpose string) (T, bool) {
	select {
	case val := <-ch:
		return val, true
	case <-ctx.Done():
		log.Debug("Context canceled while "+purpose, "cause", context.Cause(ctx))
		var zero T
		return zero, false
	}
}

// ReqResp sends reqVal to reqCh and then receives from respCh,
// abandoning at either point if ctx is canceled.
func ReqResp[T, U any](
	ctx context.Context, log *slog.Logger,
	reqCh chan<- T, reqVal T,
	respCh <-chan U,
	purpose string,
) (U, bool) {
	if !SendC(ctx, log, reqCh, reqVal, "making "+purpose+" request") {
		var zero U
		return zero, false
	}

	return RecvC(ctx, log, respCh, "receiving "+purpose+" response")
}
