// Package clmmerr defines the error taxonomy shared by every component of
// the CLMM core (tickmath, liquiditymath, pool, vpm, ingestion). Each
// sentinel corresponds to one "kind" from the core's error design: callers
// should match with errors.Is against these values rather than against the
// wrapped message text.
package clmmerr

import "errors"

var (
	// ErrInvalidTick indicates a tick outside the absolute bounds or not
	// aligned to the pool's tick spacing.
	ErrInvalidTick = errors.New("clmm: invalid tick")

	// ErrInvalidRange indicates tickLower >= tickUpper.
	ErrInvalidRange = errors.New("clmm: invalid tick range")

	// ErrInsufficientBalance indicates the VPM wallet lacks the requested amount.
	ErrInsufficientBalance = errors.New("clmm: insufficient wallet balance")

	// ErrInsufficientLiquidity indicates a burn asked for more liquidity than
	// the position owns.
	ErrInsufficientLiquidity = errors.New("clmm: insufficient liquidity")

	// ErrPositionMissing indicates a lookup of an unknown position.
	ErrPositionMissing = errors.New("clmm: position not found")

	// ErrMathDomain indicates a division by zero, a negative sqrt input, or
	// an overflow detected by a safe-multiply branch.
	ErrMathDomain = errors.New("clmm: input outside valid math domain")

	// ErrSimulatedError is deterministic fault injection raised by the VPM's
	// simulateErrors knob; retryable by the caller.
	ErrSimulatedError = errors.New("clmm: simulated error (fault injection)")

	// ErrEventOutOfOrder indicates a swap event's timestamp precedes the last
	// event the ingestion adapter processed.
	ErrEventOutOfOrder = errors.New("clmm: swap event out of timestamp order")
)
