package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrDecode marks a log that matched the contract and topic but could not
	// be decoded. Decode faults are never retried; backfill from the raw-log
	// archive is the recovery path.
	ErrDecode = errors.New("undecodable log")

	// ErrUnknownMarket and ErrUnknownOutcome are causal-order faults: an event
	// referenced a parent row that was never materialized. The affected market
	// is halted rather than fabricated.
	ErrUnknownMarket  = errors.New("market not materialized")
	ErrUnknownOutcome = errors.New("outcome not materialized")

	// ErrResolutionConflict is raised when a market that already resolved is
	// re-resolved with different values. Stored state is never overwritten.
	ErrResolutionConflict = errors.New("conflicting resolution values")

	// ErrCircuitOpen is returned by the contract reader once consecutive RPC
	// failures trip the breaker.
	ErrCircuitOpen = errors.New("rpc circuit breaker open")

	ErrLockHeld = errors.New("lock already held")
)
