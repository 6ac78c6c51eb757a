package model

import "errors"

// Failure taxonomy shared by the engine. Callers match with errors.Is.
var (
	// ErrMalformedTick marks a tick without a resolvable timestamp. The tick
	// is dropped and logged; processing continues.
	ErrMalformedTick = errors.New("malformed tick")

	// ErrUnresolvableContract means no strike/expiry matched the entry
	// request. The entry is aborted and the position stays flat.
	ErrUnresolvableContract = errors.New("unresolvable contract")

	// ErrUpstreamAuthExpired means the broker session is no longer valid.
	// Live order placement is suspended until the session is renewed.
	ErrUpstreamAuthExpired = errors.New("upstream auth expired")

	// ErrInvalidConfiguration rejects a strategy at construction time.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAlreadyActive is returned internally when an entry is attempted
	// while a position is open. Strategies ignore it.
	ErrAlreadyActive = errors.New("position already active")
)
