package auth

import "errors"

var (
	// ErrAuthenticationFailed reports unresolvable or invalid credentials.
	// Rejected before any filter computation happens.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnknownPrincipal reports a principal that cannot be resolved at all.
	// This is the only authorization failure that surfaces as an error; an
	// empty grant set is a valid deny-all outcome, not an error.
	ErrUnknownPrincipal = errors.New("unknown principal")
)
