package specialist

import "errors"

// Sentinel errors for specialist dispatch.
var (
	ErrBadDefinition = errors.New("invalid specialist definition")
	ErrUnknownTier   = errors.New("no specialist for tier")
	ErrOverloaded    = errors.New("specialist at capacity")
	ErrUnreachable   = errors.New("specialist endpoint unreachable")
)
