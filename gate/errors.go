package gate

import "errors"

var (
	// ErrUnauthorized is returned when there is no signed-in user or the
	// resource policy denies the action.
	ErrUnauthorized = errors.New("gate: action not permitted")
	// ErrNoPolicyDefined means the resource type was never registered.
	ErrNoPolicyDefined = errors.New("gate: no policy registered for resource type")
)
