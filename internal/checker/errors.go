package checker

import "errors"

var (
	ErrInvalidRoom           = errors.New("invalid room ID")
	ErrNoCachedResults       = errors.New("room has not been tested yet")
	ErrServerNotInRoom       = errors.New("server was not part of the last room test")
	ErrRetestInProgress      = errors.New("server is already being retested")
	ErrMembershipUnavailable = errors.New("room membership lookup is not configured")
	ErrNoRoomVersion         = errors.New("room version is required")
)
