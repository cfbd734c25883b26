package domain

import (
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Status classifies a probe result.
type Status string

const (
	StatusOK                Status = "ok"
	StatusTimeout           Status = "timeout"
	StatusConnectionError   Status = "connection_error"
	StatusMalformedResponse Status = "malformed_response"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusTimeout, StatusConnectionError, StatusMalformedResponse:
		return true
	}
	return false
}

// Outcome is the latest known state of one server in one room.
//
// Outcomes are values: a retest replaces the whole outcome, it never
// patches one in place.
type Outcome struct {
	// Server is the homeserver name as it appears in room membership
	// (the part after the colon of a user ID), e.g. matrix.org.
	Server string

	Status Status

	// Version is only set when Status is StatusOK.
	Version *software.Version

	// Detail explains a failure in plain words. Empty on success.
	Detail string

	CheckedAt time.Time
}

// OK reports whether the probe succeeded and carries a version.
func (o Outcome) OK() bool {
	return o.Status == StatusOK && o.Version != nil
}
