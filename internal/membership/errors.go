package membership

import (
	"errors"
	"fmt"
)

// MatrixError is a structured error response from the homeserver.
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

const (
	ErrCodeForbidden    = "M_FORBIDDEN"
	ErrCodeUnknownToken = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound     = "M_NOT_FOUND"
)

// IsMatrixError checks whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}
