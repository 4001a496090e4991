package account

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations that need a live backend session
// while the connection is not connected.
var ErrNotConnected = errors.New("account: not connected")

// ConnectionError is returned when a connection cannot reach its backend.
type ConnectionError struct {
	Account string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
