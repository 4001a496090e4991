package message

import (
	"errors"
	"fmt"
)

// ErrUnknownAccount is returned when a sender entity names no configured account.
var ErrUnknownAccount = errors.New("message: unknown account")

// SendError reports an outbound message the realm did not accept. The
// message returned alongside it is the locally recorded copy.
type SendError struct {
	Account string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send via %s: %v", e.Account, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NormalizationError reports a realm payload, or one unit of it, that could
// not be mapped to canonical values.
type NormalizationError struct {
	Realm string
	Err   error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s payload: %v", e.Realm, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}
