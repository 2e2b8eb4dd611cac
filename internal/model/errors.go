package model

import "errors"

// ErrUnauthenticated is returned when an operation needs a valid session
// and there is none, or the server rejected the bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")
