package realtime

import "fmt"

// TransportError is a dial failure or an abrupt close of the socket. It is
// logged and retried, never surfaced to the user.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime transport error on %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
