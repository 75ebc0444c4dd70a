package ollama

import (
	"errors"
	"fmt"
)

// HTTPError is a non-2xx reply. It is reported like a transport failure.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "ollama http error"
	}
	if e.Body == "" {
		return fmt.Sprintf("ollama http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("ollama http error: status=%d body=%s", e.StatusCode, e.Body)
}

// ProtocolError is a 2xx reply whose body is not JSON or has no string
// "response" field.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "ollama protocol error"
	}
	if e.Err != nil {
		return fmt.Sprintf("ollama protocol error: %s: %v", e.Reason, e.Err)
	}
	return "ollama protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
