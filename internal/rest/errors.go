package rest

import (
	"fmt"
	"strconv"
)

// ExchangeError is a non-2xx response or an error reported in the response body.
type ExchangeError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

func statusError(status int, body []byte) *ExchangeError {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &ExchangeError{StatusCode: status, Code: strconv.Itoa(status), Message: msg}
}

// TransientNetworkError wraps transport failures such as timeouts and resets.
// The pipeline never retries them; the acquisition loops back off instead.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }
