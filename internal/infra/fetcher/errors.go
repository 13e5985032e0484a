package fetcher

import "fmt"

// RequestErrorKind classifies a failed feed retrieval.
type RequestErrorKind string

const (
	// KindBadStatus means the remote answered with a non-success status
	// and no fallback strategy could recover.
	KindBadStatus RequestErrorKind = "bad_status"
	// KindNetworkError means the request never produced a response
	// (DNS, connect, TLS or timeout failure). Never retried in-line;
	// the next scheduled cycle is the retry cadence.
	KindNetworkError RequestErrorKind = "network_error"
)

// RequestError is the failure type for all fetch outcomes. Status is only
// meaningful for KindBadStatus.
type RequestError struct {
	Kind   RequestErrorKind
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case KindBadStatus:
		return fmt.Sprintf("bad status code (%d)", e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("request failed: %v", e.Err)
		}
		return "request failed"
	}
}

// Unwrap exposes the underlying transport error for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// BadStatus builds a KindBadStatus error for the given HTTP status.
func BadStatus(status int) *RequestError {
	return &RequestError{Kind: KindBadStatus, Status: status}
}

// NetworkError wraps a transport-level failure.
func NetworkError(err error) *RequestError {
	return &RequestError{Kind: KindNetworkError, Err: err}
}
