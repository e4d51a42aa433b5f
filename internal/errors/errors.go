// internal/errors/errors.go
package errors

import "fmt"

// TransportError indicates a network-level failure reaching the LMS.
// The job layer reports it as a failed job; it is never retried internally.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthenticationError indicates the LMS rejected the supplied credentials.
// Terminal: the job fails and the caller must supply new credentials.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("lms authentication rejected: %s", e.Reason)
}

// ParseAnomaly records a page that yielded no usable structure. It is
// logged for diagnosis; the scrape continues with zero items from that page.
type ParseAnomaly struct {
	Page   string
	Reason string
}

func (e *ParseAnomaly) Error() string {
	return fmt.Sprintf("parse anomaly on %s: %s", e.Page, e.Reason)
}

// PersistenceError indicates storage was unreachable or rejected a write
// at the infrastructure level. It aborts the whole sync with no partial commit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
