package transfer

import "fmt"

// NetworkError represents network failures and API errors including 5xx
// responses, connection timeouts and rate limiting.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch_chunk", "resolve_url")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the API or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents 401 Unauthorized and 403 Forbidden responses
// from the remote store.
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RangeError is returned when the remote store rejects the requested byte
// range, usually because the offset lies past the end of the blob.
type RangeError struct {
	Key    string // Location key of the blob
	Offset int64
	Limit  int64
	Err    error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %d+%d not satisfiable for %s", e.Offset, e.Limit, e.Key)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}
