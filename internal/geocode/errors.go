package geocode

import (
	"errors"
	"fmt"
)

// ErrFatal marks API failures that mean no further request can succeed
// (bad credentials or malformed requests). Check with errors.Is.
var ErrFatal = errors.New("fatal geocoding API error")

// APIError is returned for fatal HTTP responses from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return ErrFatal }

// IsFatal reports whether err should stop all further geocoding.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func fatalMessage(status int) string {
	switch status {
	case 400:
		return "Bad request - check coordinates format"
	case 401:
		return "Unauthorized - invalid API key"
	case 403:
		return "Forbidden - check API key permissions"
	}
	return "request rejected"
}
