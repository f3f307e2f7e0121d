package vision

import (
	"fmt"
	"strings"
)

// Kind classifies a failed analyze call.
type Kind int

const (
	// RequestFailed is a non-success HTTP status; the run may continue.
	RequestFailed Kind = iota
	// QuotaExceeded means the subscription has used up its allowance; the run should stop.
	QuotaExceeded
	// TransportError is a failure to reach the service at all.
	TransportError
)

func (k Kind) String() string {
	switch k {
	case QuotaExceeded:
		return "quota exceeded"
	case TransportError:
		return "transport error"
	default:
		return "request failed"
	}
}

// maxBodyLog caps how much of an error body we keep for diagnostics.
const maxBodyLog = 4096

// Error is returned by Analyze for every failed call.
type Error struct {
	Kind       Kind
	StatusCode int
	Reason     string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == TransportError {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %d %s: %s", e.Kind, e.StatusCode, e.Reason, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// isQuota reports whether a reason phrase is the service's quota sentinel.
func isQuota(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "quota exceeded")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
