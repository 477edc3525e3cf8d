package searxng

import "fmt"

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindServer     ErrorKind = "server"
)

// BackendError is returned for any failed instance call.
type BackendError struct {
	Kind     ErrorKind
	Instance string
	Detail   string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("searxng %s error from %s: %s: %v", e.Kind, e.Instance, e.Detail, e.Err)
	}
	return fmt.Sprintf("searxng %s error from %s: %s", e.Kind, e.Instance, e.Detail)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
