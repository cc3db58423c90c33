package extension

import "fmt"

// HostError reports a failure of an extension process or its protocol:
// spawn failures, handshake timeouts, malformed manifests or responses, and
// crashes.
type HostError struct {
	ExtensionPath string
	// Event is the method or hook being processed, if any.
	Event   string
	Message string
	Err     error
}

func (e *HostError) Error() string {
	msg := "extension " + e.ExtensionPath
	if e.Event != "" {
		msg += " (" + e.Event + ")"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HostError) Unwrap() error { return e.Err }

func hostErrorf(path, event string, err error, format string, args ...any) *HostError {
	return &HostError{ExtensionPath: path, Event: event, Message: fmt.Sprintf(format, args...), Err: err}
}
