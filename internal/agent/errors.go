package agent

import "errors"

// ConcurrencyError is returned when an operation needs an idle engine but
// a run is in progress.
type ConcurrencyError struct {
	// Op is the rejected operation, e.g. "prompt".
	Op string
}

func (e *ConcurrencyError) Error() string {
	if e.Op == "" || e.Op == "prompt" {
		return "Agent is already processing a prompt. Use steer() or followUp() to queue messages, or wait for completion."
	}
	return "Agent is already processing. Wait for completion before calling " + e.Op + "."
}

var (
	// ErrInvalidBranchEntry is returned by Branch for entries that are not
	// user messages.
	ErrInvalidBranchEntry = errors.New("Invalid entry ID for branching")

	// ErrNoModel is returned when a run would start without a model.
	ErrNoModel = errors.New("No model selected")
)

// IsConcurrencyError reports whether err is a *ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}
