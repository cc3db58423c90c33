package session

import "fmt"

// ReferenceError reports an operation that named an entry id the store does not hold.
type ReferenceError struct {
	ID string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("Entry %s not found", e.ID)
}
