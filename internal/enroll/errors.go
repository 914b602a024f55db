package enroll

import "fmt"

// ValidationError rejects enrollment metadata before any resource is opened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError is returned under the reject policy when the captured face is
// within the match threshold of a different enrolled identity.
type DuplicateError struct {
	ID       string
	Existing string
	Distance float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("face for %q already matches enrolled identity %q (distance %.3f)", e.ID, e.Existing, e.Distance)
}
