package engine

import "fmt"

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidStateError signals an operation against a session whose lifecycle
// state does not permit it, e.g. submitting an already scored inspection.
type InvalidStateError struct {
	InspectionID string
	Status       string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("inspection %s is %s, expected open", e.InspectionID, e.Status)
}
