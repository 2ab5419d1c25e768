package model

import "fmt"

// ArtifactMismatchError reports a persisted model that does not fit the
// architecture built for loading it, typically because the taxonomy changed
// since training.
type ArtifactMismatchError struct {
	Path     string
	Key      string
	Expected []int
	Actual   []int
	Reason   string
}

func (e *ArtifactMismatchError) Error() string {
	msg := "artifact mismatch"
	if e.Path != "" {
		msg += " in " + e.Path
	}
	msg += fmt.Sprintf(": %s", e.Key)
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Expected != nil || e.Actual != nil {
		msg += fmt.Sprintf(": expected shape %v, got %v", e.Expected, e.Actual)
	}
	return msg
}
