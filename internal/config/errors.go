package config

import "fmt"

// ConfigurationError reports a setting or input that makes a run
// impossible: an invalid field, a missing dataset root, an empty taxonomy or
// a dataset with nothing left to train on. It is fatal and never retried.
type ConfigurationError struct {
	Field  string // config key, when the problem is a setting
	Path   string // offending file or directory, when there is one
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Path != "" {
		msg += fmt.Sprintf(": %s", e.Path)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
