package runlog

import "fmt"

// ConfigError reports a missing, unreadable, or malformed automation config
// artifact. No run record is created when resolution fails.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("automation config: %v", e.Err)
	}
	return fmt.Sprintf("automation config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PersistenceError reports a failed append of a finalized record to the sink.
// The in-memory record is unaffected; the failure is surfaced, never swallowed.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist run record: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
