// Package runlog records one summary row per automation run: who ran, from
// where, for how long, whether it succeeded, and whatever diagnostic entries
// the automation attached along the way.
package runlog

import (
	"context"
	"errors"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives one finalized Record per acquisition. Append must be
// all-or-nothing for a single record; implementations report failure as a
// *PersistenceError.
type Sink interface {
	Append(ctx context.Context, rec *Record) error
}

// Logger owns the run record for one scoped execution. Construct it at the
// start of a run, thread it through call sites that annotate the run, and
// release it with Done (deferred) or Close. Exactly one Append happens per
// Logger regardless of how the run ends.
type Logger struct {
	sink Sink
	now  func() time.Time
	errh func(error)

	mu        sync.Mutex
	rec       Record
	done      bool
	appendErr error
}

// Option adjusts Logger construction.
type Option func(*Logger)

// WithAutomationID overrides the identifier from the config artifact.
func WithAutomationID(id int64) Option {
	return func(l *Logger) { l.rec.AutomationID = id }
}

// WithOrigin overrides the detected host identifier.
func WithOrigin(origin string) Option {
	return func(l *Logger) { l.rec.Origin = origin }
}

// WithErrorHandler sets the function that observes errors the Logger cannot
// return to the caller, such as an append failure during panic propagation.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Logger) {
		if fn != nil {
			l.errh = fn
		}
	}
}

// WithNow sets the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(l *Logger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New acquires a Logger for the given automation identifier. The record's
// start time and origin are captured here.
func New(automationID int64, s Sink, opts ...Option) (*Logger, error) {
	if s == nil {
		return nil, errors.New("runlog: sink is required")
	}

	l := &Logger{
		sink: s,
		now:  time.Now,
		errh: func(err error) { log.Printf("runlog: %v", err) },
		rec: Record{
			ID:           uuid.New(),
			AutomationID: automationID,
			Origin:       hostOrigin(),
			Status:       StatusSuccess,
			Context:      hostContext(),
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.rec.StartedAt = l.now().UTC()

	if cwd, err := os.Getwd(); err == nil {
		l.rec.Context["cwd"] = cwd
	}

	return l, nil
}

// FromConfig resolves the automation identifier from the config artifact at
// path and acquires a Logger. Resolution failure is a *ConfigError; no scope
// is entered and nothing is persisted.
func FromConfig(path string, s Sink, opts ...Option) (*Logger, error) {
	cfg, err := ResolveConfig(path)
	if err != nil {
		return nil, err
	}

	l, err := New(cfg.AutomationID, s, opts...)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.rec.Context["config_path"] = path
	l.mu.Unlock()

	return l, nil
}

// AddOutput appends an informational entry to the run's outputs. Entries are
// order-preserving and never removed. No-op after release.
func (l *Logger) AddOutput(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.rec.Outputs = append(l.rec.Outputs, jsonable(entry))
}

// AddFlag appends a needs-investigation entry to the run's flags. Flags are
// independent of status: a run can be flagged and still succeed. No-op after
// release.
func (l *Logger) AddFlag(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.rec.Flags = append(l.rec.Flags, jsonable(entry))
}

// MarkFailure sets the run status to failure. Idempotent; the status never
// reverts to success. Orthogonal to AddFlag.
func (l *Logger) MarkFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.rec.Status = StatusFailure
}

// Snapshot returns a copy of the current record.
func (l *Logger) Snapshot() Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyRecordLocked()
}

// AppendErr reports the persistence failure from release, if any.
func (l *Logger) AppendErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendErr
}

// Done releases the Logger and is meant to be deferred around the run body:
//
//	lg, err := runlog.FromConfig(path, sink)
//	if err != nil {
//	    return err
//	}
//	defer lg.Done(ctx, &err)
//
// A panic unwinding through Done marks the run failed, records the panic
// value and stack under outputs, persists the record, and then re-panics. A
// non-nil *errp likewise marks the run failed and records the error. An
// append failure joins *errp when possible; during panic propagation it goes
// to the error handler instead, so neither failure is lost.
func (l *Logger) Done(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		l.recordPanic(r, debug.Stack())
		if err := l.Close(ctx); err != nil {
			l.errh(err)
		}
		panic(r)
	}

	if errp != nil && *errp != nil {
		l.recordError(*errp)
	}

	if err := l.Close(ctx); err != nil {
		if errp != nil {
			*errp = errors.Join(*errp, err)
		} else {
			l.errh(err)
		}
	}
}

// Close finalizes and persists the record. The first call appends exactly
// once; later calls return the stored append error without re-appending.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.done {
		err := l.appendErr
		l.mu.Unlock()
		return err
	}
	l.done = true

	end := l.now().UTC()
	if end.Before(l.rec.StartedAt) {
		end = l.rec.StartedAt
	}
	l.rec.EndedAt = end
	l.rec.DurationMS = end.Sub(l.rec.StartedAt).Milliseconds()

	rec := l.copyRecordLocked()
	l.mu.Unlock()

	if err := l.sink.Append(ctx, &rec); err != nil {
		var pe *PersistenceError
		if !errors.As(err, &pe) {
			err = &PersistenceError{Err: err}
		}
		l.mu.Lock()
		l.appendErr = err
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Logger) recordPanic(v any, stack []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.rec.Status = StatusFailure
	l.rec.Outputs = append(l.rec.Outputs, map[string]any{
		"error": map[string]any{
			"panic": jsonable(v),
			"stack": string(stack),
		},
	})
}

func (l *Logger) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.rec.Status = StatusFailure
	l.rec.Outputs = append(l.rec.Outputs, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
		},
	})
}

func (l *Logger) copyRecordLocked() Record {
	rec := l.rec
	rec.Outputs = append([]any(nil), l.rec.Outputs...)
	rec.Flags = append([]any(nil), l.rec.Flags...)
	rec.Context = make(map[string]any, len(l.rec.Context))
	for k, v := range l.rec.Context {
		rec.Context[k] = v
	}
	return rec
}
