package runlog

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeSink struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (s *fakeSink) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *fakeSink) records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.recs...)
}

func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	var calls int
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := start.Add(time.Duration(calls) * step)
		calls++
		return t
	}
}

func TestLoggerSuccess(t *testing.T) {
	sink := &fakeSink{}
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	lg, err := New(1234, sink, WithNow(stepClock(start, 5*time.Second)), WithOrigin("worker-1"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("appended %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", rec.Status, StatusSuccess)
	}
	if rec.AutomationID != 1234 {
		t.Errorf("AutomationID = %d, want 1234", rec.AutomationID)
	}
	if rec.Origin != "worker-1" {
		t.Errorf("Origin = %q, want worker-1", rec.Origin)
	}
	if rec.EndedAt.Before(rec.StartedAt) {
		t.Errorf("EndedAt %v precedes StartedAt %v", rec.EndedAt, rec.StartedAt)
	}
	if rec.DurationMS != 5000 {
		t.Errorf("DurationMS = %d, want 5000", rec.DurationMS)
	}
	if rec.Duration() != 5*time.Second {
		t.Errorf("Duration() = %v, want 5s", rec.Duration())
	}
	if len(rec.Outputs) != 0 || len(rec.Flags) != 0 {
		t.Errorf("Outputs/Flags = %v/%v, want empty", rec.Outputs, rec.Flags)
	}
}

func TestLoggerMarkFailureIdempotent(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	lg.MarkFailure()
	lg.MarkFailure()
	lg.MarkFailure()

	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("appended %d records, want 1", len(recs))
	}
	if recs[0].Status != StatusFailure {
		t.Errorf("Status = %q, want %q", recs[0].Status, StatusFailure)
	}
}

func TestLoggerOutputsAndFlagsOrdered(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	lg.AddOutput("a")
	lg.AddFlag("x")
	lg.AddOutput("b")
	lg.AddOutput("c")
	lg.AddFlag("y")

	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	rec := sink.records()[0]
	if want := []any{"a", "b", "c"}; !reflect.DeepEqual(rec.Outputs, want) {
		t.Errorf("Outputs = %v, want %v", rec.Outputs, want)
	}
	if want := []any{"x", "y"}; !reflect.DeepEqual(rec.Flags, want) {
		t.Errorf("Flags = %v, want %v", rec.Flags, want)
	}
}

func TestLoggerFlagWithoutFailure(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1234, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	lg.AddFlag("unexpected null")

	var runErr error
	lg.Done(context.Background(), &runErr)
	if runErr != nil {
		t.Fatalf("Done() set error: %v", runErr)
	}

	rec := sink.records()[0]
	if rec.Status != StatusSuccess {
		t.Errorf("Status = %q, want %q", rec.Status, StatusSuccess)
	}
	if want := []any{"unexpected null"}; !reflect.DeepEqual(rec.Flags, want) {
		t.Errorf("Flags = %v, want %v", rec.Flags, want)
	}
	if len(rec.Outputs) != 0 {
		t.Errorf("Outputs = %v, want empty", rec.Outputs)
	}
}

func TestLoggerFailureWithOutput(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	lg.MarkFailure()
	lg.AddOutput("partial result: 42")

	var runErr error
	lg.Done(context.Background(), &runErr)
	if runErr != nil {
		t.Fatalf("Done() set error: %v", runErr)
	}

	rec := sink.records()[0]
	if rec.Status != StatusFailure {
		t.Errorf("Status = %q, want %q", rec.Status, StatusFailure)
	}
	if want := []any{"partial result: 42"}; !reflect.DeepEqual(rec.Outputs, want) {
		t.Errorf("Outputs = %v, want %v", rec.Outputs, want)
	}
	if len(rec.Flags) != 0 {
		t.Errorf("Flags = %v, want empty", rec.Flags)
	}
}

func TestLoggerPanicPersistsThenRepanics(t *testing.T) {
	sink := &fakeSink{}

	var recovered any
	func() {
		defer func() { recovered = recover() }()

		lg, err := New(1, sink)
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		defer lg.Done(context.Background(), nil)

		panic("boom")
	}()

	if recovered != "boom" {
		t.Fatalf("recovered %v, want boom", recovered)
	}

	recs := sink.records()
	if len(recs) != 1 {
		t.Fatalf("appended %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != StatusFailure {
		t.Errorf("Status = %q, want %q", rec.Status, StatusFailure)
	}
	if len(rec.Outputs) != 1 {
		t.Fatalf("Outputs = %v, want one error entry", rec.Outputs)
	}
	entry, ok := rec.Outputs[0].(map[string]any)
	if !ok {
		t.Fatalf("output entry type %T", rec.Outputs[0])
	}
	detail, ok := entry["error"].(map[string]any)
	if !ok {
		t.Fatalf("error detail missing in %v", entry)
	}
	if detail["panic"] != "boom" {
		t.Errorf("panic detail = %v, want boom", detail["panic"])
	}
	if stack, _ := detail["stack"].(string); stack == "" {
		t.Error("stack detail is empty")
	}
}

func TestLoggerErrorReturnMarksFailure(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	runErr := errors.New("upstream timed out")
	lg.Done(context.Background(), &runErr)

	if runErr == nil || runErr.Error() != "upstream timed out" {
		t.Fatalf("Done() altered the run error: %v", runErr)
	}

	rec := sink.records()[0]
	if rec.Status != StatusFailure {
		t.Errorf("Status = %q, want %q", rec.Status, StatusFailure)
	}
	if len(rec.Outputs) != 1 {
		t.Fatalf("Outputs = %v, want one error entry", rec.Outputs)
	}
}

func TestLoggerAppendFailureJoined(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink unreachable")}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var runErr error
	lg.Done(context.Background(), &runErr)

	if runErr == nil {
		t.Fatal("append failure was swallowed")
	}
	var pe *PersistenceError
	if !errors.As(runErr, &pe) {
		t.Fatalf("expected *PersistenceError, got %v", runErr)
	}
	if lg.AppendErr() == nil {
		t.Error("AppendErr() = nil after failed append")
	}
}

func TestLoggerAppendFailureObservableAfterPanic(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink unreachable")}

	var handled []error
	var recovered any
	func() {
		defer func() { recovered = recover() }()

		lg, err := New(1, sink, WithErrorHandler(func(err error) {
			handled = append(handled, err)
		}))
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		defer lg.Done(context.Background(), nil)

		panic("boom")
	}()

	if recovered != "boom" {
		t.Fatalf("recovered %v, want boom", recovered)
	}
	if len(handled) != 1 {
		t.Fatalf("error handler saw %d errors, want 1", len(handled))
	}
	var pe *PersistenceError
	if !errors.As(handled[0], &pe) {
		t.Fatalf("expected *PersistenceError, got %v", handled[0])
	}
}

func TestLoggerCloseAppendsOnce(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	var runErr error
	lg.Done(context.Background(), &runErr)

	if got := len(sink.records()); got != 1 {
		t.Fatalf("appended %d records, want exactly 1", got)
	}
}

func TestLoggerInertAfterClose(t *testing.T) {
	sink := &fakeSink{}
	lg, err := New(1, sink)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := lg.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	lg.AddOutput("late")
	lg.AddFlag("late")
	lg.MarkFailure()

	rec := lg.Snapshot()
	if rec.Status != StatusSuccess || len(rec.Outputs) != 0 || len(rec.Flags) != 0 {
		t.Fatalf("record mutated after release: %+v", rec)
	}
}

func TestLoggerNilSink(t *testing.T) {
	if _, err := New(1, nil); err == nil {
		t.Fatal("expected error for nil sink")
	}
}

func TestFromConfigResolvesIdentifier(t *testing.T) {
	t.Setenv(EnvAutomationID, "")
	path := writeArtifact(t, `{"automation_id": 1234}`)

	sink := &fakeSink{}
	lg, err := FromConfig(path, sink)
	if err != nil {
		t.Fatalf("FromConfig() error: %v", err)
	}
	defer func() {
		if err := lg.Close(context.Background()); err != nil {
			t.Fatalf("Close() error: %v", err)
		}
	}()

	rec := lg.Snapshot()
	if rec.AutomationID != 1234 {
		t.Errorf("AutomationID = %d, want 1234", rec.AutomationID)
	}
	if rec.Context["config_path"] != path {
		t.Errorf("config_path = %v, want %s", rec.Context["config_path"], path)
	}
	if rec.Origin == "" {
		t.Error("Origin is empty")
	}
}

func TestFromConfigFailureCreatesNothing(t *testing.T) {
	t.Setenv(EnvAutomationID, "")
	path := writeArtifact(t, `{"schema_name": "etl"}`)

	sink := &fakeSink{}
	lg, err := FromConfig(path, sink)
	if err == nil {
		t.Fatal("expected resolution error")
	}
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if lg != nil {
		t.Fatal("logger returned despite resolution failure")
	}
	if len(sink.records()) != 0 {
		t.Fatal("record persisted despite resolution failure")
	}
}

func TestJsonableCoercion(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "ok", "ok"},
		{"int", 42, 42},
		{"nil", nil, nil},
		{"time", now, "2026-01-02T03:04:05Z"},
		{"duration", 1500 * time.Millisecond, "1.5s"},
		{"error", errors.New("bad"), "bad"},
		{"unserializable", func() {}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jsonable(tt.in)
			if tt.name == "unserializable" {
				if _, ok := got.(string); !ok {
					t.Fatalf("jsonable(func) = %T, want string fallback", got)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("jsonable(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
