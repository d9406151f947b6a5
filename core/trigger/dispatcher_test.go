package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/dadanisme/shule/core"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func newTestDispatcher(maxAttempts int) *Dispatcher {
	return NewDispatcher(nopLogger{}, core.AggregatorConfig{
		MaxAttempts:  maxAttempts,
		RetryBackoff: time.Millisecond,
	})
}

// recorder counts handler invocations across goroutines.
type recorder struct {
	mu    sync.Mutex
	calls []Params
}

func (r *recorder) handle(_ context.Context, _ Event, params Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, params)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := newTestDispatcher(1)

	users, exams, creates := &recorder{}, &recorder{}, &recorder{}
	d.Register(
		Binding{Name: "users", Pattern: MustCompile("users/{userId}"), On: OnWrite, Handle: users.handle},
		Binding{Name: "exams", Pattern: MustCompile("schools/{schoolId}/exams/{examId}"), On: OnWrite, Handle: exams.handle},
		Binding{Name: "user-creates", Pattern: MustCompile("users/{userId}"), On: OnCreate, Handle: creates.handle},
	)

	ctx := context.Background()
	d.Dispatch(ctx, Event{Path: "users/u1", Kind: KindCreate})
	d.Dispatch(ctx, Event{Path: "users/u2", Kind: KindUpdate})
	d.Dispatch(ctx, Event{Path: "schools/s1/exams/e1", Kind: KindDelete})
	d.Wait()

	if got := users.count(); got != 2 {
		t.Errorf("users handler calls = %d, want 2", got)
	}
	if got := exams.count(); got != 1 {
		t.Errorf("exams handler calls = %d, want 1", got)
	}
	if got := creates.count(); got != 1 {
		t.Errorf("create-only handler calls = %d, want 1", got)
	}

	users.mu.Lock()
	defer users.mu.Unlock()
	for _, params := range users.calls {
		if params["userId"] != "u1" && params["userId"] != "u2" {
			t.Errorf("unexpected captured userId %q", params["userId"])
		}
	}
}

func TestDispatcher_retries(t *testing.T) {
	tests := []struct {
		name         string
		maxAttempts  int
		failuresLeft int
		wantAttempts int
	}{
		{name: "succeeds first try", maxAttempts: 3, failuresLeft: 0, wantAttempts: 1},
		{name: "recovers after failures", maxAttempts: 3, failuresLeft: 2, wantAttempts: 3},
		{name: "gives up after max attempts", maxAttempts: 2, failuresLeft: 10, wantAttempts: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(tt.maxAttempts)

			var mu sync.Mutex
			var attempts int
			failuresLeft := tt.failuresLeft
			d.Register(Binding{
				Name:    "flaky",
				Pattern: MustCompile("users/{userId}"),
				On:      OnWrite,
				Handle: func(context.Context, Event, Params) error {
					mu.Lock()
					defer mu.Unlock()
					attempts++
					if failuresLeft > 0 {
						failuresLeft--
						return errors.New("boom")
					}
					return nil
				},
			})

			d.Dispatch(context.Background(), Event{Path: "users/u1", Kind: KindUpdate})
			d.Wait()

			mu.Lock()
			defer mu.Unlock()
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

type chanSource struct {
	events chan Event
}

func (s *chanSource) Events(context.Context) (<-chan Event, error) {
	return s.events, nil
}

func TestDispatcher_Run(t *testing.T) {
	d := newTestDispatcher(1)
	rec := &recorder{}
	d.Register(Binding{Name: "users", Pattern: MustCompile("users/{userId}"), On: OnWrite, Handle: rec.handle})

	src := &chanSource{events: make(chan Event, 4)}
	src.events <- Event{Path: "users/u1", Kind: KindCreate}
	src.events <- Event{Path: "users/u2", Kind: KindUpdate}
	src.events <- Event{Path: "ignored", Kind: KindUpdate}
	close(src.events)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), src) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the source closed")
	}
	if got := rec.count(); got != 2 {
		t.Errorf("handler calls = %d, want 2", got)
	}
}
