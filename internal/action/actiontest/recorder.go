// Package actiontest provides a recording Dispatcher for tests.
package actiontest

import (
	"context"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Call is one recorded dispatch.
type Call struct {
	Method     string
	CustomerID string
	Params     map[string]any
}

// Recorder records every call. Fail makes a method return the given error.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// Fail makes every later call to method return err.
func (r *Recorder) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = err
}

// Calls returns a snapshot of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many times method was called.
func (r *Recorder) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (r *Recorder) record(method string, c *domain.Customer, params map[string]any) (action.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, CustomerID: c.ID, Params: params})
	if err := r.fail[method]; err != nil {
		return action.Outcome{}, err
	}
	return action.Outcome{Success: true}, nil
}

func (r *Recorder) SendEmail(_ context.Context, c *domain.Customer, p map[string]any) (action.Outcome, error) {
	return r.record("SendEmail", c, p)
}

func (r *Recorder) SendSMS(_ context.Context, c *domain.Customer, p map[string]any) (action.Outcome, error) {
	return r.record("SendSMS", c, p)
}

func (r *Recorder) MakeCall(_ context.Context, c *domain.Customer, p map[string]any) (action.Outcome, error) {
	return r.record("MakeCall", c, p)
}

func (r *Recorder) ScheduleFollowup(_ context.Context, c *domain.Customer, p map[string]any) (action.Outcome, error) {
	return r.record("ScheduleFollowup", c, p)
}

func (r *Recorder) UpdateCustomerFields(_ context.Context, c *domain.Customer, p map[string]any) (action.Outcome, error) {
	return r.record("UpdateCustomerFields", c, p)
}
