// Package action maps action types to handlers. Timelines and dialog trees
// are validated against the registry when they are loaded so an unknown
// type fails fast instead of at dispatch time.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Outcome is what a handler reports back for one dispatch.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Request is the input to a handler.
type Request struct {
	Customer *domain.Customer
	Params   map[string]any
	// ActionID is the timeline action id or dialog node key.
	ActionID string
	// Source identifies the timeline or dialog execution that asked.
	Source string
}

// Handler performs one side effect.
type Handler func(ctx context.Context, req Request) (Outcome, error)

// ErrDispatchFailed is returned when a handler reports an unsuccessful
// outcome without an error of its own.
var ErrDispatchFailed = errors.New("dispatch reported failure")

// Registry is a concurrency-safe action type → handler map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.ActionType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.ActionType]Handler)}
}

// Register binds h to t, replacing any previous binding.
func (r *Registry) Register(t domain.ActionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Has reports whether a handler is bound for t.
func (r *Registry) Has(t domain.ActionType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types returns the bound action types, sorted.
func (r *Registry) Types() []domain.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate returns an *UnknownActionTypeError for the first type with no
// handler. Empty types are ignored.
func (r *Registry) Validate(source string, types ...domain.ActionType) error {
	for _, t := range types {
		if t == "" {
			continue
		}
		if !r.Has(t) {
			return &domain.UnknownActionTypeError{ActionType: t, Source: source}
		}
	}
	return nil
}

// ValidateTimeline checks every action of a timeline.
func (r *Registry) ValidateTimeline(tl *domain.CampaignTimeline) error {
	types := make([]domain.ActionType, 0, len(tl.Actions))
	for _, a := range tl.Actions {
		if a.ActionType == "" {
			return &domain.UnknownActionTypeError{Source: "timeline " + tl.Slug + " action " + a.ID}
		}
		types = append(types, a.ActionType)
	}
	return r.Validate("timeline "+tl.Slug, types...)
}

// Dispatch runs the handler for t. A handler panic is converted into an
// error so one bad handler cannot take down a sweep.
func (r *Registry) Dispatch(ctx context.Context, t domain.ActionType, req Request) (out Outcome, err error) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return Outcome{}, &domain.UnknownActionTypeError{ActionType: t, Source: req.Source}
	}

	defer func() {
		if p := recover(); p != nil {
			out = Outcome{}
			err = fmt.Errorf("%s handler panic: %v", t, p)
		}
	}()

	out, err = h(ctx, req)
	if err != nil {
		return out, err
	}
	if !out.Success {
		if out.Message != "" {
			return out, fmt.Errorf("%w: %s", ErrDispatchFailed, out.Message)
		}
		return out, ErrDispatchFailed
	}
	return out, nil
}
