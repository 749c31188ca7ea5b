// Package api exposes the lifecycle engine over HTTP for operators and
// inbound integrations (dialog replies, tracked interactions).
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/pkg/httputil"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Store is the read access the handlers need beyond the engine.
type Store interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListProgressForCustomer(ctx context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error)
	ListFollowups(ctx context.Context, customerID string) ([]domain.Followup, error)
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	engine *lifecycle.Engine
	store  Store
	clock  clock.Clock
}

func NewHandlers(engine *lifecycle.Engine, store Store, clk clock.Clock) *Handlers {
	return &Handlers{engine: engine, store: store, clock: clk}
}

// HealthCheck reports ok, or 503 when the store does not answer.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logger.Warn("[API] health check failed", "error", err)
			httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.OK(w, map[string]any{"status": "ok", "time": h.clock.Now()})
}

// ---- customers ----

func (h *Handlers) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var u domain.CustomerUpdate
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.engine.UpdateContact(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, c)
}

type interactionRequest struct {
	Kind string     `json:"kind"`
	At   *time.Time `json:"at,omitempty"`
}

func (h *Handlers) RecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	at := h.clock.Now()
	if req.At != nil {
		at = *req.At
	}
	rec, err := h.engine.RecordInteraction(r.Context(), chi.URLParam(r, "id"), req.Kind, at)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, rec)
}

func (h *Handlers) RecalculateEngagement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.RecalculateEngagement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, rec)
}

// ---- pipeline ----

type transitionRequest struct {
	Stage   string `json:"stage"`
	Trigger string `json:"trigger,omitempty"`
}

// Transition moves the customer to the requested stage. Unlike
// stage-driven transitions, an illegal move is reported as a conflict.
func (h *Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	stage, err := domain.ParsePipelineStage(req.Stage)
	if err != nil {
		httputil.DomainError(w, &domain.ValidationError{Field: "stage", Message: err.Error()})
		return
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}
	id := chi.URLParam(r, "id")
	if err := h.engine.Stages.TransitionStrict(r.Context(), id, stage, req.Trigger); err != nil {
		httputil.DomainError(w, err)
		return
	}
	h.GetCustomer(w, r)
}

func (h *Handlers) AcceptTrial(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Stages.HandleTrialAcceptance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	converted, err := h.engine.Stages.HandleConversion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"converted": converted})
}

func (h *Handlers) Churn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httputil.DomainError(w, &domain.ValidationError{Field: "reason", Message: "required"})
		return
	}
	if err := h.engine.Stages.MarkChurned(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		httputil.DomainError(w, err)
		return
	}
	h.GetCustomer(w, r)
}

// ---- timelines ----

func (h *Handlers) ListTimelines(w http.ResponseWriter, r *http.Request) {
	ps, err := h.store.ListProgressForCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"progress": ps, "count": len(ps)})
}

func (h *Handlers) StartTimeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimelineID string `json:"timeline_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.TimelineID == "" {
		httputil.DomainError(w, &domain.ValidationError{Field: "timeline_id", Message: "required"})
		return
	}
	p, err := h.engine.Timelines.StartTimeline(r.Context(), chi.URLParam(r, "id"), req.TimelineID)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.Created(w, p)
}

func (h *Handlers) PauseCustomer(w http.ResponseWriter, r *http.Request) {
	h.progressBatch(w, r, h.engine.Timelines.PauseCustomer)
}

func (h *Handlers) ResumeCustomer(w http.ResponseWriter, r *http.Request) {
	h.progressBatch(w, r, h.engine.Timelines.ResumeCustomer)
}

func (h *Handlers) progressBatch(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) ([]*domain.CustomerTimelineProgress, error)) {
	ps, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"progress": ps, "count": len(ps)})
}

func (h *Handlers) PauseProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Timelines.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (h *Handlers) ResumeProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Timelines.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, p)
}

// ProcessCustomer runs the customer's due timeline actions now.
func (h *Handlers) ProcessCustomer(w http.ResponseWriter, r *http.Request) {
	results, err := h.engine.Timelines.ProcessCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"results": results})
}

// Sweep runs one full due-customer pass in the request.
func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.engine.Timelines.ProcessAllDueCustomers(r.Context())
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, report)
}

// ---- personas and follow-ups ----

func (h *Handlers) GetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Personas.Active(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (h *Handlers) AssignPersona(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonalityID string `json:"personality_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	a, err := h.engine.Personas.Assign(r.Context(), chi.URLParam(r, "id"), req.PersonalityID)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, a)
}

func (h *Handlers) ListFollowups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetCustomer(r.Context(), id); err != nil {
		httputil.DomainError(w, err)
		return
	}
	fs, err := h.store.ListFollowups(r.Context(), id)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"followups": fs, "count": len(fs)})
}

// ---- dialogs ----

type startDialogRequest struct {
	TreeID        string `json:"tree_id,omitempty"`
	Trigger       string `json:"trigger,omitempty"`
	PersonalityID string `json:"personality_id,omitempty"`
}

// StartDialog opens a dialog either on an explicit tree or on the tree
// registered for a trigger at the customer's stage.
func (h *Handlers) StartDialog(w http.ResponseWriter, r *http.Request) {
	var req startDialogRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var exec *domain.DialogExecution
	var err error
	switch {
	case req.TreeID != "":
		exec, err = h.engine.Dialogs.Start(ctx, id, req.TreeID, req.PersonalityID)
	case req.Trigger != "":
		exec, err = h.engine.Dialogs.StartForTrigger(ctx, id, req.Trigger)
	default:
		err = &domain.ValidationError{Field: "tree_id", Message: "tree_id or trigger required"}
	}
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	res, err := h.engine.Dialogs.Describe(ctx, exec.ID)
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.Created(w, res)
}

func (h *Handlers) GetDialog(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Dialogs.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, res)
}

// RespondDialog feeds an inbound reply to the execution. A reply to a
// finished dialog is a 409 carrying the execution's final state.
func (h *Handlers) RespondDialog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Response string `json:"response"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.engine.Dialogs.ProcessResponse(r.Context(), chi.URLParam(r, "id"), req.Response)
	if err != nil {
		var stateErr *domain.DialogStateError
		if errors.As(err, &stateErr) && res != nil {
			status, code := httputil.Classify(err)
			httputil.JSON(w, status, httputil.ErrorResponse{Error: err.Error(), Code: code, Details: res})
			return
		}
		httputil.DomainError(w, err)
		return
	}
	httputil.OK(w, res)
}
