package action_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/action/actiontest"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DispatchUnknownType(t *testing.T) {
	r := action.NewRegistry()
	_, err := r.Dispatch(context.Background(), "fax", action.Request{Customer: &domain.Customer{ID: "c1"}, Source: "timeline hook"})

	var unknown *domain.UnknownActionTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, domain.ActionType("fax"), unknown.ActionType)
}

func TestRegistry_ValidateTimeline(t *testing.T) {
	r := action.NewRegistry()
	action.BindDispatcher(r, actiontest.NewRecorder())

	ok := &domain.CampaignTimeline{Slug: "hook", Actions: []domain.TimelineAction{
		{ID: "a1", ActionType: domain.ActionSendEmail},
		{ID: "a2", ActionType: domain.ActionScheduleFollowup},
	}}
	assert.NoError(t, r.ValidateTimeline(ok))

	bad := &domain.CampaignTimeline{Slug: "hook", Actions: []domain.TimelineAction{
		{ID: "a1", ActionType: domain.ActionSendEmail},
		{ID: "a2", ActionType: domain.ActionUpdateStage},
	}}
	var unknown *domain.UnknownActionTypeError
	require.ErrorAs(t, r.ValidateTimeline(bad), &unknown)
	assert.Equal(t, domain.ActionUpdateStage, unknown.ActionType)
}

func TestRegistry_UnsuccessfulOutcomeIsAnError(t *testing.T) {
	r := action.NewRegistry()
	r.Register(domain.ActionSendSMS, func(context.Context, action.Request) (action.Outcome, error) {
		return action.Outcome{Success: false, Message: "carrier rejected"}, nil
	})

	_, err := r.Dispatch(context.Background(), domain.ActionSendSMS, action.Request{Customer: &domain.Customer{ID: "c1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, action.ErrDispatchFailed))
	assert.Contains(t, err.Error(), "carrier rejected")
}

func TestRegistry_HandlerPanicBecomesError(t *testing.T) {
	r := action.NewRegistry()
	r.Register(domain.ActionMakeCall, func(context.Context, action.Request) (action.Outcome, error) {
		panic("boom")
	})

	_, err := r.Dispatch(context.Background(), domain.ActionMakeCall, action.Request{Customer: &domain.Customer{ID: "c1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBindDispatcher_FollowupDefaults(t *testing.T) {
	rec := actiontest.NewRecorder()
	r := action.NewRegistry()
	action.BindDispatcher(r, rec)
	c := &domain.Customer{ID: "c1"}

	_, err := r.Dispatch(context.Background(), domain.ActionScheduleFollowup, action.Request{Customer: c, Params: map[string]any{}})
	require.NoError(t, err)
	_, err = r.Dispatch(context.Background(), domain.ActionScheduleCallback, action.Request{Customer: c, Params: map[string]any{"delay_days": 3}})
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 1, calls[0].Params["delay_days"])
	assert.Equal(t, 3, calls[1].Params["delay_days"])
	assert.Equal(t, "callback", calls[1].Params["followup_type"])
}

func TestParams(t *testing.T) {
	p := map[string]any{"n": float64(4), "s": "x", "b": "true", "i": "12"}
	assert.Equal(t, 4, action.Int(p, "n", 0))
	assert.Equal(t, 12, action.Int(p, "i", 0))
	assert.Equal(t, 7, action.Int(p, "missing", 7))
	assert.Equal(t, "x", action.String(p, "s", ""))
	assert.Equal(t, "4", action.String(p, "n", ""))
	assert.True(t, action.Bool(p, "b", false))
}
