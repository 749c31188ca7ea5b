package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/action/actiontest"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	clock  *clock.Fake
	rec    *actiontest.Recorder
	events *events.Collector
	engine *lifecycle.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		clock:  clock.NewFake(t0),
		rec:    actiontest.NewRecorder(),
		events: &events.Collector{},
	}
	f.engine = lifecycle.New(f.store, f.rec, f.clock, events.NewBus(f.events.Observe), config.DefaultLifecycle())
	return f
}

func (f *fixture) customer(t *testing.T, stage domain.PipelineStage, mutate func(c *domain.Customer)) *domain.Customer {
	t.Helper()
	c := &domain.Customer{BusinessName: "Lakeside Yoga", Email: "hello@lakesideyoga.test", PipelineStage: &stage, EmailOptedIn: true}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.store.CreateCustomer(context.Background(), c))
	return c
}

func (f *fixture) reload(t *testing.T, id string) *domain.Customer {
	t.Helper()
	c, err := f.store.GetCustomer(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestAllActionTypesAreRegistered(t *testing.T) {
	f := newFixture(t)
	types := append(domain.TimelineActionTypes(), domain.ActionScheduleCallback, domain.ActionUpdateCRM, domain.ActionEscalate)
	assert.NoError(t, f.engine.Actions.Validate("test", types...))
}

// An approval lifts a hook customer from 50 to 80: tier 3 → 1 with the
// premium welcome, hook → engagement with its timeline attached.
func TestRecordInteraction_Cascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	engagementTL := &domain.CampaignTimeline{Slug: "engagement-30", Version: 1, Stage: domain.StageEngagement, Active: true}
	require.NoError(t, f.store.SaveTimeline(ctx, engagementTL))

	c := f.customer(t, domain.StageHook, func(c *domain.Customer) {
		c.Signals = domain.EngagementSignals{EmailOpens: 10, EmailClicks: 6}
		c.EngagementScore = 50
		c.EngagementTier = domain.TierActive
	})

	rec, err := f.engine.RecordInteraction(ctx, c.ID, lifecycle.InteractionApproval, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 50, rec.OldScore)
	assert.Equal(t, 80, rec.NewScore)
	assert.Equal(t, domain.TierActive, rec.OldTier)
	assert.Equal(t, domain.TierPremium, rec.NewTier)
	assert.True(t, rec.StageAdvanced)

	stored := f.reload(t, c.ID)
	assert.Equal(t, domain.StageEngagement, stored.Stage())
	assert.Equal(t, 1, stored.Signals.TotalApprovals)
	assert.True(t, stored.HasFeature(domain.FeaturePremiumWelcomeSent))
	assert.True(t, stored.HasFeature(domain.FeaturePrioritySupport))

	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "SendEmail", calls[0].Method)
	assert.Equal(t, "premium_welcome", calls[0].Params["template"])

	_, err = f.store.FindOpenProgress(ctx, c.ID, engagementTL.ID)
	assert.NoError(t, err)

	assert.Len(t, f.events.Named(domain.EventEngagementChanged), 1)
	assert.Len(t, f.events.Named(domain.EventTierChanged), 1)
	assert.Len(t, f.events.Named(domain.EventStageChanged), 1)
}

func TestRecalculateEngagement_SmallMoveIsQuiet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageSales, func(c *domain.Customer) {
		c.Signals = domain.EngagementSignals{EmailOpens: 5}
		c.EngagementScore = 5
	})

	rec, err := f.engine.RecalculateEngagement(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.NewScore)
	assert.False(t, rec.StageAdvanced)
	assert.Empty(t, f.events.Named(domain.EventEngagementChanged))
	assert.Equal(t, domain.TierPassive, rec.NewTier)
}

func TestRecordInteraction_UnknownKind(t *testing.T) {
	f := newFixture(t)
	c := f.customer(t, domain.StageHook, nil)
	_, err := f.engine.RecordInteraction(context.Background(), c.ID, "fax_received", time.Time{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRecordInteraction_ContentViewsPruned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := t0.Add(-60 * 24 * time.Hour)
	c := f.customer(t, domain.StageHook, func(c *domain.Customer) {
		c.Signals.ContentViews = []time.Time{old, old}
	})

	_, err := f.engine.RecordInteraction(ctx, c.ID, lifecycle.InteractionContentView, t0.Add(-time.Hour))
	require.NoError(t, err)
	stored := f.reload(t, c.ID)
	assert.Equal(t, []time.Time{t0.Add(-time.Hour)}, stored.Signals.ContentViews)
	assert.Equal(t, 4, stored.EngagementScore)
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.customer(t, domain.StageSales, func(c *domain.Customer) { c.Signals.EmailClicks = 2 })
	b := f.customer(t, domain.StageSales, func(c *domain.Customer) { c.Signals.EmailOpens = 3 })

	refreshed, failed, err := f.engine.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Zero(t, failed)
	assert.Equal(t, 10, f.reload(t, a.ID).EngagementScore)
	assert.Equal(t, 6, f.reload(t, b.ID).EngagementScore)
}

func TestUpdateStageAction_FromTimeline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageEngagement, nil)
	tl := &domain.CampaignTimeline{
		Slug: "engagement-30", Version: 1, Stage: domain.StageEngagement, Active: true,
		Actions: []domain.TimelineAction{
			{ID: "promote", DayNumber: 1, ActionType: domain.ActionUpdateStage, Parameters: map[string]any{"new_stage": "sales"}},
		},
	}
	require.NoError(t, f.store.SaveTimeline(ctx, tl))
	_, err := f.engine.Timelines.StartTimeline(ctx, c.ID, tl.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	report, err := f.engine.Timelines.ProcessAllDueCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dispatched)

	assert.Equal(t, domain.StageSales, f.reload(t, c.ID).Stage())
	evs := f.events.Named(domain.EventStageChanged)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.TriggerTimelineAction, evs[0].(domain.StageChanged).Trigger)
}

func TestUpdateStageAction_Outcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageHook, nil)
	dispatch := func(params map[string]any) (action.Outcome, error) {
		return f.engine.Actions.Dispatch(ctx, domain.ActionUpdateStage, action.Request{Customer: f.reload(t, c.ID), Params: params})
	}

	// skipping a stage is reported, not failed
	out, err := dispatch(map[string]any{"new_stage": "sales"})
	require.NoError(t, err)
	assert.Equal(t, false, out.Data["transitioned"])
	assert.Equal(t, domain.StageHook, f.reload(t, c.ID).Stage())

	out, err = dispatch(map[string]any{"new_stage": "engagement"})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["transitioned"])

	// a retry after the move is a no-op
	out, err = dispatch(map[string]any{"new_stage": "engagement"})
	require.NoError(t, err)
	assert.Equal(t, false, out.Data["transitioned"])
	assert.Len(t, f.events.Named(domain.EventStageChanged), 1)

	_, err = dispatch(map[string]any{"new_stage": "orbit"})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCheckEngagementAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageHook, func(c *domain.Customer) { c.EngagementScore = 55 })

	out, err := f.engine.Actions.Dispatch(ctx, domain.ActionCheckEngagement, action.Request{Customer: c})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["meets_threshold"])
	assert.Equal(t, 50, out.Data["threshold"])
	assert.Equal(t, domain.StageHook, f.reload(t, c.ID).Stage())

	out, err = f.engine.Actions.Dispatch(ctx, domain.ActionCheckEngagement, action.Request{Customer: c, Params: map[string]any{"threshold": 60.0}})
	require.NoError(t, err)
	assert.Equal(t, false, out.Data["meets_threshold"])

	out, err = f.engine.Actions.Dispatch(ctx, domain.ActionCheckEngagement, action.Request{Customer: c, Params: map[string]any{"advance_stage": true}})
	require.NoError(t, err)
	assert.Equal(t, true, out.Data["stage_advanced"])
	assert.Equal(t, domain.StageEngagement, f.reload(t, c.ID).Stage())
}

func TestSendNotificationAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageSales, nil)

	_, err := f.engine.Actions.Dispatch(ctx, domain.ActionSendNotification, action.Request{
		Customer: c, ActionID: "d7-am-alert", Params: map[string]any{"notification_type": "am_review", "message": "Trial ends in 7 days"},
	})
	require.NoError(t, err)

	evs := f.events.Named(domain.EventNotification)
	require.Len(t, evs, 1)
	n := evs[0].(domain.Notification)
	assert.Equal(t, "am_review", n.Type)
	assert.Equal(t, "Trial ends in 7 days", n.Message)
	assert.Equal(t, c.ID, n.CustomerID)
}

func TestEscalateAction_QueuesHandoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageSales, nil)

	_, err := f.engine.Actions.Dispatch(ctx, domain.ActionEscalate, action.Request{Customer: c, Params: map[string]any{"reason": "pricing"}})
	require.NoError(t, err)

	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ScheduleFollowup", calls[0].Method)
	assert.Equal(t, "human_handoff", calls[0].Params["followup_type"])
	assert.Equal(t, 0, calls[0].Params["delay_days"])
	assert.Equal(t, "pricing", calls[0].Params["reason"])
}

func TestPremiumWelcomeFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec.Fail("SendEmail", errors.New("ses down"))
	c := f.customer(t, domain.StageRetention, func(c *domain.Customer) { c.EngagementTier = domain.TierEngaged })

	_, err := f.engine.Tiers.UpgradeTier(ctx, c.ID, domain.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, domain.TierPremium, f.reload(t, c.ID).EngagementTier)
	assert.Equal(t, 1, f.rec.Count("SendEmail"))
}

func TestDialogEscalationThroughEngine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.customer(t, domain.StageSales, nil)
	tree := &domain.DialogTree{
		Name: "objection", TriggerType: "price_objection", StartNode: "ask", Active: true,
		Nodes: map[string]domain.DialogTreeNode{
			"ask":      {Type: domain.NodeAsk, Prompt: "What feels expensive?", ExpectedResponses: map[string]string{"default": "escalate"}},
			"escalate": {Type: domain.NodeInform, Prompt: "Connecting you now.", ActionType: domain.ActionEscalate},
		},
	}
	require.NoError(t, f.store.SaveDialogTree(ctx, tree))
	require.NoError(t, f.engine.ValidateDefinitions(nil, []*domain.DialogTree{tree}))

	persona := &domain.Personality{Name: "Maya"}
	require.NoError(t, f.store.SavePersonality(ctx, persona))
	_, err := f.engine.Personas.Assign(ctx, c.ID, persona.ID)
	require.NoError(t, err)

	exec, err := f.engine.Dialogs.StartForTrigger(ctx, c.ID, "price_objection")
	require.NoError(t, err)
	assert.Equal(t, persona.ID, exec.PersonalityID)

	res, err := f.engine.Dialogs.ProcessResponse(ctx, exec.ID, "the setup fee")
	require.NoError(t, err)
	assert.Equal(t, domain.DialogEscalated, res.Status)
	assert.Equal(t, 1, f.rec.Count("ScheduleFollowup"))
	assert.Len(t, f.events.Named(domain.EventDialogEscalated), 1)
}
