package cached

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*memory.Store
	calls map[string]int
}

func (c *countingStore) GetTimeline(ctx context.Context, id string) (*domain.CampaignTimeline, error) {
	c.calls["GetTimeline"]++
	return c.Store.GetTimeline(ctx, id)
}

func (c *countingStore) ActiveTimelineForStage(ctx context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error) {
	c.calls["ActiveTimelineForStage"]++
	return c.Store.ActiveTimelineForStage(ctx, stage)
}

func (c *countingStore) FindDialogTree(ctx context.Context, trigger string, stage domain.PipelineStage) (*domain.DialogTree, error) {
	c.calls["FindDialogTree"]++
	return c.Store.FindDialogTree(ctx, trigger, stage)
}

func setup(t *testing.T) (*Store, *countingStore) {
	t.Helper()
	inner := &countingStore{Store: memory.New(), calls: map[string]int{}}
	ctx := context.Background()
	require.NoError(t, inner.SaveTimeline(ctx, &domain.CampaignTimeline{
		ID: "tl1", Name: "Hook", Slug: "hook-30", Version: 1, Stage: domain.StageHook, DurationDays: 30, Active: true,
		Actions: []domain.TimelineAction{{ID: "a1", DayNumber: 1, ActionType: domain.ActionSendEmail}},
	}))
	require.NoError(t, inner.SaveDialogTree(ctx, &domain.DialogTree{
		ID: "t1", TriggerType: "qualify", StartNode: "start", Active: true,
		Nodes: map[string]domain.DialogTreeNode{"start": {Type: domain.NodeTerminal}},
	}))
	return Wrap(inner, 16, time.Hour), inner
}

func TestGetTimeline_LoadsOnce(t *testing.T) {
	s, inner := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tl, err := s.GetTimeline(ctx, "tl1")
		require.NoError(t, err)
		assert.Equal(t, "hook-30", tl.Slug)
	}
	assert.Equal(t, 1, inner.calls["GetTimeline"])
}

func TestGetTimeline_ReturnsCopies(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	tl, err := s.GetTimeline(ctx, "tl1")
	require.NoError(t, err)
	tl.Name = "mutated"

	again, err := s.GetTimeline(ctx, "tl1")
	require.NoError(t, err)
	assert.Equal(t, "Hook", again.Name)
}

func TestNotFoundIsNotCached(t *testing.T) {
	s, inner := setup(t)
	ctx := context.Background()

	_, err := s.ActiveTimelineForStage(ctx, domain.StageSales)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, inner.SaveTimeline(ctx, &domain.CampaignTimeline{
		ID: "tl2", Slug: "sales-14", Version: 1, Stage: domain.StageSales, DurationDays: 14, Active: true,
	}))
	tl, err := s.ActiveTimelineForStage(ctx, domain.StageSales)
	require.NoError(t, err)
	assert.Equal(t, "tl2", tl.ID)
	assert.Equal(t, 2, inner.calls["ActiveTimelineForStage"])
}

func TestPurge(t *testing.T) {
	s, inner := setup(t)
	ctx := context.Background()

	_, err := s.FindDialogTree(ctx, "qualify", domain.StageHook)
	require.NoError(t, err)
	_, err = s.FindDialogTree(ctx, "qualify", domain.StageHook)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls["FindDialogTree"])

	s.Purge()
	_, err = s.FindDialogTree(ctx, "qualify", domain.StageHook)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls["FindDialogTree"])
}

func TestWritesPassThrough(t *testing.T) {
	s, inner := setup(t)
	ctx := context.Background()

	c := &domain.Customer{BusinessName: "Acme"}
	require.NoError(t, inner.CreateCustomer(ctx, c))

	got, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	got.EngagementScore = 42
	require.NoError(t, s.UpdateCustomer(ctx, got))

	stored, err := inner.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, stored.EngagementScore)
	assert.Equal(t, int64(2), stored.Version)
}
