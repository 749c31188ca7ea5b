package tier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/repository/memory"
	"github.com/ignite/lifecycle-engine/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type welcomeRecorder struct {
	sent []string
	err  error
}

func (w *welcomeRecorder) SendPremiumWelcome(_ context.Context, c *domain.Customer) error {
	w.sent = append(w.sent, c.ID)
	return w.err
}

func setup(t *testing.T, tierNo, score int) (*tier.Engine, *memory.Store, *events.Collector, *welcomeRecorder, string) {
	t.Helper()
	store := memory.New()
	col := &events.Collector{}
	w := &welcomeRecorder{}
	e := tier.NewEngine(store, clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)), events.NewBus(col.Observe), config.DefaultLifecycle())
	e.SetWelcomeSender(w)

	c := &domain.Customer{EngagementTier: tierNo, EngagementScore: score}
	require.NoError(t, store.CreateCustomer(context.Background(), c))
	return e, store, col, w, c.ID
}

// Scenario: 3 → 2 enables premium content; 2 → 3 as an "upgrade" is rejected.
func TestUpgradeTier_ThenInvalidUpgrade(t *testing.T) {
	ctx := context.Background()
	e, store, col, _, id := setup(t, domain.TierActive, 0)

	c, err := e.UpgradeTier(ctx, id, domain.TierEngaged)
	require.NoError(t, err)
	assert.Equal(t, domain.TierEngaged, c.EngagementTier)
	assert.True(t, c.HasFeature(domain.FeaturePremiumContent))

	evts := col.Named(domain.EventTierChanged)
	require.Len(t, evts, 1)
	tc := evts[0].(domain.TierChanged)
	assert.Equal(t, 3, tc.Old)
	assert.Equal(t, 2, tc.New)
	assert.Equal(t, domain.TierUp, tc.Direction)

	_, err = e.UpgradeTier(ctx, id, domain.TierActive)
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "tier", invalid.Kind)

	got, _ := store.GetCustomer(ctx, id)
	assert.Equal(t, domain.TierEngaged, got.EngagementTier)
	assert.Len(t, col.Events(), 1)
}

func TestTierOperations_OnlyMoveInTheirDirection(t *testing.T) {
	ctx := context.Background()
	for from := domain.BestTier; from <= domain.WorstTier; from++ {
		for to := 0; to <= domain.WorstTier+1; to++ {
			e, store, _, _, id := setup(t, from, 0)

			_, upErr := e.UpgradeTier(ctx, id, to)
			got, _ := store.GetCustomer(ctx, id)
			if upErr == nil {
				assert.Less(t, got.EngagementTier, from)
				continue
			}
			assert.Equal(t, from, got.EngagementTier, "failed upgrade %d->%d must not change tier", from, to)

			_, downErr := e.DowngradeTier(ctx, id, to)
			got, _ = store.GetCustomer(ctx, id)
			if downErr == nil {
				assert.Greater(t, got.EngagementTier, from)
			} else {
				assert.Equal(t, from, got.EngagementTier)
			}
		}
	}
}

func TestUpgradeToPremium_WelcomeSentOnce(t *testing.T) {
	ctx := context.Background()
	e, _, _, w, id := setup(t, domain.TierEngaged, 0)

	c, err := e.UpgradeTier(ctx, id, domain.TierPremium)
	require.NoError(t, err)
	assert.True(t, c.HasFeature(domain.FeaturePrioritySupport))
	assert.True(t, c.HasFeature(domain.FeatureDedicatedManager))
	assert.True(t, c.HasFeature(domain.FeaturePremiumWelcomeSent))
	assert.Equal(t, []string{id}, w.sent)

	// Leaving tier 1 strips the tier-1-only features but keeps premium content at tier 2.
	c, err = e.DowngradeTier(ctx, id, domain.TierEngaged)
	require.NoError(t, err)
	assert.False(t, c.HasFeature(domain.FeaturePrioritySupport))
	assert.False(t, c.HasFeature(domain.FeatureDedicatedManager))
	assert.True(t, c.HasFeature(domain.FeaturePremiumContent))

	_, err = e.UpgradeTier(ctx, id, domain.TierPremium)
	require.NoError(t, err)
	assert.Len(t, w.sent, 1, "welcome is one-time")
}

func TestUpgradeToPremium_NoSenderLeavesWelcomePending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	e := tier.NewEngine(store, clock.NewFake(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)), events.NewBus(), config.DefaultLifecycle())
	c := &domain.Customer{EngagementTier: domain.TierEngaged}
	require.NoError(t, store.CreateCustomer(ctx, c))

	got, err := e.UpgradeTier(ctx, c.ID, domain.TierPremium)
	require.NoError(t, err)
	assert.True(t, got.HasFeature(domain.FeaturePrioritySupport))
	assert.False(t, got.HasFeature(domain.FeaturePremiumWelcomeSent))

	w := &welcomeRecorder{}
	e.SetWelcomeSender(w)
	_, err = e.DowngradeTier(ctx, c.ID, domain.TierEngaged)
	require.NoError(t, err)
	got, err = e.UpgradeTier(ctx, c.ID, domain.TierPremium)
	require.NoError(t, err)
	assert.True(t, got.HasFeature(domain.FeaturePremiumWelcomeSent))
	assert.Equal(t, []string{c.ID}, w.sent)
}

func TestWelcomeFailureDoesNotUndoTierChange(t *testing.T) {
	ctx := context.Background()
	e, store, _, w, id := setup(t, domain.TierEngaged, 0)
	w.err = errors.New("ses down")

	_, err := e.UpgradeTier(ctx, id, domain.TierPremium)
	require.NoError(t, err)
	got, _ := store.GetCustomer(ctx, id)
	assert.Equal(t, domain.TierPremium, got.EngagementTier)
}

func TestDowngradeBelowEngaged_DisablesPremiumContent(t *testing.T) {
	ctx := context.Background()
	e, _, _, _, id := setup(t, domain.TierEngaged, 0)
	_, err := e.UpgradeTier(ctx, id, domain.TierEngaged-1)
	require.NoError(t, err)

	c, err := e.DowngradeTier(ctx, id, domain.TierPassive)
	require.NoError(t, err)
	assert.False(t, c.HasFeature(domain.FeaturePremiumContent))
}

func TestEvaluateTierChange(t *testing.T) {
	e, _, _, _, _ := setup(t, domain.TierPassive, 0)

	cases := []struct {
		score, current, want int
		changed              bool
	}{
		{95, 4, 1, true},
		{80, 1, 1, false},
		{79, 1, 2, true},
		{45, 3, 3, false},
		{10, 2, 4, true},
	}
	for _, tc := range cases {
		got, changed := e.EvaluateTierChange(&domain.Customer{EngagementScore: tc.score, EngagementTier: tc.current})
		assert.Equal(t, tc.want, got, "score %d", tc.score)
		assert.Equal(t, tc.changed, changed, "score %d", tc.score)
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	e, store, _, _, id := setup(t, domain.TierActive, 0)

	changed, err := e.Apply(ctx, id, domain.TierActive)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = e.Apply(ctx, id, domain.TierPassive)
	require.NoError(t, err)
	assert.True(t, changed)
	got, _ := store.GetCustomer(ctx, id)
	assert.Equal(t, domain.TierPassive, got.EngagementTier)
}
