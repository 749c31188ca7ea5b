package engagement

import (
	"math"
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestCalculateScore_NoSignals(t *testing.T) {
	s := NewScorer(config.DefaultScoreWeights())
	assert.Equal(t, 0, s.CalculateScore(domain.EngagementSignals{}, now))
}

func TestCalculateScore_ContributionsAreCapped(t *testing.T) {
	s := NewScorer(config.DefaultScoreWeights())

	// 5 opens * 2 = 10, 2 clicks * 5 = 10
	b := s.Explain(domain.EngagementSignals{EmailOpens: 5, EmailClicks: 2}, now)
	assert.Equal(t, 10.0, b.EmailOpens)
	assert.Equal(t, 10.0, b.EmailClicks)
	assert.Equal(t, 20, b.Total)

	// far past every cap
	b = s.Explain(domain.EngagementSignals{EmailOpens: 1000, EmailClicks: 1000}, now)
	assert.Equal(t, 20.0, b.EmailOpens)
	assert.Equal(t, 30.0, b.EmailClicks)
}

func TestCalculateScore_ContentViewsUseTrailingWindow(t *testing.T) {
	s := NewScorer(config.DefaultScoreWeights())
	sig := domain.EngagementSignals{ContentViews: []time.Time{
		now.Add(-24 * time.Hour),
		now.Add(-10 * 24 * time.Hour),
		now.Add(-45 * 24 * time.Hour), // outside the 30-day window
	}}
	assert.Equal(t, 8.0, s.Explain(sig, now).ContentViews)
}

func TestCalculateScore_ApprovalDecays(t *testing.T) {
	s := NewScorer(config.DefaultScoreWeights())

	fresh := s.Explain(domain.EngagementSignals{LastApproval: ptr(now)}, now)
	assert.Equal(t, 30.0, fresh.Approval)

	halfLife := s.Explain(domain.EngagementSignals{LastApproval: ptr(now.Add(-14 * 24 * time.Hour))}, now)
	assert.InDelta(t, 15.0, halfLife.Approval, 0.001)

	stale := s.Explain(domain.EngagementSignals{LastApproval: ptr(now.Add(-120 * 24 * time.Hour))}, now)
	assert.Zero(t, stale.Approval)
}

func TestCalculateScore_AlwaysInRange(t *testing.T) {
	// Heavy weights so the raw sum overflows.
	s := NewScorer(config.ScoreWeights{EmailOpen: 50, EmailClick: 50, ContentView: 50, Approval: 500})
	views := make([]time.Time, 100)
	for i := range views {
		views[i] = now
	}

	cases := []domain.EngagementSignals{
		{},
		{EmailOpens: math.MaxInt32, EmailClicks: math.MaxInt32, ContentViews: views, LastApproval: ptr(now)},
		{EmailOpens: -50, EmailClicks: -3},
		{LastApproval: ptr(now.Add(48 * time.Hour))},
	}
	for _, sig := range cases {
		score := s.CalculateScore(sig, now)
		assert.GreaterOrEqual(t, score, MinScore)
		assert.LessOrEqual(t, score, MaxScore)
	}
}

func TestCalculateScore_MissingCapsTakeDefaults(t *testing.T) {
	s := NewScorer(config.ScoreWeights{EmailOpen: 10, EmailClick: 5})

	b := s.Explain(domain.EngagementSignals{EmailOpens: 1e18, EmailClicks: 1e18}, now)
	assert.Equal(t, 20.0, b.EmailOpens)
	assert.Equal(t, 30.0, b.EmailClicks)
	assert.Equal(t, 50, b.Total)
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 100.0, clampFloat(1e30))
	assert.Equal(t, 100.0, clampFloat(math.Inf(1)))
	assert.Equal(t, 0.0, clampFloat(math.Inf(-1)))
	assert.Equal(t, 0.0, clampFloat(math.NaN()))
	assert.Equal(t, 42.5, clampFloat(42.5))
}

func TestCalculateScore_Deterministic(t *testing.T) {
	s := NewScorer(config.DefaultScoreWeights())
	sig := domain.EngagementSignals{EmailOpens: 7, EmailClicks: 3, LastApproval: ptr(now.Add(-72 * time.Hour))}
	assert.Equal(t, s.CalculateScore(sig, now), s.CalculateScore(sig, now))
}
