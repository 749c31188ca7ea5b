package timeline

import (
	"testing"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldExecute(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	hoursAgo := func(h int) *time.Time {
		ts := now.Add(-time.Duration(h) * time.Hour)
		return &ts
	}
	sales := domain.StageSales

	tests := []struct {
		name     string
		cond     *domain.ActionCondition
		customer domain.Customer
		want     bool
	}{
		{
			name: "no condition always runs",
			want: true,
		},
		{
			name:     "opened recently skips",
			cond:     &domain.ActionCondition{If: domain.ConditionEmailOpened, WithinHours: 48, Then: domain.ConditionThenSkip},
			customer: domain.Customer{Signals: domain.EngagementSignals{LastEmailOpen: hoursAgo(10)}},
			want:     false,
		},
		{
			name:     "opened outside window runs",
			cond:     &domain.ActionCondition{If: domain.ConditionEmailOpened, WithinHours: 48, Then: domain.ConditionThenSkip},
			customer: domain.Customer{Signals: domain.EngagementSignals{LastEmailOpen: hoursAgo(72)}},
			want:     true,
		},
		{
			name: "never opened runs",
			cond: &domain.ActionCondition{If: domain.ConditionEmailOpened, WithinHours: 48, Then: domain.ConditionThenSkip},
			want: true,
		},
		{
			name:     "clicked ever with execute",
			cond:     &domain.ActionCondition{If: domain.ConditionEmailClicked, Then: domain.ConditionThenExecute},
			customer: domain.Customer{Signals: domain.EngagementSignals{LastEmailClick: hoursAgo(500)}},
			want:     true,
		},
		{
			name:     "empty then means execute",
			cond:     &domain.ActionCondition{If: domain.ConditionContentViewed, WithinHours: 24},
			customer: domain.Customer{Signals: domain.EngagementSignals{LastContentView: hoursAgo(30)}},
			want:     false,
		},
		{
			name:     "approved by count",
			cond:     &domain.ActionCondition{If: domain.ConditionApproved, Then: domain.ConditionThenSkip},
			customer: domain.Customer{Signals: domain.EngagementSignals{TotalApprovals: 2}},
			want:     false,
		},
		{
			name:     "score at threshold",
			cond:     &domain.ActionCondition{If: domain.ConditionScoreAtLeast, Threshold: 60, Then: domain.ConditionThenExecute},
			customer: domain.Customer{EngagementScore: 60},
			want:     true,
		},
		{
			name:     "score below threshold",
			cond:     &domain.ActionCondition{If: domain.ConditionScoreAtLeast, Threshold: 60, Then: domain.ConditionThenExecute},
			customer: domain.Customer{EngagementScore: 59},
			want:     false,
		},
		{
			name:     "stage matches case-insensitively",
			cond:     &domain.ActionCondition{If: domain.ConditionStageIs, Value: "SALES", Then: domain.ConditionThenExecute},
			customer: domain.Customer{PipelineStage: &sales},
			want:     true,
		},
		{
			name:     "sms opt-in",
			cond:     &domain.ActionCondition{If: domain.ConditionOptedIn, Value: "sms", Then: domain.ConditionThenExecute},
			customer: domain.Customer{SMSOptedIn: true},
			want:     true,
		},
		{
			name:     "do not contact overrides opt-in",
			cond:     &domain.ActionCondition{If: domain.ConditionOptedIn, Value: "email", Then: domain.ConditionThenExecute},
			customer: domain.Customer{EmailOptedIn: true, DoNotContact: true},
			want:     false,
		},
		{
			name:     "trial active skips",
			cond:     &domain.ActionCondition{If: domain.ConditionTrialActive, Then: domain.ConditionThenSkip},
			customer: domain.Customer{TrialActive: true},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := shouldExecute(tt.cond, &tt.customer, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, ValidateCondition(nil))
	assert.NoError(t, ValidateCondition(&domain.ActionCondition{If: domain.ConditionTrialActive}))
	assert.Error(t, ValidateCondition(&domain.ActionCondition{If: "weather"}))
	assert.Error(t, ValidateCondition(&domain.ActionCondition{If: domain.ConditionTrialActive, Then: "maybe"}))
}
