// Package engagement computes a customer's engagement score from raw
// interaction signals.
package engagement

import (
	"math"
	"time"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
)

const (
	MinScore = 0
	MaxScore = 100
)

// Scorer is stateless; the same signals and time always give the same score.
type Scorer struct {
	w config.ScoreWeights
}

// NewScorer returns a Scorer using the given weights. Missing caps take the
// default values.
func NewScorer(w config.ScoreWeights) *Scorer {
	return &Scorer{w: w.WithDefaultCaps()}
}

// Breakdown is each capped contribution before clamping.
type Breakdown struct {
	EmailOpens   float64 `json:"email_opens"`
	EmailClicks  float64 `json:"email_clicks"`
	ContentViews float64 `json:"content_views"`
	Approval     float64 `json:"approval"`
	Total        int     `json:"total"`
}

// CalculateScore returns the score clamped to [0,100].
func (s *Scorer) CalculateScore(sig domain.EngagementSignals, now time.Time) int {
	return s.Explain(sig, now).Total
}

// Explain returns the per-signal contributions and the clamped total.
func (s *Scorer) Explain(sig domain.EngagementSignals, now time.Time) Breakdown {
	b := Breakdown{
		EmailOpens:   capped(float64(sig.EmailOpens)*s.w.EmailOpen, s.w.EmailOpenCap),
		EmailClicks:  capped(float64(sig.EmailClicks)*s.w.EmailClick, s.w.EmailClickCap),
		ContentViews: capped(float64(s.viewsInWindow(sig.ContentViews, now))*s.w.ContentView, s.w.ContentViewCap),
		Approval:     s.approvalBonus(sig.LastApproval, now),
	}
	total := b.EmailOpens + b.EmailClicks + b.ContentViews + b.Approval
	b.Total = int(math.Round(clampFloat(total)))
	return b
}

func (s *Scorer) viewsInWindow(views []time.Time, now time.Time) int {
	if s.w.ContentWindowDays <= 0 {
		return len(views)
	}
	cutoff := now.Add(-s.w.ContentWindow())
	n := 0
	for _, v := range views {
		if !v.Before(cutoff) && !v.After(now) {
			n++
		}
	}
	return n
}

// approvalBonus decays by half every ApprovalHalfLifeDays.
func (s *Scorer) approvalBonus(last *time.Time, now time.Time) float64 {
	if last == nil || s.w.Approval <= 0 {
		return 0
	}
	age := now.Sub(*last)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	if s.w.ApprovalMaxAgeDays > 0 && days > float64(s.w.ApprovalMaxAgeDays) {
		return 0
	}
	if s.w.ApprovalHalfLifeDays <= 0 {
		return s.w.Approval
	}
	return s.w.Approval * math.Pow(0.5, days/s.w.ApprovalHalfLifeDays)
}

// capped bounds a contribution to [0, limit]. A non-positive limit means
// uncapped; the final clamp still applies.
func capped(v, limit float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

// clampFloat bounds the raw sum before it is converted, so huge or NaN
// totals never reach int conversion.
func clampFloat(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	}
	return v
}
