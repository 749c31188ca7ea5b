package domain

import (
	"fmt"
	"strings"
)

// PipelineStage enumerates a customer's position in the sales pipeline.
// Stages are ordered; CHURNED is reachable from anywhere and terminal.
type PipelineStage string

const (
	StageHook       PipelineStage = "hook"
	StageEngagement PipelineStage = "engagement"
	StageSales      PipelineStage = "sales"
	StageRetention  PipelineStage = "retention"
	StageChurned    PipelineStage = "churned"
)

// stageOrder is the forward sequence. CHURNED is absent: it is
// never a "next" stage, only an exit.
var stageOrder = []PipelineStage{StageHook, StageEngagement, StageSales, StageRetention}

// AllStages returns every stage in pipeline order, CHURNED last.
func AllStages() []PipelineStage {
	return append(append([]PipelineStage(nil), stageOrder...), StageChurned)
}

// Next returns the single successor of s. Retention and churned have none.
func (s PipelineStage) Next() (PipelineStage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Valid reports whether s is a known stage.
func (s PipelineStage) Valid() bool {
	switch s {
	case StageHook, StageEngagement, StageSales, StageRetention, StageChurned:
		return true
	}
	return false
}

// Label returns a human readable name ("Hook", "Engagement", ...).
func (s PipelineStage) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// ParsePipelineStage parses a stage name, case-insensitively.
func ParsePipelineStage(v string) (PipelineStage, error) {
	s := PipelineStage(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown pipeline stage %q", v)
	}
	return s, nil
}

// Stage trigger names used by the stage machine and its helpers.
const (
	TriggerManual              = "manual"
	TriggerEngagementThreshold = "engagement_threshold"
	TriggerTrialAccepted       = "trial_accepted"
	TriggerConversion          = "conversion"
	TriggerTimelineAction      = "timeline_action"
	TriggerChurn               = "churn"
	TriggerDialog              = "dialog"
)
