// Package lifecycle wires the stage machine, timeline scheduler, dialog
// engine, tier engine and scorer into one engine over a single store.
package lifecycle

import (
	"context"

	"github.com/ignite/lifecycle-engine/internal/action"
	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/dialog"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/engagement"
	"github.com/ignite/lifecycle-engine/internal/events"
	"github.com/ignite/lifecycle-engine/internal/persona"
	"github.com/ignite/lifecycle-engine/internal/pipeline"
	"github.com/ignite/lifecycle-engine/internal/pkg/clock"
	"github.com/ignite/lifecycle-engine/internal/tier"
	"github.com/ignite/lifecycle-engine/internal/timeline"
)

// Store is everything the engine persists.
type Store interface {
	pipeline.Repository
	tier.Repository
	timeline.Repository
	dialog.Repository
	persona.Repository
	ListCustomerIDs(ctx context.Context) ([]string, error)
}

// Engine is the assembled lifecycle core.
type Engine struct {
	Actions   *action.Registry
	Stages    *pipeline.StageMachine
	Timelines *timeline.Scheduler
	Dialogs   *dialog.Engine
	Tiers     *tier.Engine
	Scorer    *engagement.Scorer
	Personas  *persona.Service

	store Store
	clock clock.Clock
	bus   *events.Bus
	cfg   config.LifecycleConfig
}

// New builds the engine. Every outbound side effect goes through d.
func New(store Store, d action.Dispatcher, clk clock.Clock, bus *events.Bus, cfg config.LifecycleConfig) *Engine {
	e := &Engine{
		Actions: action.NewRegistry(),
		Scorer:  engagement.NewScorer(cfg.ScoreWeights),
		store:   store,
		clock:   clk,
		bus:     bus,
		cfg:     cfg,
	}

	e.Stages = pipeline.NewStageMachine(store, clk, bus, cfg)
	e.Tiers = tier.NewEngine(store, clk, bus, cfg)
	e.Timelines = timeline.NewScheduler(store, e.Actions, clk, bus, cfg)
	e.Dialogs = dialog.NewEngine(store, e.Actions, clk, bus)
	e.Personas = persona.NewService(store, clk)

	e.Stages.SetTimelineAssigner(e.Timelines)
	e.Tiers.SetWelcomeSender(welcomeSender{d: d})
	e.Dialogs.SetPersonaResolver(e.Personas)

	action.BindDispatcher(e.Actions, d)
	e.bindHandlers(d)
	return e
}

// ValidateDefinitions checks timelines and dialog trees against the
// registered handlers so bad definitions fail at load time.
func (e *Engine) ValidateDefinitions(timelines []*domain.CampaignTimeline, trees []*domain.DialogTree) error {
	for _, tl := range timelines {
		if err := e.Timelines.ValidateTimeline(tl); err != nil {
			return err
		}
	}
	for _, tr := range trees {
		if err := e.Dialogs.ValidateTree(tr); err != nil {
			return err
		}
	}
	return nil
}
