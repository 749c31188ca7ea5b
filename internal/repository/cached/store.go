// Package cached fronts a lifecycle store with a bounded, expiring cache
// of timeline and dialog tree definitions. Definitions are read on every
// sweep and every dialog turn but change rarely.
package cached

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/lifecycle"
)

// Store serves definition reads from cache and forwards everything else.
type Store struct {
	lifecycle.Store
	timelines *expirable.LRU[string, *domain.CampaignTimeline]
	trees     *expirable.LRU[string, *domain.DialogTree]
}

// Wrap caches up to size entries of each definition kind for ttl.
func Wrap(inner lifecycle.Store, size int, ttl time.Duration) *Store {
	return &Store{
		Store:     inner,
		timelines: expirable.NewLRU[string, *domain.CampaignTimeline](size, nil, ttl),
		trees:     expirable.NewLRU[string, *domain.DialogTree](size, nil, ttl),
	}
}

// lookup returns a copy of the cached value for key, loading it on a miss.
// Errors, including not-found, are never cached.
func lookup[V any](c *expirable.LRU[string, *V], key string, load func() (*V, error)) (*V, error) {
	if v, ok := c.Get(key); ok {
		cp := *v
		return &cp, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	cp := *v
	c.Add(key, &cp)
	return v, nil
}

func (s *Store) GetTimeline(ctx context.Context, id string) (*domain.CampaignTimeline, error) {
	return lookup(s.timelines, "id:"+id, func() (*domain.CampaignTimeline, error) {
		return s.Store.GetTimeline(ctx, id)
	})
}

func (s *Store) GetTimelineBySlug(ctx context.Context, slug string) (*domain.CampaignTimeline, error) {
	return lookup(s.timelines, "slug:"+slug, func() (*domain.CampaignTimeline, error) {
		return s.Store.GetTimelineBySlug(ctx, slug)
	})
}

func (s *Store) ActiveTimelineForStage(ctx context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error) {
	return lookup(s.timelines, "stage:"+string(stage), func() (*domain.CampaignTimeline, error) {
		return s.Store.ActiveTimelineForStage(ctx, stage)
	})
}

func (s *Store) GetDialogTree(ctx context.Context, id string) (*domain.DialogTree, error) {
	return lookup(s.trees, "id:"+id, func() (*domain.DialogTree, error) {
		return s.Store.GetDialogTree(ctx, id)
	})
}

func (s *Store) FindDialogTree(ctx context.Context, triggerType string, stage domain.PipelineStage) (*domain.DialogTree, error) {
	return lookup(s.trees, "trigger:"+triggerType+"/"+string(stage), func() (*domain.DialogTree, error) {
		return s.Store.FindDialogTree(ctx, triggerType, stage)
	})
}

// Purge drops every cached definition.
func (s *Store) Purge() {
	s.timelines.Purge()
	s.trees.Purge()
}
