// Package memory is an in-process Store used by tests and local runs. It
// honours the same version-checked update contract as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Store keeps every entity in maps guarded by one mutex. Reads return
// copies so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	customers     map[string]*domain.Customer
	timelines     map[string]*domain.CampaignTimeline
	progress      map[string]*domain.CustomerTimelineProgress
	trees         map[string]*domain.DialogTree
	executions    map[string]*domain.DialogExecution
	personalities map[string]*domain.Personality
	assignments   map[string]*domain.PersonalityAssignment
	followups     []domain.Followup
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		customers:     make(map[string]*domain.Customer),
		timelines:     make(map[string]*domain.CampaignTimeline),
		progress:      make(map[string]*domain.CustomerTimelineProgress),
		trees:         make(map[string]*domain.DialogTree),
		executions:    make(map[string]*domain.DialogExecution),
		personalities: make(map[string]*domain.Personality),
		assignments:   make(map[string]*domain.PersonalityAssignment),
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// ── Customers ──────────────────────────────────────────────────────────────

func (s *Store) CreateCustomer(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = newID(c.ID)
	if _, ok := s.customers[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if c.EngagementTier == 0 {
		c.EngagementTier = domain.WorstTier
	}
	if c.CampaignStatus == "" {
		c.CampaignStatus = domain.CampaignRunning
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Version = 1
	s.customers[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "customer", ID: id}
	}
	return c.Clone(), nil
}

// UpdateCustomer writes c if its Version still matches, then bumps it.
func (s *Store) UpdateCustomer(_ context.Context, c *domain.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.customers[c.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "customer", ID: c.ID}
	}
	if cur.Version != c.Version {
		return domain.ErrVersionConflict
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	s.customers[c.ID] = c.Clone()
	return nil
}

func (s *Store) ListCustomerIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.customers))
	for id := range s.customers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ── Timelines ──────────────────────────────────────────────────────────────

func (s *Store) SaveTimeline(_ context.Context, t *domain.CampaignTimeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = newID(t.ID)
	cp := *t
	cp.Actions = append([]domain.TimelineAction(nil), t.Actions...)
	s.timelines[t.ID] = &cp
	return nil
}

func (s *Store) GetTimeline(_ context.Context, id string) (*domain.CampaignTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "timeline", ID: id}
	}
	cp := *t
	return &cp, nil
}

// GetTimelineBySlug returns the highest active version for slug.
func (s *Store) GetTimelineBySlug(_ context.Context, slug string) (*domain.CampaignTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.CampaignTimeline
	for _, t := range s.timelines {
		if t.Slug == slug && t.Active && (best == nil || t.Version > best.Version) {
			best = t
		}
	}
	if best == nil {
		return nil, &domain.NotFoundError{Entity: "timeline", ID: slug}
	}
	cp := *best
	return &cp, nil
}

// ActiveTimelineForStage returns the highest active version for stage.
func (s *Store) ActiveTimelineForStage(_ context.Context, stage domain.PipelineStage) (*domain.CampaignTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.CampaignTimeline
	for _, t := range s.timelines {
		if t.Stage == stage && t.Active && (best == nil || t.Version > best.Version) {
			best = t
		}
	}
	if best == nil {
		return nil, &domain.NotFoundError{Entity: "timeline for stage", ID: string(stage)}
	}
	cp := *best
	return &cp, nil
}

// ListActiveTimelines returns every active timeline definition.
func (s *Store) ListActiveTimelines(_ context.Context) ([]*domain.CampaignTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CampaignTimeline
	for _, t := range s.timelines {
		if t.Active {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slug == out[j].Slug {
			return out[i].Version < out[j].Version
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

// ── Timeline progress ──────────────────────────────────────────────────────

// CreateProgress rejects a second open (active or paused) record for the
// same customer and timeline with ErrAlreadyExists.
func (s *Store) CreateProgress(_ context.Context, p *domain.CustomerTimelineProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.progress {
		if cur.CustomerID == p.CustomerID && cur.TimelineID == p.TimelineID && cur.Status != domain.ProgressCompleted {
			return domain.ErrAlreadyExists
		}
	}
	p.ID = newID(p.ID)
	p.Version = 1
	s.progress[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetProgress(_ context.Context, id string) (*domain.CustomerTimelineProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "timeline progress", ID: id}
	}
	return p.Clone(), nil
}

// FindOpenProgress returns the active or paused record for the pair.
func (s *Store) FindOpenProgress(_ context.Context, customerID, timelineID string) (*domain.CustomerTimelineProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.progress {
		if p.CustomerID == customerID && p.TimelineID == timelineID && p.Status != domain.ProgressCompleted {
			return p.Clone(), nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "timeline progress", ID: customerID + "/" + timelineID}
}

func (s *Store) UpdateProgress(_ context.Context, p *domain.CustomerTimelineProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.progress[p.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "timeline progress", ID: p.ID}
	}
	if cur.Version != p.Version {
		return domain.ErrVersionConflict
	}
	p.Version++
	s.progress[p.ID] = p.Clone()
	return nil
}

// ListActiveProgress returns active records ordered by start time.
func (s *Store) ListActiveProgress(_ context.Context) ([]*domain.CustomerTimelineProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CustomerTimelineProgress
	for _, p := range s.progress {
		if p.Status == domain.ProgressActive {
			out = append(out, p.Clone())
		}
	}
	sortProgress(out)
	return out, nil
}

func (s *Store) ListProgressForCustomer(_ context.Context, customerID string) ([]*domain.CustomerTimelineProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CustomerTimelineProgress
	for _, p := range s.progress {
		if p.CustomerID == customerID {
			out = append(out, p.Clone())
		}
	}
	sortProgress(out)
	return out, nil
}

func sortProgress(ps []*domain.CustomerTimelineProgress) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].StartedAt.Equal(ps[j].StartedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].StartedAt.Before(ps[j].StartedAt)
	})
}

// ── Dialogs ────────────────────────────────────────────────────────────────

func (s *Store) SaveDialogTree(_ context.Context, t *domain.DialogTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = newID(t.ID)
	cp := *t
	s.trees[t.ID] = &cp
	return nil
}

func (s *Store) GetDialogTree(_ context.Context, id string) (*domain.DialogTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "dialog tree", ID: id}
	}
	cp := *t
	return &cp, nil
}

// FindDialogTree picks the active tree for a trigger, preferring one bound
// to stage over a stage-agnostic one.
func (s *Store) FindDialogTree(_ context.Context, triggerType string, stage domain.PipelineStage) (*domain.DialogTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var generic, specific *domain.DialogTree
	ids := make([]string, 0, len(s.trees))
	for id := range s.trees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := s.trees[id]
		if !t.Active || t.TriggerType != triggerType {
			continue
		}
		switch {
		case t.Stage != nil && *t.Stage == stage && specific == nil:
			specific = t
		case t.Stage == nil && generic == nil:
			generic = t
		}
	}
	found := specific
	if found == nil {
		found = generic
	}
	if found == nil {
		return nil, &domain.NotFoundError{Entity: "dialog tree", ID: triggerType + "/" + string(stage)}
	}
	cp := *found
	return &cp, nil
}

// ListActiveDialogTrees returns every active tree.
func (s *Store) ListActiveDialogTrees(_ context.Context) ([]*domain.DialogTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.DialogTree
	for _, t := range s.trees {
		if t.Active {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateExecution(_ context.Context, e *domain.DialogExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = newID(e.ID)
	e.Version = 1
	s.executions[e.ID] = e.Clone()
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (*domain.DialogExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "dialog execution", ID: id}
	}
	return e.Clone(), nil
}

func (s *Store) UpdateExecution(_ context.Context, e *domain.DialogExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.executions[e.ID]
	if !ok {
		return &domain.NotFoundError{Entity: "dialog execution", ID: e.ID}
	}
	if cur.Version != e.Version {
		return domain.ErrVersionConflict
	}
	e.Version++
	s.executions[e.ID] = e.Clone()
	return nil
}

// ── Personalities ──────────────────────────────────────────────────────────

func (s *Store) SavePersonality(_ context.Context, p *domain.Personality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = newID(p.ID)
	cp := *p
	s.personalities[p.ID] = &cp
	return nil
}

func (s *Store) GetPersonality(_ context.Context, id string) (*domain.Personality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personalities[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "personality", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ActiveAssignment(_ context.Context, customerID string) (*domain.PersonalityAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if a.CustomerID == customerID && a.Status == domain.AssignmentActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "personality assignment", ID: customerID}
}

func (s *Store) ListAssignments(_ context.Context, customerID string) ([]domain.PersonalityAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PersonalityAssignment
	for _, a := range s.assignments {
		if a.CustomerID == customerID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

// ActivateAssignment deactivates every other active assignment of the
// customer and stores a as active, atomically.
func (s *Store) ActivateAssignment(_ context.Context, a *domain.PersonalityAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = newID(a.ID)
	for id, cur := range s.assignments {
		if cur.CustomerID == a.CustomerID && id != a.ID && cur.Status == domain.AssignmentActive {
			cur.Status = domain.AssignmentInactive
		}
	}
	a.Status = domain.AssignmentActive
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

// ── Follow-ups ─────────────────────────────────────────────────────────────

func (s *Store) CreateFollowup(_ context.Context, f *domain.Followup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = newID(f.ID)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.followups = append(s.followups, *f)
	return nil
}

// ListFollowups returns a customer's follow-ups, soonest first.
func (s *Store) ListFollowups(_ context.Context, customerID string) ([]domain.Followup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Followup
	for _, f := range s.followups {
		if f.CustomerID == customerID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}
