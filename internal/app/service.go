package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/inspectiq/internal/access"
	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/neomorfeo/inspectiq/internal/policy"
	"github.com/neomorfeo/inspectiq/internal/workflow"
)

// effectiveStartLayout is the accepted format of the effective_start parameter.
const effectiveStartLayout = "2006-01-02"

// CaseService orchestrates plan and round lifecycle operations. Every call
// receives the caller's permission set explicitly.
type CaseService struct {
	repo       domain.EntityRepository
	publisher  domain.EventPublisher
	engine     *workflow.Engine
	authorizer *workflow.Authorizer
	resolver   *access.Resolver
	now        func() time.Time
}

// NewCaseService creates a service with the given adapters and loaded policy.
// publisher may be nil when the repository enqueues transition events in its
// own transaction.
func NewCaseService(repo domain.EntityRepository, publisher domain.EventPublisher, validator domain.TransitionValidator, pol *policy.Policy) *CaseService {
	return &CaseService{
		repo:       repo,
		publisher:  publisher,
		engine:     workflow.NewEngine(pol.Table, validator),
		authorizer: workflow.NewAuthorizer(pol.Table),
		resolver:   pol.Resolver,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new entity in the draft state. Rounds must name an
// existing plan as parent; plans must not have one.
func (s *CaseService) Create(ctx context.Context, perms domain.PermissionSet, actor string, kind domain.EntityKind, title, parentID string) (domain.Entity, error) {
	if !kind.Valid() {
		return domain.Entity{}, &domain.ParameterError{Param: "kind", Value: string(kind)}
	}
	if required := domain.CreatePermission(kind); !perms.Has(required) {
		return domain.Entity{}, &domain.ForbiddenError{Permission: required}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Entity{}, &domain.ParameterError{Param: "title", Value: title}
	}

	switch kind {
	case domain.KindPlan:
		if parentID != "" {
			return domain.Entity{}, fmt.Errorf("%w: plans cannot have a parent", domain.ErrInvalidParent)
		}
	case domain.KindRound:
		if parentID == "" {
			return domain.Entity{}, fmt.Errorf("%w: rounds require a parent plan", domain.ErrInvalidParent)
		}
		parent, err := s.repo.GetByID(ctx, parentID)
		if err != nil {
			return domain.Entity{}, fmt.Errorf("%w: plan %s: %v", domain.ErrInvalidParent, parentID, err)
		}
		if parent.Kind != domain.KindPlan {
			return domain.Entity{}, fmt.Errorf("%w: %s is a %s, not a plan", domain.ErrInvalidParent, parentID, parent.Kind)
		}
	}

	id, err := generateID()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("generating entity id: %w", err)
	}

	entity := domain.NewEntity(id, kind, title, parentID)
	entity.LastActor = actor

	if err := s.repo.Create(ctx, entity); err != nil {
		return domain.Entity{}, fmt.Errorf("creating %s: %w", kind, err)
	}

	return entity, nil
}

// Get returns an entity of the given kind by its unique identifier. The
// caller must be allowed to open the entity's detail screen.
func (s *CaseService) Get(ctx context.Context, perms domain.PermissionSet, kind domain.EntityKind, id string) (domain.Entity, error) {
	if err := s.authorizeScreen(perms, "/"+kind.Collection()+"/"+id); err != nil {
		return domain.Entity{}, err
	}
	return s.load(ctx, kind, id)
}

// load fetches an entity and hides entities of another kind.
func (s *CaseService) load(ctx context.Context, kind domain.EntityKind, id string) (domain.Entity, error) {
	entity, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Entity{}, err
	}
	if entity.Kind != kind {
		return domain.Entity{}, domain.ErrEntityNotFound
	}
	return entity, nil
}

// List returns entities of one kind matching the filter.
func (s *CaseService) List(ctx context.Context, perms domain.PermissionSet, kind domain.EntityKind, filter domain.ListFilter) ([]domain.Entity, error) {
	screen := "/" + kind.Collection()
	if kind == domain.KindRound && filter.ParentID != "" {
		screen = "/plans/" + filter.ParentID + "/rounds"
	}
	if err := s.authorizeScreen(perms, screen); err != nil {
		return nil, err
	}
	filter.Kind = &kind
	return s.repo.List(ctx, filter)
}

// Actions returns the actions the caller may invoke on the entity now.
func (s *CaseService) Actions(ctx context.Context, perms domain.PermissionSet, kind domain.EntityKind, id string) (domain.Entity, []workflow.Action, error) {
	entity, err := s.Get(ctx, perms, kind, id)
	if err != nil {
		return domain.Entity{}, nil, err
	}
	return entity, s.authorizer.AvailableActions(entity, perms), nil
}

// Transition authorizes req against the entity's current state, then commits
// the resulting state change and effects with a compare-and-swap on the state
// that was authorized. A concurrent change surfaces as *domain.StaleStateError.
func (s *CaseService) Transition(ctx context.Context, perms domain.PermissionSet, kind domain.EntityKind, id, actor string, req workflow.Request) (domain.Entity, error) {
	entity, err := s.load(ctx, kind, id)
	if err != nil {
		return domain.Entity{}, err
	}

	outcome, err := s.engine.AttemptTransition(ctx, entity, req, perms)
	if err != nil {
		return domain.Entity{}, err
	}

	commit := domain.Commit{
		EntityID: entity.ID,
		Action:   req.Action,
		From:     outcome.From,
		To:       outcome.To,
		Effects:  outcome.Effects,
		Actor:    actor,
		Reason:   strings.TrimSpace(req.Reason),
		At:       s.now(),
	}
	for _, p := range outcome.Rule.Params {
		if p != domain.ParamEffectiveStart {
			continue
		}
		raw := strings.TrimSpace(req.Params[p])
		start, err := time.Parse(effectiveStartLayout, raw)
		if err != nil {
			return domain.Entity{}, &domain.ParameterError{Param: p, Value: raw}
		}
		commit.EffectiveStart = &start
	}

	updated, err := s.repo.ApplyTransition(ctx, commit)
	if err != nil {
		return domain.Entity{}, err
	}

	if s.publisher == nil {
		return updated, nil
	}

	event := domain.TransitionEvent{
		EntityID: entity.ID,
		Kind:     entity.Kind,
		Action:   req.Action,
		From:     outcome.From,
		To:       outcome.To,
		Actor:    actor,
		Effects:  outcome.Effects,
		At:       commit.At,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		return domain.Entity{}, fmt.Errorf("publishing %s event: %w", req.Action, err)
	}

	return updated, nil
}

// History returns the transition log of an entity, oldest first. It remains
// readable after the entity was deleted. An id of another kind is not found.
func (s *CaseService) History(ctx context.Context, perms domain.PermissionSet, kind domain.EntityKind, id string) ([]domain.HistoryEntry, error) {
	if err := s.authorizeScreen(perms, "/"+kind.Collection()+"/"+id+"/history"); err != nil {
		return nil, err
	}
	entries, err := s.repo.History(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := s.load(ctx, kind, id); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Access reports whether perms may open the screen at path.
func (s *CaseService) Access(path string, perms domain.PermissionSet) access.Decision {
	return s.resolver.Check(path, perms)
}

func (s *CaseService) authorizeScreen(perms domain.PermissionSet, path string) error {
	d := s.resolver.Check(path, perms)
	if !d.Allowed {
		return &domain.ForbiddenError{Permission: d.Permission}
	}
	return nil
}
