package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/inspectiq/internal/app"
	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/neomorfeo/inspectiq/internal/workflow"
)

const timeFormat = "2006-01-02T15:04:05Z"

// EntityResponse is the API representation of a plan or round.
type EntityResponse struct {
	ID               string `json:"id" doc:"Unique identifier"`
	Kind             string `json:"kind" doc:"plan or round"`
	State            string `json:"state" doc:"Lifecycle state"`
	ParentID         string `json:"parent_id,omitempty" doc:"Plan the round belongs to"`
	Title            string `json:"title" doc:"Display title"`
	EffectiveStart   string `json:"effective_start,omitempty" doc:"Date the plan took effect (YYYY-MM-DD)"`
	FindingsCount    int    `json:"findings_count" doc:"Findings recorded by the round"`
	InspectedCount   int    `json:"inspected_count" doc:"Sites inspected by the round"`
	LastActor        string `json:"last_actor,omitempty" doc:"Actor of the last change"`
	LastTransitionAt string `json:"last_transition_at,omitempty" doc:"Timestamp of the last transition (ISO 8601)"`
	CreatedAt        string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt        string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toEntityResponse(e domain.Entity) EntityResponse {
	resp := EntityResponse{
		ID:             e.ID,
		Kind:           string(e.Kind),
		State:          string(e.State),
		ParentID:       e.ParentID,
		Title:          e.Title,
		FindingsCount:  e.FindingsCount,
		InspectedCount: e.InspectedCount,
		LastActor:      e.LastActor,
		CreatedAt:      e.CreatedAt.Format(timeFormat),
		UpdatedAt:      e.UpdatedAt.Format(timeFormat),
	}
	if e.EffectiveStart != nil {
		resp.EffectiveStart = e.EffectiveStart.Format("2006-01-02")
	}
	if e.LastTransitionAt != nil {
		resp.LastTransitionAt = e.LastTransitionAt.Format(timeFormat)
	}
	return resp
}

// ActionResponse is one action offered to the caller.
type ActionResponse struct {
	Label                string   `json:"label"`
	Action               string   `json:"action"`
	Permission           string   `json:"permission,omitempty"`
	Priority             int      `json:"priority"`
	Destructive          bool     `json:"destructive"`
	RequiresReason       bool     `json:"requires_reason"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Params               []string `json:"params,omitempty"`
	SeparatorBefore      bool     `json:"separator_before"`
}

func toActionResponses(actions []workflow.Action) []ActionResponse {
	out := make([]ActionResponse, len(actions))
	for i, a := range actions {
		out[i] = ActionResponse{
			Label:                a.Label,
			Action:               string(a.Code),
			Permission:           a.Permission,
			Priority:             a.Priority,
			Destructive:          a.Destructive,
			RequiresReason:       a.RequiresReason,
			RequiresConfirmation: a.RequiresConfirmation,
			Params:               a.Params,
			SeparatorBefore:      a.SeparatorBefore,
		}
	}
	return out
}

// HistoryEntryResponse is one applied transition.
type HistoryEntryResponse struct {
	Action string `json:"action"`
	From   string `json:"from"`
	To     string `json:"to"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	At     string `json:"at"`
}

// --- Create ---

type CreateEntityInput struct {
	Body struct {
		Title    string `json:"title" minLength:"1" maxLength:"255" doc:"Display title"`
		ParentID string `json:"parent_id,omitempty" doc:"Parent plan ID (rounds only)"`
	}
}

type EntityOutput struct {
	Body EntityResponse
}

// --- Get ---

type EntityIDInput struct {
	ID string `path:"id" doc:"Entity ID"`
}

// --- List ---

type ListEntitiesInput struct {
	State    string `query:"state" required:"false" doc:"Filter by lifecycle state"`
	ParentID string `query:"parent_id" required:"false" doc:"Filter rounds by plan"`
	Limit    int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset   int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListEntitiesOutput struct {
	Body []EntityResponse
}

// --- Actions ---

type ActionsOutput struct {
	Body struct {
		Entity  EntityResponse   `json:"entity"`
		Actions []ActionResponse `json:"actions"`
	}
}

// --- Transition ---

type TransitionInput struct {
	ID   string `path:"id" doc:"Entity ID"`
	Body struct {
		Action string            `json:"action" minLength:"1" doc:"Action code, as returned by the actions endpoint"`
		Reason string            `json:"reason,omitempty" doc:"Required by reject, pause and cancel"`
		Params map[string]string `json:"params,omitempty" doc:"Action parameters, e.g. effective_start for plan deploy"`
	}
}

// --- History ---

type HistoryOutput struct {
	Body []HistoryEntryResponse
}

// --- Access ---

type AccessInput struct {
	Path string `query:"path" required:"true" doc:"Screen path to check, e.g. /plans/42/history"`
}

type AccessOutput struct {
	Body struct {
		Path       string `json:"path"`
		Allowed    bool   `json:"allowed"`
		Permission string `json:"permission,omitempty" doc:"Permission the path requires"`
		Pattern    string `json:"pattern,omitempty" doc:"Route pattern that decided"`
		Inherited  bool   `json:"inherited" doc:"Whether the pattern belongs to an enclosing path"`
	}
}

// --- Me ---

type MeOutput struct {
	Body struct {
		Actor       string   `json:"actor"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
}

// Register adds the plan, round and access API routes to the Huma API.
// Permissions are resolved once per request from the X-Actor-ID header.
func Register(api huma.API, svc *app.CaseService, store domain.PermissionStore) {
	api.UseMiddleware(sessionMiddleware(api, store))

	for _, kind := range domain.Kinds {
		registerKind(api, svc, kind)
	}

	huma.Register(api, huma.Operation{
		OperationID: "check-access",
		Method:      http.MethodGet,
		Path:        "/api/v1/access",
		Summary:     "Check whether the caller may open a screen",
		Tags:        []string{"Access"},
	}, func(ctx context.Context, input *AccessInput) (*AccessOutput, error) {
		d := svc.Access(input.Path, sessionFrom(ctx).Permissions)

		out := &AccessOutput{}
		out.Body.Path = d.Path
		out.Body.Allowed = d.Allowed
		out.Body.Permission = d.Permission
		if d.Matched != nil {
			out.Body.Pattern = d.Matched.Pattern
			out.Body.Inherited = d.Matched.Inherited
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/api/v1/me",
		Summary:     "Show the caller's permissions",
		Tags:        []string{"Access"},
	}, func(ctx context.Context, _ *struct{}) (*MeOutput, error) {
		session := sessionFrom(ctx)

		out := &MeOutput{}
		out.Body.Actor = session.Actor
		out.Body.Roles = []string{}
		out.Body.Permissions = session.Permissions.Codes()
		if session.Actor != "" {
			roles, err := store.Roles(ctx, session.Actor)
			if err != nil {
				return nil, toHumaError(ctx, err)
			}
			if roles != nil {
				out.Body.Roles = roles
			}
		}
		return out, nil
	})
}

func registerKind(api huma.API, svc *app.CaseService, kind domain.EntityKind) {
	collection := kind.Collection()
	base := "/api/v1/" + collection
	tags := []string{strings.ToUpper(collection[:1]) + collection[1:]}

	huma.Register(api, huma.Operation{
		OperationID: "create-" + string(kind),
		Method:      http.MethodPost,
		Path:        base,
		Summary:     "Create a " + string(kind) + " in draft",
		Tags:        tags,
	}, func(ctx context.Context, input *CreateEntityInput) (*EntityOutput, error) {
		session := sessionFrom(ctx)
		entity, err := svc.Create(ctx, session.Permissions, session.Actor, kind, input.Body.Title, input.Body.ParentID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &EntityOutput{Body: toEntityResponse(entity)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + string(kind),
		Method:      http.MethodGet,
		Path:        base + "/{id}",
		Summary:     "Get a " + string(kind) + " by ID",
		Tags:        tags,
	}, func(ctx context.Context, input *EntityIDInput) (*EntityOutput, error) {
		entity, err := svc.Get(ctx, sessionFrom(ctx).Permissions, kind, input.ID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &EntityOutput{Body: toEntityResponse(entity)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-" + collection,
		Method:      http.MethodGet,
		Path:        base,
		Summary:     "List " + collection,
		Tags:        tags,
	}, func(ctx context.Context, input *ListEntitiesInput) (*ListEntitiesOutput, error) {
		filter := domain.ListFilter{
			ParentID: input.ParentID,
			Limit:    input.Limit,
			Offset:   input.Offset,
		}
		if input.State != "" {
			s := domain.WorkflowState(input.State)
			filter.State = &s
		}

		entities, err := svc.List(ctx, sessionFrom(ctx).Permissions, kind, filter)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}

		resp := make([]EntityResponse, len(entities))
		for i, e := range entities {
			resp[i] = toEntityResponse(e)
		}
		return &ListEntitiesOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-" + string(kind) + "-actions",
		Method:      http.MethodGet,
		Path:        base + "/{id}/actions",
		Summary:     "List the actions the caller may invoke now",
		Tags:        tags,
	}, func(ctx context.Context, input *EntityIDInput) (*ActionsOutput, error) {
		entity, actions, err := svc.Actions(ctx, sessionFrom(ctx).Permissions, kind, input.ID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}

		out := &ActionsOutput{}
		out.Body.Entity = toEntityResponse(entity)
		out.Body.Actions = toActionResponses(actions)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-" + string(kind),
		Method:      http.MethodPost,
		Path:        base + "/{id}/transitions",
		Summary:     "Perform a lifecycle action",
		Tags:        tags,
	}, func(ctx context.Context, input *TransitionInput) (*EntityOutput, error) {
		session := sessionFrom(ctx)
		entity, err := svc.Transition(ctx, session.Permissions, kind, input.ID, session.Actor, workflow.Request{
			Action: domain.Action(input.Body.Action),
			Reason: input.Body.Reason,
			Params: input.Body.Params,
		})
		if err != nil {
			return nil, toHumaError(ctx, err)
		}
		return &EntityOutput{Body: toEntityResponse(entity)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + string(kind) + "-history",
		Method:      http.MethodGet,
		Path:        base + "/{id}/history",
		Summary:     "List applied transitions, oldest first",
		Tags:        tags,
	}, func(ctx context.Context, input *EntityIDInput) (*HistoryOutput, error) {
		entries, err := svc.History(ctx, sessionFrom(ctx).Permissions, kind, input.ID)
		if err != nil {
			return nil, toHumaError(ctx, err)
		}

		resp := make([]HistoryEntryResponse, len(entries))
		for i, h := range entries {
			resp[i] = HistoryEntryResponse{
				Action: string(h.Action),
				From:   string(h.From),
				To:     string(h.To),
				Actor:  h.Actor,
				Reason: h.Reason,
				At:     h.At.Format(timeFormat),
			}
		}
		return &HistoryOutput{Body: resp}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrEntityNotFound):
		return huma.Error404NotFound("not found")
	case errors.Is(err, domain.ErrForbidden):
		return huma.Error403Forbidden(err.Error())
	case errors.Is(err, domain.ErrStaleState):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrParameterRequired),
		errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrInvalidParent):
		return huma.Error422UnprocessableEntity(err.Error())
	}

	slog.ErrorContext(ctx, "request failed", "error", err)
	return huma.Error500InternalServerError("internal server error")
}
