package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/inspectiq/internal/domain"
)

// Compile-time check: Publisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*Publisher)(nil)

// TransitionJobArgs carries a committed transition to be processed
// asynchronously. River serializes this as JSON into its job queue table. It
// is a self-contained snapshot, so the worker never needs to query the
// entity, which may already have been removed.
type TransitionJobArgs struct {
	EntityID   string    `json:"entity_id"`
	EntityKind string    `json:"kind"`
	Action     string    `json:"action"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Effects    []string  `json:"effects,omitempty"`
	At         time.Time `json:"at"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (TransitionJobArgs) Kind() string { return "transition.applied" }

// InsertOpts caps retries at five attempts.
func (TransitionJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a transition event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, event domain.TransitionEvent) error {
	if _, err := p.client.Insert(ctx, newTransitionJobArgs(event), nil); err != nil {
		return fmt.Errorf("enqueuing transition job: %w", err)
	}
	return nil
}

// Enqueue inserts the job within tx; it becomes visible to workers only when
// tx commits.
func (p *Publisher) Enqueue(ctx context.Context, tx *sql.Tx, event domain.TransitionEvent) error {
	if _, err := p.client.InsertTx(ctx, tx, newTransitionJobArgs(event), nil); err != nil {
		return fmt.Errorf("enqueuing transition job: %w", err)
	}
	return nil
}

func newTransitionJobArgs(event domain.TransitionEvent) TransitionJobArgs {
	effects := make([]string, len(event.Effects))
	for i, e := range event.Effects {
		effects[i] = string(e)
	}
	return TransitionJobArgs{
		EntityID:   event.EntityID,
		EntityKind: string(event.Kind),
		Action:     string(event.Action),
		From:       string(event.From),
		To:         string(event.To),
		Actor:      event.Actor,
		Effects:    effects,
		At:         event.At,
	}
}
