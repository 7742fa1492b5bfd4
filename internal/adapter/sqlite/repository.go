package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/neomorfeo/inspectiq/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Outbox enqueues a transition event inside the transaction that commits the
// transition, so the event exists if and only if the state change does.
type Outbox interface {
	Enqueue(ctx context.Context, tx *sql.Tx, event domain.TransitionEvent) error
}

// EntityRepository implements domain.EntityRepository using SQLite.
type EntityRepository struct {
	db     *sql.DB
	outbox Outbox
}

// Compile-time check: EntityRepository implements domain.EntityRepository.
var _ domain.EntityRepository = (*EntityRepository)(nil)

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*EntityRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	if err := ApplyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	repo, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Pragmas are applied to every connection pool opened for the repository:
// WAL journaling, enforced foreign keys and a busy timeout.
var Pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// ApplyPragmas runs Pragmas against db.
func ApplyPragmas(db *sql.DB) error {
	for _, pragma := range Pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	return nil
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready repository.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
// The caller keeps ownership of db on error.
func NewFromDB(db *sql.DB) (*EntityRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &EntityRepository{db: db}, nil
}

// SetOutbox makes ApplyTransition enqueue a TransitionEvent in the same
// transaction as the state write. Call it before serving requests.
func (r *EntityRepository) SetOutbox(o Outbox) {
	r.outbox = o
}

// Close closes the underlying database connection.
func (r *EntityRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *EntityRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const (
	timeFormat = "2006-01-02T15:04:05Z"
	dateFormat = "2006-01-02"
)

const selectEntity = `SELECT id, kind, state, parent_id, title, effective_start,
	findings_count, inspected_count, last_actor, last_transition_at, created_at, updated_at
	FROM entities`

func (r *EntityRepository) Create(ctx context.Context, e domain.Entity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, state, parent_id, title, last_actor, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), string(e.State), nullString(e.ParentID), e.Title, e.LastActor,
		e.CreatedAt.Format(timeFormat),
		e.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrInvalidParent, e.ParentID)
		}
		return fmt.Errorf("inserting %s: %w", e.Kind, err)
	}
	return nil
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (domain.Entity, error) {
	return scanEntity(r.db.QueryRowContext(ctx, selectEntity+` WHERE id = ?`, id))
}

func (r *EntityRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Entity, error) {
	query := selectEntity
	var where []string
	var args []any

	if filter.Kind != nil {
		where = append(where, `kind = ?`)
		args = append(args, string(*filter.Kind))
	}
	if filter.State != nil {
		where = append(where, `state = ?`)
		args = append(args, string(*filter.State))
	}
	if filter.ParentID != "" {
		where = append(where, `parent_id = ?`)
		args = append(args, filter.ParentID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var entities []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	return entities, rows.Err()
}

// ApplyTransition writes the state change, its effects and a log row in one
// transaction. The state write is guarded by the state the caller authorized.
func (r *EntityRepository) ApplyTransition(ctx context.Context, c domain.Commit) (domain.Entity, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanEntity(tx.QueryRowContext(ctx, selectEntity+` WHERE id = ?`, c.EntityID))
	if err != nil {
		return domain.Entity{}, err
	}
	if current.State != c.From {
		return domain.Entity{}, &domain.StaleStateError{ID: c.EntityID, Expected: c.From, Actual: current.State}
	}

	var result sql.Result
	if slices.Contains(c.Effects, domain.EffectRemoveRecord) {
		result, err = tx.ExecContext(ctx,
			`DELETE FROM entities WHERE id = ? AND state = ?`, c.EntityID, string(c.From))
	} else {
		query, args, buildErr := buildUpdate(c)
		if buildErr != nil {
			return domain.Entity{}, buildErr
		}
		result, err = tx.ExecContext(ctx, query, args...)
	}
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Entity{}, fmt.Errorf("removing %s: still referenced: %w", c.EntityID, err)
		}
		return domain.Entity{}, fmt.Errorf("writing transition: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.Entity{}, r.staleOrMissing(ctx, tx, c)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transition_log (entity_id, kind, action, from_state, to_state, actor, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.EntityID, string(current.Kind), string(c.Action), string(c.From), string(c.To), c.Actor, c.Reason,
		c.At.UTC().Format(timeFormat),
	); err != nil {
		return domain.Entity{}, fmt.Errorf("logging transition: %w", err)
	}

	if r.outbox != nil {
		event := domain.TransitionEvent{
			EntityID: c.EntityID,
			Kind:     current.Kind,
			Action:   c.Action,
			From:     c.From,
			To:       c.To,
			Actor:    c.Actor,
			Effects:  c.Effects,
			At:       c.At,
		}
		if err := r.outbox.Enqueue(ctx, tx, event); err != nil {
			return domain.Entity{}, fmt.Errorf("enqueuing transition event: %w", err)
		}
	}

	updated := current
	if c.To != domain.StateRemoved {
		updated, err = scanEntity(tx.QueryRowContext(ctx, selectEntity+` WHERE id = ?`, c.EntityID))
		if err != nil {
			return domain.Entity{}, err
		}
	} else {
		updated.State = domain.StateRemoved
	}

	if err := tx.Commit(); err != nil {
		return domain.Entity{}, fmt.Errorf("committing transition: %w", err)
	}
	return updated, nil
}

// buildUpdate renders the compare-and-swap UPDATE for a non-removing commit.
func buildUpdate(c domain.Commit) (string, []any, error) {
	sets := []string{`state = ?`, `updated_at = ?`}
	args := []any{string(c.To), c.At.UTC().Format(timeFormat)}

	for _, effect := range c.Effects {
		switch effect {
		case domain.EffectStampActor:
			sets = append(sets, `last_actor = ?`)
			args = append(args, c.Actor)
		case domain.EffectStampTimestamp:
			sets = append(sets, `last_transition_at = ?`)
			args = append(args, c.At.UTC().Format(timeFormat))
		case domain.EffectResetStats:
			sets = append(sets, `findings_count = 0`, `inspected_count = 0`)
		case domain.EffectSetEffectiveStart:
			if c.EffectiveStart == nil {
				return "", nil, fmt.Errorf("effect %s without an effective start date", effect)
			}
			sets = append(sets, `effective_start = ?`)
			args = append(args, c.EffectiveStart.Format(dateFormat))
		default:
			return "", nil, fmt.Errorf("unsupported effect %q", effect)
		}
	}

	args = append(args, c.EntityID, string(c.From))
	return `UPDATE entities SET ` + strings.Join(sets, `, `) + ` WHERE id = ? AND state = ?`, args, nil
}

func (r *EntityRepository) staleOrMissing(ctx context.Context, tx *sql.Tx, c domain.Commit) error {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM entities WHERE id = ?`, c.EntityID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrEntityNotFound
	}
	if err != nil {
		return fmt.Errorf("re-reading state: %w", err)
	}
	return &domain.StaleStateError{ID: c.EntityID, Expected: c.From, Actual: domain.WorkflowState(state)}
}

// History returns the log rows recorded for entityID while it was of the
// given kind. Entries survive removal of the entity.
func (r *EntityRepository) History(ctx context.Context, kind domain.EntityKind, entityID string) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id, action, from_state, to_state, actor, reason, at
		 FROM transition_log WHERE entity_id = ? AND kind = ? ORDER BY id`, entityID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		var action, from, to, at string
		if err := rows.Scan(&h.EntityID, &action, &from, &to, &h.Actor, &h.Reason, &at); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		h.Action = domain.Action(action)
		h.From = domain.WorkflowState(from)
		h.To = domain.WorkflowState(to)
		h.At, _ = time.Parse(timeFormat, at)
		entries = append(entries, h)
	}

	return entries, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity scans a single row into a domain.Entity.
func scanEntity(row rowScanner) (domain.Entity, error) {
	var e domain.Entity
	var kind, state, createdAt, updatedAt string
	var parentID, effectiveStart, lastTransitionAt sql.NullString

	err := row.Scan(&e.ID, &kind, &state, &parentID, &e.Title, &effectiveStart,
		&e.FindingsCount, &e.InspectedCount, &e.LastActor, &lastTransitionAt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entity{}, domain.ErrEntityNotFound
		}
		return domain.Entity{}, fmt.Errorf("scanning entity: %w", err)
	}

	e.Kind = domain.EntityKind(kind)
	e.State = domain.WorkflowState(state)
	e.ParentID = parentID.String
	if effectiveStart.Valid {
		if t, err := time.Parse(dateFormat, effectiveStart.String); err == nil {
			e.EffectiveStart = &t
		}
	}
	if lastTransitionAt.Valid {
		if t, err := time.Parse(timeFormat, lastTransitionAt.String); err == nil {
			e.LastTransitionAt = &t
		}
	}
	e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	e.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isForeignKeyViolation checks if a SQLite error is a FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
