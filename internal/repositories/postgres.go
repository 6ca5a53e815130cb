package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/supnet/relations/internal/db"
	"github.com/supnet/relations/internal/models"
)

const (
	mutateMaxRetries  = 3
	mutateBaseBackoff = 50 * time.Millisecond
	mutateMaxBackoff  = time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// PostgresRelationshipRepository provides PostgreSQL-backed persistence for
// relationship edges. The unordered-pair invariant is enforced by a unique
// index on (least(requester_id, addressee_id), greatest(...)).
type PostgresRelationshipRepository struct {
	pool db.Pool
}

// NewPostgresRelationshipRepository constructs a relationship store backed by PostgreSQL.
func NewPostgresRelationshipRepository(pool db.Pool) *PostgresRelationshipRepository {
	return &PostgresRelationshipRepository{pool: pool}
}

// Mutate runs fn inside a serializable transaction, retrying a bounded
// number of times when the database reports a serialization conflict.
// Domain decisions made by fn are deterministic against the re-read state,
// so a retry re-evaluates preconditions from scratch.
func (r *PostgresRelationshipRepository) Mutate(ctx context.Context, fn func(ctx context.Context, tx RelationshipTx) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	var attempt int
	for attempt = 0; attempt < mutateMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * mutateBaseBackoff
			if backoff > mutateMaxBackoff {
				backoff = mutateMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			timer.Stop()
		}

		tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", errors.Join(ErrUnavailable, err))
		}

		if err := fn(ctx, &pgxRelationshipTx{tx: tx}); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryablePgError(err) && attempt < mutateMaxRetries-1 {
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			if isRetryablePgError(err) && attempt < mutateMaxRetries-1 {
				continue
			}
			return fmt.Errorf("commit transaction: %w", errors.Join(ErrUnavailable, err))
		}

		return nil
	}

	return fmt.Errorf("mutate relationship: exceeded max retries (%d): %w", attempt, ErrUnavailable)
}

// FindByUnorderedPair matches either direction of the pair.
func (r *PostgresRelationshipRepository) FindByUnorderedPair(ctx context.Context, a, b string) (models.Relationship, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Relationship{}, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, requester_id, addressee_id, status, created_at, updated_at
        FROM relationships
        WHERE (requester_id = $1 AND addressee_id = $2)
           OR (requester_id = $2 AND addressee_id = $1)
    `, a, b)

	return scanRelationship(row)
}

// CountAccepted counts ACCEPTED edges touching userID.
func (r *PostgresRelationshipRepository) CountAccepted(ctx context.Context, userID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	var count int64
	err = conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM relationships
        WHERE (requester_id = $1 OR addressee_id = $1) AND status = $2
    `, userID, models.StatusAccepted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accepted relationships: %w", err)
	}

	return count, nil
}

// ListAcceptedFriendIDs returns the counterpart ids of accepted edges,
// newest edge first.
func (r *PostgresRelationshipRepository) ListAcceptedFriendIDs(ctx context.Context, userID string) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT CASE WHEN requester_id = $1 THEN addressee_id ELSE requester_id END
        FROM relationships
        WHERE (requester_id = $1 OR addressee_id = $1) AND status = $2
        ORDER BY created_at DESC
    `, userID, models.StatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("query accepted friend ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend ids: %w", err)
	}

	return ids, nil
}

// ListByStatus returns edges where userID appears on the requested side.
func (r *PostgresRelationshipRepository) ListByStatus(ctx context.Context, userID string, status models.Status, asRequester bool) ([]models.Relationship, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	column := "addressee_id"
	if asRequester {
		column = "requester_id"
	}

	rows, err := conn.Query(ctx, `
        SELECT id, requester_id, addressee_id, status, created_at, updated_at
        FROM relationships
        WHERE `+column+` = $1 AND status = $2
        ORDER BY created_at DESC
    `, userID, status)
	if err != nil {
		return nil, fmt.Errorf("query relationships by status: %w", err)
	}
	defer rows.Close()

	var rels []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}

	return rels, nil
}

// pgxRelationshipTx implements RelationshipTx over a live pgx transaction.
type pgxRelationshipTx struct {
	tx pgx.Tx
}

func (t *pgxRelationshipTx) FindByOrderedPair(ctx context.Context, requesterID, addresseeID string) (models.Relationship, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT id, requester_id, addressee_id, status, created_at, updated_at
        FROM relationships
        WHERE requester_id = $1 AND addressee_id = $2
    `, requesterID, addresseeID)

	return scanRelationship(row)
}

func (t *pgxRelationshipTx) FindByUnorderedPair(ctx context.Context, a, b string) (models.Relationship, error) {
	row := t.tx.QueryRow(ctx, `
        SELECT id, requester_id, addressee_id, status, created_at, updated_at
        FROM relationships
        WHERE (requester_id = $1 AND addressee_id = $2)
           OR (requester_id = $2 AND addressee_id = $1)
    `, a, b)

	return scanRelationship(row)
}

func (t *pgxRelationshipTx) Insert(ctx context.Context, rel models.Relationship) error {
	var updatedAt sql.NullTime
	if rel.UpdatedAt != nil {
		updatedAt = sql.NullTime{Valid: true, Time: rel.UpdatedAt.UTC()}
	}

	_, err := t.tx.Exec(ctx, `
        INSERT INTO relationships (id, requester_id, addressee_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, rel.ID, rel.RequesterID, rel.AddresseeID, rel.Status, rel.CreatedAt, updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert relationship: %w", err)
	}

	return nil
}

func (t *pgxRelationshipTx) UpdateStatus(ctx context.Context, id string, status models.Status, now time.Time) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE relationships
        SET status = $2, updated_at = $3
        WHERE id = $1
    `, id, status, now.UTC())
	if err != nil {
		return fmt.Errorf("update relationship status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (t *pgxRelationshipTx) Overwrite(ctx context.Context, rel models.Relationship) error {
	var updatedAt sql.NullTime
	if rel.UpdatedAt != nil {
		updatedAt = sql.NullTime{Valid: true, Time: rel.UpdatedAt.UTC()}
	}

	tag, err := t.tx.Exec(ctx, `
        UPDATE relationships
        SET requester_id = $2, addressee_id = $3, status = $4, updated_at = $5
        WHERE id = $1
    `, rel.ID, rel.RequesterID, rel.AddresseeID, rel.Status, updatedAt)
	if err != nil {
		return fmt.Errorf("overwrite relationship: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (t *pgxRelationshipTx) Delete(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresUserRepository provides PostgreSQL-backed access to the user
// directory consumed by the relationship service.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user directory backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, display_name, created_at)
        VALUES ($1, $2, $3)
    `, user.ID, user.DisplayName, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// Exists reports whether the user id is known.
func (r *PostgresUserRepository) Exists(ctx context.Context, id string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}

	return exists, nil
}

// RefsByIDs loads user references for the given ids. Missing ids are
// silently absent from the result.
func (r *PostgresUserRepository) RefsByIDs(ctx context.Context, ids []string) ([]models.UserRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", errors.Join(ErrUnavailable, err))
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, display_name
        FROM users
        WHERE id = ANY($1)
    `, ids)
	if err != nil {
		return nil, fmt.Errorf("query user refs: %w", err)
	}
	defer rows.Close()

	var refs []models.UserRef
	for rows.Next() {
		var ref models.UserRef
		if err := rows.Scan(&ref.ID, &ref.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user ref: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user refs: %w", err)
	}

	return refs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelationship(row rowScanner) (models.Relationship, error) {
	var (
		rel       models.Relationship
		updatedAt sql.NullTime
	)

	if err := row.Scan(&rel.ID, &rel.RequesterID, &rel.AddresseeID, &rel.Status, &rel.CreatedAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Relationship{}, ErrNotFound
		}
		return models.Relationship{}, fmt.Errorf("scan relationship: %w", err)
	}

	if updatedAt.Valid {
		t := updatedAt.Time.UTC()
		rel.UpdatedAt = &t
	}

	return rel, nil
}

func isRetryablePgError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryablePgErrorCodes[pgErr.Code]
		return ok
	}

	return errors.Is(err, pgx.ErrTxClosed)
}

var _ RelationshipStore = (*PostgresRelationshipRepository)(nil)
var _ RelationshipTx = (*pgxRelationshipTx)(nil)
var _ UserDirectory = (*PostgresUserRepository)(nil)
