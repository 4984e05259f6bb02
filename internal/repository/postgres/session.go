package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/flightbot/flightbot-backend/internal/repository"
)

const sessionColumns = "id, user_id, chat_id, files, status, fail_reason, result_ref, created_at, updated_at"

// SessionRepository implements repository.SessionRepository using PostgreSQL.
// Status transitions are single conditional UPDATEs (status in the WHERE
// clause), which gives compare-and-swap semantics without explicit locking.
type SessionRepository struct {
	db       *sqlx.DB
	maxFiles int
}

// NewSessionRepository creates a new PostgreSQL session repository.
// maxFiles caps the file sequence length per session.
func NewSessionRepository(db *sqlx.DB, maxFiles int) *SessionRepository {
	return &SessionRepository{db: db, maxFiles: maxFiles}
}

// GetOrCreateActive returns the user's collecting session, creating one if
// none exists. A partial unique index on (user_id) over open statuses makes
// the create race-safe: the loser of a concurrent insert re-reads.
func (r *SessionRepository) GetOrCreateActive(ctx context.Context, userID, chatID int64) (*repository.Session, error) {
	session, err := r.GetActive(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if session != nil {
		if session.Status == repository.StatusProcessing {
			return nil, fmt.Errorf("session %s is processing: %w", session.ID, repository.ErrConflict)
		}
		return session, nil
	}

	now := time.Now().UTC()
	session = &repository.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChatID:    chatID,
		Files:     repository.FileRefs{},
		Status:    repository.StatusCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO sessions (id, user_id, chat_id, files, status, created_at, updated_at)
		VALUES (:id, :user_id, :chat_id, :files, :status, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Lost a concurrent create; the winner's row is the session.
			return r.GetOrCreateActive(ctx, userID, chatID)
		}
		return nil, err
	}

	return session, nil
}

// GetActive returns the user's collecting or processing session.
func (r *SessionRepository) GetActive(ctx context.Context, userID int64) (*repository.Session, error) {
	var session repository.Session
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &session, query, userID,
		repository.StatusCollecting, repository.StatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &session, nil
}

// AppendFile appends one file reference to a collecting session. The status
// and capacity checks live in the UPDATE's WHERE clause so a concurrent
// trigger or a racing append cannot slip past them.
func (r *SessionRepository) AppendFile(ctx context.Context, sessionID string, ref repository.FileRef) (*repository.Session, error) {
	refJSON, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}

	var session repository.Session
	query := `
		UPDATE sessions
		SET files = files || $2::jsonb, updated_at = $3
		WHERE id = $1 AND status = $4 AND jsonb_array_length(files) < $5
		RETURNING ` + sessionColumns

	err = r.db.GetContext(ctx, &session, query,
		sessionID, refJSON, time.Now().UTC(), repository.StatusCollecting, r.maxFiles)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// No row matched: re-read once to say why.
	return nil, r.classify(ctx, sessionID, func(s *repository.Session) error {
		if s.Status != repository.StatusCollecting {
			return fmt.Errorf("cannot append in status %s: %w", s.Status, repository.ErrInvalidState)
		}
		return fmt.Errorf("session holds %d files: %w", len(s.Files), repository.ErrCapacity)
	})
}

// MarkProcessing atomically transitions collecting -> processing. Of two
// simultaneous callers exactly one sees an affected row; the other gets
// ErrConflict.
func (r *SessionRepository) MarkProcessing(ctx context.Context, sessionID string) (*repository.Session, error) {
	var session repository.Session
	query := `
		UPDATE sessions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND jsonb_array_length(files) > 0
		RETURNING ` + sessionColumns

	err := r.db.GetContext(ctx, &session, query,
		sessionID, repository.StatusProcessing, time.Now().UTC(), repository.StatusCollecting)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	return nil, r.classify(ctx, sessionID, func(s *repository.Session) error {
		if s.Status == repository.StatusProcessing {
			return fmt.Errorf("trigger already in flight: %w", repository.ErrConflict)
		}
		if s.Status != repository.StatusCollecting {
			return fmt.Errorf("cannot trigger in status %s: %w", s.Status, repository.ErrInvalidState)
		}
		return repository.ErrEmptySession
	})
}

// MarkDone transitions processing -> done.
func (r *SessionRepository) MarkDone(ctx context.Context, sessionID, resultRef string) error {
	return r.finish(ctx, sessionID, repository.StatusDone, "result_ref", resultRef)
}

// MarkFailed transitions processing -> failed.
func (r *SessionRepository) MarkFailed(ctx context.Context, sessionID, reason string) error {
	return r.finish(ctx, sessionID, repository.StatusFailed, "fail_reason", reason)
}

func (r *SessionRepository) finish(ctx context.Context, sessionID string, status repository.SessionStatus, column, value string) error {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = $2, %s = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, column)

	res, err := r.db.ExecContext(ctx, query,
		sessionID, status, value, time.Now().UTC(), repository.StatusProcessing)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return r.classify(ctx, sessionID, func(s *repository.Session) error {
			return fmt.Errorf("cannot finish in status %s: %w", s.Status, repository.ErrInvalidState)
		})
	}
	return nil
}

// AbandonActive expires the user's collecting sessions (the /new command).
func (r *SessionRepository) AbandonActive(ctx context.Context, userID int64) error {
	query := `
		UPDATE sessions
		SET status = $2, updated_at = $3
		WHERE user_id = $1 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query,
		userID, repository.StatusExpired, time.Now().UTC(), repository.StatusCollecting)
	return err
}

// ExpireStale is the retention sweep: everything not already expired whose
// last update is older than the cutoff becomes expired. Running it twice is
// a no-op the second time.
func (r *SessionRepository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE sessions
		SET status = $2, updated_at = $3
		WHERE updated_at < $1 AND status <> $2
	`
	res, err := r.db.ExecContext(ctx, query,
		olderThan, repository.StatusExpired, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// classify re-reads a session after a zero-row conditional update and maps
// the observed state onto a sentinel error.
func (r *SessionRepository) classify(ctx context.Context, sessionID string, explain func(*repository.Session) error) error {
	var session repository.Session
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &session, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return explain(&session)
}
