package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flightbot/flightbot-backend/internal/repository"
)

// SessionRepository is an in-memory repository.SessionRepository. It mirrors
// the PostgreSQL implementation's compare-and-swap semantics behind a single
// mutex, so it is only suitable for single-instance deployments and tests.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*repository.Session
	maxFiles int
}

// NewSessionRepository creates an empty in-memory session repository.
func NewSessionRepository(maxFiles int) *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*repository.Session),
		maxFiles: maxFiles,
	}
}

func (r *SessionRepository) GetOrCreateActive(_ context.Context, userID, chatID int64) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.activeLocked(userID); s != nil {
		if s.Status == repository.StatusProcessing {
			return nil, fmt.Errorf("session %s is processing: %w", s.ID, repository.ErrConflict)
		}
		return copySession(s), nil
	}

	now := time.Now().UTC()
	s := &repository.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChatID:    chatID,
		Files:     repository.FileRefs{},
		Status:    repository.StatusCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.sessions[s.ID] = s
	return copySession(s), nil
}

func (r *SessionRepository) GetActive(_ context.Context, userID int64) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.activeLocked(userID); s != nil {
		return copySession(s), nil
	}
	return nil, repository.ErrNotFound
}

func (r *SessionRepository) AppendFile(_ context.Context, sessionID string, ref repository.FileRef) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.Status != repository.StatusCollecting {
		return nil, fmt.Errorf("cannot append in status %s: %w", s.Status, repository.ErrInvalidState)
	}
	if len(s.Files) >= r.maxFiles {
		return nil, fmt.Errorf("session holds %d files: %w", len(s.Files), repository.ErrCapacity)
	}

	s.Files = append(s.Files, ref)
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

func (r *SessionRepository) MarkProcessing(_ context.Context, sessionID string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.Status == repository.StatusProcessing {
		return nil, fmt.Errorf("trigger already in flight: %w", repository.ErrConflict)
	}
	if s.Status != repository.StatusCollecting {
		return nil, fmt.Errorf("cannot trigger in status %s: %w", s.Status, repository.ErrInvalidState)
	}
	if len(s.Files) == 0 {
		return nil, repository.ErrEmptySession
	}

	s.Status = repository.StatusProcessing
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

func (r *SessionRepository) MarkDone(_ context.Context, sessionID, resultRef string) error {
	return r.finish(sessionID, repository.StatusDone, func(s *repository.Session) {
		s.ResultRef = sql.NullString{String: resultRef, Valid: true}
	})
}

func (r *SessionRepository) MarkFailed(_ context.Context, sessionID, reason string) error {
	return r.finish(sessionID, repository.StatusFailed, func(s *repository.Session) {
		s.FailReason = sql.NullString{String: reason, Valid: true}
	})
}

func (r *SessionRepository) finish(sessionID string, status repository.SessionStatus, set func(*repository.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != repository.StatusProcessing {
		return fmt.Errorf("cannot finish in status %s: %w", s.Status, repository.ErrInvalidState)
	}
	s.Status = status
	set(s)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *SessionRepository) AbandonActive(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == repository.StatusCollecting {
			s.Status = repository.StatusExpired
			s.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (r *SessionRepository) ExpireStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.sessions {
		if s.Status != repository.StatusExpired && s.UpdatedAt.Before(olderThan) {
			s.Status = repository.StatusExpired
			s.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// Last returns the user's newest session regardless of status. Terminal
// states are invisible through the repository contract; tests and debugging
// use this to inspect them.
func (r *SessionRepository) Last(userID int64) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *repository.Session
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return copySession(best), nil
}

// activeLocked returns the newest collecting/processing session for userID.
func (r *SessionRepository) activeLocked(userID int64) *repository.Session {
	var best *repository.Session
	for _, s := range r.sessions {
		if s.UserID != userID {
			continue
		}
		if s.Status != repository.StatusCollecting && s.Status != repository.StatusProcessing {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = s
		}
	}
	return best
}

func copySession(s *repository.Session) *repository.Session {
	out := *s
	out.Files = append(repository.FileRefs{}, s.Files...)
	return &out
}
