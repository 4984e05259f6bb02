package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a collection session.
type SessionStatus string

const (
	StatusCollecting SessionStatus = "collecting"
	StatusProcessing SessionStatus = "processing"
	StatusDone       SessionStatus = "done"
	StatusFailed     SessionStatus = "failed"
	StatusExpired    SessionStatus = "expired"
)

// FileKind distinguishes plain images from paged documents that need
// rasterization before extraction.
type FileKind string

const (
	FileKindImage    FileKind = "image"
	FileKindDocument FileKind = "document"
)

// Sentinel errors for session state transitions. Callers match with errors.Is.
var (
	// ErrNotFound means no session exists for the given id.
	ErrNotFound = errors.New("session not found")
	// ErrConflict means another operation holds the session (a prior
	// trigger is still processing, or a concurrent trigger won the gate).
	ErrConflict = errors.New("session busy")
	// ErrInvalidState means the operation is not valid for the session's
	// current status.
	ErrInvalidState = errors.New("invalid session state")
	// ErrCapacity means the session already holds the configured maximum
	// number of files.
	ErrCapacity = errors.New("session file limit reached")
	// ErrEmptySession means a trigger arrived for a session with no files.
	ErrEmptySession = errors.New("session has no files")
)

// FileRef points at a single user-submitted file held by the chat platform.
// The handle is resolvable to bytes by the Telegram collaborator.
type FileRef struct {
	FileID string   `json:"file_id"`
	Kind   FileKind `json:"kind"`
	Name   string   `json:"name"`
}

// FileRefs is the ordered file sequence of a session, stored as one jsonb
// column so append order survives round trips.
type FileRefs []FileRef

// Value implements driver.Valuer for jsonb storage.
func (f FileRefs) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for jsonb storage.
func (f *FileRefs) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	default:
		return fmt.Errorf("cannot scan %T into FileRefs", src)
	}
}

// Session is the per-user accumulating unit of work spanning file collection
// through one extraction attempt. At most one session per user may be in
// collecting or processing at a time.
type Session struct {
	ID         string         `db:"id"`
	UserID     int64          `db:"user_id"`
	ChatID     int64          `db:"chat_id"`
	Files      FileRefs       `db:"files"`
	Status     SessionStatus  `db:"status"`
	FailReason sql.NullString `db:"fail_reason"`
	ResultRef  sql.NullString `db:"result_ref"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

// SessionRepository defines session storage operations. Every status-changing
// write is conditional on the expected current status (compare-and-swap), so
// two concurrent triggers cannot both succeed.
type SessionRepository interface {
	// GetOrCreateActive returns the user's collecting session, creating one
	// if none exists. Returns ErrConflict if a session is processing.
	GetOrCreateActive(ctx context.Context, userID, chatID int64) (*Session, error)

	// GetActive returns the user's collecting or processing session, or
	// ErrNotFound when the user has no open session.
	GetActive(ctx context.Context, userID int64) (*Session, error)

	// AppendFile adds a file reference to a collecting session. Returns
	// ErrInvalidState if the session is not collecting, ErrCapacity if the
	// session already holds the configured maximum.
	AppendFile(ctx context.Context, sessionID string, ref FileRef) (*Session, error)

	// MarkProcessing transitions collecting -> processing. This is the
	// exclusivity gate: under concurrent invocation exactly one caller
	// succeeds. Returns ErrEmptySession if the file sequence is empty.
	MarkProcessing(ctx context.Context, sessionID string) (*Session, error)

	// MarkDone transitions processing -> done, recording a reference to the
	// produced document.
	MarkDone(ctx context.Context, sessionID, resultRef string) error

	// MarkFailed transitions processing -> failed with a reason, so a
	// session is never left stuck in processing.
	MarkFailed(ctx context.Context, sessionID, reason string) error

	// AbandonActive expires the user's collecting sessions so a fresh one
	// starts on the next file.
	AbandonActive(ctx context.Context, userID int64) error

	// ExpireStale transitions every session older than the cutoff to
	// expired, regardless of status. Idempotent and safe to run
	// concurrently with other operations.
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}
