package collector

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/flightbot/flightbot-backend/internal/metrics"
	"github.com/flightbot/flightbot-backend/internal/repository"
)

// Collector appends incoming file references to the user's active session.
type Collector struct {
	sessions repository.SessionRepository
	log      *logrus.Entry
}

// New creates a file collector over the given session store.
func New(sessions repository.SessionRepository) *Collector {
	return &Collector{
		sessions: sessions,
		log:      logrus.WithField("component", "collector"),
	}
}

// Collect stores one file reference and returns its 1-based position within
// the session, for the user acknowledgment. Conflict and capacity errors
// propagate unchanged; the transport layer translates them into messages.
func (c *Collector) Collect(ctx context.Context, userID, chatID int64, ref repository.FileRef) (int, error) {
	session, err := c.sessions.GetOrCreateActive(ctx, userID, chatID)
	if err != nil {
		return 0, err
	}

	session, err = c.sessions.AppendFile(ctx, session.ID, ref)
	if err != nil {
		return 0, err
	}

	metrics.FilesCollected.Inc()
	c.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"session":  session.ID,
		"position": len(session.Files),
		"kind":     ref.Kind,
	}).Info("file collected")

	return len(session.Files), nil
}
