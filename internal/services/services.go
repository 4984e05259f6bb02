package services

import (
	"context"

	"github.com/flightbot/flightbot-backend/internal/dedup"
	"github.com/flightbot/flightbot-backend/internal/orchestrator"
	"github.com/flightbot/flightbot-backend/internal/repository"
)

// FileCollector appends an incoming file to the user's active session and
// returns its 1-based position.
type FileCollector interface {
	Collect(ctx context.Context, userID, chatID int64, ref repository.FileRef) (int, error)
}

// ExtractionRunner runs the full extraction pipeline for a user's session.
type ExtractionRunner interface {
	Run(ctx context.Context, userID, chatID int64) (*orchestrator.Result, error)
}

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendMessage(chatID int64, text string) error
	SendDocument(chatID int64, data []byte, filename, caption string) error
	SendChatAction(chatID int64, action string)
	SetWebhook(url string) error
}

// Services holds all service dependencies for the API layer.
type Services struct {
	Sessions     repository.SessionRepository
	Collector    FileCollector
	Orchestrator ExtractionRunner
	Telegram     Messenger
	Dedup        dedup.Deduper

	WebhookSecret string
	PublicURL     string
}

// New creates the service container.
func New(
	sessions repository.SessionRepository,
	collector FileCollector,
	orch ExtractionRunner,
	telegram Messenger,
	deduper dedup.Deduper,
	webhookSecret, publicURL string,
) *Services {
	return &Services{
		Sessions:      sessions,
		Collector:     collector,
		Orchestrator:  orch,
		Telegram:      telegram,
		Dedup:         deduper,
		WebhookSecret: webhookSecret,
		PublicURL:     publicURL,
	}
}
