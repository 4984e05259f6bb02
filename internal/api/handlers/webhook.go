package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/flightbot/flightbot-backend/internal/extraction"
	"github.com/flightbot/flightbot-backend/internal/orchestrator"
	"github.com/flightbot/flightbot-backend/internal/render"
	"github.com/flightbot/flightbot-backend/internal/repository"
	"github.com/flightbot/flightbot-backend/internal/services"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

var log = logrus.WithField("component", "webhook")

// Webhook receives all Telegram updates. It always answers 200 (anything
// else makes Telegram redeliver the update), so handler errors are sent to
// the user as chat messages instead of status codes.
func Webhook(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if svc.WebhookSecret != "" {
			got := c.Get(secretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(svc.WebhookSecret)) != 1 {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
		}

		var update tgbotapi.Update
		if err := c.BodyParser(&update); err != nil {
			log.WithError(err).Warn("unparseable update")
			return c.SendStatus(fiber.StatusOK)
		}

		if update.Message != nil {
			seen, err := svc.Dedup.Seen(c.Context(), update.UpdateID)
			if err != nil {
				log.WithError(err).Warn("dedup check failed, handling anyway")
			} else if seen {
				log.WithField("update_id", update.UpdateID).Debug("duplicate update dropped")
				return c.SendStatus(fiber.StatusOK)
			}
			handleMessage(c.Context(), svc, update.Message)
		}

		return c.SendStatus(fiber.StatusOK)
	}
}

// SetupWebhook registers the webhook with Telegram. Visit once after deploy.
func SetupWebhook(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		base := svc.PublicURL
		if base == "" {
			base = c.Protocol() + "://" + c.Hostname()
		}
		url := strings.TrimSuffix(base, "/") + "/api/webhook"

		if err := svc.Telegram.SetWebhook(url); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status": "error",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":      "ok",
			"webhook_url": url,
		})
	}
}

func handleMessage(ctx context.Context, svc *services.Services, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch {
	case msg.IsCommand():
		switch msg.Command() {
		case "start":
			reply(svc, chatID, welcomeText)
		case "new":
			handleNew(ctx, svc, chatID, userID)
		case "analyze":
			handleAnalyze(ctx, svc, chatID, userID)
		default:
			reply(svc, chatID, hintText)
		}

	case len(msg.Photo) > 0:
		// Telegram sends multiple resolutions; take the largest.
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > best.FileSize {
				best = p
			}
		}
		handleFile(ctx, svc, chatID, userID, repository.FileRef{
			FileID: best.FileID,
			Kind:   repository.FileKindImage,
			Name:   "photo.jpg",
		})

	case msg.Document != nil:
		doc := msg.Document
		name := doc.FileName
		if name == "" {
			name = "file"
		}
		switch {
		case strings.Contains(doc.MimeType, "pdf"):
			handleFile(ctx, svc, chatID, userID, repository.FileRef{
				FileID: doc.FileID,
				Kind:   repository.FileKindDocument,
				Name:   name,
			})
		case strings.HasPrefix(doc.MimeType, "image/"):
			handleFile(ctx, svc, chatID, userID, repository.FileRef{
				FileID: doc.FileID,
				Kind:   repository.FileKindImage,
				Name:   name,
			})
		default:
			reply(svc, chatID, unsupportedText)
		}

	default:
		reply(svc, chatID, hintText)
	}
}

func handleNew(ctx context.Context, svc *services.Services, chatID, userID int64) {
	if err := svc.Sessions.AbandonActive(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("abandon failed")
		reply(svc, chatID, genericErrorText)
		return
	}
	reply(svc, chatID, "Session cleared! Send your flight ticket images or PDF and type /analyze when ready.")
}

func handleFile(ctx context.Context, svc *services.Services, chatID, userID int64, ref repository.FileRef) {
	svc.Telegram.SendChatAction(chatID, "typing")

	position, err := svc.Collector.Collect(ctx, userID, chatID, ref)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("collect failed")
		reply(svc, chatID, collectErrorText(err))
		return
	}

	reply(svc, chatID, fmt.Sprintf(
		"<b>File %d received</b>  (%s)\n\nSend more files or type /analyze to generate your ticket PDF.",
		position, ref.Name))
}

func handleAnalyze(ctx context.Context, svc *services.Services, chatID, userID int64) {
	// Soft pre-check purely for messaging; the orchestrator's gate is
	// authoritative.
	session, err := svc.Sessions.GetActive(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) ||
		(err == nil && session.Status == repository.StatusCollecting && len(session.Files) == 0) {
		reply(svc, chatID, analyzeErrorText(repository.ErrEmptySession))
		return
	}

	if err == nil {
		reply(svc, chatID, fmt.Sprintf(
			"Processing <b>%d file(s)</b>...\nExtracting data with AI Vision - this takes 15-30 seconds.",
			len(session.Files)))
	}
	svc.Telegram.SendChatAction(chatID, "upload_document")

	result, err := svc.Orchestrator.Run(ctx, userID, chatID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("analyze failed")
		reply(svc, chatID, analyzeErrorText(err))
		return
	}

	if err := svc.Telegram.SendDocument(chatID, result.Document, result.Filename, result.Caption); err != nil {
		log.WithError(err).WithField("user_id", userID).Error("send document failed")
		reply(svc, chatID, genericErrorText)
	}
}

func reply(svc *services.Services, chatID int64, text string) {
	if err := svc.Telegram.SendMessage(chatID, text); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("send message failed")
	}
}

// collectErrorText maps a collection error onto its user-facing message.
func collectErrorText(err error) string {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return "I'm still processing your previous files. Please wait for the result, then start a new session."
	case errors.Is(err, repository.ErrCapacity):
		return "File limit reached for this session. Type /analyze to process what you have, or /new to start fresh."
	case errors.Is(err, repository.ErrInvalidState):
		return "This session is already closed. Send the file again to start a new one."
	default:
		return "Something went wrong saving your file. Please try again."
	}
}

// analyzeErrorText maps a pipeline error onto its user-facing message.
func analyzeErrorText(err error) string {
	switch {
	case errors.Is(err, repository.ErrEmptySession):
		return "No files found! Please send your flight ticket images or PDF first, then type /analyze."
	case errors.Is(err, repository.ErrConflict):
		return "Already working on your files - hang tight, the result is coming."
	case errors.Is(err, orchestrator.ErrTimeout):
		return "<b>Processing took too long.</b>\n\nPlease try again with fewer or smaller files."
	case errors.Is(err, orchestrator.ErrFetch):
		return "Could not read the uploaded files. Please try uploading them again."
	case errors.Is(err, extraction.ErrExtraction):
		return "I couldn't identify flight details in these images.\n\nPlease make sure they clearly show flight route, times, or booking details.\nType /new and try again with better quality images."
	case errors.Is(err, render.ErrRender):
		return "Extraction worked but the PDF could not be generated. Please contact support."
	default:
		return genericErrorText
	}
}

const welcomeText = `<b>Welcome to the Flight Ticket Bot!</b>

Here's how to use me:

1. Send me <b>photos</b> or a <b>PDF</b> of your flight ticket
   (screenshots are fine - send as many as you need)

2. Type <b>/analyze</b> when you're done uploading

3. I'll send back a clean, structured PDF

<b>Commands:</b>
/analyze - Process uploaded files &amp; generate PDF
/new - Clear current files and start fresh
/start - Show this message`

const hintText = "Send me flight ticket images or a PDF, then type /analyze to get your structured ticket."

const unsupportedText = `Unsupported file type. Please send:
- Photos / screenshots
- PDF documents`

const genericErrorText = "<b>Processing failed.</b>\n\nPlease try again or contact support."
