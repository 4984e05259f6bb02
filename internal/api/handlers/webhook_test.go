package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flightbot/flightbot-backend/internal/collector"
	"github.com/flightbot/flightbot-backend/internal/dedup"
	"github.com/flightbot/flightbot-backend/internal/orchestrator"
	"github.com/flightbot/flightbot-backend/internal/repository/memory"
	"github.com/flightbot/flightbot-backend/internal/services"
)

type fakeMessenger struct {
	messages  []string
	documents []string
	actions   []string
}

func (m *fakeMessenger) SendMessage(_ int64, text string) error {
	m.messages = append(m.messages, text)
	return nil
}

func (m *fakeMessenger) SendDocument(_ int64, _ []byte, filename, _ string) error {
	m.documents = append(m.documents, filename)
	return nil
}

func (m *fakeMessenger) SendChatAction(_ int64, action string) {
	m.actions = append(m.actions, action)
}

func (m *fakeMessenger) SetWebhook(string) error { return nil }

func (m *fakeMessenger) lastMessage() string {
	if len(m.messages) == 0 {
		return ""
	}
	return m.messages[len(m.messages)-1]
}

type fakeRunner struct {
	result *orchestrator.Result
	err    error
	calls  int
}

func (r *fakeRunner) Run(context.Context, int64, int64) (*orchestrator.Result, error) {
	r.calls++
	return r.result, r.err
}

// seenDeduper reports every update after the first as a duplicate.
type seenDeduper struct {
	ids map[int]bool
}

func (d *seenDeduper) Seen(_ context.Context, updateID int) (bool, error) {
	if d.ids == nil {
		d.ids = make(map[int]bool)
	}
	if d.ids[updateID] {
		return true, nil
	}
	d.ids[updateID] = true
	return false, nil
}

func newTestApp(svc *services.Services) *fiber.App {
	app := fiber.New()
	app.Post("/api/webhook", Webhook(svc))
	return app
}

func newTestServices(runner *fakeRunner, deduper dedup.Deduper, secret string) (*services.Services, *fakeMessenger) {
	repo := memory.NewSessionRepository(15)
	msgr := &fakeMessenger{}
	return services.New(repo, collector.New(repo), runner, msgr, deduper, secret, ""), msgr
}

func postUpdate(t *testing.T, app *fiber.App, update tgbotapi.Update, headers map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func photoUpdate(updateID int) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID,
			From:      &tgbotapi.User{ID: 1},
			Chat:      &tgbotapi.Chat{ID: 10},
			Photo: []tgbotapi.PhotoSize{
				{FileID: "small", FileSize: 100},
				{FileID: "large", FileSize: 5000},
			},
		},
	}
}

func commandUpdate(updateID int, command string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: updateID,
			From:      &tgbotapi.User{ID: 1},
			Chat:      &tgbotapi.Chat{ID: 10},
			Text:      command,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len(command)},
			},
		},
	}
}

func TestWebhook_PhotoIsCollected(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	resp := postUpdate(t, app, photoUpdate(1), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, msgr.lastMessage(), "File 1 received")
	assert.Contains(t, msgr.actions, "typing")

	s, err := svc.Sessions.GetActive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, s.Files, 1)
	// Largest resolution wins.
	assert.Equal(t, "large", s.Files[0].FileID)
}

func TestWebhook_SecondFileGetsPositionTwo(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, photoUpdate(1), nil)
	postUpdate(t, app, photoUpdate(2), nil)

	assert.Contains(t, msgr.lastMessage(), "File 2 received")
}

func TestWebhook_PDFDocumentIsCollected(t *testing.T) {
	svc, _ := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	update := tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 1},
			Chat:      &tgbotapi.Chat{ID: 10},
			Document: &tgbotapi.Document{
				FileID:   "doc1",
				FileName: "ticket.pdf",
				MimeType: "application/pdf",
			},
		},
	}
	postUpdate(t, app, update, nil)

	s, err := svc.Sessions.GetActive(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, s.Files, 1)
	assert.Equal(t, "doc1", s.Files[0].FileID)
	assert.Equal(t, "ticket.pdf", s.Files[0].Name)
}

func TestWebhook_UnsupportedDocumentRejected(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	update := tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 1},
			Chat:      &tgbotapi.Chat{ID: 10},
			Document: &tgbotapi.Document{
				FileID:   "doc1",
				FileName: "notes.docx",
				MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			},
		},
	}
	postUpdate(t, app, update, nil)

	assert.Contains(t, msgr.lastMessage(), "Unsupported file type")
	_, err := svc.Sessions.GetActive(context.Background(), 1)
	assert.Error(t, err)
}

func TestWebhook_AnalyzeWithoutFilesSkipsPipeline(t *testing.T) {
	runner := &fakeRunner{}
	svc, msgr := newTestServices(runner, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, commandUpdate(1, "/analyze"), nil)

	assert.Contains(t, msgr.lastMessage(), "No files found")
	assert.Zero(t, runner.calls)
}

func TestWebhook_AnalyzeSendsDocument(t *testing.T) {
	runner := &fakeRunner{result: &orchestrator.Result{
		Document: []byte("%PDF-fake"),
		Filename: "ticket_CNN_DOH.pdf",
		Caption:  "<b>Flight Ticket Summary</b>",
	}}
	svc, msgr := newTestServices(runner, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, photoUpdate(1), nil)
	postUpdate(t, app, commandUpdate(2, "/analyze"), nil)

	assert.Equal(t, 1, runner.calls)
	require.Len(t, msgr.documents, 1)
	assert.Equal(t, "ticket_CNN_DOH.pdf", msgr.documents[0])
	assert.Contains(t, msgr.messages[len(msgr.messages)-1], "Processing <b>1 file(s)</b>")
}

func TestWebhook_AnalyzeFailureBecomesChatMessage(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("%w: upstream 500", orchestrator.ErrFetch)}
	svc, msgr := newTestServices(runner, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, photoUpdate(1), nil)
	resp := postUpdate(t, app, commandUpdate(2, "/analyze"), nil)

	// Telegram must still get a 200 or it redelivers the update.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, msgr.lastMessage(), "Could not read the uploaded files")
}

func TestWebhook_SecretMismatchRejected(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "s3cret")
	app := newTestApp(svc)

	resp := postUpdate(t, app, photoUpdate(1), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, msgr.messages)

	resp = postUpdate(t, app, photoUpdate(1), map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postUpdate(t, app, photoUpdate(1), map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "s3cret",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, msgr.lastMessage(), "File 1 received")
}

func TestWebhook_DuplicateUpdateDropped(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, &seenDeduper{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, photoUpdate(7), nil)
	postUpdate(t, app, photoUpdate(7), nil)

	// Redelivery of the same update collects nothing new.
	s, err := svc.Sessions.GetActive(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, s.Files, 1)
	assert.Len(t, msgr.messages, 1)
}

func TestWebhook_StartCommandSendsWelcome(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, commandUpdate(1, "/start"), nil)
	assert.Contains(t, msgr.lastMessage(), "Welcome to the Flight Ticket Bot!")
}

func TestWebhook_NewCommandClearsSession(t *testing.T) {
	svc, msgr := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	postUpdate(t, app, photoUpdate(1), nil)
	postUpdate(t, app, commandUpdate(2, "/new"), nil)

	assert.Contains(t, msgr.lastMessage(), "Session cleared!")
	_, err := svc.Sessions.GetActive(context.Background(), 1)
	assert.Error(t, err)
}

func TestWebhook_MalformedBodyStillOK(t *testing.T) {
	svc, _ := newTestServices(&fakeRunner{}, dedup.Noop{}, "")
	app := newTestApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
