package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Client wraps the Telegram Bot API for the few operations the bot needs:
// downloading user files, sending messages and the finished document.
type Client struct {
	bot  *tgbotapi.BotAPI
	http *http.Client
	log  *logrus.Entry
}

// NewClient authenticates against the Bot API.
func NewClient(token string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	return &Client{
		bot:  bot,
		http: &http.Client{},
		log:  logrus.WithField("component", "telegram"),
	}, nil
}

// DownloadFile resolves a file_id to its download URL and fetches the raw
// bytes. The passed context bounds the whole round trip.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(c.bot.Token), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SendMessage sends an HTML-formatted message.
func (c *Client) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := c.bot.Send(msg)
	return err
}

// SendDocument uploads the generated PDF with an HTML caption.
func (c *Client) SendDocument(chatID int64, data []byte, filename, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	doc.ParseMode = tgbotapi.ModeHTML
	_, err := c.bot.Send(doc)
	return err
}

// SendChatAction shows "typing" / "sending a file" while the pipeline runs.
func (c *Client) SendChatAction(chatID int64, action string) {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		c.log.WithError(err).Debug("chat action failed")
	}
}

// SetWebhook registers the webhook URL with Telegram.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	wh.AllowedUpdates = []string{"message"}
	_, err = c.bot.Request(wh)
	return err
}
