package extraction

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// ErrExtraction means the extraction service failed or kept returning a
// payload that does not satisfy the ticket schema after the corrective retry.
var ErrExtraction = errors.New("extraction failed")

// Client batches all session images into a single vision call so the model
// can cross-reference route/price/baggage fragments split across
// screenshots. One call per session, one corrective retry, never more.
type Client struct {
	api    *openai.Client
	model  string
	schema *gojsonschema.Schema
	log    *logrus.Entry
}

// NewClient creates an extraction client. baseURL overrides the OpenAI
// endpoint when non-empty (used by tests and proxies).
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ticketSchema))
	if err != nil {
		return nil, fmt.Errorf("compile ticket schema: %w", err)
	}

	return &Client{
		api:    openai.NewClientWithConfig(cfg),
		model:  model,
		schema: schema,
		log:    logrus.WithField("component", "extraction"),
	}, nil
}

// Extract submits the ordered PNG image set in one chat completion and
// returns the parsed ticket. The first malformed response triggers exactly
// one retry with a stricter prompt; the second failure surfaces
// ErrExtraction. Context cancellation is never retried.
func (c *Client) Extract(ctx context.Context, images [][]byte) (*Ticket, error) {
	c.log.WithField("images", len(images)).Info("vision extraction call")

	var lastErr error
	for attempt, prompt := range []string{extractPrompt, correctivePrompt} {
		if attempt > 0 {
			c.log.WithError(lastErr).Warn("first attempt invalid, retrying with corrective prompt")
		}

		raw, err := c.complete(ctx, images, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		ticket, err := c.parse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return ticket, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrExtraction, lastErr)
}

func (c *Client) complete(ctx context.Context, images [][]byte, prompt string) (string, error) {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Return valid JSON only. No markdown.",
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		MaxTokens:   2000,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// parse strips accidental markdown fences, validates the payload against the
// ticket schema, and unmarshals it.
func (c *Client) parse(raw string) (*Ticket, error) {
	cleaned := stripFences(raw)

	result, err := c.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("payload is not JSON: %w", err)
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			descs = append(descs, e.String())
		}
		return nil, fmt.Errorf("payload violates ticket schema: %s", strings.Join(descs, "; "))
	}

	var ticket Ticket
	if err := json.Unmarshal([]byte(cleaned), &ticket); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &ticket, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
