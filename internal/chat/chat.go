package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type EventType string

const (
	EventCommand  EventType = "command"
	EventCallback EventType = "callback"
	EventText     EventType = "text"
)

// Event is one inbound chat interaction: a slash command, a button press
// (callback), or free text.
type Event struct {
	Type     EventType `json:"type"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Payload  string    `json:"payload"`
}

// Choice is one interactive button: Label is shown to the buyer, Data comes
// back as a callback payload.
type Choice struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Sender is the outbound half of the chat transport. Delivery is best
// effort; callers must not treat a failed send as a failed operation.
type Sender interface {
	SendMessage(ctx context.Context, userID, text string) error
	PresentChoices(ctx context.Context, userID, prompt string, choices []Choice) error
}

// APIClient sends messages through the chat platform's HTTP API.
type APIClient struct {
	http *resty.Client
}

func NewAPIClient(apiBase, token string) *APIClient {
	http := resty.New().
		SetBaseURL(apiBase).
		SetTimeout(10*time.Second).
		SetHeader("Authorization", "Bot "+token)
	return &APIClient{http: http}
}

type sendMessageRequest struct {
	UserID  string   `json:"user_id"`
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

func (c *APIClient) SendMessage(ctx context.Context, userID, text string) error {
	return c.post(ctx, sendMessageRequest{UserID: userID, Text: text})
}

func (c *APIClient) PresentChoices(ctx context.Context, userID, prompt string, choices []Choice) error {
	return c.post(ctx, sendMessageRequest{UserID: userID, Text: prompt, Choices: choices})
}

func (c *APIClient) post(ctx context.Context, body sendMessageRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/messages")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("chat send failed: http status %d", resp.StatusCode())
	}
	return nil
}
