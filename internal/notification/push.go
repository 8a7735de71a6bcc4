package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/Dan9191/recurring-service/internal/config"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/sirupsen/logrus"
)

// Message is one push message in the provider's wire format.
type Message struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Sound string         `json:"sound,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Ticket is the provider's per-message delivery receipt.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Provider sends push messages and returns one ticket per message.
type Provider interface {
	SendBatch(ctx context.Context, messages []Message) ([]Ticket, error)
}

// PushClient talks to an Expo-compatible push HTTP API.
type PushClient struct {
	url         string
	accessToken string
	chunkSize   int
	client      *http.Client
	log         *logrus.Logger
}

// NewPushClient initializes a new push client
func NewPushClient(cfg *config.Config, log *logrus.Logger) *PushClient {
	return &PushClient{
		url:         cfg.PushURL,
		accessToken: cfg.PushAccessToken,
		chunkSize:   cfg.PushChunkSize,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type pushResponse struct {
	Data   []Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// SendBatch sends messages in chunks of the configured size. Tickets are
// returned in message order.
func (c *PushClient) SendBatch(ctx context.Context, messages []Message) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(messages))
	for start := 0; start < len(messages); start += c.chunkSize {
		end := min(start+c.chunkSize, len(messages))
		chunk, err := c.sendChunk(ctx, messages[start:end])
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, chunk...)
	}
	return tickets, nil
}

func (c *PushClient) sendChunk(ctx context.Context, messages []Message) ([]Ticket, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}
	c.log.Debugf("Push response: %s", string(body))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out pushResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("push request rejected: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	if len(out.Data) != len(messages) {
		return nil, fmt.Errorf("push response has %d tickets for %d messages", len(out.Data), len(messages))
	}
	return out.Data, nil
}

var pushTokenPattern = regexp.MustCompile(`^Expo(nent)?PushToken\[[^\]]+\]$`)

// ValidToken reports whether token looks like a device push token.
func ValidToken(token string) bool {
	return pushTokenPattern.MatchString(token)
}

// Dispatcher sends the per-user summary push after a batch run.
type Dispatcher struct {
	provider Provider
	log      *logrus.Logger
}

// NewDispatcher creates a dispatcher on top of a push provider.
func NewDispatcher(provider Provider, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{provider: provider, log: log}
}

// Send tells the owner of pushToken that count recurring transactions were
// created. It returns false when the token is malformed, the request fails or
// any ticket reports an error.
func (d *Dispatcher) Send(ctx context.Context, pushToken string, count int, language string) bool {
	log := d.log.WithField("count", count)
	if !ValidToken(pushToken) {
		log.Warn("Invalid push token")
		return false
	}

	title, body := Localize(language, count)
	tickets, err := d.provider.SendBatch(ctx, []Message{{
		To:    pushToken,
		Title: title,
		Body:  body,
		Sound: "default",
		Data:  map[string]any{"type": "recurring_transactions", "count": count},
	}})
	if err != nil {
		log.WithError(err).Error("Failed to send push notification")
		return false
	}

	ok := true
	for _, t := range tickets {
		if t.Status == "error" {
			log.WithFields(logrus.Fields{"ticket_message": t.Message, "details": t.Details}).Warn("Push ticket reported an error")
			ok = false
		}
	}
	return ok
}

var _ service.Notifier = (*Dispatcher)(nil)
