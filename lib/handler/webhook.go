package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/go-linkd/lib/transport"
)

// maxWebhookResponse bounds how much of a webhook response is read.
const maxWebhookResponse = 64 << 10

// Webhook forwards messages to an HTTP endpoint as JSON. If the endpoint
// answers with {"reply": "..."}, the reply is sent back to the chat.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook creates a webhook forwarder with the given request timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

type webhookRequest struct {
	Session string            `json:"session"`
	Message transport.Inbound `json:"message"`
}

type webhookResponse struct {
	Reply string `json:"reply"`
}

func (w *Webhook) Handle(ctx context.Context, msg Message, reply Replier) error {
	body, err := json.Marshal(webhookRequest{Session: msg.Session, Message: msg.Inbound})
	if err != nil {
		return oops.Wrapf(err, "failed to encode webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return oops.Wrapf(err, "failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return oops.Wrapf(err, "webhook %s failed", w.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return oops.Errorf("webhook %s returned %d", w.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil || out.Reply == "" {
		return nil
	}

	log.WithFields(logger.Fields{
		"at":      "(Webhook) Handle",
		"session": msg.Session,
		"to":      msg.Chat,
	}).Debug("sending webhook reply")
	return reply.Send(ctx, transport.Outbound{To: msg.Chat, Text: out.Reply, ReplyTo: msg.ID})
}
