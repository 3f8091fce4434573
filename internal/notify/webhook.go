// Package notify delivers password-reset messages to the external
// notification collaborator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts reset messages to the notification system's
// webhook. The receiving side owns templating and actual delivery.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier for the given endpoint.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type resetMessage struct {
	Kind       string `json:"kind"`
	Email      string `json:"email"`
	ResetToken string `json:"resetToken"`
}

func (n *WebhookNotifier) SendPasswordResetMessage(ctx context.Context, email, resetToken string) error {
	payload, err := json.Marshal(resetMessage{
		Kind:       "password_reset",
		Email:      email,
		ResetToken: resetToken,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier is the fallback when no webhook is configured. It records
// that a message should have gone out without ever logging the token.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier wraps a logger.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendPasswordResetMessage(_ context.Context, email, _ string) error {
	n.log.Info("password reset message suppressed, no webhook configured",
		zap.String("email", email))
	return nil
}
