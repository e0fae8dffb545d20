package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/claimflow/engine/db"
)

// WebhookAlertSink posts overload alerts to an ops webhook. When no URL
// is configured delivery becomes a no-op with a log line, so the engine
// runs without external tooling.
type WebhookAlertSink struct {
	url    string
	client *http.Client
}

// alertPayload is the wire shape posted to the webhook
type alertPayload struct {
	AlertID         string  `json:"alert_id"`
	Scope           string  `json:"scope"`
	ScopeID         string  `json:"scope_id"`
	Severity        string  `json:"severity"`
	UtilizationRate float64 `json:"utilization_rate"`
	Message         string  `json:"message"`
	CreatedAt       string  `json:"created_at"`
}

func NewWebhookAlertSink(url string) *WebhookAlertSink {
	if url == "" {
		log.Println("Warning: no alert webhook configured, overload alerts will only be persisted")
	}
	return &WebhookAlertSink{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *WebhookAlertSink) DeliverAlert(a db.OverloadAlert) error {
	if s.url == "" {
		log.Printf("Overload alert %s (%s %s, %s) not delivered: no webhook configured",
			a.ID, a.ScopeType, a.ScopeID, a.Severity)
		return nil
	}

	payload := alertPayload{
		AlertID:         a.ID,
		Scope:           a.ScopeType,
		ScopeID:         a.ScopeID,
		Severity:        a.Severity,
		UtilizationRate: a.UtilizationRate,
		Message:         a.Message,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize alert payload: %w", err)
	}

	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to post alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
