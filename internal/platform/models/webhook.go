package models

import "encoding/json"

type Webhook struct {
	ID              string   `json:"id"`
	OrganizationID  string   `json:"organization_id"`
	URL             string   `json:"url"`
	Events          []string `json:"events"` // JSON array in DB
	Secret          string   `json:"-"`
	IsActive        bool     `json:"is_active"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	SuccessCount    int      `json:"success_count"`
	FailureCount    int      `json:"failure_count"`
	LastTriggeredAt *int64   `json:"last_triggered_at,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

// SubscribedTo reports whether the webhook wants the given event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

type WebhookDelivery struct {
	ID                 string          `json:"id"`
	WebhookID          string          `json:"webhook_id"`
	EventType          string          `json:"event_type"`
	EventData          json.RawMessage `json:"event_data"`
	Status             string          `json:"status"` // pending, success, failed
	ResponseStatusCode *int            `json:"response_status_code,omitempty"`
	ResponseBody       string          `json:"response_body,omitempty"` // truncated
	AttemptNumber      int             `json:"attempt_number"`
	MaxAttempts        int             `json:"max_attempts"`
	NextRetryAt        *int64          `json:"next_retry_at,omitempty"`
	DeliveredAt        *int64          `json:"delivered_at,omitempty"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	CreatedAt          int64           `json:"created_at"`
}

// Terminal reports whether the delivery will never be sent again: either it
// succeeded, or it exhausted its attempts.
func (d *WebhookDelivery) Terminal() bool {
	if d.Status == DeliveryStatusSuccess {
		return true
	}
	return d.Status == DeliveryStatusFailed && d.NextRetryAt == nil
}
