package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"apigate/internal/platform/config"
	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

// ErrDeliveryFinal is returned when Send is called on a delivery that already
// succeeded or exhausted its attempts.
var ErrDeliveryFinal = errors.New("delivery already finalized")

// ErrDeliveryActive is returned when Redispatch targets a delivery the retry
// loop has not finished with yet.
var ErrDeliveryActive = errors.New("delivery still in progress")

// eventPayload is the canonical wire envelope. Struct marshaling gives stable
// field order, so the signature is reproducible by the receiver.
type eventPayload struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Dispatcher creates delivery records on domain events and performs the
// actual network sends. Dispatch is synchronous and cheap; Send does the
// network I/O and is driven separately by the delivery worker, which is what
// makes retries possible without re-deriving the event.
type Dispatcher struct {
	webhooks   *repositories.WebhookRepository
	deliveries *repositories.WebhookDeliveryRepository
	client     *http.Client
	cfg        config.WebhooksConfig
	now        func() time.Time
}

func NewDispatcher(webhooks *repositories.WebhookRepository, deliveries *repositories.WebhookDeliveryRepository, cfg config.WebhooksConfig) *Dispatcher {
	return &Dispatcher{
		webhooks:   webhooks,
		deliveries: deliveries,
		client:     &http.Client{},
		cfg:        cfg,
		now:        time.Now,
	}
}

// Dispatch records a pending delivery for one webhook. An inactive webhook or
// an event type outside its subscription set is a silent no-op, reported as
// (nil, nil).
func (d *Dispatcher) Dispatch(webhookID, eventType string, data interface{}) (*models.WebhookDelivery, error) {
	webhook, err := d.webhooks.GetByID(webhookID)
	if err != nil {
		return nil, err
	}
	if webhook == nil {
		return nil, ErrNotFound
	}
	if !webhook.IsActive || !webhook.SubscribedTo(eventType) {
		return nil, nil
	}

	return d.createDelivery(webhook, eventType, data)
}

// DispatchEvent fans one domain event out to every active subscribed webhook
// of the organization.
func (d *Dispatcher) DispatchEvent(orgID, eventType string, data interface{}) ([]*models.WebhookDelivery, error) {
	webhooks, err := d.webhooks.GetByEvent(orgID, eventType)
	if err != nil {
		return nil, err
	}

	var deliveries []*models.WebhookDelivery
	for _, webhook := range webhooks {
		delivery, err := d.createDelivery(webhook, eventType, data)
		if err != nil {
			log.Error().Err(err).Str("webhook_id", webhook.ID).Str("event", eventType).Msg("failed to create delivery")
			continue
		}
		deliveries = append(deliveries, delivery)
	}
	return deliveries, nil
}

func (d *Dispatcher) createDelivery(webhook *models.Webhook, eventType string, data interface{}) (*models.WebhookDelivery, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	// next_retry_at starts at now so the worker sweep picks the delivery up
	// on its next pass.
	due := d.now().Unix()
	delivery := &models.WebhookDelivery{
		WebhookID:     webhook.ID,
		EventType:     eventType,
		EventData:     payload,
		Status:        models.DeliveryStatusPending,
		AttemptNumber: 0,
		MaxAttempts:   d.cfg.MaxAttempts,
		NextRetryAt:   &due,
	}

	if err := d.deliveries.Create(delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

// Redispatch clones a delivery into a fresh pending one with a reset attempt
// budget. This is the manual operator path for terminally failed deliveries;
// the automatic retry loop never resurrects them.
func (d *Dispatcher) Redispatch(orgID, deliveryID string) (*models.WebhookDelivery, error) {
	delivery, err := d.deliveries.GetByID(deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrNotFound
	}

	webhook, err := d.webhooks.GetByID(delivery.WebhookID)
	if err != nil {
		return nil, err
	}
	if webhook == nil || webhook.OrganizationID != orgID {
		return nil, ErrNotFound
	}

	// Cloning a pending or retrying delivery would put two copies of the same
	// event in flight; only settled deliveries may be redispatched.
	if !delivery.Terminal() {
		return nil, ErrDeliveryActive
	}

	return d.createDelivery(webhook, delivery.EventType, json.RawMessage(delivery.EventData))
}

// Send performs one delivery attempt: sign the canonical payload, POST it
// within the webhook's timeout budget, and record the outcome. Transport
// errors and non-2xx responses are handled identically for retry accounting.
func (d *Dispatcher) Send(ctx context.Context, deliveryID string) error {
	delivery, err := d.deliveries.GetByID(deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		return ErrNotFound
	}
	if delivery.Terminal() {
		return ErrDeliveryFinal
	}

	webhook, err := d.webhooks.GetByID(delivery.WebhookID)
	if err != nil {
		return err
	}
	if webhook == nil {
		// The subscription was deleted out from under the delivery; nothing
		// left to send to.
		return d.deliveries.MarkFailed(delivery.ID, delivery.AttemptNumber+1, nil, "", "webhook no longer exists")
	}

	payload := eventPayload{
		Event:     delivery.EventType,
		Data:      delivery.EventData,
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	signature := Sign(webhook.Secret, body)

	timeout := d.cfg.DefaultTimeout
	if webhook.TimeoutSeconds > 0 {
		timeout = time.Duration(webhook.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return d.recordFailure(delivery, webhook, nil, "", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", delivery.EventType)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return d.recordFailure(delivery, webhook, nil, "", err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.MaxResponseBytes)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return d.recordSuccess(delivery, webhook, resp.StatusCode, string(respBody))
	}

	return d.recordFailure(delivery, webhook, &resp.StatusCode, string(respBody), fmt.Sprintf("HTTP %d", resp.StatusCode))
}

func (d *Dispatcher) recordSuccess(delivery *models.WebhookDelivery, webhook *models.Webhook, statusCode int, body string) error {
	now := d.now().Unix()
	if err := d.deliveries.MarkSuccess(delivery.ID, statusCode, body, now); err != nil {
		return err
	}
	if err := d.webhooks.RecordSuccess(webhook.ID, now); err != nil {
		log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("failed to update webhook success count")
	}

	log.Info().
		Str("delivery_id", delivery.ID).
		Str("webhook_id", webhook.ID).
		Int("status", statusCode).
		Int("attempt", delivery.AttemptNumber+1).
		Msg("webhook delivered")
	return nil
}

func (d *Dispatcher) recordFailure(delivery *models.WebhookDelivery, webhook *models.Webhook, statusCode *int, body, errMsg string) error {
	attempt := delivery.AttemptNumber + 1
	now := d.now()

	if attempt < delivery.MaxAttempts {
		next := now.Add(d.backoff(attempt)).Unix()
		if err := d.deliveries.MarkRetry(delivery.ID, attempt, statusCode, body, errMsg, next); err != nil {
			return err
		}
		log.Warn().
			Str("delivery_id", delivery.ID).
			Str("webhook_id", webhook.ID).
			Int("attempt", attempt).
			Int64("next_retry_at", next).
			Str("error", errMsg).
			Msg("webhook delivery failed, retry scheduled")
		return nil
	}

	if err := d.deliveries.MarkFailed(delivery.ID, attempt, statusCode, body, errMsg); err != nil {
		return err
	}
	// failure_count is bumped once per terminally-failed delivery, not once
	// per attempt, so the counter tracks deliveries lost rather than raw
	// network flakiness.
	if err := d.webhooks.RecordFailure(webhook.ID, now.Unix()); err != nil {
		log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("failed to update webhook failure count")
	}

	log.Error().
		Str("delivery_id", delivery.ID).
		Str("webhook_id", webhook.ID).
		Int("attempt", attempt).
		Str("error", errMsg).
		Msg("webhook delivery failed permanently")
	return nil
}

// backoff doubles per attempt up to the configured cap.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	return delay
}
