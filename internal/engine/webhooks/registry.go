package webhooks

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

// ErrNotFound is returned when a webhook does not exist or belongs to another
// organization; the two cases are reported identically.
var ErrNotFound = errors.New("webhook not found")

const defaultTimeoutSeconds = 30

// Registry is the subscription catalogue: CRUD over webhooks, no signing or
// delivery logic.
type Registry struct {
	webhooks   *repositories.WebhookRepository
	deliveries *repositories.WebhookDeliveryRepository
}

func NewRegistry(webhooks *repositories.WebhookRepository, deliveries *repositories.WebhookDeliveryRepository) *Registry {
	return &Registry{webhooks: webhooks, deliveries: deliveries}
}

// Create registers a subscription and returns the signing secret exactly
// once. Only the hash-free secret column ever sees it again.
func (r *Registry) Create(orgID, url string, events []string, timeoutSeconds int) (*models.Webhook, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	secret := "whsec_" + hex.EncodeToString(buf)

	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	if events == nil {
		events = []string{}
	}

	webhook := &models.Webhook{
		OrganizationID: orgID,
		URL:            url,
		Events:         events,
		Secret:         secret,
		IsActive:       true,
		TimeoutSeconds: timeoutSeconds,
	}

	if err := r.webhooks.Create(webhook); err != nil {
		return nil, "", err
	}

	return webhook, secret, nil
}

func (r *Registry) List(orgID string) ([]*models.Webhook, error) {
	return r.webhooks.ListByOrg(orgID)
}

func (r *Registry) Get(orgID, webhookID string) (*models.Webhook, error) {
	webhook, err := r.webhooks.GetByID(webhookID)
	if err != nil {
		return nil, err
	}
	if webhook == nil || webhook.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return webhook, nil
}

type UpdateParams struct {
	URL            *string
	Events         []string
	IsActive       *bool
	TimeoutSeconds *int
}

func (r *Registry) Update(orgID, webhookID string, params UpdateParams) (*models.Webhook, error) {
	webhook, err := r.Get(orgID, webhookID)
	if err != nil {
		return nil, err
	}

	if params.URL != nil {
		webhook.URL = *params.URL
	}
	if params.Events != nil {
		webhook.Events = params.Events
	}
	if params.IsActive != nil {
		webhook.IsActive = *params.IsActive
	}
	if params.TimeoutSeconds != nil {
		webhook.TimeoutSeconds = *params.TimeoutSeconds
	}

	if err := r.webhooks.Update(webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

func (r *Registry) Delete(orgID, webhookID string) error {
	if _, err := r.Get(orgID, webhookID); err != nil {
		return err
	}
	return r.webhooks.Delete(webhookID)
}

// ListDeliveries returns the webhook's delivery history, most recent first.
func (r *Registry) ListDeliveries(orgID, webhookID string, limit int) ([]*models.WebhookDelivery, error) {
	if _, err := r.Get(orgID, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return r.deliveries.ListByWebhook(webhookID, limit)
}
