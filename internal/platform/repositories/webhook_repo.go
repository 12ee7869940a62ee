package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"apigate/internal/platform/models"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *models.Webhook) error {
	if webhook.ID == "" {
		webhook.ID = "wh_" + uuid.New().String()
	}
	now := time.Now().Unix()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, organization_id, url, events, secret, is_active, timeout_seconds, success_count, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
	`
	_, err = r.db.Exec(query, webhook.ID, webhook.OrganizationID, webhook.URL, string(eventsJSON),
		webhook.Secret, webhook.IsActive, webhook.TimeoutSeconds, webhook.CreatedAt, webhook.UpdatedAt)
	return err
}

const webhookColumns = `id, organization_id, url, events, secret, is_active, timeout_seconds, success_count, failure_count, last_triggered_at, created_at, updated_at`

func scanWebhook(row interface{ Scan(...interface{}) error }) (*models.Webhook, error) {
	var w models.Webhook
	var eventsStr string
	var lastTriggeredAt sql.NullInt64

	err := row.Scan(&w.ID, &w.OrganizationID, &w.URL, &eventsStr, &w.Secret, &w.IsActive,
		&w.TimeoutSeconds, &w.SuccessCount, &w.FailureCount, &lastTriggeredAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastTriggeredAt.Valid {
		w.LastTriggeredAt = &lastTriggeredAt.Int64
	}
	json.Unmarshal([]byte(eventsStr), &w.Events)

	return &w, nil
}

func (r *WebhookRepository) GetByID(id string) (*models.Webhook, error) {
	row := r.db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (r *WebhookRepository) ListByOrg(orgID string) ([]*models.Webhook, error) {
	rows, err := r.db.Query(`SELECT `+webhookColumns+` FROM webhooks WHERE organization_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// GetByEvent returns the org's active webhooks subscribed to the event type.
// Events are stored as a JSON array, so subscription matching happens here
// rather than in SQL.
func (r *WebhookRepository) GetByEvent(orgID, eventType string) ([]*models.Webhook, error) {
	rows, err := r.db.Query(`SELECT `+webhookColumns+` FROM webhooks WHERE organization_id = ? AND is_active = 1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []*models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if w.SubscribedTo(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, rows.Err()
}

func (r *WebhookRepository) Update(webhook *models.Webhook) error {
	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}
	webhook.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhooks
		SET url = ?, events = ?, is_active = ?, timeout_seconds = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.Exec(query, webhook.URL, string(eventsJSON), webhook.IsActive, webhook.TimeoutSeconds, webhook.UpdatedAt, webhook.ID)
	return err
}

func (r *WebhookRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (r *WebhookRepository) RecordSuccess(id string, timestamp int64) error {
	_, err := r.db.Exec(`UPDATE webhooks SET success_count = success_count + 1, last_triggered_at = ? WHERE id = ?`, timestamp, id)
	return err
}

func (r *WebhookRepository) RecordFailure(id string, timestamp int64) error {
	_, err := r.db.Exec(`UPDATE webhooks SET failure_count = failure_count + 1, last_triggered_at = ? WHERE id = ?`, timestamp, id)
	return err
}
