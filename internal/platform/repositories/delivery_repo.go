package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"apigate/internal/platform/models"
)

type WebhookDeliveryRepository struct {
	db *sql.DB
}

func NewWebhookDeliveryRepository(db *sql.DB) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Create(d *models.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = "whd_" + uuid.New().String()
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, event_data, status, attempt_number, max_attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, d.ID, d.WebhookID, d.EventType, string(d.EventData),
		d.Status, d.AttemptNumber, d.MaxAttempts, d.NextRetryAt, d.CreatedAt)
	return err
}

const deliveryColumns = `id, webhook_id, event_type, event_data, status, response_status_code, response_body, attempt_number, max_attempts, next_retry_at, delivered_at, error_message, created_at`

func scanDelivery(row interface{ Scan(...interface{}) error }) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	var eventData string
	var responseStatus sql.NullInt64
	var responseBody, errorMessage sql.NullString
	var nextRetryAt, deliveredAt sql.NullInt64

	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &eventData, &d.Status,
		&responseStatus, &responseBody, &d.AttemptNumber, &d.MaxAttempts,
		&nextRetryAt, &deliveredAt, &errorMessage, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.EventData = []byte(eventData)
	if responseStatus.Valid {
		code := int(responseStatus.Int64)
		d.ResponseStatusCode = &code
	}
	d.ResponseBody = responseBody.String
	if nextRetryAt.Valid {
		d.NextRetryAt = &nextRetryAt.Int64
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Int64
	}
	d.ErrorMessage = errorMessage.String

	return &d, nil
}

func (r *WebhookDeliveryRepository) GetByID(id string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRow(`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *WebhookDeliveryRepository) ListByWebhook(webhookID string, limit int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.Query(query, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// ListDue returns deliveries whose retry clock has elapsed. Fresh pending
// deliveries are created with next_retry_at = now, so they show up here too.
func (r *WebhookDeliveryRepository) ListDue(now int64, limit int) ([]*models.WebhookDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('pending', 'failed') AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC LIMIT ?
	`
	rows, err := r.db.Query(query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (r *WebhookDeliveryRepository) MarkSuccess(id string, statusCode int, body string, deliveredAt int64) error {
	_, err := r.db.Exec(`
		UPDATE webhook_deliveries
		SET status = 'success', response_status_code = ?, response_body = ?, delivered_at = ?, next_retry_at = NULL, error_message = NULL
		WHERE id = ?
	`, statusCode, body, deliveredAt, id)
	return err
}

// MarkRetry records a failed attempt that is still eligible for another send.
func (r *WebhookDeliveryRepository) MarkRetry(id string, attempt int, statusCode *int, body, errMsg string, nextRetryAt int64) error {
	_, err := r.db.Exec(`
		UPDATE webhook_deliveries
		SET status = 'failed', attempt_number = ?, response_status_code = ?, response_body = ?, error_message = ?, next_retry_at = ?
		WHERE id = ?
	`, attempt, statusCode, body, errMsg, nextRetryAt, id)
	return err
}

// MarkFailed records a terminal failure; next_retry_at is cleared so the
// delivery is never picked up again.
func (r *WebhookDeliveryRepository) MarkFailed(id string, attempt int, statusCode *int, body, errMsg string) error {
	_, err := r.db.Exec(`
		UPDATE webhook_deliveries
		SET status = 'failed', attempt_number = ?, response_status_code = ?, response_body = ?, error_message = ?, next_retry_at = NULL
		WHERE id = ?
	`, attempt, statusCode, body, errMsg, id)
	return err
}
