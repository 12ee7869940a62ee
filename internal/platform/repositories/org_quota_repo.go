package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"apigate/internal/platform/models"
)

type OrgQuotaRepository struct {
	db *sql.DB
}

func NewOrgQuotaRepository(db *sql.DB) *OrgQuotaRepository {
	return &OrgQuotaRepository{db: db}
}

func (r *OrgQuotaRepository) Create(q *models.OrgQuota) error {
	if q.ID == "" {
		q.ID = "quota_" + uuid.New().String()
	}
	now := time.Now().Unix()
	q.CreatedAt = now
	q.UpdatedAt = now

	query := `
		INSERT INTO org_quotas (id, organization_id, requests_per_minute, requests_per_hour, requests_per_day, requests_used_minute, requests_used_hour, requests_used_day, minute_reset_at, hour_reset_at, day_reset_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, q.ID, q.OrganizationID,
		q.RequestsPerMinute, q.RequestsPerHour, q.RequestsPerDay,
		q.MinuteResetAt, q.HourResetAt, q.DayResetAt,
		q.CreatedAt, q.UpdatedAt)
	return err
}

func (r *OrgQuotaRepository) GetByOrg(orgID string) (*models.OrgQuota, error) {
	query := `
		SELECT id, organization_id, requests_per_minute, requests_per_hour, requests_per_day, requests_used_minute, requests_used_hour, requests_used_day, minute_reset_at, hour_reset_at, day_reset_at, created_at, updated_at
		FROM org_quotas WHERE organization_id = ?
	`
	var q models.OrgQuota
	err := r.db.QueryRow(query, orgID).Scan(&q.ID, &q.OrganizationID,
		&q.RequestsPerMinute, &q.RequestsPerHour, &q.RequestsPerDay,
		&q.RequestsUsedMinute, &q.RequestsUsedHour, &q.RequestsUsedDay,
		&q.MinuteResetAt, &q.HourResetAt, &q.DayResetAt,
		&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

// TryIncrement bumps all three usage counters in a single conditional UPDATE.
// It reports false when any window is already at its ceiling, which makes the
// check-and-increment atomic under concurrent requests for the same org.
func (r *OrgQuotaRepository) TryIncrement(orgID string) (bool, error) {
	query := `
		UPDATE org_quotas
		SET requests_used_minute = requests_used_minute + 1,
		    requests_used_hour = requests_used_hour + 1,
		    requests_used_day = requests_used_day + 1,
		    updated_at = ?
		WHERE organization_id = ?
		  AND requests_used_minute < requests_per_minute
		  AND requests_used_hour < requests_per_hour
		  AND requests_used_day < requests_per_day
	`
	res, err := r.db.Exec(query, time.Now().Unix(), orgID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetMinuteWindow zeroes the minute counter if its boundary has passed.
// The guard on minute_reset_at keeps concurrent resets idempotent.
func (r *OrgQuotaRepository) ResetMinuteWindow(orgID string, now, nextReset int64) error {
	_, err := r.db.Exec(`
		UPDATE org_quotas SET requests_used_minute = 0, minute_reset_at = ?, updated_at = ?
		WHERE organization_id = ? AND minute_reset_at <= ?
	`, nextReset, now, orgID, now)
	return err
}

func (r *OrgQuotaRepository) ResetHourWindow(orgID string, now, nextReset int64) error {
	_, err := r.db.Exec(`
		UPDATE org_quotas SET requests_used_hour = 0, hour_reset_at = ?, updated_at = ?
		WHERE organization_id = ? AND hour_reset_at <= ?
	`, nextReset, now, orgID, now)
	return err
}

func (r *OrgQuotaRepository) ResetDayWindow(orgID string, now, nextReset int64) error {
	_, err := r.db.Exec(`
		UPDATE org_quotas SET requests_used_day = 0, day_reset_at = ?, updated_at = ?
		WHERE organization_id = ? AND day_reset_at <= ?
	`, nextReset, now, orgID, now)
	return err
}

func (r *OrgQuotaRepository) UpdateLimits(orgID string, perMinute, perHour, perDay int) error {
	_, err := r.db.Exec(`
		UPDATE org_quotas SET requests_per_minute = ?, requests_per_hour = ?, requests_per_day = ?, updated_at = ?
		WHERE organization_id = ?
	`, perMinute, perHour, perDay, time.Now().Unix(), orgID)
	return err
}
