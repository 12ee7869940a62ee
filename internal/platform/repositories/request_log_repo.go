package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"apigate/internal/platform/models"
)

type RequestLogRepository struct {
	db *sql.DB
}

func NewRequestLogRepository(db *sql.DB) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) Create(entry *models.RequestLog) error {
	if entry.ID == "" {
		entry.ID = "req_" + uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	var paramsJSON []byte
	if entry.QueryParams != nil {
		paramsJSON, _ = json.Marshal(entry.QueryParams)
	}

	query := `
		INSERT INTO request_logs (id, api_key_id, organization_id, method, endpoint, path, status_code, response_time_ms, ip_address, user_agent, query_params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, entry.ID, entry.APIKeyID, entry.OrganizationID,
		entry.Method, entry.Endpoint, entry.Path, entry.StatusCode, entry.ResponseTimeMs,
		entry.IPAddress, entry.UserAgent, string(paramsJSON), entry.CreatedAt)
	return err
}

type RequestSample struct {
	Method         string
	Endpoint       string
	StatusCode     int
	ResponseTimeMs int64
}

// ListRange returns the raw samples for usage aggregation, org-scoped.
func (r *RequestLogRepository) ListRange(orgID string, start, end int64) ([]RequestSample, error) {
	query := `
		SELECT method, endpoint, status_code, response_time_ms
		FROM request_logs
		WHERE organization_id = ? AND created_at >= ? AND created_at <= ?
	`
	rows, err := r.db.Query(query, orgID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []RequestSample
	for rows.Next() {
		var s RequestSample
		if err := rows.Scan(&s.Method, &s.Endpoint, &s.StatusCode, &s.ResponseTimeMs); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (r *RequestLogRepository) ListByOrg(orgID string, limit int) ([]*models.RequestLog, error) {
	query := `
		SELECT id, api_key_id, organization_id, method, endpoint, path, status_code, response_time_ms, ip_address, user_agent, query_params, created_at
		FROM request_logs WHERE organization_id = ? ORDER BY created_at DESC LIMIT ?
	`
	rows, err := r.db.Query(query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.RequestLog
	for rows.Next() {
		var l models.RequestLog
		var apiKeyID sql.NullString
		var ip, ua, params sql.NullString

		if err := rows.Scan(&l.ID, &apiKeyID, &l.OrganizationID, &l.Method, &l.Endpoint, &l.Path,
			&l.StatusCode, &l.ResponseTimeMs, &ip, &ua, &params, &l.CreatedAt); err != nil {
			return nil, err
		}

		if apiKeyID.Valid {
			l.APIKeyID = &apiKeyID.String
		}
		l.IPAddress = ip.String
		l.UserAgent = ua.String
		if params.Valid && params.String != "" {
			json.Unmarshal([]byte(params.String), &l.QueryParams)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
