package models

// RequestLog is an immutable audit record of one processed request.
// Rows are append-only; they are never updated.
type RequestLog struct {
	ID             string            `json:"id"`
	APIKeyID       *string           `json:"api_key_id,omitempty"` // nil for unauthenticated calls
	OrganizationID string            `json:"organization_id"`
	Method         string            `json:"method"`
	Endpoint       string            `json:"endpoint"`
	Path           string            `json:"path"`
	StatusCode     int               `json:"status_code"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	QueryParams    map[string]string `json:"query_params,omitempty"` // JSON object in DB
	CreatedAt      int64             `json:"created_at"`
}
