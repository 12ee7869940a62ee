package models

type APIKey struct {
	ID                 string   `json:"id"`
	OrganizationID     string   `json:"organization_id"`
	UserID             string   `json:"user_id"`
	Name               string   `json:"name"`
	KeyHash            string   `json:"-"`
	KeyPrefix          string   `json:"key_prefix"`
	Description        string   `json:"description,omitempty"`
	Scopes             []string `json:"scopes"`          // JSON array in DB
	AllowedIPs         []string `json:"allowed_ips"`     // JSON array in DB
	AllowedOrigins     []string `json:"allowed_origins"` // JSON array in DB
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
	RateLimitPerHour   int      `json:"rate_limit_per_hour"`
	RateLimitPerDay    int      `json:"rate_limit_per_day"`
	IsActive           bool     `json:"is_active"`
	LastUsedAt         *int64   `json:"last_used_at,omitempty"`
	ExpiresAt          *int64   `json:"expires_at,omitempty"`
	CreatedAt          int64    `json:"created_at"`
	RevokedAt          *int64   `json:"revoked_at,omitempty"`
}
