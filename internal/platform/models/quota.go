package models

// OrgQuota aggregates usage across all API keys of one organization.
// Exactly one row per organization, created lazily on first use.
type OrgQuota struct {
	ID                 string `json:"id"`
	OrganizationID     string `json:"organization_id"`
	RequestsPerMinute  int    `json:"requests_per_minute"`
	RequestsPerHour    int    `json:"requests_per_hour"`
	RequestsPerDay     int    `json:"requests_per_day"`
	RequestsUsedMinute int    `json:"requests_used_minute"`
	RequestsUsedHour   int    `json:"requests_used_hour"`
	RequestsUsedDay    int    `json:"requests_used_day"`
	MinuteResetAt      int64  `json:"minute_reset_at"`
	HourResetAt        int64  `json:"hour_reset_at"`
	DayResetAt         int64  `json:"day_reset_at"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}
