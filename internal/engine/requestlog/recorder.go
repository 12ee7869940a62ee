package requestlog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

// Recorder appends one immutable RequestLog row per processed request,
// including rejected ones. Failures to log never abort the request whose
// outcome is being recorded.
type Recorder struct {
	repo *repositories.RequestLogRepository
}

func NewRecorder(repo *repositories.RequestLogRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record appends asynchronously; the caller has already answered the request
// by the time the row lands.
func (r *Recorder) Record(entry *models.RequestLog) {
	entry.CreatedAt = time.Now().Unix()

	go func() {
		if err := r.repo.Create(entry); err != nil {
			log.Error().Err(err).
				Str("org_id", entry.OrganizationID).
				Str("endpoint", entry.Endpoint).
				Msg("failed to record request log")
		}
	}()
}

type UsageStats struct {
	TotalRequests       int            `json:"total_requests"`
	ByMethod            map[string]int `json:"by_method"`
	ByEndpoint          map[string]int `json:"by_endpoint"`
	ByStatus            map[string]int `json:"by_status"`
	AverageResponseTime float64        `json:"average_response_time"`
	ErrorRate           float64        `json:"error_rate"`
}

// Stats aggregates an organization's request history for the usage dashboard.
// Status codes are grouped by class (2xx, 4xx, ...).
func (r *Recorder) Stats(orgID string, start, end int64) (*UsageStats, error) {
	samples, err := r.repo.ListRange(orgID, start, end)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		TotalRequests: len(samples),
		ByMethod:      make(map[string]int),
		ByEndpoint:    make(map[string]int),
		ByStatus:      make(map[string]int),
	}

	if len(samples) == 0 {
		return stats, nil
	}

	var totalResponseTime int64
	var errorCount int

	for _, s := range samples {
		stats.ByMethod[s.Method]++
		stats.ByEndpoint[s.Endpoint]++

		statusGroup := fmt.Sprintf("%dxx", s.StatusCode/100)
		stats.ByStatus[statusGroup]++

		totalResponseTime += s.ResponseTimeMs
		if s.StatusCode >= 400 {
			errorCount++
		}
	}

	stats.AverageResponseTime = float64(totalResponseTime) / float64(len(samples))
	stats.ErrorRate = float64(errorCount) / float64(len(samples)) * 100

	return stats, nil
}

// Recent returns the newest log rows for an organization.
func (r *Recorder) Recent(orgID string, limit int) ([]*models.RequestLog, error) {
	return r.repo.ListByOrg(orgID, limit)
}
