package quota

import (
	"errors"
	"time"

	"apigate/internal/platform/config"
	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// ErrUnavailable means the quota row could not be read or created. Callers
// must fail closed: unmetered traffic defeats the point of the tracker.
var ErrUnavailable = errors.New("quota state unavailable")

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Window    string
}

// Tracker meters organization-wide usage against one OrgQuota row per org.
// Counters are explicit (not derived from logs) and bumped with a single
// conditional UPDATE so the check and the increment cannot be split by a
// concurrent request.
type Tracker struct {
	repo     *repositories.OrgQuotaRepository
	defaults config.QuotaConfig
	now      func() time.Time
}

func NewTracker(repo *repositories.OrgQuotaRepository, defaults config.QuotaConfig) *Tracker {
	return &Tracker{repo: repo, defaults: defaults, now: time.Now}
}

// EnsureExists lazily creates a zeroed quota row with the configured default
// ceilings. A lost creation race falls back to reading the winner's row.
func (t *Tracker) EnsureExists(orgID string) (*models.OrgQuota, error) {
	q, err := t.repo.GetByOrg(orgID)
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}

	now := t.now().Unix()
	q = &models.OrgQuota{
		OrganizationID:    orgID,
		RequestsPerMinute: t.defaults.PerMinute,
		RequestsPerHour:   t.defaults.PerHour,
		RequestsPerDay:    t.defaults.PerDay,
		MinuteResetAt:     now + 60,
		HourResetAt:       now + 3600,
		DayResetAt:        now + 86400,
	}
	if err := t.repo.Create(q); err != nil {
		// Another request may have created the row first.
		existing, getErr := t.repo.GetByOrg(orgID)
		if getErr != nil || existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return q, nil
}

// Check rolls any elapsed windows, then atomically consumes one unit from all
// three counters. Storage failures reject the request rather than letting it
// through unmetered.
func (t *Tracker) Check(orgID string) (Decision, error) {
	q, err := t.EnsureExists(orgID)
	if err != nil {
		return Decision{}, ErrUnavailable
	}

	now := t.now().Unix()
	if err := t.rollWindows(q, now); err != nil {
		return Decision{}, ErrUnavailable
	}

	ok, err := t.repo.TryIncrement(orgID)
	if err != nil {
		return Decision{}, ErrUnavailable
	}

	q, err = t.repo.GetByOrg(orgID)
	if err != nil || q == nil {
		return Decision{}, ErrUnavailable
	}

	if !ok {
		return rejection(q), nil
	}

	remaining := q.RequestsPerMinute - q.RequestsUsedMinute
	if rem := q.RequestsPerHour - q.RequestsUsedHour; rem < remaining {
		remaining = rem
	}
	if rem := q.RequestsPerDay - q.RequestsUsedDay; rem < remaining {
		remaining = rem
	}

	return Decision{Allowed: true, Remaining: remaining, ResetAt: time.Unix(q.MinuteResetAt, 0)}, nil
}

// rollWindows resets each counter whose boundary has passed and advances the
// boundary to the next future multiple of the window size.
func (t *Tracker) rollWindows(q *models.OrgQuota, now int64) error {
	if now >= q.MinuteResetAt {
		if err := t.repo.ResetMinuteWindow(q.OrganizationID, now, nextBoundary(q.MinuteResetAt, 60, now)); err != nil {
			return err
		}
	}
	if now >= q.HourResetAt {
		if err := t.repo.ResetHourWindow(q.OrganizationID, now, nextBoundary(q.HourResetAt, 3600, now)); err != nil {
			return err
		}
	}
	if now >= q.DayResetAt {
		if err := t.repo.ResetDayWindow(q.OrganizationID, now, nextBoundary(q.DayResetAt, 86400, now)); err != nil {
			return err
		}
	}
	return nil
}

func nextBoundary(resetAt, windowSec, now int64) int64 {
	next := resetAt
	for next <= now {
		next += windowSec
	}
	return next
}

// rejection reports the smallest exhausted window, since it resets soonest.
func rejection(q *models.OrgQuota) Decision {
	switch {
	case q.RequestsUsedMinute >= q.RequestsPerMinute:
		return Decision{Window: WindowMinute, ResetAt: time.Unix(q.MinuteResetAt, 0)}
	case q.RequestsUsedHour >= q.RequestsPerHour:
		return Decision{Window: WindowHour, ResetAt: time.Unix(q.HourResetAt, 0)}
	default:
		return Decision{Window: WindowDay, ResetAt: time.Unix(q.DayResetAt, 0)}
	}
}

// Get exposes the current quota state for the usage dashboard.
func (t *Tracker) Get(orgID string) (*models.OrgQuota, error) {
	return t.EnsureExists(orgID)
}

// SetLimits replaces the organization's ceilings. Consumed counters and reset
// boundaries are left alone; the new ceilings apply from the next Check.
func (t *Tracker) SetLimits(orgID string, perMinute, perHour, perDay int) (*models.OrgQuota, error) {
	if _, err := t.EnsureExists(orgID); err != nil {
		return nil, err
	}
	if err := t.repo.UpdateLimits(orgID, perMinute, perHour, perDay); err != nil {
		return nil, err
	}
	return t.repo.GetByOrg(orgID)
}
