package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apiContext "apigate/internal/api/context"
	"apigate/internal/engine/quota"
	"apigate/internal/engine/requestlog"
	"apigate/internal/pkg/errors"
	"apigate/internal/pkg/validate"
	"apigate/internal/platform/auth"
	"apigate/internal/platform/models"
)

type UsageHandler struct {
	recorder *requestlog.Recorder
	quota    *quota.Tracker
}

func NewUsageHandler(recorder *requestlog.Recorder, tracker *quota.Tracker) *UsageHandler {
	return &UsageHandler{recorder: recorder, quota: tracker}
}

// Stats aggregates the org's request history over a unix-seconds range.
// Defaults to the trailing 24 hours when no range is given.
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	end := time.Now().Unix()
	start := end - 86400

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid start timestamp", nil)
			return
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid end timestamp", nil)
			return
		}
		end = parsed
	}
	if start > end {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Start must not be after end", nil)
		return
	}

	stats, err := h.recorder.Stats(claims.OrganizationID, start, end)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to compute usage stats", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Quota reports the org's current ceilings, consumption and reset times.
func (h *UsageHandler) Quota(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	q, err := h.quota.Get(claims.OrganizationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load quota", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

type updateQuotaRequest struct {
	RequestsPerMinute int `json:"requests_per_minute" validate:"required,min=1"`
	RequestsPerHour   int `json:"requests_per_hour" validate:"required,min=1"`
	RequestsPerDay    int `json:"requests_per_day" validate:"required,min=1"`
}

// UpdateQuota replaces the org's quota ceilings. Consumed counters are not
// touched, so a raise takes effect immediately and a cut may leave a window
// temporarily over its new ceiling until it resets.
func (h *UsageHandler) UpdateQuota(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req updateQuotaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	q, err := h.quota.SetLimits(claims.OrganizationID, req.RequestsPerMinute, req.RequestsPerHour, req.RequestsPerDay)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update quota", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// Recent returns the newest request log rows, default 50.
func (h *UsageHandler) Recent(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid limit", nil)
			return
		}
		limit = parsed
	}
	if limit > 200 {
		limit = 200
	}

	logs, err := h.recorder.Recent(claims.OrganizationID, limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load request logs", nil)
		return
	}
	if logs == nil {
		logs = []*models.RequestLog{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
