package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	apiContext "apigate/internal/api/context"
	"apigate/internal/engine/keys"
	"apigate/internal/engine/quota"
	"apigate/internal/pkg/errors"
	"apigate/internal/pkg/validate"
	"apigate/internal/platform/auth"
	"apigate/internal/platform/models"
)

type APIKeyHandler struct {
	keys  *keys.Service
	quota *quota.Tracker
}

func NewAPIKeyHandler(keySvc *keys.Service, tracker *quota.Tracker) *APIKeyHandler {
	return &APIKeyHandler{keys: keySvc, quota: tracker}
}

type createAPIKeyRequest struct {
	Name               string   `json:"name" validate:"required,max=128"`
	Description        string   `json:"description" validate:"max=512"`
	Scopes             []string `json:"scopes"`
	AllowedIPs         []string `json:"allowed_ips"`
	AllowedOrigins     []string `json:"allowed_origins"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute" validate:"min=0"`
	RateLimitPerHour   int      `json:"rate_limit_per_hour" validate:"min=0"`
	RateLimitPerDay    int      `json:"rate_limit_per_day" validate:"min=0"`
	ExpiresInDays      int      `json:"expires_in_days" validate:"min=0"`
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	opts := keys.IssueOptions{
		Description:    req.Description,
		Scopes:         req.Scopes,
		AllowedIPs:     req.AllowedIPs,
		AllowedOrigins: req.AllowedOrigins,
		PerMinute:      req.RateLimitPerMinute,
		PerHour:        req.RateLimitPerHour,
		PerDay:         req.RateLimitPerDay,
	}
	if req.ExpiresInDays > 0 {
		exp := time.Now().Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour).Unix()
		opts.ExpiresAt = &exp
	}

	// The quota row is provisioned alongside the first key so the org is
	// metered from its very first request. The gateway pipeline would create
	// it lazily anyway; this just front-loads the work.
	if _, err := h.quota.EnsureExists(claims.OrganizationID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	key, secret, err := h.keys.Issue(claims.OrganizationID, claims.UserID, req.Name, opts)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create API key", nil)
		return
	}

	// The plaintext secret is in this response and nowhere else, ever.
	response := struct {
		*models.APIKey
		Key string `json:"key"`
	}{key, secret}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	list, err := h.keys.List(claims.OrganizationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list API keys", nil)
		return
	}
	if list == nil {
		list = []*models.APIKey{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type updateAPIKeyRequest struct {
	Name               *string  `json:"name" validate:"omitempty,max=128"`
	Description        *string  `json:"description" validate:"omitempty,max=512"`
	Scopes             []string `json:"scopes"`
	AllowedIPs         []string `json:"allowed_ips"`
	AllowedOrigins     []string `json:"allowed_origins"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute" validate:"omitempty,min=1"`
	RateLimitPerHour   *int     `json:"rate_limit_per_hour" validate:"omitempty,min=1"`
	RateLimitPerDay    *int     `json:"rate_limit_per_day" validate:"omitempty,min=1"`
	ExpiresAt          *int64   `json:"expires_at" validate:"omitempty,min=1"`
}

func (h *APIKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var req updateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	key, err := h.keys.Update(claims.OrganizationID, params.ByName("key_id"), keys.UpdateOptions{
		Name:           req.Name,
		Description:    req.Description,
		Scopes:         req.Scopes,
		AllowedIPs:     req.AllowedIPs,
		AllowedOrigins: req.AllowedOrigins,
		PerMinute:      req.RateLimitPerMinute,
		PerHour:        req.RateLimitPerHour,
		PerDay:         req.RateLimitPerDay,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		if err == keys.ErrNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update API key", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(key)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := h.keys.Revoke(claims.OrganizationID, params.ByName("key_id")); err != nil {
		if err == keys.ErrNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke API key", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := h.keys.Delete(claims.OrganizationID, params.ByName("key_id")); err != nil {
		if err == keys.ErrNotFound {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete API key", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
