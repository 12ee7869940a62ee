package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "apigate/internal/api/context"
	"apigate/internal/engine/webhooks"
	"apigate/internal/pkg/errors"
	"apigate/internal/pkg/validate"
	"apigate/internal/platform/auth"
	"apigate/internal/platform/models"
)

type WebhookHandler struct {
	registry   *webhooks.Registry
	dispatcher *webhooks.Dispatcher
}

func NewWebhookHandler(registry *webhooks.Registry, dispatcher *webhooks.Dispatcher) *WebhookHandler {
	return &WebhookHandler{registry: registry, dispatcher: dispatcher}
}

type createWebhookRequest struct {
	URL            string   `json:"url" validate:"required,url"`
	Events         []string `json:"events" validate:"required,min=1,dive,required"`
	TimeoutSeconds int      `json:"timeout_seconds" validate:"min=0,max=300"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	webhook, secret, err := h.registry.Create(claims.OrganizationID, req.URL, req.Events, req.TimeoutSeconds)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create webhook", nil)
		return
	}

	// The signing secret is returned once, at creation, and never again.
	response := struct {
		*models.Webhook
		Secret string `json:"secret"`
	}{webhook, secret}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	list, err := h.registry.List(claims.OrganizationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list webhooks", nil)
		return
	}
	if list == nil {
		list = []*models.Webhook{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	webhook, err := h.registry.Get(claims.OrganizationID, params.ByName("webhook_id"))
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhook)
}

type updateWebhookRequest struct {
	URL            *string  `json:"url" validate:"omitempty,url"`
	Events         []string `json:"events" validate:"omitempty,min=1,dive,required"`
	IsActive       *bool    `json:"is_active"`
	TimeoutSeconds *int     `json:"timeout_seconds" validate:"omitempty,min=1,max=300"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	webhook, err := h.registry.Update(claims.OrganizationID, params.ByName("webhook_id"), webhooks.UpdateParams{
		URL:            req.URL,
		Events:         req.Events,
		IsActive:       req.IsActive,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhook)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := h.registry.Delete(claims.OrganizationID, params.ByName("webhook_id")); err != nil {
		writeWebhookError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deliveries, err := h.registry.ListDeliveries(claims.OrganizationID, params.ByName("webhook_id"), limit)
	if err != nil {
		writeWebhookError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(deliveries)
}

// Redeliver clones a delivery into a new pending one. Used by operators on
// terminally failed deliveries.
func (h *WebhookHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	delivery, err := h.dispatcher.Redispatch(claims.OrganizationID, params.ByName("delivery_id"))
	if err != nil {
		writeWebhookError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(delivery)
}

func writeWebhookError(w http.ResponseWriter, err error) {
	switch err {
	case webhooks.ErrNotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
	case webhooks.ErrDeliveryActive:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Delivery is still in progress", nil)
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Webhook operation failed", nil)
	}
}
