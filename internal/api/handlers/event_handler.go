package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "apigate/internal/api/context"
	"apigate/internal/engine/webhooks"
	"apigate/internal/pkg/errors"
	"apigate/internal/pkg/validate"
	"apigate/internal/platform/models"
)

// EventHandler serves the key-authenticated gateway surface: a ping endpoint
// for integration checks and an event publisher that fans out to the org's
// webhooks.
type EventHandler struct {
	dispatcher *webhooks.Dispatcher
}

func NewEventHandler(dispatcher *webhooks.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

// Ping lets integrators verify their key end to end. The response echoes the
// resolved key identity so misconfigured credentials are easy to spot.
func (h *EventHandler) Ping(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(apiContext.APIKey).(*models.APIKey)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":          "ok",
		"key_id":          key.ID,
		"organization_id": key.OrganizationID,
	})
}

type publishEventRequest struct {
	Event string          `json:"event" validate:"required,max=128"`
	Data  json.RawMessage `json:"data" validate:"required"`
}

// Publish accepts a domain event and creates pending deliveries for every
// subscribed webhook. Sends happen asynchronously in the delivery worker.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	key := r.Context().Value(apiContext.APIKey).(*models.APIKey)

	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validate.Struct(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Validation failed", err.Error())
		return
	}

	deliveries, err := h.dispatcher.DispatchEvent(key.OrganizationID, req.Event, req.Data)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to dispatch event", nil)
		return
	}

	ids := make([]string, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"event":        req.Event,
		"delivery_ids": ids,
	})
}
