package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"apigate/internal/platform/config"
	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

func testWebhooksConfig() config.WebhooksConfig {
	return config.WebhooksConfig{
		MaxAttempts:      3,
		BackoffBase:      time.Minute,
		BackoffCap:       30 * time.Minute,
		DefaultTimeout:   5 * time.Second,
		MaxResponseBytes: 4096,
	}
}

func newTestDispatcher(t *testing.T, cfg config.WebhooksConfig) (*Dispatcher, *Registry, *repositories.WebhookDeliveryRepository, *sql.DB) {
	db := setupTestDB(t)
	webhookRepo := repositories.NewWebhookRepository(db)
	deliveryRepo := repositories.NewWebhookDeliveryRepository(db)
	registry := NewRegistry(webhookRepo, deliveryRepo)
	dispatcher := NewDispatcher(webhookRepo, deliveryRepo, cfg)
	return dispatcher, registry, deliveryRepo, db
}

func TestDispatcher_Dispatch_Filters(t *testing.T) {
	dispatcher, registry, _, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	webhook, _, err := registry.Create("org_1", "https://example.com/hooks", []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Unsubscribed event type is a silent no-op.
	d, err := dispatcher.Dispatch(webhook.ID, "key.revoked", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if d != nil {
		t.Error("Expected no delivery for unsubscribed event")
	}

	// Inactive webhooks never produce deliveries.
	inactive := false
	if _, err := registry.Update("org_1", webhook.ID, UpdateParams{IsActive: &inactive}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	d, err = dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if d != nil {
		t.Error("Expected no delivery for inactive webhook")
	}

	if _, err := dispatcher.Dispatch("wh_missing", "key.created", nil); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for missing webhook, got %v", err)
	}
}

func TestDispatcher_Dispatch_CreatesPending(t *testing.T) {
	dispatcher, registry, deliveries, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	webhook, _, err := registry.Create("org_1", "https://example.com/hooks", []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if d.Status != models.DeliveryStatusPending {
		t.Errorf("Expected pending status, got %s", d.Status)
	}
	if d.NextRetryAt == nil {
		t.Error("Fresh delivery must be due immediately")
	}

	due, err := deliveries.ListDue(time.Now().Unix(), 10)
	if err != nil {
		t.Fatalf("ListDue() error: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("Expected 1 due delivery, got %d", len(due))
	}
}

func TestDispatcher_SendSuccess(t *testing.T) {
	dispatcher, registry, deliveries, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	var gotSignature, gotEvent string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook, secret, err := registry.Create("org_1", server.URL, []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotEvent != "key.created" {
		t.Errorf("Expected event header key.created, got %s", gotEvent)
	}
	if !Verify(secret, gotBody, gotSignature) {
		t.Error("Signature must verify against the raw request body")
	}

	var payload struct {
		Event     string          `json:"event"`
		Data      json.RawMessage `json:"data"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("Payload is not valid JSON: %v", err)
	}
	if payload.Event != "key.created" {
		t.Errorf("Expected payload event key.created, got %s", payload.Event)
	}
	if _, err := time.Parse(time.RFC3339, payload.Timestamp); err != nil {
		t.Errorf("Timestamp is not RFC3339: %v", err)
	}

	stored, err := deliveries.GetByID(d.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if stored.Status != models.DeliveryStatusSuccess {
		t.Errorf("Expected success status, got %s", stored.Status)
	}
	if stored.NextRetryAt != nil {
		t.Error("Successful delivery must not be rescheduled")
	}
	if stored.DeliveredAt == nil {
		t.Error("Successful delivery must record delivered_at")
	}

	updated, _ := registry.Get("org_1", webhook.ID)
	if updated.SuccessCount != 1 {
		t.Errorf("Expected success_count 1, got %d", updated.SuccessCount)
	}
}

func TestDispatcher_RetryThenSuccess(t *testing.T) {
	dispatcher, registry, deliveries, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook, _, err := registry.Create("org_1", server.URL, []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	stored, _ := deliveries.GetByID(d.ID)
	if stored.Status != models.DeliveryStatusFailed {
		t.Errorf("Expected failed status after 500, got %s", stored.Status)
	}
	if stored.AttemptNumber != 1 {
		t.Errorf("Expected attempt 1, got %d", stored.AttemptNumber)
	}
	if stored.NextRetryAt == nil {
		t.Fatal("Retryable failure must schedule a retry")
	}
	if *stored.NextRetryAt <= time.Now().Unix() {
		t.Error("Retry must be scheduled in the future")
	}

	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() retry error: %v", err)
	}

	stored, _ = deliveries.GetByID(d.ID)
	if stored.Status != models.DeliveryStatusSuccess {
		t.Errorf("Expected success after retry, got %s", stored.Status)
	}

	updated, _ := registry.Get("org_1", webhook.ID)
	if updated.SuccessCount != 1 || updated.FailureCount != 0 {
		t.Errorf("Expected counts 1/0, got %d/%d", updated.SuccessCount, updated.FailureCount)
	}
}

func TestDispatcher_TerminalFailure(t *testing.T) {
	cfg := testWebhooksConfig()
	cfg.MaxAttempts = 2
	dispatcher, registry, deliveries, db := newTestDispatcher(t, cfg)
	defer db.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhook, _, err := registry.Create("org_1", server.URL, []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := dispatcher.Send(context.Background(), d.ID); err != nil {
			t.Fatalf("Send() attempt %d error: %v", i+1, err)
		}
	}

	stored, _ := deliveries.GetByID(d.ID)
	if stored.Status != models.DeliveryStatusFailed {
		t.Errorf("Expected failed status, got %s", stored.Status)
	}
	if stored.NextRetryAt != nil {
		t.Error("Exhausted delivery must not be rescheduled")
	}
	if !stored.Terminal() {
		t.Error("Exhausted delivery must be terminal")
	}

	if err := dispatcher.Send(context.Background(), d.ID); err != ErrDeliveryFinal {
		t.Errorf("Expected ErrDeliveryFinal, got %v", err)
	}

	// One lost delivery bumps failure_count exactly once, regardless of how
	// many attempts it took.
	updated, _ := registry.Get("org_1", webhook.ID)
	if updated.FailureCount != 1 {
		t.Errorf("Expected failure_count 1, got %d", updated.FailureCount)
	}
}

func TestDispatcher_Redispatch(t *testing.T) {
	cfg := testWebhooksConfig()
	cfg.MaxAttempts = 1
	dispatcher, registry, deliveries, db := newTestDispatcher(t, cfg)
	defer db.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhook, _, err := registry.Create("org_1", server.URL, []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	// A delivery the retry loop is still working on must not be cloned; that
	// would put the same event in flight twice.
	if _, err := dispatcher.Redispatch("org_1", d.ID); err != ErrDeliveryActive {
		t.Fatalf("Expected ErrDeliveryActive for pending delivery, got %v", err)
	}

	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	stored, _ := deliveries.GetByID(d.ID)
	if !stored.Terminal() {
		t.Fatal("Delivery should be terminal after exhausting attempts")
	}

	clone, err := dispatcher.Redispatch("org_1", d.ID)
	if err != nil {
		t.Fatalf("Redispatch() error: %v", err)
	}
	if clone.ID == d.ID {
		t.Error("Redispatch must create a new delivery")
	}
	if clone.Status != models.DeliveryStatusPending {
		t.Errorf("Expected pending clone, got %s", clone.Status)
	}
	if clone.AttemptNumber != 0 {
		t.Errorf("Expected reset attempt budget, got attempt %d", clone.AttemptNumber)
	}
	if clone.EventType != d.EventType || string(clone.EventData) != string(d.EventData) {
		t.Error("Clone must carry the original event payload")
	}

	if _, err := dispatcher.Redispatch("org_2", d.ID); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for foreign org, got %v", err)
	}
}

func TestDispatcher_ResponseTruncated(t *testing.T) {
	cfg := testWebhooksConfig()
	cfg.MaxResponseBytes = 8
	dispatcher, registry, deliveries, db := newTestDispatcher(t, cfg)
	defer db.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	webhook, _, err := registry.Create("org_1", server.URL, []string{"key.created"}, 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", nil)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	stored, _ := deliveries.GetByID(d.ID)
	if len(stored.ResponseBody) != 8 {
		t.Errorf("Expected response body capped at 8 bytes, got %d", len(stored.ResponseBody))
	}
}

func TestDispatcher_TimeoutIsFailure(t *testing.T) {
	dispatcher, registry, deliveries, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	webhook, _, err := registry.Create("org_1", server.URL, []string{"key.created"}, 1)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	d, err := dispatcher.Dispatch(webhook.ID, "key.created", nil)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if err := dispatcher.Send(context.Background(), d.ID); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	stored, _ := deliveries.GetByID(d.ID)
	if stored.Status != models.DeliveryStatusFailed {
		t.Errorf("Expected failed status after timeout, got %s", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("Expected an error message recording the timeout")
	}
	if stored.NextRetryAt == nil {
		t.Error("Timed-out delivery with attempts left must be rescheduled")
	}
}

func TestDispatcher_DispatchEvent_FanOut(t *testing.T) {
	dispatcher, registry, _, db := newTestDispatcher(t, testWebhooksConfig())
	defer db.Close()

	if _, _, err := registry.Create("org_1", "https://a.example.com", []string{"key.created"}, 0); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, _, err := registry.Create("org_1", "https://b.example.com", []string{"key.created", "key.revoked"}, 0); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	// Different org, same event type: must not receive the fan-out.
	if _, _, err := registry.Create("org_2", "https://c.example.com", []string{"key.created"}, 0); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	deliveries, err := dispatcher.DispatchEvent("org_1", "key.created", map[string]string{"id": "key_1"})
	if err != nil {
		t.Fatalf("DispatchEvent() error: %v", err)
	}
	if len(deliveries) != 2 {
		t.Errorf("Expected 2 deliveries, got %d", len(deliveries))
	}
}

func TestDispatcher_Backoff(t *testing.T) {
	cfg := testWebhooksConfig()
	dispatcher := &Dispatcher{cfg: cfg}

	if got := dispatcher.backoff(1); got != 2*time.Minute {
		t.Errorf("Expected 2m for attempt 1, got %v", got)
	}
	if got := dispatcher.backoff(2); got != 4*time.Minute {
		t.Errorf("Expected 4m for attempt 2, got %v", got)
	}
	if got := dispatcher.backoff(10); got != cfg.BackoffCap {
		t.Errorf("Expected cap %v for attempt 10, got %v", cfg.BackoffCap, got)
	}
}
