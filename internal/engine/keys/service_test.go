package keys

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"apigate/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE api_keys (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		key_prefix TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		scopes TEXT NOT NULL DEFAULT '[]',
		allowed_ips TEXT NOT NULL DEFAULT '[]',
		allowed_origins TEXT NOT NULL DEFAULT '[]',
		rate_limit_per_minute INTEGER NOT NULL,
		rate_limit_per_hour INTEGER NOT NULL,
		rate_limit_per_day INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_used_at INTEGER,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		revoked_at INTEGER
	);
	`
	if _, err = db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *sql.DB) {
	db := setupTestDB(t)
	repo := repositories.NewAPIKeyRepository(db)
	svc := NewService(repo, Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000})
	return svc, db
}

func TestService_IssueAndResolve(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, secret, err := svc.Issue("org_1", "user_1", "production", IssueOptions{
		Scopes:    []string{"read", "write"},
		PerMinute: 10,
	})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if key.KeyHash == secret {
		t.Error("Plaintext secret must not be stored as the hash")
	}
	if key.RateLimitPerMinute != 10 {
		t.Errorf("Expected explicit minute limit 10, got %d", key.RateLimitPerMinute)
	}
	if key.RateLimitPerHour != 1000 {
		t.Errorf("Expected default hour limit 1000, got %d", key.RateLimitPerHour)
	}

	resolved, err := svc.Resolve(secret)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if resolved.ID != key.ID {
		t.Errorf("Expected resolved key %s, got %s", key.ID, resolved.ID)
	}
}

func TestService_Resolve_Unknown(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	if _, err := svc.Resolve("agw_doesnotexist"); err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
}

func TestService_Resolve_Revoked(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, secret, err := svc.Issue("org_1", "user_1", "to-revoke", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := svc.Revoke("org_1", key.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}

	if _, err := svc.Resolve(secret); err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated after revocation, got %v", err)
	}
}

func TestService_Resolve_Expired(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	past := time.Now().Add(-time.Hour).Unix()
	_, secret, err := svc.Issue("org_1", "user_1", "expired", IssueOptions{ExpiresAt: &past})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := svc.Resolve(secret); err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated for expired key, got %v", err)
	}
}

func TestService_Update(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, _, err := svc.Issue("org_1", "user_1", "staging", IssueOptions{
		Scopes:    []string{"read"},
		PerMinute: 10,
	})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	name := "production"
	perHour := 500
	updated, err := svc.Update("org_1", key.ID, UpdateOptions{
		Name:    &name,
		Scopes:  []string{"read", "write"},
		PerHour: &perHour,
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if updated.Name != "production" {
		t.Errorf("Expected name production, got %s", updated.Name)
	}
	if len(updated.Scopes) != 2 {
		t.Errorf("Expected 2 scopes, got %d", len(updated.Scopes))
	}
	if updated.RateLimitPerHour != 500 {
		t.Errorf("Expected hour limit 500, got %d", updated.RateLimitPerHour)
	}
	// Untouched fields survive.
	if updated.RateLimitPerMinute != 10 {
		t.Errorf("Expected minute limit 10 to be untouched, got %d", updated.RateLimitPerMinute)
	}

	// And the update is persisted, not just echoed back.
	list, err := svc.List("org_1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "production" || list[0].RateLimitPerHour != 500 {
		t.Errorf("Persisted key does not match update: %+v", list[0])
	}
}

func TestService_Update_WrongOrg(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, _, err := svc.Issue("org_1", "user_1", "prod", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	name := "stolen"
	if _, err := svc.Update("org_2", key.ID, UpdateOptions{Name: &name}); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for foreign org, got %v", err)
	}
}

func TestService_Revoke_WrongOrg(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, _, err := svc.Issue("org_1", "user_1", "prod", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := svc.Revoke("org_2", key.ID); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for foreign org, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, db := newTestService(t)
	defer db.Close()

	key, secret, err := svc.Issue("org_1", "user_1", "temp", IssueOptions{})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if err := svc.Delete("org_1", key.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, err := svc.Resolve(secret); err != ErrUnauthenticated {
		t.Errorf("Expected ErrUnauthenticated after delete, got %v", err)
	}

	list, err := svc.List("org_1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Expected empty list after delete, got %d keys", len(list))
	}
}
