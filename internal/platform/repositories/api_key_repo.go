package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"apigate/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	key.CreatedAt = time.Now().Unix()

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	ipsJSON, err := json.Marshal(key.AllowedIPs)
	if err != nil {
		return err
	}
	originsJSON, err := json.Marshal(key.AllowedOrigins)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, organization_id, user_id, name, key_hash, key_prefix, description, scopes, allowed_ips, allowed_origins, rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day, is_active, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, key.ID, key.OrganizationID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Description,
		string(scopesJSON), string(ipsJSON), string(originsJSON),
		key.RateLimitPerMinute, key.RateLimitPerHour, key.RateLimitPerDay,
		key.IsActive, key.CreatedAt, key.ExpiresAt)
	return err
}

const apiKeyColumns = `id, organization_id, user_id, name, key_hash, key_prefix, description, scopes, allowed_ips, allowed_origins, rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day, is_active, last_used_at, created_at, expires_at, revoked_at`

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*models.APIKey, error) {
	var k models.APIKey
	var description sql.NullString
	var scopesStr, ipsStr, originsStr string
	var lastUsedAt, expiresAt, revokedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.OrganizationID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &description,
		&scopesStr, &ipsStr, &originsStr,
		&k.RateLimitPerMinute, &k.RateLimitPerHour, &k.RateLimitPerDay,
		&k.IsActive, &lastUsedAt, &k.CreatedAt, &expiresAt, &revokedAt)
	if err != nil {
		return nil, err
	}

	k.Description = description.String
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Int64
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Int64
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Int64
	}

	json.Unmarshal([]byte(scopesStr), &k.Scopes)
	json.Unmarshal([]byte(ipsStr), &k.AllowedIPs)
	json.Unmarshal([]byte(originsStr), &k.AllowedOrigins)

	return &k, nil
}

// GetByHash looks up an active key by its secret hash. Expiry is enforced by
// the caller so that all failure modes share one code path.
func (r *APIKeyRepository) GetByHash(hash string) (*models.APIKey, error) {
	row := r.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ? AND is_active = 1`, hash)
	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return key, err
}

func (r *APIKeyRepository) GetByID(id string) (*models.APIKey, error) {
	row := r.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	key, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return key, err
}

func (r *APIKeyRepository) ListByOrg(orgID string) ([]*models.APIKey, error) {
	rows, err := r.db.Query(`SELECT `+apiKeyColumns+` FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) Update(key *models.APIKey) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	ipsJSON, err := json.Marshal(key.AllowedIPs)
	if err != nil {
		return err
	}
	originsJSON, err := json.Marshal(key.AllowedOrigins)
	if err != nil {
		return err
	}

	query := `
		UPDATE api_keys
		SET name = ?, description = ?, scopes = ?, allowed_ips = ?, allowed_origins = ?,
		    rate_limit_per_minute = ?, rate_limit_per_hour = ?, rate_limit_per_day = ?, expires_at = ?
		WHERE id = ?
	`
	_, err = r.db.Exec(query, key.Name, key.Description,
		string(scopesJSON), string(ipsJSON), string(originsJSON),
		key.RateLimitPerMinute, key.RateLimitPerHour, key.RateLimitPerDay,
		key.ExpiresAt, key.ID)
	return err
}

func (r *APIKeyRepository) Revoke(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET is_active = 0, revoked_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

func (r *APIKeyRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

func (r *APIKeyRepository) UpdateLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
