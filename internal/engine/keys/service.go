package keys

import (
	"crypto/subtle"
	"errors"
	"time"

	"apigate/internal/platform/models"
	"apigate/internal/platform/repositories"
)

// ErrUnauthenticated covers every resolution failure: unknown secret, revoked
// key, expired key. Callers get no signal about which condition failed.
var ErrUnauthenticated = errors.New("invalid API key")

// ErrNotFound is returned when a key does not exist or belongs to another
// organization. The two cases are indistinguishable on purpose.
var ErrNotFound = errors.New("api key not found")

type Limits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

type IssueOptions struct {
	Description    string
	Scopes         []string
	AllowedIPs     []string
	AllowedOrigins []string
	PerMinute      int
	PerHour        int
	PerDay         int
	ExpiresAt      *int64
}

type Service struct {
	repo     *repositories.APIKeyRepository
	defaults Limits
}

func NewService(repo *repositories.APIKeyRepository, defaults Limits) *Service {
	return &Service{repo: repo, defaults: defaults}
}

// Issue creates a new API key and returns the record together with the
// plaintext secret. The plaintext is never persisted; only its hash and a
// short display prefix survive.
func (s *Service) Issue(orgID, userID, name string, opts IssueOptions) (*models.APIKey, string, error) {
	secret, hash, prefix, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	key := &models.APIKey{
		OrganizationID:     orgID,
		UserID:             userID,
		Name:               name,
		KeyHash:            hash,
		KeyPrefix:          prefix,
		Description:        opts.Description,
		Scopes:             opts.Scopes,
		AllowedIPs:         opts.AllowedIPs,
		AllowedOrigins:     opts.AllowedOrigins,
		RateLimitPerMinute: opts.PerMinute,
		RateLimitPerHour:   opts.PerHour,
		RateLimitPerDay:    opts.PerDay,
		IsActive:           true,
		ExpiresAt:          opts.ExpiresAt,
	}

	if key.Scopes == nil {
		key.Scopes = []string{}
	}
	if key.AllowedIPs == nil {
		key.AllowedIPs = []string{}
	}
	if key.AllowedOrigins == nil {
		key.AllowedOrigins = []string{}
	}
	if key.RateLimitPerMinute <= 0 {
		key.RateLimitPerMinute = s.defaults.PerMinute
	}
	if key.RateLimitPerHour <= 0 {
		key.RateLimitPerHour = s.defaults.PerHour
	}
	if key.RateLimitPerDay <= 0 {
		key.RateLimitPerDay = s.defaults.PerDay
	}

	if err := s.repo.Create(key); err != nil {
		return nil, "", err
	}

	return key, secret, nil
}

// Resolve authenticates a plaintext secret. Every failure mode collapses into
// ErrUnauthenticated; the hash comparison runs in constant time regardless of
// where a mismatch occurs.
func (s *Service) Resolve(secret string) (*models.APIKey, error) {
	hash := HashSecret(secret)

	key, err := s.repo.GetByHash(hash)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrUnauthenticated
	}

	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, ErrUnauthenticated
	}

	if key.ExpiresAt != nil && *key.ExpiresAt <= time.Now().Unix() {
		return nil, ErrUnauthenticated
	}

	return key, nil
}

type UpdateOptions struct {
	Name           *string
	Description    *string
	Scopes         []string
	AllowedIPs     []string
	AllowedOrigins []string
	PerMinute      *int
	PerHour        *int
	PerDay         *int
	ExpiresAt      *int64
}

// Update mutates a key's metadata and limits in place. The hash, prefix and
// active flag are not reachable from here; revocation has its own path.
func (s *Service) Update(orgID, keyID string, opts UpdateOptions) (*models.APIKey, error) {
	key, err := s.repo.GetByID(keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.OrganizationID != orgID {
		return nil, ErrNotFound
	}

	if opts.Name != nil {
		key.Name = *opts.Name
	}
	if opts.Description != nil {
		key.Description = *opts.Description
	}
	if opts.Scopes != nil {
		key.Scopes = opts.Scopes
	}
	if opts.AllowedIPs != nil {
		key.AllowedIPs = opts.AllowedIPs
	}
	if opts.AllowedOrigins != nil {
		key.AllowedOrigins = opts.AllowedOrigins
	}
	if opts.PerMinute != nil {
		key.RateLimitPerMinute = *opts.PerMinute
	}
	if opts.PerHour != nil {
		key.RateLimitPerHour = *opts.PerHour
	}
	if opts.PerDay != nil {
		key.RateLimitPerDay = *opts.PerDay
	}
	if opts.ExpiresAt != nil {
		key.ExpiresAt = opts.ExpiresAt
	}

	if err := s.repo.Update(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Revoke deactivates a key. The row is kept for audit.
func (s *Service) Revoke(orgID, keyID string) error {
	key, err := s.repo.GetByID(keyID)
	if err != nil {
		return err
	}
	if key == nil || key.OrganizationID != orgID {
		return ErrNotFound
	}
	return s.repo.Revoke(keyID)
}

func (s *Service) List(orgID string) ([]*models.APIKey, error) {
	return s.repo.ListByOrg(orgID)
}

// Delete hard-removes a key. Revoke is the normal path; this exists for
// administrative housekeeping only.
func (s *Service) Delete(orgID, keyID string) error {
	key, err := s.repo.GetByID(keyID)
	if err != nil {
		return err
	}
	if key == nil || key.OrganizationID != orgID {
		return ErrNotFound
	}
	return s.repo.Delete(keyID)
}

// TouchLastUsed is best-effort; a failed update never fails the request.
func (s *Service) TouchLastUsed(keyID string) {
	s.repo.UpdateLastUsed(keyID)
}
