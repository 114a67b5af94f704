package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/edvin/hosting/internal/model"
	"github.com/edvin/hosting/internal/platform"
)

const (
	apiKeyPrefix  = "rw_prod_"
	apiKeyIDLen   = 16
	apiKeySecret  = 32
	magicLinkLen  = 32
	bcryptCost    = 12
)

// Identity is the authenticated principal attached to a request after
// Authenticate succeeds.
type Identity struct {
	UserID string
	KeyID  string
	Scopes []string
}

// HasScope reports whether the identity carries the required scope, or the
// admin scope which satisfies everything.
func (id Identity) HasScope(required string) bool {
	for _, s := range id.Scopes {
		if s == required || s == model.ScopeAdmin {
			return true
		}
	}
	return false
}

// CredentialService implements magic-link issuance/redemption and API key
// authentication per the exact wire format "rw_prod_{key_id}.{secret}".
type CredentialService struct {
	db DB
}

func NewCredentialService(db DB) *CredentialService {
	return &CredentialService{db: db}
}

// IssueMagicLink creates a single-use token bound to a user and a set of
// scopes, expiring after ttl. The token itself is never stored; only its
// bcrypt hash is persisted, mirroring API key secret storage.
func (s *CredentialService) IssueMagicLink(ctx context.Context, userID string, scopes []string, ttl time.Duration) (string, *model.MagicLink, error) {
	token := platform.NewOpaqueToken(magicLinkLen)
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash magic link token: %w", err)
	}

	link := &model.MagicLink{
		Token:     token,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: time.Now().Add(ttl),
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO magic_links (token_hash, user_id, scopes, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, now()) RETURNING created_at`,
		string(hash), userID, scopes, link.ExpiresAt,
	).Scan(&link.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("insert magic link: %w", err)
	}

	return token, link, nil
}

// RedeemMagicLink exchanges a magic-link token for a freshly minted API key.
// Redemption is an atomic compare-and-set on used_at: the UPDATE only
// succeeds for rows where used_at IS NULL, so two concurrent redemptions of
// the same token can never both succeed.
func (s *CredentialService) RedeemMagicLink(ctx context.Context, token string) (*model.APIKey, string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token_hash, user_id, scopes, expires_at, used_at FROM magic_links ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, "", fmt.Errorf("list magic links: %w", err)
	}
	defer rows.Close()

	var matchedHash, userID string
	var scopes []string
	var expiresAt time.Time
	var usedAt *time.Time
	found := false

	for rows.Next() {
		var hash, uid string
		var sc []string
		var exp time.Time
		var used *time.Time
		if err := rows.Scan(&hash, &uid, &sc, &exp, &used); err != nil {
			return nil, "", fmt.Errorf("scan magic link: %w", err)
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			matchedHash, userID, scopes, expiresAt, usedAt = hash, uid, sc, exp, used
			found = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate magic links: %w", err)
	}
	if !found {
		return nil, "", fmt.Errorf("magic link: %w", ErrNotFound)
	}
	if usedAt != nil {
		return nil, "", fmt.Errorf("magic link already redeemed: %w", ErrConflict)
	}
	if time.Now().After(expiresAt) {
		return nil, "", fmt.Errorf("magic link expired: %w", ErrForbidden)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE magic_links SET used_at = now() WHERE token_hash = $1 AND used_at IS NULL`,
		matchedHash,
	)
	if err != nil {
		return nil, "", fmt.Errorf("redeem magic link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the compare-and-set race to a concurrent redemption.
		return nil, "", fmt.Errorf("magic link already redeemed: %w", ErrConflict)
	}

	key, rawKey, err := s.CreateAPIKey(ctx, userID, scopes, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create api key from magic link: %w", err)
	}
	return key, rawKey, nil
}

// CreateAPIKey mints a new API key for a user in the wire format
// "rw_prod_{key_id}.{secret}". Only the bcrypt hash of secret is stored.
func (s *CredentialService) CreateAPIKey(ctx context.Context, userID string, scopes []string, expiresAt *time.Time) (*model.APIKey, string, error) {
	keyID := platform.NewOpaqueToken(apiKeyIDLen)
	secret := platform.NewOpaqueToken(apiKeySecret)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash api key secret: %w", err)
	}

	key := &model.APIKey{
		KeyID:     keyID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	}

	err = s.db.QueryRow(ctx,
		`INSERT INTO api_keys (key_id, user_id, secret_hash, scopes, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, now()) RETURNING created_at`,
		keyID, userID, string(hash), scopes, expiresAt,
	).Scan(&key.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("insert api key: %w", err)
	}

	rawKey := apiKeyPrefix + keyID + "." + secret
	return key, rawKey, nil
}

// Authenticate parses and verifies a raw API key presented in the
// X-API-Key header, returning the resolved Identity or a typed failure:
// BAD_FORMAT, UNKNOWN_KEY, REVOKED, EXPIRED, or MISMATCH.
func (s *CredentialService) Authenticate(ctx context.Context, rawKey string) (*Identity, error) {
	if !strings.HasPrefix(rawKey, apiKeyPrefix) {
		return nil, fmt.Errorf("bad api key format: %w", ErrInvalidInput)
	}
	body := strings.TrimPrefix(rawKey, apiKeyPrefix)
	parts := strings.SplitN(body, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("bad api key format: %w", ErrInvalidInput)
	}
	keyID, secret := parts[0], parts[1]

	var userID, secretHash string
	var scopes []string
	var expiresAt, revokedAt *time.Time

	err := s.db.QueryRow(ctx,
		`SELECT user_id, secret_hash, scopes, expires_at, revoked_at FROM api_keys WHERE key_id = $1`, keyID,
	).Scan(&userID, &secretHash, &scopes, &expiresAt, &revokedAt)
	if err != nil {
		return nil, fmt.Errorf("unknown api key: %w", ErrNotFound)
	}

	if revokedAt != nil {
		return nil, fmt.Errorf("api key revoked: %w", ErrForbidden)
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return nil, fmt.Errorf("api key expired: %w", ErrForbidden)
	}
	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) != nil {
		return nil, fmt.Errorf("api key secret mismatch: %w", ErrForbidden)
	}

	// Best-effort; a failure here must never block the request.
	_, _ = s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE key_id = $1`, keyID)

	return &Identity{UserID: userID, KeyID: keyID, Scopes: scopes}, nil
}

// RevokeAPIKey soft-deletes an API key owned by userID.
func (s *CredentialService) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE key_id = $1 AND user_id = $2 AND revoked_at IS NULL`,
		keyID, userID,
	)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", keyID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("api key %s: %w", keyID, ErrNotFound)
	}
	return nil
}

// ListAPIKeys returns every API key belonging to userID, newest first.
// Revoked keys are included, with RevokedAt set.
func (s *CredentialService) ListAPIKeys(ctx context.Context, userID string) ([]model.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key_id, user_id, scopes, expires_at, revoked_at, last_used_at, created_at
		 FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.KeyID, &k.UserID, &k.Scopes, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}
