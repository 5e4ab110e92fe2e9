package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"photojobs/internal/infra"
	"photojobs/internal/sqlinline"
)

// ProviderReplicate is the only inference provider with stored credentials.
const ProviderReplicate = "replicate"

var (
	ErrUnknownProvider = errors.New("unknown inference provider")
	ErrEmptyToken      = errors.New("provider token is required")
)

// Store persists inference provider tokens in provider_credentials so an
// operator can rotate them without redeploying.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the active token for provider, or "" when none is stored or
// it has been revoked.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	var token string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectProviderToken, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("load %s token: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider, clearing any revocation. props are
// merged into the existing properties.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderToken, provider, token, raw); err != nil {
		return fmt.Errorf("store %s token: %w", provider, err)
	}
	return nil
}

// Revoke disables the stored token. It reports whether an active token existed.
func (s *Store) Revoke(ctx context.Context, provider string) (bool, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return false, err
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QRevokeProviderToken, provider)
	if err != nil {
		return false, fmt.Errorf("revoke %s token: %w", provider, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Resolve prefers the explicit value and falls back to the stored token. A
// nil store resolves to the explicit value alone.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

func normalizeProvider(provider string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p != ProviderReplicate {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p, nil
}
