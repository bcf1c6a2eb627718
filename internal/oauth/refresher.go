package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"relay/internal/domain"
	"relay/internal/observability"
	"relay/internal/store"
)

type CredentialStore interface {
	GetCredential(ctx context.Context, tenantID string) (store.Credential, bool, error)
	UpsertCredential(ctx context.Context, c store.Credential) error
}

type Rotator interface {
	Rotate(ctx context.Context, refreshToken string) (Grant, error)
}

// DefaultMargin is the lead time before actual expiry at which a token
// is proactively rotated.
const DefaultMargin = 60 * time.Second

// Refresher hands out a usable access token per tenant, rotating the
// stored credential when it is inside the safety margin. Rotations for
// the same tenant are single-flighted: the remote invalidates the old
// refresh token on first use, so a racing second call would strand the
// tenant.
type Refresher struct {
	Store  CredentialStore
	Client Rotator
	Margin time.Duration
	Now    func() time.Time

	group singleflight.Group
}

// Resolve returns a valid access token for the tenant.
// domain.ErrNotAuthorized: no credential on file.
// domain.ErrRefreshFailed: rotation was needed and the remote rejected
// it or was unreachable; the stored credential is left untouched.
func (r *Refresher) Resolve(ctx context.Context, tenantID string) (string, error) {
	cred, found, err := r.Store.GetCredential(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrNotAuthorized
	}
	if r.fresh(cred) {
		return cred.AccessToken, nil
	}

	token, err, _ := r.group.Do(tenantID, func() (any, error) {
		return r.rotate(ctx, tenantID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (r *Refresher) fresh(cred store.Credential) bool {
	if cred.ExpiresAt.IsZero() {
		return true
	}
	return cred.ExpiresAt.After(r.now().Add(r.margin()))
}

func (r *Refresher) rotate(ctx context.Context, tenantID string) (string, error) {
	// Re-read inside the flight: a caller that queued behind a finished
	// rotation must use the rotated credential, not trigger another one.
	cred, found, err := r.Store.GetCredential(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", domain.ErrNotAuthorized
	}
	if r.fresh(cred) {
		return cred.AccessToken, nil
	}

	grant, err := r.Client.Rotate(ctx, cred.RefreshToken)
	if err != nil {
		observability.Rotations.WithLabelValues("error").Inc()
		slog.Error("token rotation failed", "tenant_id", tenantID, "err", err)
		return "", fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}

	now := r.now()
	next := store.Credential{
		TenantID:     tenantID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    ExpiryFrom(now, grant.ExpiresIn, r.margin()),
		Scope:        grant.Scope,
		UpdatedAt:    now,
	}
	if next.Scope == "" {
		next.Scope = cred.Scope
	}
	if err := r.Store.UpsertCredential(ctx, next); err != nil {
		observability.Rotations.WithLabelValues("error").Inc()
		return "", err
	}

	observability.Rotations.WithLabelValues("ok").Inc()
	slog.Info("token rotated", "tenant_id", tenantID, "expires_at", next.ExpiresAt)
	return grant.AccessToken, nil
}

// ExpiryFrom computes the stored expiry: now + lifetime - margin, so the
// token is rotated before the remote actually invalidates it. A zero
// lifetime means the remote reported none.
func ExpiryFrom(now time.Time, expiresIn int64, margin time.Duration) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(expiresIn)*time.Second - margin)
}

func (r *Refresher) margin() time.Duration {
	if r.Margin > 0 {
		return r.Margin
	}
	return DefaultMargin
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
