package service

import (
	"context"
	"time"

	"relay/internal/domain"
	"relay/internal/oauth"
	"relay/internal/store"
)

type Store interface {
	InsertDelivery(ctx context.Context, in store.DeliveryInsert) error
	DeletePendingDelivery(ctx context.Context, id string) (bool, error)
	ListPendingByTenant(ctx context.Context, tenantID string) ([]store.ScheduledDelivery, error)
	GetDelivery(ctx context.Context, id string) (store.ScheduledDelivery, bool, error)
	UpsertCredential(ctx context.Context, c store.Credential) error
}

// SchedulerService is what the HTTP layer calls into. It owns no
// delivery logic; the dispatcher picks the rows up later.
type SchedulerService struct {
	Store  Store
	Margin time.Duration
}

// Schedule inserts a pending delivery. A zero SendAt means "deliver on
// the next scan". Field validation happens in the handler, before a row
// ever reaches pending state.
func (s *SchedulerService) Schedule(ctx context.Context, req domain.ScheduleRequest, id string, now time.Time) (domain.ScheduleResponse, error) {
	notBefore := now
	if req.SendAt > 0 {
		notBefore = time.Unix(req.SendAt, 0)
	}

	err := s.Store.InsertDelivery(ctx, store.DeliveryInsert{
		ID:          id,
		TenantID:    req.TeamID,
		Destination: req.Channel,
		Body:        req.Text,
		NotBefore:   notBefore,
		Now:         now,
	})
	if err != nil {
		return domain.ScheduleResponse{}, err
	}
	return domain.ScheduleResponse{
		MessageID: id,
		Status:    string(domain.StatusPending),
		SendAt:    notBefore.Unix(),
	}, nil
}

// Cancel deletes a delivery while it is still pending. It returns false
// when there is nothing to delete: unknown id, already sent or failed,
// or an in-flight dispatch attempt won the race and settled the row.
func (s *SchedulerService) Cancel(ctx context.Context, id string) (bool, error) {
	return s.Store.DeletePendingDelivery(ctx, id)
}

func (s *SchedulerService) ListPending(ctx context.Context, tenantID string) ([]store.ScheduledDelivery, error) {
	return s.Store.ListPendingByTenant(ctx, tenantID)
}

func (s *SchedulerService) GetDelivery(ctx context.Context, id string) (store.ScheduledDelivery, bool, error) {
	return s.Store.GetDelivery(ctx, id)
}

// RecordAuthorization persists the token pair from a completed
// authorization-code exchange. Both tokens and the expiry are replaced
// together; the upsert keeps exactly one credential per tenant.
func (s *SchedulerService) RecordAuthorization(ctx context.Context, grant oauth.Grant, now time.Time) error {
	margin := s.Margin
	if margin <= 0 {
		margin = oauth.DefaultMargin
	}
	return s.Store.UpsertCredential(ctx, store.Credential{
		TenantID:     grant.TeamID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    oauth.ExpiryFrom(now, grant.ExpiresIn, margin),
		Scope:        grant.Scope,
		UpdatedAt:    now,
	})
}
