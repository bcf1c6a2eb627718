package store

import "time"

// Credential is the delegated-access grant for one tenant (workspace).
// ExpiresAt zero means the remote never reported a lifetime: treat the
// token as non-expiring but unverified.
type Credential struct {
	TenantID     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	UpdatedAt    time.Time
}

type ScheduledDelivery struct {
	ID          string
	TenantID    string
	Destination string
	Body        string
	NotBefore   time.Time
	Status      string
	FailReason  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DeliveryInsert struct {
	ID          string
	TenantID    string
	Destination string
	Body        string
	NotBefore   time.Time
	Now         time.Time
}

// DeliveryStatusUpdate is a conditional terminal write: it only takes
// effect while the row is still pending.
type DeliveryStatusUpdate struct {
	ID         string
	Status     string
	FailReason string
	Now        time.Time
}
