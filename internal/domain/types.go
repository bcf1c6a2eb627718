package domain

import "errors"

type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// ErrNotAuthorized means no credential is on file for the tenant; the
// workspace has to go through the install flow (again).
var ErrNotAuthorized = errors.New("not_authorized")

// ErrRefreshFailed means the authorization service rejected the refresh
// token or was unreachable during rotation. The stored credential is
// left untouched so a later attempt can retry with it.
var ErrRefreshFailed = errors.New("refresh_failed")

var ErrMissingFields = errors.New("missing required fields")

type ScheduleRequest struct {
	TeamID  string `json:"teamId"`
	Channel string `json:"channel"`
	Text    string `json:"text"`
	SendAt  int64  `json:"sendAt,omitempty"` // unix seconds; 0 means now
}

func (r ScheduleRequest) Validate() error {
	if r.TeamID == "" || r.Channel == "" || r.Text == "" {
		return ErrMissingFields
	}
	return nil
}

type ScheduleResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	SendAt    int64  `json:"sendAt"`
}
