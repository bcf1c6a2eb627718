package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"relay/internal/domain"
	"relay/internal/oauth"
	"relay/internal/observability"
	"relay/internal/providers/slack"
	"relay/internal/service"
	"relay/internal/store"
)

// TokenSource resolves a usable access token for a tenant, rotating
// behind the scenes when needed.
type TokenSource interface {
	Resolve(ctx context.Context, tenantID string) (string, error)
}

type API struct {
	Svc    *service.SchedulerService
	OAuth  *oauth.Client
	Slack  *slack.Client
	Tokens TokenSource
	IDGen  func() string
	Now    func() time.Time

	FrontendURL string
	AuthBaseURL string
	// How far in the past a sendAt may lie before it is rejected; the
	// next scan would pick it up anyway, so a little clock skew is fine.
	ScheduleGrace time.Duration
}

var installScopes = "chat:write,channels:read"

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/auth/install", a.handleInstall).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", a.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages", a.handleSchedule).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", a.handleListPending).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", a.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/v1/channels", a.handleListChannels).Methods(http.MethodGet)
}

func (a *API) handleInstall(w http.ResponseWriter, r *http.Request) {
	base := a.AuthBaseURL
	if base == "" {
		base = "https://slack.com"
	}
	authURL := base + "/oauth/v2/authorize" +
		"?client_id=" + url.QueryEscape(a.OAuth.ClientID) +
		"&scope=" + url.QueryEscape(installScopes) +
		"&redirect_uri=" + url.QueryEscape(a.OAuth.RedirectURL)
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		observability.APIRequests.WithLabelValues("/auth/callback", "400").Inc()
		http.Error(w, "no authorization code provided", 400)
		return
	}

	grant, err := a.OAuth.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("oauth exchange failed", "err", err)
		observability.APIRequests.WithLabelValues("/auth/callback", "502").Inc()
		http.Error(w, "oauth exchange failed: "+err.Error(), 502)
		return
	}

	if err := a.Svc.RecordAuthorization(r.Context(), grant, a.now()); err != nil {
		slog.Error("record authorization failed", "err", err, "tenant_id", grant.TeamID)
		observability.APIRequests.WithLabelValues("/auth/callback", "502").Inc()
		http.Error(w, "db error", 502)
		return
	}

	observability.APIRequests.WithLabelValues("/auth/callback", "302").Inc()
	http.Redirect(w, r, a.FrontendURL+"/?team_id="+url.QueryEscape(grant.TeamID), http.StatusFound)
}

func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req domain.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.APIRequests.WithLabelValues("/v1/messages", "400").Inc()
		http.Error(w, "invalid json", 400)
		return
	}
	if err := req.Validate(); err != nil {
		observability.APIRequests.WithLabelValues("/v1/messages", "400").Inc()
		http.Error(w, err.Error(), 400)
		return
	}

	now := a.now()
	if req.SendAt > 0 && time.Unix(req.SendAt, 0).Before(now.Add(-a.ScheduleGrace)) {
		observability.APIRequests.WithLabelValues("/v1/messages", "400").Inc()
		http.Error(w, "sendAt is in the past", 400)
		return
	}

	resp, err := a.Svc.Schedule(r.Context(), req, a.IDGen(), now)
	if err != nil {
		slog.Error("schedule failed", "err", err, "tenant_id", req.TeamID, "channel", req.Channel)
		observability.APIRequests.WithLabelValues("/v1/messages", "502").Inc()
		http.Error(w, "db error", 502)
		return
	}

	observability.APIRequests.WithLabelValues("/v1/messages", "201").Inc()
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("teamId")
	if teamID == "" {
		http.Error(w, "missing teamId", 400)
		return
	}
	items, err := a.Svc.ListPending(r.Context(), teamID)
	if err != nil {
		slog.Error("list pending failed", "err", err, "tenant_id", teamID)
		http.Error(w, "db error", 502)
		return
	}
	out := make([]deliveryView, 0, len(items))
	for _, d := range items {
		out = append(out, viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, found, err := a.Svc.GetDelivery(r.Context(), id)
	if err != nil {
		slog.Error("get delivery failed", "err", err, "id", id)
		http.Error(w, "db error", 502)
		return
	}
	if !found {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d))
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := a.Svc.Cancel(r.Context(), id)
	if err != nil {
		slog.Error("cancel failed", "err", err, "id", id)
		http.Error(w, "db error", 502)
		return
	}
	if !ok {
		// Unknown id, already settled, or a dispatch attempt won the race.
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListChannels(w http.ResponseWriter, r *http.Request) {
	teamID := r.URL.Query().Get("teamId")
	if teamID == "" {
		http.Error(w, "missing teamId", 400)
		return
	}

	token, err := a.Tokens.Resolve(r.Context(), teamID)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			http.Error(w, "workspace not found, please re-authenticate", 404)
			return
		}
		slog.Error("resolve token failed", "err", err, "tenant_id", teamID)
		http.Error(w, "credential error", 502)
		return
	}

	channels, err := a.Slack.ListChannels(r.Context(), token)
	if err != nil {
		slog.Error("list channels failed", "err", err, "tenant_id", teamID)
		http.Error(w, "failed to fetch channels", 502)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

type deliveryView struct {
	ID         string `json:"id"`
	TeamID     string `json:"teamId"`
	Channel    string `json:"channel"`
	Text       string `json:"text"`
	SendAt     int64  `json:"sendAt"`
	Status     string `json:"status"`
	FailReason string `json:"failReason,omitempty"`
}

func viewOf(d store.ScheduledDelivery) deliveryView {
	return deliveryView{
		ID:         d.ID,
		TeamID:     d.TenantID,
		Channel:    d.Destination,
		Text:       d.Body,
		SendAt:     d.NotBefore.Unix(),
		Status:     d.Status,
		FailReason: d.FailReason,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
