package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to the Slack-style oauth.v2.access endpoint, which serves
// both the authorization-code exchange and refresh-token rotation.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTP         *http.Client

	BaseURL string
}

// Grant is the normalized token response. TeamID is only present on the
// initial code exchange; ExpiresIn is 0 when rotation is not enabled for
// the app, in which case the token does not expire.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TeamID       string
	Scope        string
}

type accessResponse struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	Team         struct {
		ID string `json:"id"`
	} `json:"team"`
}

// Exchange trades an authorization code for the initial token pair.
func (c *Client) Exchange(ctx context.Context, code string) (Grant, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.RedirectURL)

	out, err := c.post(ctx, form)
	if err != nil {
		return Grant{}, err
	}
	if out.Team.ID == "" {
		return Grant{}, errors.New("no team id in oauth response")
	}
	return Grant{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    out.ExpiresIn,
		TeamID:       out.Team.ID,
		Scope:        out.Scope,
	}, nil
}

// Rotate trades a refresh token for a new token pair. The remote may
// invalidate the old refresh token on first use, so callers must not
// race rotations for the same tenant.
func (c *Client) Rotate(ctx context.Context, refreshToken string) (Grant, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	out, err := c.post(ctx, form)
	if err != nil {
		return Grant{}, err
	}
	return Grant{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresIn:    out.ExpiresIn,
		Scope:        out.Scope,
	}, nil
}

func (c *Client) post(ctx context.Context, form url.Values) (accessResponse, error) {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://slack.com"
	}
	endpoint := baseURL + "/api/oauth.v2.access"

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return accessResponse{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out accessResponse
	_ = json.Unmarshal(b, &out)

	if !out.OK {
		if out.Error != "" {
			return accessResponse{}, errors.New(out.Error)
		}
		return accessResponse{}, errors.New("oauth.v2.access failed")
	}
	return out, nil
}
