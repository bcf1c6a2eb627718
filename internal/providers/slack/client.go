package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

type Client struct {
	HTTP *http.Client

	BaseURL string
}

// RemoteError is a delivery the messaging API explicitly rejected, e.g.
// channel_not_found or missing_scope. Transport failures are returned
// as plain errors instead.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string { return "remote rejected: " + e.Reason }

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Post delivers one message. nil means the remote accepted it.
func (c *Client) Post(ctx context.Context, accessToken, channel, text string) error {
	payload, _ := json.Marshal(map[string]string{
		"channel": channel,
		"text":    text,
	})

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/chat.postMessage"), bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out apiResponse
	_ = json.Unmarshal(b, &out)

	if !out.OK {
		reason := out.Error
		if reason == "" {
			reason = "http_" + strconv.Itoa(resp.StatusCode)
		}
		return &RemoteError{Reason: reason}
	}
	return nil
}

type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type channelsResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error"`
	Channels []Channel `json:"channels"`
}

// ListChannels returns the public channels the installation can see.
func (c *Client) ListChannels(ctx context.Context, accessToken string) ([]Channel, error) {
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint("/api/conversations.list")+"?types=public_channel&limit=200", nil)
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out channelsResponse
	_ = json.Unmarshal(b, &out)

	if !out.OK {
		reason := out.Error
		if reason == "" {
			reason = "http_" + strconv.Itoa(resp.StatusCode)
		}
		return nil, &RemoteError{Reason: reason}
	}
	return out.Channels, nil
}

func (c *Client) endpoint(path string) string {
	baseURL := strings.TrimRight(c.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://slack.com"
	}
	return baseURL + path
}
