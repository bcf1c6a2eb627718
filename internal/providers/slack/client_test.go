package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostDelivered(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat.postMessage" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	if err := c.Post(context.Background(), "xoxe-1", "C123", "hello"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotAuth != "Bearer xoxe-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["channel"] != "C123" || gotBody["text"] != "hello" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestPostRemoteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	err := c.Post(context.Background(), "xoxe-1", "C404", "hello")

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Reason != "channel_not_found" {
		t.Fatalf("unexpected reason %q", remote.Reason)
	}
}

func TestPostTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := srv.Client()
	srv.Close() // connection refused from here on

	c := &Client{BaseURL: srv.URL, HTTP: client}
	err := c.Post(context.Background(), "xoxe-1", "C123", "hello")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		t.Fatalf("transport failure must not look like a remote rejection: %v", err)
	}
}

func TestListChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations.list" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok": true, "channels": [{"id": "C1", "name": "general"}, {"id": "C2", "name": "random"}]}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	channels, err := c.ListChannels(context.Background(), "xoxe-1")
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 || channels[0].Name != "general" {
		t.Fatalf("unexpected channels %+v", channels)
	}
}
