package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relay/internal/alert"
	"relay/internal/domain"
	"relay/internal/providers/slack"
	"relay/internal/store"
)

type memScheduleStore struct {
	mu     sync.Mutex
	items  map[string]*store.ScheduledDelivery
	writes int

	// staleDueSet simulates an overlapping scan that read the due set
	// before the first scan settled anything.
	staleDueSet []store.ScheduledDelivery
}

func newMemScheduleStore(items ...store.ScheduledDelivery) *memScheduleStore {
	m := &memScheduleStore{items: map[string]*store.ScheduledDelivery{}}
	for i := range items {
		it := items[i]
		m.items[it.ID] = &it
	}
	return m
}

func (m *memScheduleStore) DueDeliveries(ctx context.Context, now time.Time) ([]store.ScheduledDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleDueSet != nil {
		return m.staleDueSet, nil
	}
	var out []store.ScheduledDelivery
	for _, it := range m.items {
		if it.Status == "pending" && !it.NotBefore.After(now) {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (m *memScheduleStore) MarkDeliveryStatus(ctx context.Context, in store.DeliveryStatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[in.ID]
	if !ok || it.Status != "pending" {
		return false, nil
	}
	it.Status = in.Status
	it.FailReason = in.FailReason
	it.UpdatedAt = in.Now
	m.writes++
	return true, nil
}

func (m *memScheduleStore) status(id string) (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[id]
	return it.Status, it.FailReason
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) Resolve(ctx context.Context, tenantID string) (string, error) {
	return f.token, f.err
}

type fakeSender struct {
	mu    sync.Mutex
	calls []string // channel per call
	errBy map[string]error
}

func (f *fakeSender) Post(ctx context.Context, accessToken, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channel)
	if f.errBy != nil {
		return f.errBy[channel]
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (f *fakeAlerts) Publish(ctx context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func dueItem(id string) store.ScheduledDelivery {
	return store.ScheduledDelivery{
		ID:          id,
		TenantID:    "T1",
		Destination: "C123",
		Body:        "hello",
		NotBefore:   time.Now().Add(-10 * time.Second),
		Status:      "pending",
	}
}

func TestScanSendsDueItem(t *testing.T) {
	st := newMemScheduleStore(dueItem("sched_1"))
	sender := &fakeSender{}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: sender}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if got := sender.callCount(); got != 1 {
		t.Fatalf("expected 1 send, got %d", got)
	}
	status, reason := st.status("sched_1")
	if status != "sent" || reason != "" {
		t.Fatalf("expected sent, got %s (%s)", status, reason)
	}
}

func TestScanMarksRemoteRejectionFailed(t *testing.T) {
	st := newMemScheduleStore(dueItem("sched_1"))
	sender := &fakeSender{errBy: map[string]error{"C123": &slack.RemoteError{Reason: "channel_not_found"}}}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: sender}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	status, reason := st.status("sched_1")
	if status != "failed" || reason != "channel_not_found" {
		t.Fatalf("expected failed/channel_not_found, got %s (%s)", status, reason)
	}
}

func TestScanMarksTransportErrorFailed(t *testing.T) {
	st := newMemScheduleStore(dueItem("sched_1"))
	sender := &fakeSender{errBy: map[string]error{"C123": errors.New("dial tcp: connection refused")}}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: sender}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	status, reason := st.status("sched_1")
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
	if reason != "transport_error: dial tcp: connection refused" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestScanFailsItemWhenNotAuthorized(t *testing.T) {
	st := newMemScheduleStore(dueItem("sched_1"))
	sender := &fakeSender{}
	e := &Engine{Store: st, Tokens: &fakeTokens{err: domain.ErrNotAuthorized}, Sender: sender}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if sender.callCount() != 0 {
		t.Fatalf("expected no send when credential resolution fails")
	}
	status, reason := st.status("sched_1")
	if status != "failed" || reason != "not_authorized" {
		t.Fatalf("expected failed/not_authorized, got %s (%s)", status, reason)
	}
}

func TestRefreshFailurePublishesAlert(t *testing.T) {
	st := newMemScheduleStore(dueItem("sched_1"))
	alerts := &fakeAlerts{}
	e := &Engine{
		Store:  st,
		Tokens: &fakeTokens{err: fmt.Errorf("%w: invalid_refresh_token", domain.ErrRefreshFailed)},
		Sender: &fakeSender{},
		Alerts: alerts,
	}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	status, _ := st.status("sched_1")
	if status != "failed" {
		t.Fatalf("expected failed, got %s", status)
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].TenantID != "T1" {
		t.Fatalf("expected one alert for T1, got %+v", alerts.alerts)
	}
}

func TestOverlappingScansSettleOnce(t *testing.T) {
	item := dueItem("sched_1")
	st := newMemScheduleStore(item)
	// Both scans observe the same stale due set, as if the second timer
	// fired while the first scan was still in flight.
	st.staleDueSet = []store.ScheduledDelivery{item}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: &fakeSender{}}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	st.mu.Lock()
	writes := st.writes
	st.mu.Unlock()
	if writes != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", writes)
	}
	status, _ := st.status("sched_1")
	if status != "sent" {
		t.Fatalf("expected sent, got %s", status)
	}
}

func TestNotDueItemSkipped(t *testing.T) {
	item := dueItem("sched_1")
	item.NotBefore = time.Now().Add(time.Hour)
	st := newMemScheduleStore(item)
	sender := &fakeSender{}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: sender}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if sender.callCount() != 0 {
		t.Fatalf("expected no send for future item")
	}
	status, _ := st.status("sched_1")
	if status != "pending" {
		t.Fatalf("expected still pending, got %s", status)
	}
}

func TestItemFailureDoesNotBlockOthers(t *testing.T) {
	a := dueItem("sched_a")
	b := dueItem("sched_b")
	b.Destination = "C456"
	st := newMemScheduleStore(a, b)
	sender := &fakeSender{errBy: map[string]error{"C123": &slack.RemoteError{Reason: "is_archived"}}}
	e := &Engine{Store: st, Tokens: &fakeTokens{token: "xoxe-1"}, Sender: sender, Concurrency: 4}

	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	statusA, reasonA := st.status("sched_a")
	if statusA != "failed" || reasonA != "is_archived" {
		t.Fatalf("expected sched_a failed/is_archived, got %s (%s)", statusA, reasonA)
	}
	statusB, _ := st.status("sched_b")
	if statusB != "sent" {
		t.Fatalf("expected sched_b sent, got %s", statusB)
	}
}
