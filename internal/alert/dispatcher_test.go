package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"trade-core/internal/config"
)

type fakeChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, event, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, event+":"+message)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatcher_FansOutToAllChannels(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	d := NewWithChannels(config.AlertConfig{}, []Channel{a, b}, nil)

	if err := d.Send(context.Background(), "risk_veto", "AAPL blocked"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both channels to receive the alert, got a=%d b=%d", a.count(), b.count())
	}
}

func TestDispatcher_ChannelFailureIsIsolated(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("connection refused")}
	healthy := &fakeChannel{name: "healthy"}
	d := NewWithChannels(config.AlertConfig{}, []Channel{broken, healthy}, nil)

	err := d.Send(context.Background(), "order_error", "dispatch failed")
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("expected failing channel named in error, got %v", err)
	}
	if healthy.count() != 1 {
		t.Errorf("healthy channel must still deliver, got %d", healthy.count())
	}
}

func TestDispatcher_DedupeWindow(t *testing.T) {
	ch := &fakeChannel{name: "ch"}
	d := NewWithChannels(config.AlertConfig{DedupeWindow: time.Minute}, []Channel{ch}, nil)

	for i := 0; i < 3; i++ {
		if err := d.Send(context.Background(), "daily_halt", "loss limit hit"); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if ch.count() != 1 {
		t.Errorf("expected duplicates suppressed, got %d sends", ch.count())
	}

	// 不同内容不受去重影响。
	if err := d.Send(context.Background(), "daily_halt", "another message"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if ch.count() != 2 {
		t.Errorf("expected distinct message delivered, got %d sends", ch.count())
	}
}

func TestDispatcher_NoChannelsIsNoop(t *testing.T) {
	d := NewWithChannels(config.AlertConfig{}, nil, nil)
	if err := d.Send(context.Background(), "anything", "anything"); err != nil {
		t.Errorf("expected noop, got %v", err)
	}
}

func TestWebhookChannel_PostsJSON(t *testing.T) {
	received := make(chan map[string]string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := newWebhookChannel(server.URL, 5*time.Second)
	if err := ch.Send(context.Background(), "latency_breach", "backend tripped"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	payload := <-received
	if payload["event"] != "latency_breach" || payload["message"] != "backend tripped" {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestWebhookChannel_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := newWebhookChannel(server.URL, 5*time.Second)
	if err := ch.Send(context.Background(), "e", "m"); err == nil {
		t.Errorf("expected error on 500 response")
	}
}
