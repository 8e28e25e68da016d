package monitor

import (
	"context"
	"encoding/json"
	"testing"

	"trade-core/internal/config"
	"trade-core/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestService_RecordAndListByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordSignal(ctx, "AAPL", "BUY", "twap", map[string]float64{"alpha": 0.7})
	svc.RecordDispatch(ctx, DispatchPayload{Symbol: "AAPL", Side: "BUY", Status: "filled", FilledQty: 10, AvgPrice: 187.5})
	svc.RecordError(ctx, "下游异常", nil, nil)

	events, err := svc.ListEvents(ctx, EventDispatch, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 dispatch event, got %d", len(events))
	}

	raw, ok := events[0].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw payload, got %T", events[0].Payload)
	}
	var payload DispatchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.Status != "filled" || payload.FilledQty != 10 {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestService_ListAllTypesNewestFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordSignal(ctx, "AAPL", "BUY", "", nil)
	svc.RecordSignal(ctx, "MSFT", "SELL", "", nil)

	events, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	var first SignalPayload
	if err := json.Unmarshal(events[0].Payload.(json.RawMessage), &first); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if first.Symbol != "MSFT" {
		t.Errorf("expected newest event first, got %+v", first)
	}
}

func TestService_ListRespectsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordSignal(ctx, "AAPL", "BUY", "", nil)
	}

	events, err := svc.ListEvents(ctx, EventSignal, 3)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected limit 3 applied, got %d", len(events))
	}
}
