package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"trade-core/internal/config"
	"trade-core/internal/ledger"
	"trade-core/internal/order"
	"trade-core/internal/risk"
	"trade-core/internal/sizer"
)

type stubGate struct {
	decision risk.Decision
	inputs   []risk.TradeInput
	resetErr error
	resets   int
	outcomes []float64
}

func (s *stubGate) Evaluate(ctx context.Context, input risk.TradeInput) risk.Decision {
	s.inputs = append(s.inputs, input)
	return s.decision
}

func (s *stubGate) ResetDay(ctx context.Context) error {
	s.resets++
	return s.resetErr
}

func (s *stubGate) RecordOutcome(pnl float64) {
	s.outcomes = append(s.outcomes, pnl)
}

type stubSubmitter struct {
	result   order.Result
	requests []order.Request
}

func (s *stubSubmitter) Submit(ctx context.Context, req order.Request) order.Result {
	s.requests = append(s.requests, req)
	res := s.result
	res.FilledQty = req.Size
	return res
}

type stubAudit struct {
	entries []AuditEntry
	err     error
}

func (s *stubAudit) Append(ctx context.Context, entry AuditEntry) error {
	s.entries = append(s.entries, entry)
	return s.err
}

type stubNotifier struct {
	events []string
}

func (s *stubNotifier) Notify(ctx context.Context, event, message string) {
	s.events = append(s.events, event)
}

func allowGate() *stubGate {
	return &stubGate{decision: risk.Decision{Allow: true, Reason: risk.ReasonOK}}
}

func filledSubmitter() *stubSubmitter {
	return &stubSubmitter{result: order.Result{OrderID: "ord-1", Status: order.StatusFilled, AvgPrice: 100}}
}

func newEngine(t *testing.T, gate *stubGate, submit Submitter, audit *stubAudit, alerts *stubNotifier) (*Engine, *ledger.Ledger) {
	t.Helper()
	book := ledger.New(config.LedgerConfig{InitialCash: 100000}, nil)

	var g tradeGate
	if gate != nil {
		g = gate
	}
	var a auditor
	if audit != nil {
		a = audit
	}
	var n notifier
	if alerts != nil {
		n = alerts
	}

	e, err := New(book, g, nil, submit, a, n, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e, book
}

func buySignal(price float64) TradeSignal {
	size := 10.0
	return TradeSignal{Symbol: "AAPL", Side: "BUY", Price: &price, Size: &size}
}

func TestEngine_HoldIsIgnored(t *testing.T) {
	submit := filledSubmitter()
	audit := &stubAudit{}
	alerts := &stubNotifier{}
	e, _ := newEngine(t, allowGate(), submit, audit, alerts)

	sides := []string{"HOLD", "hold", " Hold "}
	for _, side := range sides {
		res := e.ProcessSignal(context.Background(), TradeSignal{Symbol: "AAPL", Side: side})
		if res.Status != StatusIgnored {
			t.Errorf("side %q: expected ignored, got %s", side, res.Status)
		}
	}
	if len(submit.requests) != 0 {
		t.Errorf("HOLD must not reach the order manager")
	}
	if len(audit.entries) != len(sides) {
		t.Errorf("every HOLD should leave an audit row, got %d", len(audit.entries))
	}
	for _, entry := range audit.entries {
		if entry.Status != StatusIgnored || entry.Symbol != "AAPL" {
			t.Errorf("unexpected audit entry %+v", entry)
		}
	}
	if len(alerts.events) != 0 {
		t.Errorf("ignored signals must not alert, got %v", alerts.events)
	}
}

func TestEngine_InvalidSideRejected(t *testing.T) {
	e, _ := newEngine(t, allowGate(), filledSubmitter(), nil, nil)

	price := 100.0
	res := e.ProcessSignal(context.Background(), TradeSignal{Symbol: "AAPL", Side: "LONG", Price: &price})
	if res.Status != StatusRejected || res.Reason != "invalid_side" {
		t.Errorf("expected rejected/invalid_side, got %s/%s", res.Status, res.Reason)
	}
}

func TestEngine_InvalidPriceRejected(t *testing.T) {
	e, _ := newEngine(t, allowGate(), filledSubmitter(), nil, nil)

	bad := []*float64{nil, floatPtr(0), floatPtr(-5), floatPtr(math.NaN())}
	for _, price := range bad {
		res := e.ProcessSignal(context.Background(), TradeSignal{Symbol: "AAPL", Side: "BUY", Price: price})
		if res.Status != StatusRejected || res.Reason != "invalid_price" {
			t.Errorf("price %v: expected rejected/invalid_price, got %s/%s", price, res.Status, res.Reason)
		}
	}
}

func TestEngine_UnknownAlgoRejectedBeforeDispatch(t *testing.T) {
	submit := filledSubmitter()
	e, _ := newEngine(t, allowGate(), submit, nil, nil)

	sig := buySignal(100)
	sig.Algo = "sniper"
	res := e.ProcessSignal(context.Background(), sig)
	if res.Status != StatusRejected || res.Reason != "invalid_algo" {
		t.Fatalf("expected rejected/invalid_algo, got %s/%s", res.Status, res.Reason)
	}
	if len(submit.requests) != 0 {
		t.Errorf("unknown algo must not produce child orders")
	}
}

func TestEngine_GateVetoBlocks(t *testing.T) {
	gate := &stubGate{decision: risk.Decision{Allow: false, Reason: risk.ReasonDrawdownLimit}}
	submit := filledSubmitter()
	alerts := &stubNotifier{}
	e, _ := newEngine(t, gate, submit, nil, alerts)

	res := e.ProcessSignal(context.Background(), buySignal(100))
	if res.Status != StatusBlocked || res.Reason != string(risk.ReasonDrawdownLimit) {
		t.Fatalf("expected blocked veto, got %s/%s", res.Status, res.Reason)
	}
	if len(submit.requests) != 0 {
		t.Errorf("vetoed signal must not dispatch")
	}
	if len(alerts.events) != 1 {
		t.Errorf("expected one non-fill alert, got %d", len(alerts.events))
	}
}

func TestEngine_FilledPassThroughWithAudit(t *testing.T) {
	gate := allowGate()
	audit := &stubAudit{}
	e, _ := newEngine(t, gate, filledSubmitter(), audit, nil)

	res := e.ProcessSignal(context.Background(), buySignal(100))
	if res.Status != StatusFilled {
		t.Fatalf("expected filled, got %s: %s", res.Status, res.Reason)
	}
	if res.FilledQty != 10 {
		t.Errorf("expected filled qty 10, got %f", res.FilledQty)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit row, got %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Symbol != "AAPL" || entry.Status != StatusFilled || entry.Equity != 100000 {
		t.Errorf("unexpected audit entry %+v", entry)
	}
	if len(gate.inputs) != 1 || gate.inputs[0].Size != 10 {
		t.Errorf("gate should see the sized trade, got %+v", gate.inputs)
	}
}

func TestEngine_UnknownStatusNormalized(t *testing.T) {
	submit := &stubSubmitter{result: order.Result{Status: order.Status("teleported")}}
	e, _ := newEngine(t, allowGate(), submit, nil, nil)

	res := e.ProcessSignal(context.Background(), buySignal(100))
	if res.Status != StatusRejected || res.Reason != "invalid_status" {
		t.Errorf("expected rejected/invalid_status, got %s/%s", res.Status, res.Reason)
	}
}

func TestEngine_AuditFailureKeepsStatus(t *testing.T) {
	audit := &stubAudit{err: errors.New("disk full")}
	e, _ := newEngine(t, allowGate(), filledSubmitter(), audit, nil)

	res := e.ProcessSignal(context.Background(), buySignal(100))
	if res.Status != StatusFilled {
		t.Errorf("audit failure must not change trade status, got %s", res.Status)
	}
}

func TestEngine_SizerFallbackWhenSizeMissing(t *testing.T) {
	book := ledger.New(config.LedgerConfig{InitialCash: 100000}, nil)
	submit := filledSubmitter()
	szr := sizer.New(config.SizerConfig{WinRate: 0.55, Payoff: 2, FractionCap: 0.25, MinSize: 1}, nil)

	e, err := New(book, nil, szr, submit, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	price := 100.0
	res := e.ProcessSignal(context.Background(), TradeSignal{Symbol: "AAPL", Side: "BUY", Price: &price})
	if res.Status != StatusFilled {
		t.Fatalf("expected filled, got %s", res.Status)
	}
	// f* = 0.55 − 0.45/2 = 0.325，封顶 0.25；0.25×100000/100 = 250。
	if len(submit.requests) != 1 || submit.requests[0].Size != 250 {
		t.Errorf("expected Kelly size 250, got %+v", submit.requests)
	}
}

func TestEngine_TwapSplitsOrder(t *testing.T) {
	submit := filledSubmitter()
	e, _ := newEngine(t, allowGate(), submit, nil, nil)

	sig := buySignal(100)
	sig.Algo = "twap"
	res := e.ProcessSignal(context.Background(), sig)
	if res.Status != StatusFilled {
		t.Fatalf("expected filled, got %s", res.Status)
	}
	if len(submit.requests) != 4 {
		t.Fatalf("expected 4 twap slices, got %d", len(submit.requests))
	}
	for _, req := range submit.requests {
		if math.Abs(req.Size-2.5) > 1e-9 {
			t.Errorf("expected slice size 2.5, got %f", req.Size)
		}
	}
	if math.Abs(res.FilledQty-10) > 1e-9 {
		t.Errorf("expected aggregate fill 10, got %f", res.FilledQty)
	}
}

func TestEngine_IcebergStopsOnFailedClip(t *testing.T) {
	submit := &scriptedSubmitter{
		results: []order.Result{
			{Status: order.StatusFilled, AvgPrice: 100},
			{Status: order.StatusError, Reason: "venue down"},
		},
	}
	e, _ := newEngine(t, allowGate(), submit, nil, nil)

	sig := buySignal(100)
	sig.Algo = "iceberg"
	res := e.ProcessSignal(context.Background(), sig)
	if res.Status != StatusError {
		t.Fatalf("expected error after failed clip, got %s", res.Status)
	}
	// 第一片 2.5 已成交，之后停止。
	if math.Abs(res.FilledQty-2.5) > 1e-9 {
		t.Errorf("expected partial fill 2.5 retained, got %f", res.FilledQty)
	}
	if len(submit.requests) != 2 {
		t.Errorf("expected dispatch to stop after failure, got %d slices", len(submit.requests))
	}
}

func TestEngine_ResetDayAggregatesFailures(t *testing.T) {
	gate := allowGate()
	gate.resetErr = errors.New("tracker offline")
	e, _ := newEngine(t, gate, filledSubmitter(), nil, nil)

	err := e.ResetDay(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if gate.resets != 1 {
		t.Errorf("gate reset should still run, got %d", gate.resets)
	}
}

func TestEngine_RecordTradeOutcome(t *testing.T) {
	gate := allowGate()
	e, _ := newEngine(t, gate, filledSubmitter(), nil, nil)

	e.RecordTradeOutcome(125.5)
	if len(gate.outcomes) != 1 || gate.outcomes[0] != 125.5 {
		t.Errorf("expected outcome forwarded, got %v", gate.outcomes)
	}
}

type scriptedSubmitter struct {
	results  []order.Result
	requests []order.Request
}

func (s *scriptedSubmitter) Submit(ctx context.Context, req order.Request) order.Result {
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	if res.Status == order.StatusFilled {
		res.FilledQty = req.Size
	}
	return res
}

func floatPtr(v float64) *float64 { return &v }
