package monitor

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

	"signal-core/internal/events"
	"signal-core/pkg/logger"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingSink) Send(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitorCountsAndAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &recordingSink{}
	metrics := NewSignalMetrics()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Monitor{Bus: bus, Sink: sink, Metrics: metrics, Log: logger.Discard()}
	done := m.Start(ctx)

	bus.Publish(events.EventOrderSubmitted, events.OrderUpdate{Symbol: "ETHUSDT"})
	bus.Publish(events.EventSignalHandled, events.SignalOutcome{Account: "main", Symbol: "ETHUSDT", Action: "OPEN_LONG"})
	bus.Publish(events.EventSignalFailed, events.SignalOutcome{Account: "main", Symbol: "ETHUSDT", Action: "CLOSE", Error: "no open position"})

	waitFor(t, func() bool { return sink.count() == 2 })
	snap := metrics.GetSnapshot()
	if snap.SignalsHandled != 1 || snap.SignalsFailed != 1 {
		t.Fatalf("handled=%d failed=%d", snap.SignalsHandled, snap.SignalsFailed)
	}
	waitFor(t, func() bool { return metrics.GetSnapshot().OrdersSubmitted == 1 })

	cancel()
	<-done
}

func TestMonitorAlertFailureCounted(t *testing.T) {
	bus := events.NewBus()
	metrics := NewSignalMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &Monitor{Bus: bus, Sink: &recordingSink{err: errors.New("down")}, Metrics: metrics, Log: logger.Discard()}
	m.Start(ctx)

	bus.Publish(events.EventBracketFailed, events.SignalOutcome{Symbol: "ETHUSDT", Error: "stop-loss failed"})
	waitFor(t, func() bool { return metrics.GetSnapshot().AlertFailures == 1 })
	if metrics.GetSnapshot().BracketFailures != 1 {
		t.Fatalf("bracket failure not counted")
	}
}

func TestFormatAlert(t *testing.T) {
	msg := FormatAlert(events.SignalOutcome{
		Account:  "main",
		Symbol:   "ETHUSDT",
		Action:   "OPEN_LONG",
		Warnings: []string{"take-profit failed"},
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if !strings.HasPrefix(msg, "[2024-01-02T03:04:05Z] main ETHUSDT OPEN_LONG ok") {
		t.Fatalf("unexpected message %q", msg)
	}
	if !strings.Contains(msg, "warning: take-profit failed") {
		t.Fatalf("warning missing from %q", msg)
	}
}

func TestWebhookSink(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"errcode":0}`))
	}))
	defer srv.Close()

	if err := NewWebhookSink(srv.URL).Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.MsgType != "text" || got.Text.Content != "hello" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestWebhookSinkStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL).Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 10} {
		h.Record(v)
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 1 || s.Max != 10 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{err: errors.New("b down")}
	err := MultiSink{a, b}.Send(context.Background(), "x")
	if err == nil || a.count() != 1 || b.count() != 1 {
		t.Fatalf("err=%v a=%d b=%d", err, a.count(), b.count())
	}
}
