package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signal-core/internal/events"
	"signal-core/pkg/logger"
)

// Monitor watches engine events, keeps counters and forwards signal outcomes
// to the alert sink. A nil Sink only counts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SignalMetrics
	Log     *logger.Logger
	// Timeout bounds one alert delivery.
	Timeout time.Duration
}

// Start consumes events until ctx is done. The returned channel closes once
// the consumer has stopped.
func (m *Monitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	log := m.Log.WithComponent("monitor")
	if m.Bus == nil || m.Metrics == nil {
		log.Warn("monitor not fully configured; skipping")
		close(done)
		return done
	}
	if m.Timeout <= 0 {
		m.Timeout = 5 * time.Second
	}

	topics := []events.Event{
		events.EventSignalHandled,
		events.EventSignalFailed,
		events.EventBracketFailed,
		events.EventOrderSubmitted,
		events.EventOrderRejected,
	}
	subs := make(map[events.Event]<-chan any, len(topics))
	var unsubs []func()
	for _, t := range topics {
		ch, unsub := m.Bus.Subscribe(t, 100)
		subs[t] = ch
		unsubs = append(unsubs, unsub)
	}

	go func() {
		defer close(done)
		defer func() {
			for _, u := range unsubs {
				u()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-subs[events.EventOrderSubmitted]:
				m.Metrics.IncrementSubmitted()
			case <-subs[events.EventOrderRejected]:
				m.Metrics.IncrementRejected()
			case msg := <-subs[events.EventSignalHandled]:
				m.Metrics.IncrementHandled()
				m.alert(ctx, log, msg)
			case msg := <-subs[events.EventSignalFailed]:
				m.Metrics.IncrementFailed()
				m.alert(ctx, log, msg)
			case msg := <-subs[events.EventBracketFailed]:
				m.Metrics.IncrementBracket()
				m.alert(ctx, log, msg)
			}
		}
	}()
	return done
}

func (m *Monitor) alert(ctx context.Context, log *logrus.Entry, msg any) {
	if m.Sink == nil {
		return
	}
	out, ok := msg.(events.SignalOutcome)
	if !ok {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	if err := m.Sink.Send(sendCtx, FormatAlert(out)); err != nil {
		m.Metrics.IncrementAlertErr()
		log.WithError(err).WithField("symbol", out.Symbol).Warn("alert delivery failed")
	}
}

// FormatAlert renders an outcome as one line of text.
func FormatAlert(o events.SignalOutcome) string {
	var b strings.Builder
	status := "ok"
	if o.Error != "" {
		status = "failed"
	}
	fmt.Fprintf(&b, "[%s] %s %s %s %s", o.Time.Format(time.RFC3339), o.Account, o.Symbol, o.Action, status)
	if o.Error != "" {
		fmt.Fprintf(&b, ": %s", o.Error)
	}
	for _, w := range o.Warnings {
		fmt.Fprintf(&b, "\nwarning: %s", w)
	}
	return b.String()
}
