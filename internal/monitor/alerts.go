package monitor

import (
	"context"
	"errors"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// MultiSink fans a message out to every sink and joins their errors.
type MultiSink []AlertSink

func (m MultiSink) Send(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
