package app

import (
	"context"
	"errors"

	"exam-session-engine/internal/domain"
)

// MultiBroadcaster publishes to several sinks, typically the in-process hub
// plus a redis channel mirror. Every sink is attempted; errors are joined.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Publish(ctx context.Context, topic string, event domain.Event) error {
	var errs []error
	for _, b := range m {
		if err := b.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
