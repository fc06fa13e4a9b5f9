package notification

import (
	"context"

	"go.uber.org/multierr"
)

// Multi delivers every alert to all of its notifiers. A failing notifier does
// not stop delivery to the others; all errors are returned combined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Send(ctx, alert))
	}
	return err
}
