// Package notify fans fulfilled-redemption events out to chat and Discord.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event describes one fulfilled redemption.
type Event struct {
	RedemptionID string
	RewardTitle  string
	UserName     string
	UserInput    string
	ImageURL     string
	At           time.Time
}

// Notifier delivers an Event somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event) error

func (f Func) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Multi notifies every member and joins their errors. Nil members are skipped.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
