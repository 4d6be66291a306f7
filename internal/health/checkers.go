package health

import (
	"context"
	"errors"

	"github.com/frostbyte-ai/voiceguard/pkg/history"
)

// StoreChecker probes the detection-history store with a minimal query.
func StoreChecker(store history.Store) Checker {
	return Checker{
		Name: "history",
		Check: func(ctx context.Context) error {
			_, err := store.Recent(ctx, "", 1)
			return err
		},
	}
}

// ReadyChecker adapts any component exposing a Healthy method into a
// Checker. The classifier backend uses this: it is unready only while every
// circuit breaker in its fallback chain is open.
func ReadyChecker(name string, c interface{ Healthy() bool }) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !c.Healthy() {
				return errors.New("backend is not accepting calls")
			}
			return nil
		},
	}
}
