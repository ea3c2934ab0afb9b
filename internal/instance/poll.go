package instance

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned when a bounded policy runs out of attempts.
var ErrPollExhausted = errors.New("instance did not settle before the poll limit")

// PollPolicy paces status polling. MaxAttempts <= 0 polls until the
// condition holds or ctx is done.
type PollPolicy struct {
	Interval     time.Duration
	InitialDelay time.Duration
	MaxAttempts  int
}

// DefaultPollPolicy polls every five seconds after a three second grace
// period, without a bound.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{Interval: 5 * time.Second, InitialDelay: 3 * time.Second}
}

// Wait calls check until it reports done or fails. The initial delay is
// slept before the first call and Interval between calls.
func (p PollPolicy) Wait(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	if err := sleep(ctx, p.InitialDelay); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrPollExhausted
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
