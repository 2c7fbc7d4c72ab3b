package campaign

import (
	"context"
	"math/rand/v2"
	"time"
)

// DelayPolicy spaces the sends of one worker by a uniform random duration
// in [Min, Max]. With N workers the aggregate rate is up to N times higher.
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration
}

// Next draws the next delay
func (p DelayPolicy) Next() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + rand.N(p.Max-p.Min+1)
}

// Wait sleeps for the next delay or until ctx is done
func (p DelayPolicy) Wait(ctx context.Context) error {
	d := p.Next()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type workerKey struct{}

func withWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerID returns the ID of the worker handling the recipient. Sequential
// runs use worker 0.
func WorkerID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(workerKey{}).(int)
	return id, ok
}
