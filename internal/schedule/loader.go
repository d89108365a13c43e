package schedule

import (
	"context"
	"sync/atomic"

	appLog "calview/internal/log"
)

type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// LoadFunc fetches more appointments for a direction. The loader neither
// cancels nor times it out; ctx is passed through as given.
type LoadFunc func(ctx context.Context) error

// Loader tracks one in-flight load-more call per direction.
type Loader struct {
	inFlight [2]atomic.Bool
}

func (l *Loader) InFlight(d Direction) bool {
	return l.inFlight[d].Load()
}

// Run starts fn in the background unless a load for d is already running,
// in which case it returns false. Completion clears the flag and then calls
// done, if set, with fn's error.
func (l *Loader) Run(ctx context.Context, d Direction, fn LoadFunc, done func(error)) bool {
	if !l.inFlight[d].CompareAndSwap(false, true) {
		appLog.Debug("schedule load-more already running", "direction", d.String())
		return false
	}
	go func() {
		err := fn(ctx)
		l.inFlight[d].Store(false)
		if err != nil {
			appLog.Error("schedule load-more failed", err, "direction", d.String())
		}
		if done != nil {
			done(err)
		}
	}()
	return true
}
