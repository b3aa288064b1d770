package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/slot"
)

type lockedRunner struct {
	next   Runner
	locker redisclient.Locker
	clock  clock.Clock
	loc    *time.Location
}

// WithDailyLock serialises runs across processes with a lock keyed by the
// clinic date. A concurrent caller gets ErrRunInProgress.
func WithDailyLock(next Runner, locker redisclient.Locker, clk clock.Clock, loc *time.Location) Runner {
	return &lockedRunner{next: next, locker: locker, clock: clk, loc: loc}
}

func (r *lockedRunner) Run(ctx context.Context) (Result, error) {
	var res Result
	key := "reminders:" + slot.FormatDate(clock.Today(r.clock, r.loc))

	err := r.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		var err error
		res, err = r.next.Run(lockCtx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return res, ErrRunInProgress
	}
	return res, err
}
