package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type expiredSweeper interface {
	SweepExpired(now time.Time) (int, error)
}

type tokenPurger interface {
	PurgeExpired(ctx context.Context) error
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) sweepTicker

// startSweepWorker periodically evicts expired upload sessions and purges
// expired API tokens. The returned stop function blocks until the worker
// has exited and is safe to call more than once.
func startSweepWorker(ctx context.Context, logger *slog.Logger, store expiredSweeper, tokens tokenPurger, interval time.Duration) func() {
	return startSweepWorkerWithTicker(ctx, logger, store, tokens, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSweepWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store expiredSweeper,
	tokens tokenPurger,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if (store == nil && tokens == nil) || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if store != nil {
					removed, err := store.SweepExpired(time.Now())
					if err != nil && logger != nil {
						logger.Error("failed to sweep expired uploads", "error", err)
					} else if removed > 0 && logger != nil {
						logger.Info("evicted expired upload sessions", "count", removed)
					}
				}
				if tokens != nil {
					if err := tokens.PurgeExpired(workerCtx); err != nil && logger != nil {
						logger.Error("failed to purge expired tokens", "error", err)
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
