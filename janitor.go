package kvsession

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is used by StartJanitor when interval is zero.
const DefaultSweepInterval = 10 * time.Minute

const sweepTimeout = 30 * time.Second

// Janitor periodically removes expired entries from backends that emulate
// expiry (SQLite, PostgreSQL). Stores with native expiry do not need one.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once
}

// StartJanitor starts sweeping in a background goroutine.
func StartJanitor(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	j := &Janitor{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With().Str("component", "janitor").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopChan:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	n, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		j.logger.Debug().Int64("removed", n).Msg("expired entries swept")
	}
}

// Stop ends the sweep loop and waits for it to exit. It is safe to call more
// than once.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stopChan) })
	<-j.done
}
