package syncq

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Connectivity reports whether the remote should be contacted.
type Connectivity interface {
	Online() bool
}

// Toggle is a settable Connectivity. Changes wake whoever is waiting on Changed.
type Toggle struct {
	online  atomic.Bool
	changed chan struct{}
}

// NewToggle returns a Toggle with the given initial state.
func NewToggle(online bool) *Toggle {
	t := &Toggle{changed: make(chan struct{}, 1)}
	t.online.Store(online)
	onlineGauge.Set(boolGauge(online))
	return t
}

// Online implements Connectivity.
func (t *Toggle) Online() bool {
	return t.online.Load()
}

// Set updates the state, signalling when it changes.
func (t *Toggle) Set(online bool) {
	if t.online.Swap(online) == online {
		return
	}
	onlineGauge.Set(boolGauge(online))
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Changed fires after the state flips.
func (t *Toggle) Changed() <-chan struct{} {
	return t.changed
}

// Pinger checks remote reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe pings the remote every interval and records the result on toggle until ctx is cancelled.
func Probe(ctx context.Context, pinger Pinger, toggle *Toggle, interval, timeout time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := pinger.Ping(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil && toggle.Online() {
			logger.Warn("remote unreachable", zap.Error(err))
		}
		if err == nil && !toggle.Online() {
			logger.Info("remote reachable")
		}
		toggle.Set(err == nil)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
