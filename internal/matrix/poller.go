package matrix

import (
	"context"
	"sync"
	"time"
)

// PollerConfig carries the polling and recovery parameters.
type PollerConfig struct {
	// Interval between routine status polls.
	Interval time.Duration

	// AuxEvery runs the auxiliary poll (lock and power status) on every
	// Nth successful routine poll. Zero disables it.
	AuxEvery int

	// FailureThreshold is how many consecutive poll failures mark the
	// session degraded and start reconnection.
	FailureThreshold int

	// Reconnect backoff, multiplied by 1.5 per failed attempt and
	// capped at ReconnectMaxDelay.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// Poller drives periodic state refresh and connection recovery. It
// owns no protocol knowledge; the controller supplies the actions and
// the poller supplies the schedule.
type Poller struct {
	cfg    PollerConfig
	logger Logger

	// Poll refreshes the routing table. An error counts toward the
	// failure threshold.
	Poll func(ctx context.Context) error

	// AuxPoll refreshes lock and power status. Best effort; failures
	// are not counted.
	AuxPoll func(ctx context.Context)

	// Reconnect tears down and re-establishes the session. On success
	// the poller immediately runs a full poll.
	Reconnect func(ctx context.Context) error

	// OnDegraded fires once when the failure threshold is crossed.
	OnDegraded func()

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a stopped poller.
func NewPoller(cfg PollerConfig, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = 5 * time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectInitialDelay
	}
	return &Poller{cfg: cfg, logger: logger, kick: make(chan struct{}, 1)}
}

// Kick requests immediate connection recovery, bypassing the
// consecutive-failure threshold. Called when the transport reports the
// socket dead; an explicit loss needs no further evidence.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start launches the poll loop. Stop or cancelling ctx ends it.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the loop and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	successes := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.logger.Info("connection loss reported, reconnecting")
			if !p.recover(ctx) {
				return
			}
			failures = 0
			successes = 0
			ticker.Reset(p.cfg.Interval)
			continue
		case <-ticker.C:
		}

		if err := p.Poll(ctx); err != nil {
			failures++
			p.logger.Warn("status poll failed",
				"error", err, "consecutive", failures)
			if failures >= p.cfg.FailureThreshold {
				if p.OnDegraded != nil {
					p.OnDegraded()
				}
				if !p.recover(ctx) {
					return
				}
				failures = 0
				successes = 0
				ticker.Reset(p.cfg.Interval)
			}
			continue
		}

		failures = 0
		successes++
		if p.AuxPoll != nil && p.cfg.AuxEvery > 0 && successes%p.cfg.AuxEvery == 0 {
			p.AuxPoll(ctx)
		}
	}
}

// recover retries reconnection with exponential backoff until it
// succeeds or ctx is cancelled. The first attempt is immediate; the
// backoff applies between attempts. Returns false only on cancellation.
func (p *Poller) recover(ctx context.Context) bool {
	// A kick queued while recovery was already pending is part of the
	// same outage.
	select {
	case <-p.kick:
	default:
	}

	delay := p.cfg.ReconnectInitialDelay
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if err := p.Reconnect(ctx); err != nil {
			p.logger.Warn("reconnect failed", "error", err, "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * 1.5)
			if delay > p.cfg.ReconnectMaxDelay {
				delay = p.cfg.ReconnectMaxDelay
			}
			continue
		}

		// Refresh immediately so consumers do not wait a full interval
		// for state after an outage.
		if err := p.Poll(ctx); err != nil {
			p.logger.Warn("post-reconnect poll failed", "error", err)
		}
		if p.AuxPoll != nil {
			p.AuxPoll(ctx)
		}
		return true
	}
}
