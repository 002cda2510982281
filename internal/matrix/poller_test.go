package matrix

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func testPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:              20 * time.Millisecond,
		AuxEvery:              3,
		FailureThreshold:      3,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     40 * time.Millisecond,
	}
}

func TestPollerRunsOnInterval(t *testing.T) {
	var polls atomic.Int32
	p := NewPoller(testPollerConfig(), nil)
	p.Poll = func(context.Context) error {
		polls.Add(1)
		return nil
	}
	p.Reconnect = func(context.Context) error { return nil }

	p.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	p.Stop()

	if n := polls.Load(); n < 3 {
		t.Errorf("polls = %d, want at least 3", n)
	}
}

func TestPollerAuxEveryNth(t *testing.T) {
	var polls, aux atomic.Int32
	p := NewPoller(testPollerConfig(), nil)
	p.Poll = func(context.Context) error {
		polls.Add(1)
		return nil
	}
	p.AuxPoll = func(context.Context) { aux.Add(1) }
	p.Reconnect = func(context.Context) error { return nil }

	p.Start(context.Background())
	for polls.Load() < 7 {
		time.Sleep(10 * time.Millisecond)
	}
	p.Stop()

	gotAux := aux.Load()
	if gotAux < 2 {
		t.Errorf("aux polls = %d, want at least 2 for 7+ routine polls", gotAux)
	}
	if gotAux > polls.Load()/2 {
		t.Errorf("aux polls = %d of %d routine polls, ran too often", gotAux, polls.Load())
	}
}

func TestPollerDegradesAndReconnects(t *testing.T) {
	var degraded atomic.Int32
	var reconnects atomic.Int32
	var healthy atomic.Bool

	p := NewPoller(testPollerConfig(), nil)
	p.Poll = func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return ErrNotConnected
	}
	p.OnDegraded = func() { degraded.Add(1) }
	p.Reconnect = func(context.Context) error {
		if reconnects.Add(1) >= 3 {
			healthy.Store(true)
			return nil
		}
		return ErrConnectRefused
	}

	p.Start(context.Background())
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for !healthy.Load() {
		select {
		case <-deadline:
			t.Fatal("poller never recovered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if degraded.Load() == 0 {
		t.Error("OnDegraded never fired")
	}
	if reconnects.Load() < 3 {
		t.Errorf("reconnect attempts = %d, want 3 with backoff retries", reconnects.Load())
	}
}

func TestPollerKickBypassesFailureThreshold(t *testing.T) {
	var reconnects atomic.Int32
	cfg := testPollerConfig()
	cfg.Interval = time.Hour // the threshold path can never fire

	p := NewPoller(cfg, nil)
	p.Poll = func(context.Context) error { return nil }
	p.Reconnect = func(context.Context) error {
		reconnects.Add(1)
		return nil
	}

	p.Start(context.Background())
	defer p.Stop()

	p.Kick()

	deadline := time.After(time.Second)
	for reconnects.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("kick never triggered reconnection")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond)
	if n := reconnects.Load(); n != 1 {
		t.Errorf("reconnect attempts = %d, want 1", n)
	}
}

func TestPollerImmediatePollAfterReconnect(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	pollTimes := make(chan time.Time, 32)
	reconnected := make(chan time.Time, 1)

	p := NewPoller(testPollerConfig(), nil)
	p.Poll = func(context.Context) error {
		pollTimes <- time.Now()
		if failing.Load() {
			return ErrNotConnected
		}
		return nil
	}
	p.Reconnect = func(context.Context) error {
		failing.Store(false)
		select {
		case reconnected <- time.Now():
		default:
		}
		return nil
	}

	p.Start(context.Background())
	defer p.Stop()

	var recTime time.Time
	select {
	case recTime = <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never happened")
	}

	// The next poll must follow promptly, not a full interval later.
	deadline := time.After(time.Second)
	for {
		select {
		case pt := <-pollTimes:
			if pt.After(recTime) {
				if gap := pt.Sub(recTime); gap > 50*time.Millisecond {
					t.Errorf("post-reconnect poll after %v, want immediate", gap)
				}
				return
			}
		case <-deadline:
			t.Fatal("no poll after reconnect")
		}
	}
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	var polls atomic.Int32
	p := NewPoller(testPollerConfig(), nil)
	p.Poll = func(context.Context) error {
		polls.Add(1)
		return nil
	}
	p.Reconnect = func(context.Context) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)
	before := polls.Load()
	time.Sleep(60 * time.Millisecond)
	if after := polls.Load(); after != before {
		t.Errorf("poller kept polling after context cancel: %d then %d", before, after)
	}
	p.Stop()
}
