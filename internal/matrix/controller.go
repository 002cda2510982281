package matrix

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Config aggregates everything needed to run one matrix device.
type Config struct {
	DeviceID string
	Host     string
	Port     int
	Inputs   int
	Outputs  int

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	CommandRetries int
	CommandDelay   time.Duration
	Quiescence     time.Duration

	PollInterval          time.Duration
	AuxPollEvery          int
	FailureThreshold      int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// Controller is the public face of the package: one instance per
// physical matrix, owning the session, the dispatcher, the state store
// and the poller. All methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	logger Logger

	codec      Codec
	session    *Session
	dispatcher *Dispatcher
	store      *Store
	poller     *Poller

	mu      sync.Mutex
	started bool
}

// NewController wires the component graph but opens no sockets; call
// Start.
func NewController(cfg Config, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger,
		codec:  NewCodec(cfg.Inputs, cfg.Outputs),
		store:  NewStore(cfg.DeviceID, cfg.Outputs, logger),
	}

	c.session = NewSession(SessionConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout,
		Quiescence:     cfg.Quiescence,
	}, logger)

	c.dispatcher = NewDispatcher(DispatcherConfig{
		CommandTimeout: cfg.CommandTimeout,
		Retries:        cfg.CommandRetries,
		CommandDelay:   cfg.CommandDelay,
		Quiescence:     cfg.Quiescence,
	}, c.session, logger)

	c.poller = NewPoller(PollerConfig{
		Interval:              cfg.PollInterval,
		AuxEvery:              cfg.AuxPollEvery,
		FailureThreshold:      cfg.FailureThreshold,
		ReconnectInitialDelay: cfg.ReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.ReconnectMaxDelay,
	}, logger)

	c.session.OnLine = c.dispatcher.HandleLine
	c.session.OnDisconnect = func(err error) {
		c.dispatcher.HandleDisconnect(err)
		c.store.SetSessionState(SessionDisconnected)
		// Recover now rather than waiting out the poll failure threshold.
		c.poller.Kick()
	}
	c.dispatcher.OnSettle = c.store.Apply
	c.dispatcher.OnUnsolicited = c.store.ApplyUnsolicited

	c.poller.Poll = func(ctx context.Context) error { return c.RefreshStatus(ctx) }
	c.poller.AuxPoll = c.refreshAux
	c.poller.Reconnect = c.reconnect
	c.poller.OnDegraded = func() { c.store.SetSessionState(SessionDegraded) }

	return c
}

// Start connects to the device, fetches its identity, takes an initial
// full poll and begins periodic polling. The initial connect failing is
// fatal; outages after Start are recovered automatically.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.store.SetSessionState(SessionConnecting)
	if err := c.session.Connect(ctx); err != nil {
		c.store.SetSessionState(SessionDisconnected)
		return err
	}
	c.store.SetSessionState(SessionConnected)
	c.dispatcher.Start()

	c.fetchDeviceInfo(ctx)
	if err := c.RefreshStatus(ctx); err != nil {
		c.logger.Warn("initial status poll failed", "error", err)
	}
	c.refreshAux(ctx)

	c.poller.Start(context.Background())
	c.started = true
	c.logger.Info("matrix controller started",
		"device", c.cfg.DeviceID, "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// Stop ends polling, fails queued commands and closes the socket.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.poller.Stop()
	c.dispatcher.Stop()
	c.session.Disconnect()
	c.store.SetSessionState(SessionDisconnected)
	c.started = false
	c.logger.Info("matrix controller stopped", "device", c.cfg.DeviceID)
}

// Snapshot returns the current device state.
func (c *Controller) Snapshot() Snapshot { return c.store.Snapshot() }

// Subscribe registers for state change notifications.
func (c *Controller) Subscribe() (int, <-chan Snapshot) { return c.store.Subscribe() }

// Unsubscribe removes a subscription.
func (c *Controller) Unsubscribe(id int) { c.store.Unsubscribe(id) }

// fetchDeviceInfo asks for model and firmware. Best effort; some
// firmware revisions answer neither query.
func (c *Controller) fetchDeviceInfo(ctx context.Context) {
	model := ""
	if ev, err := c.dispatcher.Submit(ctx, c.codec.QueryModel()); err == nil {
		model = strings.TrimSpace(ev.Raw)
	} else {
		c.logger.Debug("model query unanswered", "error", err)
	}
	firmware := ""
	if ev, err := c.dispatcher.Submit(ctx, c.codec.QueryVersion()); err == nil {
		firmware = strings.TrimSpace(ev.Raw)
	} else {
		c.logger.Debug("version query unanswered", "error", err)
	}
	c.store.SetDeviceInfo(model, firmware)
}

// reconnect tears the session down and dials again. Used by the poller
// after the failure threshold is crossed.
func (c *Controller) reconnect(ctx context.Context) error {
	c.session.Disconnect()
	c.store.SetSessionState(SessionConnecting)
	if err := c.session.Connect(ctx); err != nil {
		c.store.SetSessionState(SessionDisconnected)
		return err
	}
	c.store.SetSessionState(SessionConnected)
	return nil
}

// RefreshStatus polls the full routing table.
func (c *Controller) RefreshStatus(ctx context.Context) error {
	_, err := c.dispatcher.Submit(ctx, c.codec.QueryStatus())
	return err
}

// RefreshOutput polls the routing of a single output.
func (c *Controller) RefreshOutput(ctx context.Context, output int) error {
	cmd, err := c.codec.QueryOutputStatus(output)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Submit(ctx, cmd)
	return err
}

// refreshAux polls lock and power status. Both are best effort; not
// every firmware answers them.
func (c *Controller) refreshAux(ctx context.Context) {
	if _, err := c.dispatcher.Submit(ctx, c.codec.QueryLockStatus()); err != nil {
		c.logger.Debug("lock status poll unanswered", "error", err)
	}
	if _, err := c.dispatcher.Submit(ctx, c.codec.QueryPower()); err != nil {
		c.logger.Debug("power status poll unanswered", "error", err)
	}
}

// refreshSoon confirms an optimistic mutation with a background status
// poll. FIFO ordering puts it behind anything already queued.
func (c *Controller) refreshSoon() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout+c.cfg.CommandDelay)
		defer cancel()
		if err := c.RefreshStatus(ctx); err != nil {
			c.logger.Debug("post-command refresh failed", "error", err)
		}
	}()
}

// submit runs one command and triggers a confirming refresh on success.
func (c *Controller) submit(ctx context.Context, cmd Command, err error) error {
	if err != nil {
		return err
	}
	if _, err := c.dispatcher.Submit(ctx, cmd); err != nil {
		return err
	}
	c.refreshSoon()
	return nil
}

// Route connects one input to one output.
func (c *Controller) Route(ctx context.Context, input, output int) error {
	cmd, err := c.codec.RouteOne(input, output)
	return c.submit(ctx, cmd, err)
}

// RouteMulti connects one input to several outputs atomically.
func (c *Controller) RouteMulti(ctx context.Context, input int, outputs []int) error {
	cmd, err := c.codec.RouteMulti(input, outputs)
	return c.submit(ctx, cmd, err)
}

// RouteAll connects one input to every output.
func (c *Controller) RouteAll(ctx context.Context, input int) error {
	cmd, err := c.codec.RouteAll(input)
	return c.submit(ctx, cmd, err)
}

// RouteThrough maps every input to its same-numbered output.
func (c *Controller) RouteThrough(ctx context.Context) error {
	return c.submit(ctx, c.codec.RouteThrough(), nil)
}

// OutputThrough maps one output to its same-numbered input.
func (c *Controller) OutputThrough(ctx context.Context, output int) error {
	cmd, err := c.codec.OutputThrough(output)
	return c.submit(ctx, cmd, err)
}

// SetOutputEnabled opens or closes one output.
func (c *Controller) SetOutputEnabled(ctx context.Context, output int, enabled bool) error {
	var cmd Command
	var err error
	if enabled {
		cmd, err = c.codec.OutputOn(output)
	} else {
		cmd, err = c.codec.OutputOff(output)
	}
	return c.submit(ctx, cmd, err)
}

// SetAllOutputsEnabled opens or closes every output.
func (c *Controller) SetAllOutputsEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return c.submit(ctx, c.codec.AllOn(), nil)
	}
	return c.submit(ctx, c.codec.AllOff(), nil)
}

// SavePreset stores the current routing in a device slot.
func (c *Controller) SavePreset(ctx context.Context, slot int) error {
	cmd, err := c.codec.SavePreset(slot)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Submit(ctx, cmd)
	return err
}

// RecallPreset applies a stored preset and polls the resulting routes.
func (c *Controller) RecallPreset(ctx context.Context, slot int) error {
	cmd, err := c.codec.RecallPreset(slot)
	return c.submit(ctx, cmd, err)
}

// ClearPreset erases a stored preset.
func (c *Controller) ClearPreset(ctx context.Context, slot int) error {
	cmd, err := c.codec.ClearPreset(slot)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Submit(ctx, cmd)
	return err
}

// SetPower changes the device power mode.
func (c *Controller) SetPower(ctx context.Context, state PowerState) error {
	cmd, err := c.codec.SetPower(state)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Submit(ctx, cmd)
	return err
}

// SetLock locks or unlocks one output channel.
func (c *Controller) SetLock(ctx context.Context, output int, locked bool) error {
	cmd, err := c.codec.SetLock(output, locked)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Submit(ctx, cmd)
	return err
}

// SetLockAll locks or unlocks the whole panel.
func (c *Controller) SetLockAll(ctx context.Context, locked bool) error {
	_, err := c.dispatcher.Submit(ctx, c.codec.SetLockAll(locked))
	return err
}

// SetPresetName assigns a host-side display name to a preset slot.
func (c *Controller) SetPresetName(slot int, name string) error {
	return c.store.SetPresetName(slot, name)
}
