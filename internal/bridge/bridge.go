package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/avgear-matrix/internal/history"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/influxdb"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/mqtt"
	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

const (
	defaultCommandTimeout = 10 * time.Second
	defaultHealthInterval = 30 * time.Second
)

// Device is the controller surface the bridge drives. *matrix.Controller
// satisfies it; tests substitute a fake.
type Device interface {
	Snapshot() matrix.Snapshot
	Subscribe() (int, <-chan matrix.Snapshot)
	Unsubscribe(id int)
	Route(ctx context.Context, input, output int) error
	RouteMulti(ctx context.Context, input int, outputs []int) error
	RouteAll(ctx context.Context, input int) error
	RouteThrough(ctx context.Context) error
	OutputThrough(ctx context.Context, output int) error
	SetOutputEnabled(ctx context.Context, output int, enabled bool) error
	SetAllOutputsEnabled(ctx context.Context, enabled bool) error
	SavePreset(ctx context.Context, slot int) error
	RecallPreset(ctx context.Context, slot int) error
	ClearPreset(ctx context.Context, slot int) error
	SetPower(ctx context.Context, state matrix.PowerState) error
	SetLock(ctx context.Context, output int, locked bool) error
	SetLockAll(ctx context.Context, locked bool) error
	SetPresetName(slot int, name string) error
	RefreshStatus(ctx context.Context) error
}

// Broker is the MQTT surface the bridge publishes through.
// *mqtt.Client satisfies it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishEvent(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
	SetOnConnect(callback func())
}

// Logger is the minimal logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds bridge settings.
type Config struct {
	// DeviceID names the matrix in every topic and payload.
	DeviceID string

	// CommandTimeout bounds a single MQTT command end to end,
	// including queueing behind earlier commands. Default 10s.
	CommandTimeout time.Duration

	// HealthInterval is the retained health publish period. Default 30s.
	HealthInterval time.Duration
}

// Bridge connects a matrix controller to an MQTT broker: commands in,
// retained state and health out, an ack per command either way.
//
// Thread Safety: all exported methods are safe for concurrent use.
// Command handlers run on broker callback goroutines and are serialized
// against the device by the controller's own command queue.
type Bridge struct {
	cfg     Config
	device  Device
	broker  Broker
	logger  Logger
	metrics *influxdb.Client
	journal *history.Journal
	topics  mqtt.Topics

	started time.Time
	handled atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a bridge. metrics may be nil when InfluxDB is disabled;
// journal may be nil when the history database is disabled.
func New(cfg Config, device Device, broker Broker, logger Logger, metrics *influxdb.Client, journal *history.Journal) (*Bridge, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("bridge: device id is required")
	}
	if device == nil || broker == nil {
		return nil, errors.New("bridge: device and broker are required")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bridge{
		cfg:     cfg,
		device:  device,
		broker:  broker,
		logger:  logger,
		metrics: metrics,
		journal: journal,
	}, nil
}

// Start subscribes to the command topic and begins publishing retained
// state and health. It returns once the subscription is active.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if err := b.broker.Subscribe(b.topics.DeviceCommand(b.cfg.DeviceID), 1, b.handleCommand); err != nil {
		return fmt.Errorf("bridge: subscribe command topic: %w", err)
	}

	// Retained messages vanish on some brokers when the session drops,
	// so republish state and health after every reconnect.
	b.broker.SetOnConnect(func() {
		b.publishState(b.device.Snapshot())
		b.publishHealth(b.healthStatus(b.device.Snapshot()))
	})

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.started = time.Now()
	b.running = true

	b.wg.Add(2)
	go b.stateLoop(runCtx)
	go b.healthLoop(runCtx)

	snap := b.device.Snapshot()
	b.publishState(snap)
	b.publishHealth(b.healthStatus(snap))

	b.logger.Info("mqtt bridge started",
		"device_id", b.cfg.DeviceID,
		"command_topic", b.topics.DeviceCommand(b.cfg.DeviceID))
	return nil
}

// Stop publishes a final stopping health message, drops the command
// subscription and waits for the publish loops to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	b.publishHealth(HealthStopping)
	if err := b.broker.Unsubscribe(b.topics.DeviceCommand(b.cfg.DeviceID)); err != nil {
		b.logger.Warn("unsubscribe command topic", "error", err)
	}
	cancel()
	b.wg.Wait()
	b.logger.Info("mqtt bridge stopped", "device_id", b.cfg.DeviceID)
}

// stateLoop republishes the retained snapshot whenever it changes.
func (b *Bridge) stateLoop(ctx context.Context) {
	defer b.wg.Done()

	id, ch := b.device.Subscribe()
	defer b.device.Unsubscribe(id)

	var lastSession matrix.SessionState
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			b.publishState(snap)
			if snap.Session != lastSession {
				lastSession = snap.Session
				b.publishHealth(b.healthStatus(snap))
				if b.metrics != nil {
					b.metrics.WriteSessionState(b.cfg.DeviceID, string(snap.Session))
				}
			}
		}
	}
}

// healthLoop publishes retained health on a fixed interval.
func (b *Bridge) healthLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.publishHealth(b.healthStatus(b.device.Snapshot()))
		}
	}
}

func (b *Bridge) healthStatus(snap matrix.Snapshot) HealthStatus {
	if snap.Session == matrix.SessionConnected {
		return HealthHealthy
	}
	return HealthDegraded
}

func (b *Bridge) publishState(snap matrix.Snapshot) {
	msg := StateMessage{
		DeviceID:  b.cfg.DeviceID,
		Timestamp: time.Now().UTC(),
		State:     snap,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal state message", "error", err)
		return
	}
	if err := b.broker.PublishRetained(b.topics.DeviceState(b.cfg.DeviceID), payload); err != nil {
		b.logger.Warn("publish state", "error", err)
	}
}

func (b *Bridge) publishHealth(status HealthStatus) {
	snap := b.device.Snapshot()
	msg := HealthMessage{
		DeviceID:        b.cfg.DeviceID,
		Timestamp:       time.Now().UTC(),
		Status:          status,
		Session:         snap.Session,
		UptimeSeconds:   int64(time.Since(b.started).Seconds()),
		CommandsHandled: b.handled.Load(),
		CommandsFailed:  b.failed.Load(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("marshal health message", "error", err)
		return
	}
	if err := b.broker.PublishRetained(b.topics.DeviceHealth(b.cfg.DeviceID), payload); err != nil {
		b.logger.Warn("publish health", "error", err)
	}
}

// handleCommand processes one message from the command topic. Every
// message gets an ack, accepted or failed.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	b.handled.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(&cmd, ErrCodeInvalidCommand, fmt.Sprintf("malformed command: %v", err))
		return nil
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID != "" && cmd.DeviceID != b.cfg.DeviceID {
		b.publishAck(&cmd, ErrCodeInvalidParameters,
			fmt.Sprintf("device_id %q does not match topic device %q", cmd.DeviceID, b.cfg.DeviceID))
		return nil
	}

	b.logger.Debug("mqtt command received",
		"command_id", cmd.ID, "action", cmd.Action, "source", cmd.Source)

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err := b.dispatch(ctx, &cmd)
	if b.metrics != nil {
		b.metrics.WriteCommandMetric(b.cfg.DeviceID, cmd.Action, time.Since(start), err == nil)
	}
	if err != nil {
		code, msg := classifyError(err)
		b.publishAck(&cmd, code, msg)
		return nil
	}

	b.publishAck(&cmd, "", "")
	return nil
}

// dispatch maps a command message onto a controller call.
func (b *Bridge) dispatch(ctx context.Context, cmd *CommandMessage) error {
	switch cmd.Action {
	case ActionRoute:
		if len(cmd.Outputs) > 0 {
			return b.device.RouteMulti(ctx, cmd.Input, cmd.Outputs)
		}
		return b.device.Route(ctx, cmd.Input, cmd.Output)
	case ActionRouteAll:
		return b.device.RouteAll(ctx, cmd.Input)
	case ActionRouteThrough:
		return b.device.RouteThrough(ctx)
	case ActionOutputThru:
		return b.device.OutputThrough(ctx, cmd.Output)
	case ActionOutput:
		if cmd.Enabled == nil {
			return fmt.Errorf("%w: enabled is required", matrix.ErrInvalidArgument)
		}
		return b.device.SetOutputEnabled(ctx, cmd.Output, *cmd.Enabled)
	case ActionAllOutputs:
		if cmd.Enabled == nil {
			return fmt.Errorf("%w: enabled is required", matrix.ErrInvalidArgument)
		}
		return b.device.SetAllOutputsEnabled(ctx, *cmd.Enabled)
	case ActionPower:
		state, err := parsePower(cmd.Power)
		if err != nil {
			return err
		}
		return b.device.SetPower(ctx, state)
	case ActionLock:
		if cmd.Locked == nil {
			return fmt.Errorf("%w: locked is required", matrix.ErrInvalidArgument)
		}
		return b.device.SetLock(ctx, cmd.Output, *cmd.Locked)
	case ActionLockAll:
		if cmd.Locked == nil {
			return fmt.Errorf("%w: locked is required", matrix.ErrInvalidArgument)
		}
		return b.device.SetLockAll(ctx, *cmd.Locked)
	case ActionPresetSave:
		if cmd.Slot == nil {
			return fmt.Errorf("%w: slot is required", matrix.ErrInvalidArgument)
		}
		return b.device.SavePreset(ctx, *cmd.Slot)
	case ActionPresetRecall:
		if cmd.Slot == nil {
			return fmt.Errorf("%w: slot is required", matrix.ErrInvalidArgument)
		}
		return b.device.RecallPreset(ctx, *cmd.Slot)
	case ActionPresetClear:
		if cmd.Slot == nil {
			return fmt.Errorf("%w: slot is required", matrix.ErrInvalidArgument)
		}
		return b.device.ClearPreset(ctx, *cmd.Slot)
	case ActionPresetName:
		if cmd.Slot == nil {
			return fmt.Errorf("%w: slot is required", matrix.ErrInvalidArgument)
		}
		if err := b.device.SetPresetName(*cmd.Slot, cmd.Name); err != nil {
			return err
		}
		// Persist across restarts when the journal is configured.
		if b.journal != nil {
			if err := b.journal.SavePresetName(ctx, b.cfg.DeviceID, *cmd.Slot, cmd.Name); err != nil {
				b.logger.Warn("persisting preset name failed", "slot", *cmd.Slot, "error", err)
			}
		}
		return nil
	case ActionRefresh:
		return b.device.RefreshStatus(ctx)
	case "":
		return fmt.Errorf("%w: action is required", errUnknownAction)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, cmd.Action)
	}
}

var errUnknownAction = errors.New("unknown action")

func parsePower(s string) (matrix.PowerState, error) {
	switch matrix.PowerState(s) {
	case matrix.PowerOn, matrix.PowerStandby, matrix.PowerOff:
		return matrix.PowerState(s), nil
	default:
		return "", fmt.Errorf("%w: power must be on, standby or off, got %q", matrix.ErrInvalidArgument, s)
	}
}

// classifyError maps controller errors to ack error codes.
func classifyError(err error) (code, msg string) {
	switch {
	case errors.Is(err, errUnknownAction):
		return ErrCodeInvalidCommand, err.Error()
	case errors.Is(err, matrix.ErrInvalidArgument):
		return ErrCodeInvalidParameters, err.Error()
	case errors.Is(err, matrix.ErrCommandTimeout),
		errors.Is(err, matrix.ErrRetriesExhausted),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, err.Error()
	case errors.Is(err, matrix.ErrNotConnected),
		errors.Is(err, matrix.ErrConnectionLost),
		errors.Is(err, matrix.ErrConnectRefused),
		errors.Is(err, matrix.ErrConnectTimeout),
		errors.Is(err, matrix.ErrNetworkUnreachable),
		errors.Is(err, matrix.ErrSessionClosed):
		return ErrCodeDeviceUnreachable, err.Error()
	default:
		return ErrCodeBridgeError, err.Error()
	}
}

// publishAck reports the outcome of a command. An empty code means the
// command was accepted.
func (b *Bridge) publishAck(cmd *CommandMessage, code, msg string) {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  b.cfg.DeviceID,
		Status:    AckAccepted,
	}
	if code != "" {
		b.failed.Add(1)
		ack.Status = AckFailed
		ack.Error = &AckError{Code: code, Message: msg}
		b.logger.Warn("mqtt command failed",
			"command_id", cmd.ID, "action", cmd.Action, "code", code, "error", msg)
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logger.Error("marshal ack message", "error", err)
		return
	}
	if err := b.broker.PublishEvent(b.topics.DeviceAck(b.cfg.DeviceID), payload); err != nil {
		b.logger.Warn("publish ack", "error", err)
	}
}
