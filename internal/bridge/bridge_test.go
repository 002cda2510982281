package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/nerrad567/avgear-matrix/migrations"

	"github.com/nerrad567/avgear-matrix/internal/history"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/database"
	"github.com/nerrad567/avgear-matrix/internal/infrastructure/mqtt"
	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// fakeBroker records publishes and lets tests inject command messages
// by invoking the registered handler directly.
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	events   map[string][][]byte
	retained map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers: make(map[string]mqtt.MessageHandler),
		events:   make(map[string][][]byte),
		retained: make(map[string][][]byte),
	}
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeBroker) PublishEvent(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[topic] = append(f.events[topic], payload)
	return nil
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained[topic] = append(f.retained[topic], payload)
	return nil
}

func (f *fakeBroker) SetOnConnect(func()) {}

// deliver invokes the handler registered for topic, as the paho client
// would on message arrival.
func (f *fakeBroker) deliver(t *testing.T, topic string, msg any) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	f.mu.Lock()
	handler := f.handlers[topic]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func (f *fakeBroker) lastRetained(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.retained[topic]
	if len(msgs) == 0 {
		return nil, false
	}
	return msgs[len(msgs)-1], true
}

func (f *fakeBroker) lastAck(t *testing.T, deviceID string) AckMessage {
	t.Helper()
	topic := mqtt.Topics{}.DeviceAck(deviceID)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		msgs := f.events[topic]
		f.mu.Unlock()
		if len(msgs) > 0 {
			var ack AckMessage
			if err := json.Unmarshal(msgs[len(msgs)-1], &ack); err != nil {
				t.Fatalf("unmarshal ack: %v", err)
			}
			return ack
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no ack published on %s", topic)
	return AckMessage{}
}

// fakeController records controller calls and returns a scripted error.
type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
	snap  matrix.Snapshot

	subMu   sync.Mutex
	nextID  int
	subs    map[int]chan matrix.Snapshot
}

func newFakeController() *fakeController {
	return &fakeController{
		snap: matrix.Snapshot{Session: matrix.SessionConnected, Power: matrix.PowerOn},
		subs: make(map[int]chan matrix.Snapshot),
	}
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) calledWith(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeController) Snapshot() matrix.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe() (int, <-chan matrix.Snapshot) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.nextID++
	ch := make(chan matrix.Snapshot, 8)
	f.subs[f.nextID] = ch
	return f.nextID, ch
}

func (f *fakeController) Unsubscribe(id int) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}

func (f *fakeController) push(snap matrix.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		ch <- snap
	}
}

func (f *fakeController) Route(_ context.Context, input, output int) error {
	return f.record(fmt.Sprintf("route %d->%d", input, output))
}

func (f *fakeController) RouteMulti(_ context.Context, input int, outputs []int) error {
	return f.record(fmt.Sprintf("route_multi %d->%v", input, outputs))
}

func (f *fakeController) RouteAll(_ context.Context, input int) error {
	return f.record(fmt.Sprintf("route_all %d", input))
}

func (f *fakeController) RouteThrough(_ context.Context) error {
	return f.record("route_through")
}

func (f *fakeController) OutputThrough(_ context.Context, output int) error {
	return f.record(fmt.Sprintf("output_through %d", output))
}

func (f *fakeController) SetOutputEnabled(_ context.Context, output int, enabled bool) error {
	return f.record(fmt.Sprintf("output %d %v", output, enabled))
}

func (f *fakeController) SetAllOutputsEnabled(_ context.Context, enabled bool) error {
	return f.record(fmt.Sprintf("all_outputs %v", enabled))
}

func (f *fakeController) SavePreset(_ context.Context, slot int) error {
	return f.record(fmt.Sprintf("preset_save %d", slot))
}

func (f *fakeController) RecallPreset(_ context.Context, slot int) error {
	return f.record(fmt.Sprintf("preset_recall %d", slot))
}

func (f *fakeController) ClearPreset(_ context.Context, slot int) error {
	return f.record(fmt.Sprintf("preset_clear %d", slot))
}

func (f *fakeController) SetPower(_ context.Context, state matrix.PowerState) error {
	return f.record(fmt.Sprintf("power %s", state))
}

func (f *fakeController) SetLock(_ context.Context, output int, locked bool) error {
	return f.record(fmt.Sprintf("lock %d %v", output, locked))
}

func (f *fakeController) SetLockAll(_ context.Context, locked bool) error {
	return f.record(fmt.Sprintf("lock_all %v", locked))
}

func (f *fakeController) SetPresetName(slot int, name string) error {
	return f.record(fmt.Sprintf("preset_name %d %q", slot, name))
}

func (f *fakeController) RefreshStatus(_ context.Context) error {
	return f.record("refresh")
}

func startTestBridge(t *testing.T) (*Bridge, *fakeController, *fakeBroker) {
	t.Helper()
	device := newFakeController()
	broker := newFakeBroker()
	b, err := New(Config{DeviceID: "matrix-01", CommandTimeout: time.Second}, device, broker, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b, device, broker
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}, newFakeController(), newFakeBroker(), nil, nil, nil); err == nil {
		t.Fatal("expected error for missing device id")
	}
	if _, err := New(Config{DeviceID: "matrix-01"}, nil, newFakeBroker(), nil, nil, nil); err == nil {
		t.Fatal("expected error for nil device")
	}
}

func TestStartPublishesRetainedStateAndHealth(t *testing.T) {
	_, _, broker := startTestBridge(t)

	payload, ok := broker.lastRetained(mqtt.Topics{}.DeviceState("matrix-01"))
	if !ok {
		t.Fatal("no retained state published on start")
	}
	var state StateMessage
	if err := json.Unmarshal(payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.DeviceID != "matrix-01" {
		t.Errorf("state device_id = %q, want matrix-01", state.DeviceID)
	}
	if state.State.Power != matrix.PowerOn {
		t.Errorf("state power = %q, want on", state.State.Power)
	}

	payload, ok = broker.lastRetained(mqtt.Topics{}.DeviceHealth("matrix-01"))
	if !ok {
		t.Fatal("no retained health published on start")
	}
	var health HealthMessage
	if err := json.Unmarshal(payload, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Status != HealthHealthy {
		t.Errorf("health status = %q, want healthy", health.Status)
	}
}

func TestCommandDispatch(t *testing.T) {
	tests := []struct {
		name string
		cmd  CommandMessage
		want string
	}{
		{"route", CommandMessage{Action: ActionRoute, Input: 3, Output: 5}, "route 3->5"},
		{"route multi", CommandMessage{Action: ActionRoute, Input: 2, Outputs: []int{1, 4}}, "route_multi 2->[1 4]"},
		{"route all", CommandMessage{Action: ActionRouteAll, Input: 7}, "route_all 7"},
		{"route through", CommandMessage{Action: ActionRouteThrough}, "route_through"},
		{"output through", CommandMessage{Action: ActionOutputThru, Output: 4}, "output_through 4"},
		{"output off", CommandMessage{Action: ActionOutput, Output: 2, Enabled: boolPtr(false)}, "output 2 false"},
		{"all outputs on", CommandMessage{Action: ActionAllOutputs, Enabled: boolPtr(true)}, "all_outputs true"},
		{"power standby", CommandMessage{Action: ActionPower, Power: "standby"}, "power standby"},
		{"lock", CommandMessage{Action: ActionLock, Output: 6, Locked: boolPtr(true)}, "lock 6 true"},
		{"unlock all", CommandMessage{Action: ActionLockAll, Locked: boolPtr(false)}, "lock_all false"},
		{"preset save", CommandMessage{Action: ActionPresetSave, Slot: intPtr(3)}, "preset_save 3"},
		{"preset recall", CommandMessage{Action: ActionPresetRecall, Slot: intPtr(0)}, "preset_recall 0"},
		{"preset clear", CommandMessage{Action: ActionPresetClear, Slot: intPtr(9)}, "preset_clear 9"},
		{"preset name", CommandMessage{Action: ActionPresetName, Slot: intPtr(2), Name: "Cinema"}, `preset_name 2 "Cinema"`},
		{"refresh", CommandMessage{Action: ActionRefresh}, "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, device, broker := startTestBridge(t)

			broker.deliver(t, mqtt.Topics{}.DeviceCommand("matrix-01"), tt.cmd)

			ack := broker.lastAck(t, "matrix-01")
			if ack.Status != AckAccepted {
				t.Fatalf("ack status = %q, want accepted (error: %+v)", ack.Status, ack.Error)
			}
			if !device.calledWith(tt.want) {
				t.Errorf("controller calls %v do not include %q", device.calls, tt.want)
			}
		})
	}
}

func TestCommandRejections(t *testing.T) {
	tests := []struct {
		name     string
		cmd      CommandMessage
		wantCode string
	}{
		{"unknown action", CommandMessage{Action: "reboot"}, ErrCodeInvalidCommand},
		{"missing action", CommandMessage{}, ErrCodeInvalidCommand},
		{"lock without locked", CommandMessage{Action: ActionLock, Output: 1}, ErrCodeInvalidParameters},
		{"output without enabled", CommandMessage{Action: ActionOutput, Output: 1}, ErrCodeInvalidParameters},
		{"preset without slot", CommandMessage{Action: ActionPresetRecall}, ErrCodeInvalidParameters},
		{"bad power state", CommandMessage{Action: ActionPower, Power: "hibernate"}, ErrCodeInvalidParameters},
		{"wrong device id", CommandMessage{Action: ActionRefresh, DeviceID: "matrix-99"}, ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, broker := startTestBridge(t)

			broker.deliver(t, mqtt.Topics{}.DeviceCommand("matrix-01"), tt.cmd)

			ack := broker.lastAck(t, "matrix-01")
			if ack.Status != AckFailed {
				t.Fatalf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error == nil || ack.Error.Code != tt.wantCode {
				t.Errorf("ack error = %+v, want code %s", ack.Error, tt.wantCode)
			}
		})
	}
}

func TestCommandAckEchoesID(t *testing.T) {
	_, _, broker := startTestBridge(t)

	broker.deliver(t, mqtt.Topics{}.DeviceCommand("matrix-01"),
		CommandMessage{ID: "cmd-42", Action: ActionRefresh})

	ack := broker.lastAck(t, "matrix-01")
	if ack.CommandID != "cmd-42" {
		t.Errorf("ack command_id = %q, want cmd-42", ack.CommandID)
	}
}

func TestDeviceErrorsMapToCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"not connected", matrix.ErrNotConnected, ErrCodeDeviceUnreachable},
		{"connection lost", matrix.ErrConnectionLost, ErrCodeDeviceUnreachable},
		{"retries exhausted", matrix.ErrRetriesExhausted, ErrCodeTimeout},
		{"invalid argument", matrix.ErrInvalidArgument, ErrCodeInvalidParameters},
		{"anything else", fmt.Errorf("disk on fire"), ErrCodeBridgeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, device, broker := startTestBridge(t)
			device.err = tt.err

			broker.deliver(t, mqtt.Topics{}.DeviceCommand("matrix-01"),
				CommandMessage{Action: ActionRefresh})

			ack := broker.lastAck(t, "matrix-01")
			if ack.Status != AckFailed {
				t.Fatalf("ack status = %q, want failed", ack.Status)
			}
			if ack.Error.Code != tt.wantCode {
				t.Errorf("ack code = %q, want %q", ack.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestSnapshotChangeRepublishesState(t *testing.T) {
	_, device, broker := startTestBridge(t)

	snap := device.Snapshot()
	snap.Power = matrix.PowerStandby
	snap.Version = 2
	device.push(snap)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		payload, ok := broker.lastRetained(mqtt.Topics{}.DeviceState("matrix-01"))
		if ok {
			var state StateMessage
			if err := json.Unmarshal(payload, &state); err != nil {
				t.Fatalf("unmarshal state: %v", err)
			}
			if state.State.Power == matrix.PowerStandby {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("retained state never reflected the new snapshot")
}

func TestSessionChangePublishesDegradedHealth(t *testing.T) {
	_, device, broker := startTestBridge(t)

	snap := device.Snapshot()
	snap.Session = matrix.SessionDegraded
	device.push(snap)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		payload, ok := broker.lastRetained(mqtt.Topics{}.DeviceHealth("matrix-01"))
		if ok {
			var health HealthMessage
			if err := json.Unmarshal(payload, &health); err != nil {
				t.Fatalf("unmarshal health: %v", err)
			}
			if health.Status == HealthDegraded {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("retained health never reported degraded")
}

func TestStopPublishesStoppingHealth(t *testing.T) {
	device := newFakeController()
	broker := newFakeBroker()
	b, err := New(Config{DeviceID: "matrix-01"}, device, broker, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.Stop()
	b.Stop() // idempotent

	payload, ok := broker.lastRetained(mqtt.Topics{}.DeviceHealth("matrix-01"))
	if !ok {
		t.Fatal("no retained health published")
	}
	var health HealthMessage
	if err := json.Unmarshal(payload, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if health.Status != HealthStopping {
		t.Errorf("final health status = %q, want stopping", health.Status)
	}

	broker.mu.Lock()
	_, subscribed := broker.handlers[mqtt.Topics{}.DeviceCommand("matrix-01")]
	broker.mu.Unlock()
	if subscribed {
		t.Error("command subscription not removed on stop")
	}
}

func TestPresetNameCommandPersistsToJournal(t *testing.T) {
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	journal := history.NewJournal(db)

	device := newFakeController()
	broker := newFakeBroker()
	b, err := New(Config{DeviceID: "matrix-01", CommandTimeout: time.Second},
		device, broker, nil, nil, journal)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)

	broker.deliver(t, mqtt.Topics{}.DeviceCommand("matrix-01"),
		CommandMessage{Action: ActionPresetName, Slot: intPtr(3), Name: "Cinema"})

	ack := broker.lastAck(t, "matrix-01")
	if ack.Status != AckAccepted {
		t.Fatalf("ack status = %q, want accepted", ack.Status)
	}

	// The name must survive a restart, matching the HTTP path.
	names, err := journal.LoadPresetNames(context.Background(), "matrix-01")
	if err != nil {
		t.Fatalf("LoadPresetNames: %v", err)
	}
	if names[3] != "Cinema" {
		t.Errorf("persisted name = %q, want Cinema", names[3])
	}
}
