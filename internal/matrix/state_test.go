package matrix

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore() *Store {
	return NewStore("matrix-1", 8, nil)
}

func TestStoreInitialSnapshot(t *testing.T) {
	s := newTestStore()
	snap := s.Snapshot()

	if snap.Session != SessionDisconnected {
		t.Errorf("Session = %q, want disconnected", snap.Session)
	}
	if snap.Power != PowerUnknown {
		t.Errorf("Power = %q, want unknown", snap.Power)
	}
	if snap.CurrentPreset != NoPreset {
		t.Errorf("CurrentPreset = %d, want NoPreset", snap.CurrentPreset)
	}
	if len(snap.Routes) != 8 {
		t.Fatalf("Routes has %d entries, want 8", len(snap.Routes))
	}
	for out := 1; out <= 8; out++ {
		if snap.Routes[out] != RouteUnknown {
			t.Errorf("Routes[%d] = %d, want RouteUnknown", out, snap.Routes[out])
		}
		if snap.Locks[out] != LockUnknown {
			t.Errorf("Locks[%d] = %q, want unknown", out, snap.Locks[out])
		}
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := newTestStore()
	snap := s.Snapshot()
	snap.Routes[1] = 7
	snap.PresetNames[3] = "mutated"

	again := s.Snapshot()
	if again.Routes[1] != RouteUnknown {
		t.Error("mutating a snapshot leaked into the store")
	}
	if _, ok := again.PresetNames[3]; ok {
		t.Error("mutating snapshot preset names leaked into the store")
	}
}

func TestStoreRouteTableReplacesWholeMap(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	// First poll sees a full table.
	s.Apply(c.QueryStatus(), Decode("O01:I03 O02:I03 O03:I00 O04:I04 O05:I05 O06:I06 O07:I07 O08:I08"), nil)
	if snap := s.Snapshot(); snap.Routes[1] != 3 || snap.Routes[3] != RouteOff {
		t.Fatalf("Routes = %v after first poll", snap.Routes)
	}

	// A later poll that omits some outputs resets them to unknown.
	s.Apply(c.QueryStatus(), Decode("O01:I01 O02:I02"), nil)
	snap := s.Snapshot()
	if snap.Routes[1] != 1 || snap.Routes[2] != 2 {
		t.Errorf("Routes[1,2] = %d,%d; want 1,2", snap.Routes[1], snap.Routes[2])
	}
	for out := 3; out <= 8; out++ {
		if snap.Routes[out] != RouteUnknown {
			t.Errorf("Routes[%d] = %d, want RouteUnknown after partial table", out, snap.Routes[out])
		}
	}
}

func TestStoreOutputStatusMergesSingleEntry(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	s.Apply(c.QueryStatus(), Decode("O01:I01 O02:I02 O03:I03"), nil)
	cmd, _ := c.QueryOutputStatus(2)
	s.Apply(cmd, Decode("O02:I07"), nil)

	snap := s.Snapshot()
	if snap.Routes[2] != 7 {
		t.Errorf("Routes[2] = %d, want 7", snap.Routes[2])
	}
	if snap.Routes[1] != 1 || snap.Routes[3] != 3 {
		t.Error("single output status wiped unrelated routes")
	}
}

func TestStoreAllThroughAndAllClosed(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	s.Apply(c.RouteThrough(), Decode("All Through."), nil)
	snap := s.Snapshot()
	for out := 1; out <= 8; out++ {
		if snap.Routes[out] != out {
			t.Errorf("Routes[%d] = %d, want identity", out, snap.Routes[out])
		}
	}

	s.Apply(c.AllOff(), Decode("All Closed."), nil)
	snap = s.Snapshot()
	for out := 1; out <= 8; out++ {
		if snap.Routes[out] != RouteOff {
			t.Errorf("Routes[%d] = %d, want RouteOff", out, snap.Routes[out])
		}
	}
}

func TestStoreSilentSettleAppliesIntent(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	cmd, _ := c.RouteOne(3, 5)
	s.Apply(cmd, Event{Kind: EventSilence}, nil)
	if snap := s.Snapshot(); snap.Routes[5] != 3 {
		t.Errorf("Routes[5] = %d, want 3 after silent route", snap.Routes[5])
	}

	multi, _ := c.RouteMulti(2, []int{1, 4})
	s.Apply(multi, Event{Kind: EventSilence}, nil)
	snap := s.Snapshot()
	if snap.Routes[1] != 2 || snap.Routes[4] != 2 {
		t.Errorf("multi-route intent not applied: %v", snap.Routes)
	}

	off, _ := c.OutputOff(5)
	s.Apply(off, Event{Kind: EventSilence}, nil)
	if snap := s.Snapshot(); snap.Routes[5] != RouteOff {
		t.Errorf("Routes[5] = %d, want RouteOff", snap.Routes[5])
	}

	power, _ := c.SetPower(PowerStandby)
	s.Apply(power, Event{Kind: EventSilence}, nil)
	if snap := s.Snapshot(); snap.Power != PowerStandby {
		t.Errorf("Power = %q, want standby", snap.Power)
	}
}

func TestStoreFailedCommandNeverMutates(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	before := s.Snapshot()
	cmd, _ := c.RouteOne(1, 2)
	s.Apply(cmd, Event{}, ErrCommandTimeout)
	after := s.Snapshot()

	if after.Version != before.Version {
		t.Error("failed command bumped the version")
	}
	if after.Routes[2] != RouteUnknown {
		t.Error("failed command mutated routes")
	}
}

func TestStoreUnparseableNeverMutates(t *testing.T) {
	s := newTestStore()
	before := s.Snapshot()
	s.ApplyUnsolicited(Decode("garbage response"))
	if after := s.Snapshot(); after.Version != before.Version {
		t.Error("unparseable line bumped the version")
	}
}

func TestStoreDisconnectResetsVolatileState(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	s.SetSessionState(SessionConnected)
	s.SetDeviceInfo("AVG-MX88", "v1.2.3")
	s.Apply(c.QueryStatus(), Decode("O01:I05 O02:I05"), nil)
	recall, _ := c.RecallPreset(4)
	s.Apply(recall, Event{Kind: EventSilence}, nil)
	if err := s.SetPresetName(4, "cinema"); err != nil {
		t.Fatalf("SetPresetName: %v", err)
	}

	s.SetSessionState(SessionDisconnected)
	snap := s.Snapshot()

	for out := 1; out <= 8; out++ {
		if snap.Routes[out] != RouteUnknown {
			t.Errorf("Routes[%d] = %d, want RouteUnknown after disconnect", out, snap.Routes[out])
		}
	}
	if snap.Power != PowerUnknown {
		t.Errorf("Power = %q, want unknown", snap.Power)
	}
	if snap.CurrentPreset != NoPreset {
		t.Errorf("CurrentPreset = %d, want NoPreset", snap.CurrentPreset)
	}
	// Identity and host-side names survive the outage.
	if snap.Model != "AVG-MX88" {
		t.Errorf("Model = %q, want AVG-MX88", snap.Model)
	}
	if snap.PresetNames[4] != "cinema" {
		t.Errorf("PresetNames[4] = %q, want cinema", snap.PresetNames[4])
	}
}

func TestStoreDegradedRequiresConnectedSession(t *testing.T) {
	s := newTestStore()

	// A dead socket stays disconnected even if poll failures keep
	// accumulating afterwards.
	s.SetSessionState(SessionConnected)
	s.SetSessionState(SessionDisconnected)
	s.SetSessionState(SessionDegraded)
	if got := s.SessionState(); got != SessionDisconnected {
		t.Errorf("SessionState = %q, want disconnected", got)
	}

	s.SetSessionState(SessionConnecting)
	s.SetSessionState(SessionDegraded)
	if got := s.SessionState(); got != SessionConnecting {
		t.Errorf("SessionState = %q, want connecting", got)
	}

	// Connected but unresponsive is what degraded means.
	s.SetSessionState(SessionConnected)
	s.SetSessionState(SessionDegraded)
	if got := s.SessionState(); got != SessionDegraded {
		t.Errorf("SessionState = %q, want degraded", got)
	}
}

func TestStoreRecallTracksPresetAndRoutingClearsIt(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	recall, _ := c.RecallPreset(7)
	s.Apply(recall, Event{Kind: EventSilence}, nil)
	if snap := s.Snapshot(); snap.CurrentPreset != 7 {
		t.Fatalf("CurrentPreset = %d, want 7", snap.CurrentPreset)
	}

	// Any manual routing change invalidates the tracked preset.
	route, _ := c.RouteOne(1, 2)
	s.Apply(route, Event{Kind: EventSilence}, nil)
	if snap := s.Snapshot(); snap.CurrentPreset != NoPreset {
		t.Errorf("CurrentPreset = %d, want NoPreset after manual route", snap.CurrentPreset)
	}
}

func TestStoreLockHandling(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	s.Apply(c.SetLockAll(true), Event{Kind: EventSilence}, nil)
	snap := s.Snapshot()
	if snap.AllLocked != LockLocked {
		t.Fatalf("AllLocked = %q, want locked", snap.AllLocked)
	}
	for out := 1; out <= 8; out++ {
		if snap.Locks[out] != LockLocked {
			t.Errorf("Locks[%d] = %q, want locked", out, snap.Locks[out])
		}
	}

	// Unlocking one channel falsifies the global flag.
	unlock, _ := c.SetLock(3, false)
	s.Apply(unlock, Event{Kind: EventSilence}, nil)
	snap = s.Snapshot()
	if snap.Locks[3] != LockUnlocked {
		t.Errorf("Locks[3] = %q, want unlocked", snap.Locks[3])
	}
	if snap.AllLocked != LockUnlocked {
		t.Errorf("AllLocked = %q, want unlocked after per-channel unlock", snap.AllLocked)
	}
}

func TestStoreLockStatusFromWire(t *testing.T) {
	s := newTestStore()
	c := NewCodec(8, 8)

	s.Apply(c.QueryLockStatus(), Decode("I-Lock05"), nil)
	if snap := s.Snapshot(); snap.Locks[5] != LockLocked {
		t.Errorf("Locks[5] = %q, want locked", snap.Locks[5])
	}

	s.Apply(c.QueryLockStatus(), Decode("A-UnLock"), nil)
	snap := s.Snapshot()
	if snap.AllLocked != LockUnlocked {
		t.Errorf("AllLocked = %q, want unlocked", snap.AllLocked)
	}
	for out := 1; out <= 8; out++ {
		if snap.Locks[out] != LockUnlocked {
			t.Errorf("Locks[%d] = %q, want unlocked", out, snap.Locks[out])
		}
	}
}

func TestStorePresetNameValidation(t *testing.T) {
	s := newTestStore()

	if err := s.SetPresetName(0, "all off"); err != nil {
		t.Errorf("SetPresetName(0) = %v, want nil", err)
	}
	if err := s.SetPresetName(10, "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("slot 10 error = %v, want ErrInvalidArgument", err)
	}
	long := strings.Repeat("a", MaxPresetNameLength+1)
	if err := s.SetPresetName(1, long); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("long name error = %v, want ErrInvalidArgument", err)
	}
	exact := strings.Repeat("a", MaxPresetNameLength)
	if err := s.SetPresetName(1, exact); err != nil {
		t.Errorf("max-length name rejected: %v", err)
	}

	// Empty name removes the entry.
	if err := s.SetPresetName(1, ""); err != nil {
		t.Fatalf("SetPresetName clear: %v", err)
	}
	if _, ok := s.Snapshot().PresetNames[1]; ok {
		t.Error("empty name did not remove the entry")
	}
}

func TestStoreSubscriptions(t *testing.T) {
	s := newTestStore()
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	s.SetSessionState(SessionConnecting)

	select {
	case snap := <-ch:
		if snap.Session != SessionConnecting {
			t.Errorf("notified Session = %q, want connecting", snap.Session)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification after state change")
	}
}

func TestStoreUnsubscribeClosesChannel(t *testing.T) {
	s := newTestStore()
	id, ch := s.Subscribe()
	s.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestStoreVersionMonotonic(t *testing.T) {
	s := newTestStore()
	v0 := s.Snapshot().Version
	s.SetSessionState(SessionConnecting)
	v1 := s.Snapshot().Version
	s.SetSessionState(SessionConnected)
	v2 := s.Snapshot().Version
	if !(v0 < v1 && v1 < v2) {
		t.Errorf("versions not monotonic: %d, %d, %d", v0, v1, v2)
	}
}
