package matrix

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxPresetNameLength bounds host-assigned preset display names.
const MaxPresetNameLength = 50

// Store holds the last known device state and fans out change
// notifications. All mutation goes through Apply and the setter
// methods; readers get copies and can never observe a partial update.
//
// Unknown is a first-class value throughout: on connect and after any
// disconnect, every route and lock is unknown until a poll response
// replaces it.
type Store struct {
	mu      sync.RWMutex
	outputs int
	snap    Snapshot

	subs    map[int]chan Snapshot
	nextSub int

	logger Logger
}

// NewStore creates a store with every field at its unknown value.
func NewStore(deviceID string, outputs int, logger Logger) *Store {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Store{
		outputs: outputs,
		subs:    make(map[int]chan Snapshot),
		logger:  logger,
	}
	s.snap = Snapshot{
		DeviceID:      deviceID,
		Session:       SessionDisconnected,
		Routes:        unknownRoutes(outputs),
		Locks:         unknownLocks(outputs),
		AllLocked:     LockUnknown,
		Power:         PowerUnknown,
		CurrentPreset: NoPreset,
		PresetNames:   make(map[int]string),
	}
	return s
}

func unknownRoutes(outputs int) map[int]int {
	m := make(map[int]int, outputs)
	for out := 1; out <= outputs; out++ {
		m[out] = RouteUnknown
	}
	return m
}

func unknownLocks(outputs int) map[int]LockState {
	m := make(map[int]LockState, outputs)
	for out := 1; out <= outputs; out++ {
		m[out] = LockUnknown
	}
	return m
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() Snapshot {
	out := s.snap
	out.Routes = make(map[int]int, len(s.snap.Routes))
	for k, v := range s.snap.Routes {
		out.Routes[k] = v
	}
	out.Locks = make(map[int]LockState, len(s.snap.Locks))
	for k, v := range s.snap.Locks {
		out.Locks[k] = v
	}
	out.PresetNames = make(map[int]string, len(s.snap.PresetNames))
	for k, v := range s.snap.PresetNames {
		out.PresetNames[k] = v
	}
	return out
}

// Subscribe registers a change listener. The channel is buffered; a
// slow consumer misses intermediate snapshots rather than blocking the
// store.
func (s *Store) Subscribe() (int, <-chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 8)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// notifyLocked bumps the version and fans the new snapshot out to all
// subscribers. Callers hold the write lock.
func (s *Store) notifyLocked() {
	s.snap.Version++
	s.snap.UpdatedAt = time.Now()
	if len(s.subs) == 0 {
		return
	}
	snap := s.copyLocked()
	for id, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			s.logger.Debug("subscriber lagging, dropped snapshot", "subscriber", id)
		}
	}
}

// SetSessionState records a connectivity transition. Entering
// disconnected or connecting resets all volatile device state to
// unknown; stale routing must never be presented as current.
func (s *Store) SetSessionState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Session == state {
		return
	}
	// Degraded means connected but unresponsive. A session already known
	// dead or still dialling stays as it is.
	if state == SessionDegraded && s.snap.Session != SessionConnected {
		return
	}
	s.snap.Session = state
	if state == SessionDisconnected || state == SessionConnecting {
		s.snap.Routes = unknownRoutes(s.outputs)
		s.snap.Locks = unknownLocks(s.outputs)
		s.snap.AllLocked = LockUnknown
		s.snap.Power = PowerUnknown
		s.snap.CurrentPreset = NoPreset
	}
	s.notifyLocked()
}

// SessionState returns the current connectivity state.
func (s *Store) SessionState() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Session
}

// SetDeviceInfo records the model and firmware strings fetched after
// connect. Empty arguments leave the existing value untouched.
func (s *Store) SetDeviceInfo(model, firmware string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	if model != "" && model != s.snap.Model {
		s.snap.Model = model
		changed = true
	}
	if firmware != "" && firmware != s.snap.Firmware {
		s.snap.Firmware = firmware
		changed = true
	}
	if changed {
		s.notifyLocked()
	}
}

// SetPresetName assigns a display name to a preset slot. Names live on
// the host; the device stores only routing. An empty name removes the
// entry.
func (s *Store) SetPresetName(slot int, name string) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	if utf8.RuneCountInString(name) > MaxPresetNameLength {
		return fmt.Errorf("%w: preset name exceeds %d characters", ErrInvalidArgument, MaxPresetNameLength)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		delete(s.snap.PresetNames, slot)
	} else {
		s.snap.PresetNames[slot] = name
	}
	s.notifyLocked()
	return nil
}

// Apply folds a settled command into the state. Wire responses win;
// when a silent-capable command settles by quiescence, the commanded
// intent is applied optimistically and the next poll confirms it.
// Failed commands and unparseable responses never mutate state.
func (s *Store) Apply(cmd Command, ev Event, err error) {
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Kind == EventSilence {
		s.applyIntentLocked(cmd)
	} else {
		s.applyEventLocked(cmd, ev)
	}
	s.notifyLocked()
}

// ApplyUnsolicited folds a response line that no command claimed, such
// as a front-panel route change announcement.
func (s *Store) ApplyUnsolicited(ev Event) {
	if ev.Kind == EventUnparseable || ev.Kind == EventSilence {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyEventLocked(Command{}, ev)
	s.notifyLocked()
}

// applyEventLocked applies wire semantics.
func (s *Store) applyEventLocked(cmd Command, ev Event) {
	switch ev.Kind {
	case EventRouteTable:
		// A full table replaces the map from an all-unknown base, so
		// outputs missing from the response read as unknown, not stale.
		s.snap.Routes = unknownRoutes(s.outputs)
		for out, in := range ev.Routes {
			if out >= 1 && out <= s.outputs {
				s.snap.Routes[out] = in
			}
		}
	case EventOutputStatus:
		if ev.Output >= 1 && ev.Output <= s.outputs {
			s.snap.Routes[ev.Output] = ev.Input
		}
	case EventAllThrough:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = out
		}
	case EventAllClosed:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = RouteOff
		}
	case EventAllOpen:
		// Outputs re-enabled; the restored routing is device-side state
		// we have not observed, so leave the map for the next poll.
	case EventLockStatus:
		s.applyLockLocked(ev)
	case EventPower:
		s.snap.Power = ev.Power
	case EventAck:
		s.applyIntentLocked(cmd)
	}

	if cmd.Op == OpRecallPreset {
		s.snap.CurrentPreset = cmd.Slot
	}
	if isRoutingMutation(cmd.Op) {
		s.snap.CurrentPreset = NoPreset
	}
}

func (s *Store) applyLockLocked(ev Event) {
	if ev.HasGlobalLock {
		state := LockUnlocked
		if ev.AllLocked {
			state = LockLocked
		}
		s.snap.AllLocked = state
		for out := 1; out <= s.outputs; out++ {
			s.snap.Locks[out] = state
		}
		return
	}
	for out, state := range ev.Locks {
		if out < 1 || out > s.outputs {
			continue
		}
		s.snap.Locks[out] = state
		if state == LockUnlocked {
			// Any unlocked channel falsifies the global flag.
			s.snap.AllLocked = LockUnlocked
		}
	}
}

// applyIntentLocked applies the commanded effect when the device gave
// no telling response.
func (s *Store) applyIntentLocked(cmd Command) {
	switch cmd.Op {
	case OpRouteOne:
		s.setRouteLocked(cmd.Output, cmd.Input)
	case OpRouteMulti:
		for _, out := range cmd.Outputs {
			s.setRouteLocked(out, cmd.Input)
		}
	case OpRouteAll:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = cmd.Input
		}
	case OpRouteThrough:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = out
		}
	case OpOutputThrough:
		s.setRouteLocked(cmd.Output, cmd.Output)
	case OpOutputOff:
		s.setRouteLocked(cmd.Output, RouteOff)
	case OpOutputOn:
		// Route restored device-side; unknown until the next poll.
		s.setRouteLocked(cmd.Output, RouteUnknown)
	case OpAllOff:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = RouteOff
		}
	case OpAllOn:
		for out := 1; out <= s.outputs; out++ {
			s.snap.Routes[out] = RouteUnknown
		}
	case OpPowerOn:
		s.snap.Power = PowerOn
	case OpPowerStandby:
		s.snap.Power = PowerStandby
	case OpPowerOff:
		s.snap.Power = PowerOff
	case OpLockOutput:
		s.setLockLocked(cmd.Output, LockLocked)
	case OpUnlockOutput:
		s.setLockLocked(cmd.Output, LockUnlocked)
	case OpLockAll:
		s.snap.AllLocked = LockLocked
		for out := 1; out <= s.outputs; out++ {
			s.snap.Locks[out] = LockLocked
		}
	case OpUnlockAll:
		s.snap.AllLocked = LockUnlocked
		for out := 1; out <= s.outputs; out++ {
			s.snap.Locks[out] = LockUnlocked
		}
	case OpRecallPreset:
		s.snap.CurrentPreset = cmd.Slot
	}
	if isRoutingMutation(cmd.Op) {
		s.snap.CurrentPreset = NoPreset
	}
}

func (s *Store) setRouteLocked(output, input int) {
	if output >= 1 && output <= s.outputs {
		s.snap.Routes[output] = input
	}
}

func (s *Store) setLockLocked(output int, state LockState) {
	if output >= 1 && output <= s.outputs {
		s.snap.Locks[output] = state
		if state == LockUnlocked {
			s.snap.AllLocked = LockUnlocked
		}
	}
}

// isRoutingMutation reports ops that invalidate the tracked preset.
func isRoutingMutation(op Op) bool {
	switch op {
	case OpRouteOne, OpRouteMulti, OpRouteAll, OpRouteThrough,
		OpOutputThrough, OpOutputOn, OpOutputOff, OpAllOn, OpAllOff:
		return true
	default:
		return false
	}
}
