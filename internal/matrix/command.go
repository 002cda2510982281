package matrix

import (
	"fmt"
	"strings"
)

// Op identifies a command family. Used for logging and for state
// application after a command settles.
type Op string

// Command families. One per device operation the bridge can issue.
const (
	OpRouteOne      Op = "route_one"
	OpRouteMulti    Op = "route_multi"
	OpRouteAll      Op = "route_all"
	OpRouteThrough  Op = "route_through"
	OpOutputThrough Op = "output_through"
	OpOutputOn      Op = "output_on"
	OpOutputOff     Op = "output_off"
	OpAllOn         Op = "all_on"
	OpAllOff        Op = "all_off"
	OpSavePreset    Op = "save_preset"
	OpRecallPreset  Op = "recall_preset"
	OpClearPreset   Op = "clear_preset"
	OpPowerOn       Op = "power_on"
	OpPowerStandby  Op = "power_standby"
	OpPowerOff      Op = "power_off"
	OpLockOutput    Op = "lock_output"
	OpUnlockOutput  Op = "unlock_output"
	OpLockAll       Op = "lock_all"
	OpUnlockAll     Op = "unlock_all"
	OpQueryStatus   Op = "query_status"
	OpQueryOutput   Op = "query_output"
	OpQueryLock     Op = "query_lock"
	OpQueryPower    Op = "query_power"
	OpQueryModel    Op = "query_model"
	OpQueryVersion  Op = "query_version"
)

// Command is a fully encoded device command together with its settle
// policy. Commands are value types: constructed by the New* functions,
// validated up front, and immutable afterwards.
//
// The wire protocol has no framing and many commands produce no
// response at all. Matches reports whether a decoded line settles the
// command; SilentOK marks commands that are considered successful when
// one quiescence interval passes without a negative response (the
// device never sends one in its documented vocabulary).
type Command struct {
	Op   Op
	Wire string

	// Matches reports whether a decoded event is the response this
	// command is waiting for.
	Matches func(Event) bool

	// SilentOK allows settling after one quiescence interval with no
	// matching response. Queries must see a real response and leave
	// this false.
	SilentOK bool

	// Intent parameters, retained for state application on settle.
	Input   int
	Output  int
	Outputs []int
	Slot    int
}

// channel bounds; the protocol renders channels as two-digit decimals,
// so the upper bound can never exceed 99 even for future hardware.
const (
	minChannel = 1
	minPreset  = 0
	maxPreset  = 9
)

// validateChannel checks an input or output channel number against the
// matrix dimension. Encoding never produces bytes for an out-of-range
// channel.
func validateChannel(kind string, ch, limit int) error {
	if ch < minChannel || ch > limit {
		return fmt.Errorf("%w: %s channel %d out of range 1-%d", ErrInvalidArgument, kind, ch, limit)
	}
	return nil
}

// validateSlot checks a preset slot number.
func validateSlot(slot int) error {
	if slot < minPreset || slot > maxPreset {
		return fmt.Errorf("%w: preset slot %d out of range %d-%d", ErrInvalidArgument, slot, minPreset, maxPreset)
	}
	return nil
}

// Codec encodes typed intents into the device's ASCII command strings.
// It is pure and stateless apart from the matrix dimensions used for
// range validation.
type Codec struct {
	Inputs  int
	Outputs int
}

// NewCodec creates a codec for a matrix of the given dimensions.
func NewCodec(inputs, outputs int) Codec {
	return Codec{Inputs: inputs, Outputs: outputs}
}

// RouteOne routes one input to one output: "01V02.".
func (c Codec) RouteOne(input, output int) (Command, error) {
	if err := validateChannel("input", input, c.Inputs); err != nil {
		return Command{}, err
	}
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpRouteOne,
		Wire:     fmt.Sprintf("%02dV%02d.", input, output),
		Matches:  matchRouting,
		SilentOK: true,
		Input:    input,
		Output:   output,
	}, nil
}

// RouteMulti routes one input to several outputs in a single command:
// "01V02,05,07.". The device treats the command as all-or-nothing; the
// manual does not document partial failure and none is modelled here.
func (c Codec) RouteMulti(input int, outputs []int) (Command, error) {
	if err := validateChannel("input", input, c.Inputs); err != nil {
		return Command{}, err
	}
	if len(outputs) == 0 {
		return Command{}, fmt.Errorf("%w: at least one output required", ErrInvalidArgument)
	}
	parts := make([]string, len(outputs))
	for i, out := range outputs {
		if err := validateChannel("output", out, c.Outputs); err != nil {
			return Command{}, err
		}
		parts[i] = fmt.Sprintf("%02d", out)
	}
	return Command{
		Op:       OpRouteMulti,
		Wire:     fmt.Sprintf("%02dV%s.", input, strings.Join(parts, ",")),
		Matches:  matchRouting,
		SilentOK: true,
		Input:    input,
		Outputs:  append([]int(nil), outputs...),
	}, nil
}

// RouteAll routes one input to every output: "03All.".
func (c Codec) RouteAll(input int) (Command, error) {
	if err := validateChannel("input", input, c.Inputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpRouteAll,
		Wire:     fmt.Sprintf("%02dAll.", input),
		Matches:  matchRouting,
		SilentOK: true,
		Input:    input,
	}, nil
}

// RouteThrough routes every input to its same-numbered output: "All#.".
func (c Codec) RouteThrough() Command {
	return Command{
		Op:       OpRouteThrough,
		Wire:     "All#.",
		Matches:  matchRouting,
		SilentOK: true,
	}
}

// OutputThrough routes one output to its same-numbered input: "05#.".
func (c Codec) OutputThrough(output int) (Command, error) {
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpOutputThrough,
		Wire:     fmt.Sprintf("%02d#.", output),
		Matches:  matchRouting,
		SilentOK: true,
		Output:   output,
	}, nil
}

// OutputOn opens an output: "05@.".
func (c Codec) OutputOn(output int) (Command, error) {
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpOutputOn,
		Wire:     fmt.Sprintf("%02d@.", output),
		Matches:  matchRouting,
		SilentOK: true,
		Output:   output,
	}, nil
}

// OutputOff closes an output: "05$.".
func (c Codec) OutputOff(output int) (Command, error) {
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpOutputOff,
		Wire:     fmt.Sprintf("%02d$.", output),
		Matches:  matchRouting,
		SilentOK: true,
		Output:   output,
	}, nil
}

// AllOn opens all outputs: "All@.".
func (c Codec) AllOn() Command {
	return Command{
		Op:       OpAllOn,
		Wire:     "All@.",
		Matches:  matchRouting,
		SilentOK: true,
	}
}

// AllOff closes all outputs: "All$.".
func (c Codec) AllOff() Command {
	return Command{
		Op:       OpAllOff,
		Wire:     "All$.",
		Matches:  matchRouting,
		SilentOK: true,
	}
}

// SavePreset stores the current routing in a device preset slot: "Save3.".
func (c Codec) SavePreset(slot int) (Command, error) {
	if err := validateSlot(slot); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpSavePreset,
		Wire:     fmt.Sprintf("Save%d.", slot),
		Matches:  matchAck,
		SilentOK: true,
		Slot:     slot,
	}, nil
}

// RecallPreset applies a stored preset: "Recall3.".
func (c Codec) RecallPreset(slot int) (Command, error) {
	if err := validateSlot(slot); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpRecallPreset,
		Wire:     fmt.Sprintf("Recall%d.", slot),
		Matches:  matchRouting,
		SilentOK: true,
		Slot:     slot,
	}, nil
}

// ClearPreset erases a stored preset: "Clear3.".
func (c Codec) ClearPreset(slot int) (Command, error) {
	if err := validateSlot(slot); err != nil {
		return Command{}, err
	}
	return Command{
		Op:       OpClearPreset,
		Wire:     fmt.Sprintf("Clear%d.", slot),
		Matches:  matchAck,
		SilentOK: true,
		Slot:     slot,
	}, nil
}

// SetPower encodes a power mode change: "PWON.", "STANDBY." or "PWOFF.".
func (c Codec) SetPower(state PowerState) (Command, error) {
	switch state {
	case PowerOn:
		return Command{Op: OpPowerOn, Wire: "PWON.", Matches: matchPower, SilentOK: true}, nil
	case PowerStandby:
		return Command{Op: OpPowerStandby, Wire: "STANDBY.", Matches: matchPower, SilentOK: true}, nil
	case PowerOff:
		return Command{Op: OpPowerOff, Wire: "PWOFF.", Matches: matchPower, SilentOK: true}, nil
	default:
		return Command{}, fmt.Errorf("%w: power state %q", ErrInvalidArgument, state)
	}
}

// SetLock locks or unlocks a single output: "I-Lock05." / "I-UnLock05.".
func (c Codec) SetLock(output int, locked bool) (Command, error) {
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	if locked {
		return Command{
			Op:       OpLockOutput,
			Wire:     fmt.Sprintf("I-Lock%02d.", output),
			Matches:  matchLock,
			SilentOK: true,
			Output:   output,
		}, nil
	}
	return Command{
		Op:       OpUnlockOutput,
		Wire:     fmt.Sprintf("I-UnLock%02d.", output),
		Matches:  matchLock,
		SilentOK: true,
		Output:   output,
	}, nil
}

// SetLockAll locks or unlocks all outputs: "A-Lock." / "A-UnLock.".
func (c Codec) SetLockAll(locked bool) Command {
	if locked {
		return Command{Op: OpLockAll, Wire: "A-Lock.", Matches: matchLock, SilentOK: true}
	}
	return Command{Op: OpUnlockAll, Wire: "A-UnLock.", Matches: matchLock, SilentOK: true}
}

// QueryStatus requests the full routing table: "Status.".
func (c Codec) QueryStatus() Command {
	return Command{
		Op:      OpQueryStatus,
		Wire:    "Status.",
		Matches: matchRouting,
	}
}

// QueryOutputStatus requests the routing of one output: "Status05.".
func (c Codec) QueryOutputStatus(output int) (Command, error) {
	if err := validateChannel("output", output, c.Outputs); err != nil {
		return Command{}, err
	}
	return Command{
		Op:      OpQueryOutput,
		Wire:    fmt.Sprintf("Status%02d.", output),
		Matches: matchRouting,
		Output:  output,
	}, nil
}

// QueryLockStatus requests the panel/channel lock status: "Lock-Sta.".
func (c Codec) QueryLockStatus() Command {
	return Command{
		Op:      OpQueryLock,
		Wire:    "Lock-Sta.",
		Matches: matchLock,
	}
}

// QueryPower requests the power mode: "%9962.".
func (c Codec) QueryPower() Command {
	return Command{
		Op:      OpQueryPower,
		Wire:    "%9962.",
		Matches: matchPower,
	}
}

// QueryModel requests the device model: "/*Type;".
// The response is a bare model string outside the decodable vocabulary,
// so any non-empty line settles the command.
func (c Codec) QueryModel() Command {
	return Command{
		Op:      OpQueryModel,
		Wire:    "/*Type;",
		Matches: matchAnyText,
	}
}

// QueryVersion requests the firmware version: "/^Version;".
func (c Codec) QueryVersion() Command {
	return Command{
		Op:      OpQueryVersion,
		Wire:    "/^Version;",
		Matches: matchAnyText,
	}
}

// Response predicates. Each accepts the event kinds that can settle the
// command family.

func matchRouting(ev Event) bool {
	switch ev.Kind {
	case EventRouteTable, EventOutputStatus, EventAllThrough, EventAllClosed, EventAllOpen:
		return true
	default:
		return false
	}
}

func matchLock(ev Event) bool {
	return ev.Kind == EventLockStatus
}

func matchPower(ev Event) bool {
	return ev.Kind == EventPower
}

func matchAck(ev Event) bool {
	return ev.Kind == EventAck
}

// matchAnyText settles on any line with content, parseable or not. Used
// for model/version queries whose responses are free-form strings.
func matchAnyText(ev Event) bool {
	return strings.TrimSpace(ev.Raw) != ""
}
