package matrix

import (
	"regexp"
	"strconv"
	"strings"
)

// EventKind classifies a decoded device line.
type EventKind string

// Decoded line kinds. EventUnparseable carries the raw text only and
// never mutates state.
const (
	EventUnparseable  EventKind = "unparseable"
	EventRouteTable   EventKind = "route_table"
	EventOutputStatus EventKind = "output_status"
	EventAllThrough   EventKind = "all_through"
	EventAllClosed    EventKind = "all_closed"
	EventAllOpen      EventKind = "all_open"
	EventLockStatus   EventKind = "lock_status"
	EventPower        EventKind = "power"
	EventAck          EventKind = "ack"

	// EventSilence is synthesised by the dispatcher when a silent-capable
	// command settles by quiescence with no response. It never comes off
	// the wire.
	EventSilence EventKind = "silence"
)

// Event is one decoded response line. Fields beyond Kind and Raw are
// populated per kind: Routes for routing events, Locks/HasGlobalLock
// for lock status, Power for power responses.
type Event struct {
	Kind EventKind
	Raw  string

	// Routes maps output channel to input channel for route_table and
	// output_status events. RouteOff marks a closed output.
	Routes map[int]int

	// Single-pair convenience for output_status events.
	Output int
	Input  int

	// Lock status. Locks holds per-output channel state; HasGlobalLock
	// reports that the line carried a panel-wide lock indication, with
	// the value in AllLocked.
	Locks         map[int]LockState
	HasGlobalLock bool
	AllLocked     bool

	Power PowerState
}

var (
	// Routing pairs render as "O05:I03" or "O05-I03", any number of
	// pairs per line, with optional surrounding text.
	routePairRe = regexp.MustCompile(`(?i)O\s*(\d{1,2})\s*[:\-]\s*I\s*(\d{1,2})`)

	// Some firmware spells the pairs out: "Out1:In2" or
	// "Output1:Input2 Output2:Input3".
	wordPairRe = regexp.MustCompile(`(?i)\bout(?:put)?\s*(\d{1,2})\s*[:\-]\s*in(?:put)?\s*(\d{1,2})`)

	// Single-output status replies that name only the input, such as
	// "Input 03" or "In:3" in answer to "Status03.".
	inputOnlyRe = regexp.MustCompile(`(?i)\bin(?:put)?\s*:?\s*(\d{1,2})\b`)

	// A closed output renders as "closed" or "off" free text.
	closedTokenRe = regexp.MustCompile(`(?i)\b(closed|off)\b`)

	// Per-channel lock acknowledgements carry the channel number right
	// after the Lock/UnLock token.
	lockChanRe = regexp.MustCompile(`(?i)(un\s*-?\s*lock|lock)\s*-?\s*(\d{1,2})`)

	unlockTokenRe = regexp.MustCompile(`(?i)un\s*-?\s*lock`)
	lockTokenRe   = regexp.MustCompile(`(?i)lock`)
)

// Decode classifies one response line. It never returns an error:
// unrecognised text decodes to an unparseable event so callers can log
// it without losing the raw bytes.
//
// Decoding is deterministic and order-sensitive. Fixed phrases are
// checked before regex extraction so lines like "All Through." never
// half-match the pair pattern.
func Decode(line string) Event {
	raw := line
	text := strings.TrimSpace(line)
	if text == "" {
		return Event{Kind: EventUnparseable, Raw: raw}
	}
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(upper, "ALL THROUGH"):
		return Event{Kind: EventAllThrough, Raw: raw}
	case strings.Contains(upper, "ALL CLOSED"):
		return Event{Kind: EventAllClosed, Raw: raw}
	case strings.Contains(upper, "ALL OPEN"):
		return Event{Kind: EventAllOpen, Raw: raw}
	}

	if ev, ok := decodePower(upper, raw); ok {
		return ev
	}
	if ev, ok := decodeRoutes(text, raw); ok {
		return ev
	}
	if ev, ok := decodeLock(text, raw); ok {
		return ev
	}
	if ev, ok := decodeSingleOutput(text, raw); ok {
		return ev
	}
	if upper == "OK" || strings.Contains(upper, "SUCCESS") {
		return Event{Kind: EventAck, Raw: raw}
	}
	return Event{Kind: EventUnparseable, Raw: raw}
}

// decodePower scans for the device's power vocabulary. STANDBY and
// PWOFF are checked before PWON because the "on" token is a substring
// risk the other way round on some firmware strings.
func decodePower(upper, raw string) (Event, bool) {
	switch {
	case strings.Contains(upper, "STANDBY"):
		return Event{Kind: EventPower, Raw: raw, Power: PowerStandby}, true
	case strings.Contains(upper, "PWOFF"), strings.Contains(upper, "POWER OFF"):
		return Event{Kind: EventPower, Raw: raw, Power: PowerOff}, true
	case strings.Contains(upper, "PWON"), strings.Contains(upper, "POWER ON"):
		return Event{Kind: EventPower, Raw: raw, Power: PowerOn}, true
	}
	return Event{}, false
}

// decodeRoutes extracts "Oxx:Iyy" pairs, falling back to the spelled
// out "OutputX:InputY" form some firmware uses. A single pair is an
// output-status event; multiple pairs form a route table. Input 0 is
// the device's rendering of a closed output.
func decodeRoutes(text, raw string) (Event, bool) {
	matches := routePairRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		matches = wordPairRe.FindAllStringSubmatch(text, -1)
	}
	if len(matches) == 0 {
		return Event{}, false
	}
	routes := make(map[int]int, len(matches))
	for _, m := range matches {
		out, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		in, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		routes[out] = in
	}
	if len(routes) == 0 {
		return Event{}, false
	}
	ev := Event{Raw: raw, Routes: routes}
	if len(routes) == 1 {
		ev.Kind = EventOutputStatus
		for out, in := range routes {
			ev.Output = out
			ev.Input = in
		}
	} else {
		ev.Kind = EventRouteTable
	}
	return ev, true
}

// decodeLock recognises per-channel lock acknowledgements
// ("I-Lock05", "I-UnLock05") and panel-wide lock status lines
// ("A-Lock", "System Locked", "System UnLock").
func decodeLock(text, raw string) (Event, bool) {
	if !lockTokenRe.MatchString(text) {
		return Event{}, false
	}
	if chans := lockChanRe.FindAllStringSubmatch(text, -1); len(chans) > 0 {
		locks := make(map[int]LockState, len(chans))
		for _, m := range chans {
			ch, err := strconv.Atoi(m[2])
			if err != nil || ch == 0 {
				continue
			}
			if unlockTokenRe.MatchString(m[1]) {
				locks[ch] = LockUnlocked
			} else {
				locks[ch] = LockLocked
			}
		}
		if len(locks) > 0 {
			return Event{Kind: EventLockStatus, Raw: raw, Locks: locks}, true
		}
	}
	locked := !unlockTokenRe.MatchString(text)
	return Event{Kind: EventLockStatus, Raw: raw, HasGlobalLock: true, AllLocked: locked}, true
}

// decodeSingleOutput handles single-output status replies that never
// name the output: "Input 03", "In:3", or a bare "closed"/"off" for a
// muted channel. Output stays zero; the dispatcher fills it in from
// the command that asked.
func decodeSingleOutput(text, raw string) (Event, bool) {
	if m := inputOnlyRe.FindStringSubmatch(text); m != nil {
		in, err := strconv.Atoi(m[1])
		if err == nil && in >= 1 {
			return Event{Kind: EventOutputStatus, Raw: raw, Input: in}, true
		}
	}
	if closedTokenRe.MatchString(text) {
		return Event{Kind: EventOutputStatus, Raw: raw, Input: RouteOff}, true
	}
	return Event{}, false
}
