// Package history journals device state changes to SQLite.
//
// The journal records routing, power, lock, session and preset events
// so an installer can answer "what changed and when" after the fact.
// A Recorder diffs consecutive state snapshots and writes only real
// transitions; unknown-to-known flips after reconnects are filtered
// out as connectivity noise.
//
// Preset display names are also persisted here, since the device
// stores only the routing snapshots themselves.
package history
