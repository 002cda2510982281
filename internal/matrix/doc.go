// Package matrix controls an HDMI matrix switcher over its ASCII TCP
// protocol.
//
// The device speaks an unframed free-text protocol on a single
// persistent connection: commands are short ASCII strings terminated
// by "." or ";", responses are human-readable lines, and several
// commands produce no response at all. The package copes with this by
// serialising all traffic through a FIFO dispatcher (one command in
// flight, every incoming line attributed to it), flushing unterminated
// responses after a quiescence interval, and treating silence as
// acceptance for the command families the device never acknowledges.
//
// Controller is the entry point. It owns the session, the dispatcher,
// a state store with change notifications and a poller that refreshes
// the routing table and recovers the connection with backoff after
// repeated poll failures.
package matrix
