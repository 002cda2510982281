package history

import (
	"context"

	"github.com/nerrad567/avgear-matrix/internal/matrix"
)

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Recorder consumes state snapshots and journals the differences
// between consecutive ones. It runs on the store's subscription
// channel, so journalling can never block device control.
type Recorder struct {
	journal *Journal
	logger  Logger

	prev    matrix.Snapshot
	havePre bool
}

// NewRecorder creates a recorder writing to the given journal.
func NewRecorder(journal *Journal, logger Logger) *Recorder {
	return &Recorder{journal: journal, logger: logger}
}

// Run processes snapshots until the channel closes or ctx is cancelled.
// Intended to run as a goroutine over a Store subscription.
func (r *Recorder) Run(ctx context.Context, snapshots <-chan matrix.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			r.observe(ctx, snap)
		}
	}
}

// observe journals every field that changed since the last snapshot.
func (r *Recorder) observe(ctx context.Context, snap matrix.Snapshot) {
	if !r.havePre {
		r.prev = snap
		r.havePre = true
		return
	}
	prev := r.prev
	r.prev = snap

	if snap.Session != prev.Session {
		r.write(r.journal.RecordSession(ctx, snap.DeviceID, string(snap.Session)))
	}

	// Route changes to or from unknown are connectivity noise, not
	// signal chain history.
	for out, in := range snap.Routes {
		old, seen := prev.Routes[out]
		if !seen || old == in || in == matrix.RouteUnknown || old == matrix.RouteUnknown {
			continue
		}
		r.write(r.journal.RecordRoute(ctx, snap.DeviceID, out, in, SourcePoll))
	}

	if snap.Power != prev.Power && snap.Power != matrix.PowerUnknown && prev.Power != matrix.PowerUnknown {
		r.write(r.journal.RecordPower(ctx, snap.DeviceID, string(snap.Power), SourcePoll))
	}

	for out, state := range snap.Locks {
		old, seen := prev.Locks[out]
		if !seen || old == state || state == matrix.LockUnknown || old == matrix.LockUnknown {
			continue
		}
		o := out
		r.write(r.journal.RecordLock(ctx, snap.DeviceID, &o, string(state), SourcePoll))
	}

	if snap.CurrentPreset != prev.CurrentPreset && snap.CurrentPreset != matrix.NoPreset {
		r.write(r.journal.RecordPreset(ctx, snap.DeviceID, snap.CurrentPreset, SourcePoll))
	}
}

func (r *Recorder) write(err error) {
	if err != nil && r.logger != nil {
		r.logger.Warn("journal write failed", "error", err)
	}
}
