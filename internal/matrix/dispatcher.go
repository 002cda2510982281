package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DispatcherConfig carries the sequencing parameters.
type DispatcherConfig struct {
	// CommandTimeout is the per-attempt deadline for a matching response.
	CommandTimeout time.Duration

	// Retries is the number of re-sends after the first attempt times
	// out. Zero disables retry.
	Retries int

	// CommandDelay is the minimum gap between consecutive sends. The
	// device drops bytes when commands arrive back to back.
	CommandDelay time.Duration

	// Quiescence is how long a silent-capable command waits with no
	// matching response before it is treated as accepted.
	Quiescence time.Duration

	// QueueSize bounds the number of commands waiting behind the
	// in-flight one.
	QueueSize int
}

// Result is the outcome of one dispatched command.
type Result struct {
	Event Event
	Err   error
}

type pendingCommand struct {
	id     string
	cmd    Command
	result chan Result

	mu        sync.Mutex
	sent      bool
	cancelled bool
	cancelErr error
}

// tryCancel marks the command cancelled if it has not been written to
// the wire yet. Once sent, a command runs to completion; the device has
// no abort mechanism.
func (p *pendingCommand) tryCancel(err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent || p.cancelled {
		return false
	}
	p.cancelled = true
	p.cancelErr = err
	return true
}

func (p *pendingCommand) markSent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return false
	}
	p.sent = true
	return true
}

// Dispatcher serialises commands onto the session. The protocol has no
// correlation IDs and no framing, so exactly one command is in flight
// at a time and every incoming line is attributed to it. Commands are
// processed strictly in submission order.
type Dispatcher struct {
	cfg     DispatcherConfig
	session *Session
	logger  Logger

	// OnSettle observes every settled command before its submitter is
	// released. This is the single path by which command responses reach
	// the state store.
	OnSettle func(cmd Command, ev Event, err error)

	// OnUnsolicited observes lines that arrive while no command is in
	// flight, or that no in-flight command claims.
	OnUnsolicited func(ev Event)

	queue    chan *pendingCommand
	lines    chan Event
	connLost chan error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	lastSend time.Time
}

// NewDispatcher creates a dispatcher bound to a session. Call Start
// before submitting.
func NewDispatcher(cfg DispatcherConfig, session *Session, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = 150 * time.Millisecond
	}
	d := &Dispatcher{
		cfg:      cfg,
		session:  session,
		logger:   logger,
		queue:    make(chan *pendingCommand, cfg.QueueSize),
		lines:    make(chan Event, 64),
		connLost: make(chan error, 1),
		closed:   make(chan struct{}),
	}
	return d
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop shuts the dispatcher down. Queued commands fail with
// ErrSessionClosed; an in-flight command is abandoned.
func (d *Dispatcher) Stop() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
	d.drainQueue()
}

// HandleLine is wired to Session.OnLine. It decodes the raw line and
// hands it to the dispatch loop. The channel is buffered; if the loop
// is wedged the oldest line is dropped rather than blocking the read
// loop.
func (d *Dispatcher) HandleLine(line string) {
	ev := Decode(line)
	select {
	case d.lines <- ev:
	default:
		select {
		case <-d.lines:
		default:
		}
		select {
		case d.lines <- ev:
		default:
		}
		d.logger.Warn("response buffer full, dropped oldest line")
	}
}

// HandleDisconnect is wired to Session.OnDisconnect. The in-flight
// command fails immediately instead of waiting out its deadline.
func (d *Dispatcher) HandleDisconnect(err error) {
	select {
	case d.connLost <- err:
	default:
	}
}

// Submit enqueues a command and blocks until it settles. Cancelling ctx
// while the command is still queued fails it with the context error;
// once the bytes hit the wire the command runs to completion and
// Submit keeps waiting for its outcome.
func (d *Dispatcher) Submit(ctx context.Context, cmd Command) (Event, error) {
	p := &pendingCommand{
		id:     uuid.NewString(),
		cmd:    cmd,
		result: make(chan Result, 1),
	}

	select {
	case d.queue <- p:
	case <-d.closed:
		return Event{}, ErrSessionClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}

	select {
	case res := <-p.result:
		return res.Event, res.Err
	case <-ctx.Done():
		if p.tryCancel(ctx.Err()) {
			return Event{}, ctx.Err()
		}
		// Already in flight; wait for the real outcome.
		res := <-p.result
		return res.Event, res.Err
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.closed:
			return
		case p := <-d.queue:
			d.execute(p)
		case ev := <-d.lines:
			d.unsolicited(ev)
		case err := <-d.connLost:
			d.logger.Debug("disconnect signal with no command in flight", "error", err)
		}
	}
}

func (d *Dispatcher) execute(p *pendingCommand) {
	d.pace()
	d.drainStaleLines()

	attempts := d.cfg.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if !p.markSent() {
			p.result <- Result{Err: p.cancelErr}
			return
		}
		if err := d.session.Send(p.cmd.Wire); err != nil {
			d.settle(p, Event{}, err)
			return
		}
		d.lastSend = time.Now()

		ev, err := d.await(p.cmd)
		if err == nil {
			d.settle(p, ev, nil)
			return
		}
		if errors.Is(err, ErrCommandTimeout) && attempt < attempts {
			d.logger.Warn("command timed out, retrying",
				"op", string(p.cmd.Op), "wire", p.cmd.Wire, "attempt", attempt)
			// Linear backoff between re-sends.
			d.sleep(time.Duration(attempt) * d.cfg.CommandDelay)
			continue
		}
		if errors.Is(err, ErrCommandTimeout) {
			err = fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, p.cmd.Wire, attempts)
		}
		d.settle(p, Event{}, err)
		return
	}
}

// await waits for a line that settles the in-flight command. Silent
// commands also settle when one quiescence interval passes with no
// traffic at all.
func (d *Dispatcher) await(cmd Command) (Event, error) {
	deadline := time.NewTimer(d.cfg.CommandTimeout)
	defer deadline.Stop()

	var silence *time.Timer
	var silenceC <-chan time.Time
	if cmd.SilentOK {
		silence = time.NewTimer(d.cfg.Quiescence)
		defer silence.Stop()
		silenceC = silence.C
	}

	for {
		select {
		case ev := <-d.lines:
			if cmd.Matches != nil && cmd.Matches(ev) {
				return resolveOutputContext(cmd, ev), nil
			}
			d.unsolicited(ev)
			if silence != nil {
				// Device is still talking; restart the silence window.
				if !silence.Stop() {
					select {
					case <-silence.C:
					default:
					}
				}
				silence.Reset(d.cfg.Quiescence)
			}
		case <-silenceC:
			return Event{Kind: EventSilence}, nil
		case <-deadline.C:
			return Event{}, ErrCommandTimeout
		case err := <-d.connLost:
			return Event{}, err
		case <-d.closed:
			return Event{}, ErrSessionClosed
		}
	}
}

// resolveOutputContext attributes a reply that named only an input,
// such as "Input 03" answering "Status04.", to the queried output. The
// line itself carries no output number; only the in-flight command
// knows which channel was asked about.
func resolveOutputContext(cmd Command, ev Event) Event {
	if ev.Kind == EventOutputStatus && ev.Output == 0 && cmd.Output != 0 {
		ev.Output = cmd.Output
		if ev.Routes == nil {
			ev.Routes = map[int]int{ev.Output: ev.Input}
		}
	}
	return ev
}

func (d *Dispatcher) settle(p *pendingCommand, ev Event, err error) {
	if d.OnSettle != nil {
		d.OnSettle(p.cmd, ev, err)
	}
	if err != nil {
		d.logger.Warn("command failed",
			"op", string(p.cmd.Op), "wire", p.cmd.Wire, "error", err)
	} else {
		d.logger.Debug("command settled",
			"op", string(p.cmd.Op), "wire", p.cmd.Wire, "kind", string(ev.Kind))
	}
	p.result <- Result{Event: ev, Err: err}
}

// pace enforces the inter-command gap.
func (d *Dispatcher) pace() {
	if d.cfg.CommandDelay <= 0 || d.lastSend.IsZero() {
		return
	}
	if wait := d.cfg.CommandDelay - time.Since(d.lastSend); wait > 0 {
		d.sleep(wait)
	}
}

func (d *Dispatcher) sleep(dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-d.closed:
	}
}

// drainStaleLines discards responses left over from a previous command
// so they cannot be attributed to the one about to be sent.
func (d *Dispatcher) drainStaleLines() {
	for {
		select {
		case ev := <-d.lines:
			d.unsolicited(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) unsolicited(ev Event) {
	if ev.Kind == EventUnparseable {
		d.logger.Debug("unparseable line", "raw", ev.Raw)
	} else {
		d.logger.Debug("unclaimed response", "kind", string(ev.Kind), "raw", ev.Raw)
	}
	if d.OnUnsolicited != nil {
		d.OnUnsolicited(ev)
	}
}

func (d *Dispatcher) drainQueue() {
	for {
		select {
		case p := <-d.queue:
			p.result <- Result{Err: ErrSessionClosed}
		default:
			return
		}
	}
}
