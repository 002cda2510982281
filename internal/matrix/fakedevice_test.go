package matrix

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeDevice is an in-process stand-in for the matrix switcher. It
// accepts TCP connections, splits incoming bytes on the "." and ";"
// command terminators, records each command and replies from a script.
// Commands absent from the script get no reply, which is how the real
// hardware behaves for most of its vocabulary.
type fakeDevice struct {
	t  *testing.T
	ln net.Listener

	mu        sync.Mutex
	responses map[string]string
	onCommand func(cmd string, conn net.Conn)

	received chan string
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeDevice{
		t:         t,
		ln:        ln,
		responses: make(map[string]string),
		received:  make(chan string, 64),
	}
	go f.serve()
	t.Cleanup(f.close)
	return f
}

func (f *fakeDevice) close() {
	_ = f.ln.Close()
}

func (f *fakeDevice) hostPort() (string, int) {
	addr := f.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// respond scripts a reply for an exact command string.
func (f *fakeDevice) respond(cmd, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = reply
}

// setOnCommand installs a hook called for every received command.
func (f *fakeDevice) setOnCommand(fn func(cmd string, conn net.Conn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCommand = fn
}

// waitCommand blocks until the device receives a command or the
// timeout expires.
func (f *fakeDevice) waitCommand(timeout time.Duration) (string, bool) {
	select {
	case cmd := <-f.received:
		return cmd, true
	case <-time.After(timeout):
		return "", false
	}
}

func (f *fakeDevice) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeDevice) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			idx := bytes.IndexAny(pending, ".;")
			if idx < 0 {
				break
			}
			cmd := string(pending[:idx+1])
			pending = pending[idx+1:]

			select {
			case f.received <- cmd:
			default:
			}

			f.mu.Lock()
			reply, ok := f.responses[cmd]
			hook := f.onCommand
			f.mu.Unlock()

			if hook != nil {
				hook(cmd, conn)
			}
			if ok && reply != "" {
				if _, err := conn.Write([]byte(reply)); err != nil {
					return
				}
			}
		}
	}
}

// testSessionConfig returns transport settings tuned for fast tests.
func testSessionConfig(f *fakeDevice) SessionConfig {
	host, port := f.hostPort()
	return SessionConfig{
		Host:           host,
		Port:           port,
		ConnectTimeout: time.Second,
		Quiescence:     40 * time.Millisecond,
	}
}

// testDispatcherConfig returns sequencing settings tuned for fast tests.
func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CommandTimeout: 400 * time.Millisecond,
		Retries:        0,
		CommandDelay:   5 * time.Millisecond,
		Quiescence:     40 * time.Millisecond,
	}
}
