// Package testconn provides an in-memory pipe for tests that follows real
// net.Conn error semantics. connutil's AsyncPipe is buffered and concurrent,
// but its deadline error is a plain error (not a net.Error, so callers that
// check nerr.Timeout() never see it as a timeout) and a Close discards data
// still buffered in flight. This wrapper keeps connutil as the byte
// transport and fixes only the error surface: expired deadlines yield
// os.ErrDeadlineExceeded, and a closed peer is observed as io.EOF only after
// all buffered data has been drained.
package testconn

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cbeuw/connutil"
)

// pollInterval bounds how long a Read blocks before rechecking the peer's
// closed flag and the caller's deadline. The underlying pipe is only ever
// read with this short deadline; Close never touches the underlying pipe, so
// buffered data survives until drained.
const pollInterval = time.Millisecond

type end struct {
	conn *connutil.StreamPipe
	peer *end

	mu        sync.Mutex
	closed    bool
	rDeadline time.Time
	wDeadline time.Time
}

// Pipe returns both ends of a connected in-memory pipe. It is a drop-in
// replacement for connutil.AsyncPipe with net.Conn-faithful errors.
func Pipe() (net.Conn, net.Conn) {
	a, b := connutil.AsyncPipe()
	ea := &end{conn: a}
	eb := &end{conn: b}
	ea.peer = eb
	eb.peer = ea
	return ea, eb
}

func (e *end) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *end) Read(b []byte) (int, error) {
	for {
		e.mu.Lock()
		closed, deadline := e.closed, e.rDeadline
		e.mu.Unlock()
		if closed {
			return 0, net.ErrClosed
		}
		// Snapshot before the read: if the peer was already closed and this
		// poll still finds no data, the buffer is drained and EOF is correct.
		peerClosed := e.peer.isClosed()

		_ = e.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := e.conn.Read(b)
		if err == nil {
			return n, nil
		}
		if err == connutil.ErrTimeout {
			if peerClosed {
				return 0, io.EOF
			}
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				return 0, os.ErrDeadlineExceeded
			}
			continue
		}
		return n, err
	}
}

func (e *end) Write(b []byte) (int, error) {
	e.mu.Lock()
	closed, deadline := e.closed, e.wDeadline
	e.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	if e.peer.isClosed() {
		return 0, io.ErrClosedPipe
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return 0, os.ErrDeadlineExceeded
	}
	// The underlying pipe is unbounded, so this never blocks.
	return e.conn.Write(b)
}

// Close marks this end closed. The underlying pipe is left open so the peer
// can drain buffered data before seeing io.EOF; the peer's polling Read
// observes the flag within pollInterval.
func (e *end) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *end) SetReadDeadline(t time.Time) error {
	e.mu.Lock()
	e.rDeadline = t
	e.mu.Unlock()
	return nil
}

func (e *end) SetWriteDeadline(t time.Time) error {
	e.mu.Lock()
	e.wDeadline = t
	e.mu.Unlock()
	return nil
}

func (e *end) SetDeadline(t time.Time) error {
	_ = e.SetReadDeadline(t)
	return e.SetWriteDeadline(t)
}

func (e *end) LocalAddr() net.Addr  { return e.conn.LocalAddr() }
func (e *end) RemoteAddr() net.Addr { return e.conn.RemoteAddr() }
