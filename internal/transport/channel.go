package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	// ErrClosed reports a clean shutdown by the peer. It is the expected way
	// for a session to end and is not treated as a fault.
	ErrClosed = errors.New("connection closed by peer")
	// ErrTimeout reports that a send or receive exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrMalformed reports a framing or JSON violation. Once returned from
	// Receive the channel is poisoned: no further reads will succeed.
	ErrMalformed = errors.New("malformed message")
)

// maxLineLength bounds how much a peer can make us buffer while looking for
// a line terminator.
const maxLineLength = 1 << 20

// Frame is one received wire message: the discriminator plus the raw line it
// arrived in, so the caller can decode the rest once it knows the type.
type Frame struct {
	Type string
	raw  []byte
}

// MakeFrame builds a Frame from a marshalled message. Used by handlers and
// tests that construct frames without a wire read.
func MakeFrame(raw []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type field", ErrMalformed)
	}
	return Frame{Type: envelope.Type, raw: raw}, nil
}

func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (f Frame) Raw() []byte {
	ret := make([]byte, len(f.raw))
	copy(ret, f.raw)
	return ret
}

// Channel is the uniform contract every transport wrapper implements: one
// JSON object per newline-terminated line, in both directions. Upper layers
// hold only the outermost Channel and never learn how many wrappers sit
// between them and the socket.
type Channel interface {
	Send(v interface{}) error
	Receive() (Frame, error)
	SetDeadline(t time.Time) error
	Close() error
}

type connChannel struct {
	conn net.Conn
	r    *bufio.Reader

	writeM    sync.Mutex
	closeOnce sync.Once
	poisoned  bool
}

// NewChannel frames conn into a Channel. The conn's deadlines drive the
// channel's timeouts.
func NewChannel(conn net.Conn) Channel {
	return &connChannel{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 4096),
	}
}

func (c *connChannel) Send(v interface{}) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// json.Marshal escapes newlines inside strings, so appending the
	// terminator keeps the record self-contained.
	line = append(line, '\n')

	c.writeM.Lock()
	defer c.writeM.Unlock()
	_, err = c.conn.Write(line)
	if err != nil {
		return c.mapErr(err)
	}
	return nil
}

func (c *connChannel) Receive() (Frame, error) {
	if c.poisoned {
		return Frame{}, ErrMalformed
	}
	line, err := c.readLine()
	if err != nil {
		return Frame{}, err
	}
	f, err := MakeFrame(line)
	if err != nil {
		c.poisoned = true
		return Frame{}, err
	}
	return f, nil
}

// readLine reads one newline-terminated record, poisoning the channel on
// oversize or unterminated data.
func (c *connChannel) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		line = append(line, chunk...)
		switch err {
		case nil:
			return line[:len(line)-1], nil
		case bufio.ErrBufferFull:
			if len(line) > maxLineLength {
				c.poisoned = true
				return nil, fmt.Errorf("%w: line exceeds %v bytes", ErrMalformed, maxLineLength)
			}
			continue
		default:
			if errors.Is(err, io.EOF) && len(line) > 0 {
				// Peer hung up mid-record.
				c.poisoned = true
				return nil, fmt.Errorf("%w: unterminated record", ErrMalformed)
			}
			return nil, c.mapErr(err)
		}
	}
}

func (c *connChannel) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *connChannel) Close() error {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
	return nil
}

func (c *connChannel) mapErr(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}
