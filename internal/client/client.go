// Package client implements the connecting side of the agent protocol:
// dial, negotiate the transport, authenticate, then synchronous calls.
package client

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/straumur/zfsadm/internal/auth"
	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/transport"
)

// Client is an authenticated session with an agent. Safe for concurrent use;
// calls are serialized because the protocol is strictly request-response.
type Client struct {
	conf    ProcessedConfig
	ch      transport.Channel
	outcome transport.Outcome

	callM sync.Mutex
}

// Dial establishes a session: TCP connect, transport negotiation as the
// initiating side, then authentication. Every failure path closes the socket
// and surfaces a typed error before any application call can be made.
func Dial(conf ProcessedConfig, dialer common.Dialer) (*Client, error) {
	conn, err := dialer.Dial("tcp", conf.RemoteAddr)
	if err != nil {
		return nil, err
	}

	ch, outcome, err := conf.Negotiator.Negotiate(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := auth.Authenticate(ch, conf.Password, conf.World.Now, conf.AuthTimeout); err != nil {
		ch.Close()
		return nil, err
	}

	log.WithFields(log.Fields{
		"remoteAddr": conf.RemoteAddr,
		"transport":  outcome.String(),
	}).Debug("session established")

	return &Client{
		conf:    conf,
		ch:      ch,
		outcome: outcome,
	}, nil
}

// Call writes one request and awaits exactly one reply, bounded by the
// configured request timeout.
func (c *Client) Call(req interface{}) (transport.Frame, error) {
	c.callM.Lock()
	defer c.callM.Unlock()

	_ = c.ch.SetDeadline(c.conf.World.Now().Add(c.conf.RequestTimeout))
	defer c.ch.SetDeadline(time.Time{})

	if err := c.ch.Send(req); err != nil {
		return transport.Frame{}, err
	}
	return c.ch.Receive()
}

// Encrypted reports whether the negotiation upgraded the session to TLS.
func (c *Client) Encrypted() bool {
	return c.outcome == transport.OutcomeEncrypted
}

func (c *Client) Close() error {
	return c.ch.Close()
}
