package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// TLSPolicy is an endpoint's own floor for the transport upgrade. Both sides
// enforce their policy independently, so a tampered negotiation can only
// produce a failed handshake, never a silent downgrade.
type TLSPolicy int

const (
	// TLSDisabled never upgrades. On the server this is the policy when no
	// certificate material is configured.
	TLSDisabled TLSPolicy = iota
	// TLSOptional upgrades whenever the peer is capable.
	TLSOptional
	// TLSRequired fails the session rather than continue in plaintext.
	TLSRequired
)

func ParseTLSPolicy(s string) (TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "disabled", "off":
		return TLSDisabled, nil
	case "optional", "prefer", "":
		return TLSOptional, nil
	case "required", "require":
		return TLSRequired, nil
	}
	return TLSDisabled, fmt.Errorf("unknown TLS policy %q", s)
}

func (p TLSPolicy) String() string {
	switch p {
	case TLSOptional:
		return "optional"
	case TLSRequired:
		return "required"
	default:
		return "disabled"
	}
}

// Outcome is the transport the negotiation settled on.
type Outcome int

const (
	OutcomePlaintext Outcome = iota
	OutcomeEncrypted
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEncrypted:
		return "encrypted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "plaintext"
	}
}

// Reason codes sent in hello_ack.error. Nothing else is ever interpolated
// into the plaintext failure reply.
const (
	ReasonTLSRequired      = "tls_required"
	ReasonTLSUnavailable   = "tls_unavailable"
	ReasonProtocolMismatch = "protocol_mismatch"
)

type NegotiationError struct {
	Reason string
}

func (e *NegotiationError) Error() string {
	return "transport negotiation failed: " + e.Reason
}

// ServerNegotiator runs the accepting side of the hello exchange.
type ServerNegotiator struct {
	Policy  TLSPolicy
	TLSConf *tls.Config
	Timeout time.Duration
	Now     func() time.Time
}

// Negotiate performs the plaintext hello round trip on conn and, when the
// decision is to upgrade, the TLS handshake as well. The returned Channel is
// framed over whichever stream the decision produced. On error the caller
// owns closing conn; the negotiation has already sent its plaintext failure
// reply where the protocol calls for one.
func (n ServerNegotiator) Negotiate(conn net.Conn) (Channel, Outcome, error) {
	ch := NewChannel(conn)
	deadline := n.Now().Add(n.Timeout)
	_ = ch.SetDeadline(deadline)
	defer ch.SetDeadline(time.Time{})

	f, err := ch.Receive()
	if err != nil {
		return nil, OutcomeRejected, err
	}
	if f.Type != TypeHello {
		return nil, OutcomeRejected, fmt.Errorf("%w: expected %v, got %v", ErrMalformed, TypeHello, f.Type)
	}
	var hello Hello
	if err := f.Decode(&hello); err != nil {
		return nil, OutcomeRejected, err
	}

	if hello.ProtocolVersion < MinProtocolVersion || hello.ProtocolVersion > ProtocolVersion {
		_ = ch.Send(HelloAck{Type: TypeHelloAck, Error: ReasonProtocolMismatch})
		return nil, OutcomeRejected, &NegotiationError{ReasonProtocolMismatch}
	}

	var upgrade bool
	switch n.Policy {
	case TLSRequired:
		if !hello.SupportsTLS {
			_ = ch.Send(HelloAck{Type: TypeHelloAck, Error: ReasonTLSRequired})
			return nil, OutcomeRejected, &NegotiationError{ReasonTLSRequired}
		}
		if n.TLSConf == nil {
			// Required without certificate material cannot be satisfied.
			// Config parsing refuses this combination; a hand-built
			// negotiator must not reach tls.Server with a nil config.
			_ = ch.Send(HelloAck{Type: TypeHelloAck, Error: ReasonTLSUnavailable})
			return nil, OutcomeRejected, &NegotiationError{ReasonTLSUnavailable}
		}
		upgrade = true
	case TLSOptional:
		upgrade = hello.SupportsTLS && n.TLSConf != nil
	case TLSDisabled:
		upgrade = false
	}

	if err := ch.Send(HelloAck{Type: TypeHelloAck, Upgrade: upgrade}); err != nil {
		return nil, OutcomeRejected, err
	}
	if !upgrade {
		return ch, OutcomePlaintext, nil
	}

	// The exchange is strictly alternating, so at this point the peer has
	// written nothing beyond its hello line and re-framing over the TLS conn
	// cannot strand buffered bytes.
	tlsConn := tls.Server(conn, n.TLSConf)
	_ = tlsConn.SetDeadline(deadline)
	if err := tlsConn.Handshake(); err != nil {
		return nil, OutcomeRejected, fmt.Errorf("TLS handshake: %w", mapHandshakeErr(err))
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return NewChannel(tlsConn), OutcomeEncrypted, nil
}

// ClientNegotiator runs the initiating side of the hello exchange.
type ClientNegotiator struct {
	Policy  TLSPolicy
	TLSConf *tls.Config
	Timeout time.Duration
	Now     func() time.Time
}

func (n ClientNegotiator) Negotiate(conn net.Conn) (Channel, Outcome, error) {
	ch := NewChannel(conn)
	deadline := n.Now().Add(n.Timeout)
	_ = ch.SetDeadline(deadline)
	defer ch.SetDeadline(time.Time{})

	supports := n.Policy != TLSDisabled && n.TLSConf != nil
	err := ch.Send(Hello{
		Type:            TypeHello,
		SupportsTLS:     supports,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		return nil, OutcomeRejected, err
	}

	f, err := ch.Receive()
	if err != nil {
		return nil, OutcomeRejected, err
	}
	if f.Type != TypeHelloAck {
		return nil, OutcomeRejected, fmt.Errorf("%w: expected %v, got %v", ErrMalformed, TypeHelloAck, f.Type)
	}
	var ack HelloAck
	if err := f.Decode(&ack); err != nil {
		return nil, OutcomeRejected, err
	}
	if ack.Error != "" {
		return nil, OutcomeRejected, &NegotiationError{Reason: ack.Error}
	}

	if !ack.Upgrade {
		// The server declined to upgrade. Our own floor still applies.
		if n.Policy == TLSRequired {
			return nil, OutcomeRejected, &NegotiationError{ReasonTLSUnavailable}
		}
		return ch, OutcomePlaintext, nil
	}
	if !supports {
		// An upgrade we never offered. Refuse rather than follow.
		return nil, OutcomeRejected, &NegotiationError{ReasonTLSUnavailable}
	}

	tlsConn := tls.Client(conn, n.TLSConf)
	_ = tlsConn.SetDeadline(deadline)
	if err := tlsConn.Handshake(); err != nil {
		return nil, OutcomeRejected, fmt.Errorf("TLS handshake: %w", mapHandshakeErr(err))
	}
	_ = tlsConn.SetDeadline(time.Time{})
	return NewChannel(tlsConn), OutcomeEncrypted, nil
}

func mapHandshakeErr(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	return err
}
