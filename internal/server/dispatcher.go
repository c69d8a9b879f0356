package server

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/straumur/zfsadm/internal/auth"
	"github.com/straumur/zfsadm/internal/transport"
)

// Serve runs the acceptance loop. Each accepted connection gets its own
// goroutine; a failing or slow session never touches the acceptor or its
// siblings. Returns only if the listener breaks irrecoverably, in which case
// it keeps retrying Accept with backoff.
func Serve(l net.Listener, sta *State) {
	waitDur := [10]time.Duration{
		50 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
		3 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second}

	fails := 0
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Errorf("%v, retrying", err)
			time.Sleep(waitDur[fails])
			if fails < 9 {
				fails++
			}
			continue
		}
		fails = 0
		go handleConnection(conn, sta)
	}
}

// handleConnection drives one session through its whole lifecycle: transport
// negotiation, authentication, then the request/response loop. Any handshake
// failure is fatal to this connection only.
func handleConnection(conn net.Conn, sta *State) {
	remoteAddr := conn.RemoteAddr()
	logger := log.WithField("remoteAddr", remoteAddr)
	defer conn.Close()
	sta.metrics.Accepted()

	neg := transport.ServerNegotiator{
		Policy:  sta.TLSPolicy,
		TLSConf: sta.TLSConf,
		Timeout: sta.HelloTimeout,
		Now:     sta.World.Now,
	}
	ch, outcome, err := neg.Negotiate(conn)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			logger.Debug("peer closed before hello")
		} else {
			logger.WithField("stage", "negotiation").Warn(err)
		}
		sta.metrics.HandshakeFailed("negotiation")
		return
	}
	defer ch.Close()

	// Throttle before touching the credential store so that a brute-forcing
	// source pays the wait however the attempt ends.
	host, _, _ := net.SplitHostPort(remoteAddr.String())
	if wait := sta.valve.Take(host); wait > 0 {
		logger.WithField("wait", wait).Debug("throttling authentication attempt")
		time.Sleep(wait)
	}

	rec, err := sta.Credentials.Load()
	if err != nil {
		logger.Errorf("loading credential record: %v", err)
		sta.metrics.HandshakeFailed("credentials")
		return
	}
	if err := auth.Challenge(ch, rec, sta.World, sta.AuthTimeout); err != nil {
		logger.WithField("stage", "authentication").Warn(err)
		sta.metrics.AuthFailed()
		return
	}

	logger.WithField("transport", outcome.String()).Info("new session")
	sta.metrics.SessionStarted()
	defer sta.metrics.SessionEnded()

	for {
		_ = ch.SetDeadline(sta.World.Now().Add(sta.RequestTimeout))
		f, err := ch.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrClosed):
				logger.Info("session closed")
			case errors.Is(err, transport.ErrTimeout):
				logger.Info("session idle past RequestTimeout, dropping")
			default:
				logger.Warnf("receiving request: %v", err)
			}
			return
		}

		resp, err := sta.Handler.Handle(f)
		if err != nil {
			logger.WithField("type", f.Type).Warnf("handler: %v", err)
			resp = ErrorReply{Type: "error", Error: "request_failed"}
		}
		if err := ch.Send(resp); err != nil {
			logger.Warnf("sending response: %v", err)
			return
		}
	}
}
