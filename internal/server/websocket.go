package server

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/straumur/zfsadm/internal/transport"
)

// wsConn makes a websocket.Conn stream-oriented so the framed channel can sit
// on it like on any net.Conn.
type wsConn struct {
	*websocket.Conn
	writeM sync.Mutex
	reader io.Reader
}

func (ws *wsConn) Write(data []byte) (int, error) {
	ws.writeM.Lock()
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	ws.writeM.Unlock()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (ws *wsConn) Read(buf []byte) (int, error) {
	for {
		if ws.reader == nil {
			_, r, err := ws.NextReader()
			if err != nil {
				// A close handshake is the websocket spelling of EOF; the
				// framed channel treats it as a clean shutdown.
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			ws.reader = r
		}
		n, err := ws.reader.Read(buf)
		if err == io.EOF {
			// One websocket message drained; the next Read starts the next.
			ws.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (ws *wsConn) SetDeadline(t time.Time) error {
	if err := ws.SetReadDeadline(t); err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS accepts websocket connections and feeds them through the exact
// same negotiation/auth/dispatch path as raw TCP ones. The upgrade to TLS is
// forced off here: a websocket deployment terminates TLS at whatever serves
// the HTTP upgrade, and tunnelling a second TLS layer inside the socket buys
// nothing.
func ServeWS(addr string, sta *State) error {
	wsSta := *sta
	wsSta.TLSPolicy = transport.TLSDisabled
	wsSta.TLSConf = nil

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithField("remoteAddr", r.RemoteAddr).Warnf("websocket upgrade: %v", err)
			return
		}
		handleConnection(&wsConn{Conn: c}, &wsSta)
	})
	return http.ListenAndServe(addr, mux)
}
