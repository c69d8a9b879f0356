package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/cbeuw/connutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straumur/zfsadm/internal/auth"
	"github.com/straumur/zfsadm/internal/client"
	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/credentials"
	"github.com/straumur/zfsadm/internal/testconn"
	"github.com/straumur/zfsadm/internal/transport"
)

const (
	testPassword   = "correct horse battery staple"
	testIterations = 64
)

type stubStore struct {
	rec credentials.Record
}

func (s stubStore) Load() (credentials.Record, error) {
	return s.rec, nil
}

type pongHandler struct{}

func (pongHandler) Handle(f transport.Frame) (interface{}, error) {
	switch f.Type {
	case "ping":
		return map[string]interface{}{"type": "pong"}, nil
	default:
		return ErrorReply{Type: "error", Error: "unknown_request"}, nil
	}
}

type pipeDialer struct {
	conn net.Conn
}

func (d pipeDialer) Dial(network, address string) (net.Conn, error) {
	return d.conn, nil
}

func testTLSConfs(t *testing.T) (serverConf, clientConf *tls.Config) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "zfsadm-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	serverConf = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
	clientConf = &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	}
	return serverConf, clientConf
}

func newTestState(t *testing.T) *State {
	t.Helper()
	sta := InitState(common.RealWorldState)
	sta.TLSPolicy = transport.TLSDisabled
	sta.Credentials = stubStore{rec: credentials.NewRecord(testPassword, testIterations, rand.Reader)}
	sta.Handler = pongHandler{}
	sta.HelloTimeout = 2 * time.Second
	sta.AuthTimeout = 2 * time.Second
	sta.RequestTimeout = 2 * time.Second
	return sta
}

func testClientConfig(t *testing.T, policy transport.TLSPolicy, tlsConf *tls.Config) client.ProcessedConfig {
	t.Helper()
	return client.ProcessedConfig{
		RemoteAddr: "pipe:0",
		Password:   testPassword,
		Negotiator: transport.ClientNegotiator{
			Policy:  policy,
			TLSConf: tlsConf,
			Timeout: 2 * time.Second,
			Now:     time.Now,
		},
		AuthTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Second,
		World:          common.RealWorldState,
	}
}

func TestSessionPlaintext(t *testing.T) {
	sta := newTestState(t)
	serverConn, clientConn := connutil.AsyncPipe()
	go handleConnection(serverConn, sta)

	c, err := client.Dial(testClientConfig(t, transport.TLSDisabled, nil), pipeDialer{clientConn})
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, c.Encrypted())

	f, err := c.Call(map[string]interface{}{"type": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Type)
	assert.JSONEq(t, `{"type":"pong"}`, string(f.Raw()))
}

func TestSessionEncrypted(t *testing.T) {
	serverTLS, clientTLS := testTLSConfs(t)
	sta := newTestState(t)
	sta.TLSPolicy = transport.TLSOptional
	sta.TLSConf = serverTLS

	serverConn, clientConn := connutil.AsyncPipe()
	go handleConnection(serverConn, sta)

	c, err := client.Dial(testClientConfig(t, transport.TLSOptional, clientTLS), pipeDialer{clientConn})
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Encrypted())

	f, err := c.Call(map[string]interface{}{"type": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Type)
}

func TestSessionSequentialRequests(t *testing.T) {
	sta := newTestState(t)
	serverConn, clientConn := connutil.AsyncPipe()
	go handleConnection(serverConn, sta)

	c, err := client.Dial(testClientConfig(t, transport.TLSDisabled, nil), pipeDialer{clientConn})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		f, err := c.Call(map[string]interface{}{"type": "ping"})
		require.NoError(t, err)
		assert.Equal(t, "pong", f.Type)
	}

	f, err := c.Call(map[string]interface{}{"type": "no_such_request"})
	require.NoError(t, err)
	assert.Equal(t, "error", f.Type)
}

func TestSessionWrongPassword(t *testing.T) {
	sta := newTestState(t)
	serverConn, clientConn := testconn.Pipe()
	go handleConnection(serverConn, sta)

	conf := testClientConfig(t, transport.TLSDisabled, nil)
	conf.Password = "not the password"
	_, err := client.Dial(conf, pipeDialer{clientConn})

	var authErr *auth.Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, auth.ReasonInvalidCredentials, authErr.Reason)
}

func TestSessionAuthTimeout(t *testing.T) {
	sta := newTestState(t)
	sta.AuthTimeout = 200 * time.Millisecond

	serverConn, clientConn := connutil.AsyncPipe()
	done := make(chan struct{})
	go func() {
		handleConnection(serverConn, sta)
		close(done)
	}()

	// Behave through negotiation, then never answer the challenge.
	ch := transport.NewChannel(clientConn)
	require.NoError(t, ch.Send(transport.Hello{
		Type:            transport.TypeHello,
		ProtocolVersion: transport.ProtocolVersion,
	}))
	f, err := ch.Receive()
	require.NoError(t, err)
	require.Equal(t, transport.TypeHelloAck, f.Type)
	f, err = ch.Receive()
	require.NoError(t, err)
	require.Equal(t, transport.TypeAuthChallenge, f.Type)

	select {
	case <-done:
		assert.Equal(t, int64(1), sta.metrics.Snapshot().AuthFailures)
	case <-time.After(2 * time.Second):
		assert.Fail(t, "worker should have given up within the auth timeout")
	}
}

func TestSessionIsolation(t *testing.T) {
	// One peer dying mid-handshake must not disturb an established session.
	sta := newTestState(t)

	badServer, badClient := connutil.AsyncPipe()
	go handleConnection(badServer, sta)

	goodServer, goodClient := connutil.AsyncPipe()
	go handleConnection(goodServer, sta)

	c, err := client.Dial(testClientConfig(t, transport.TLSDisabled, nil), pipeDialer{goodClient})
	require.NoError(t, err)
	defer c.Close()

	badClient.Write([]byte("garbage that is not even json\n"))
	badClient.Close()

	f, err := c.Call(map[string]interface{}{"type": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Type)
}

func TestServeAcceptLoop(t *testing.T) {
	sta := newTestState(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go Serve(listener, sta)
	defer listener.Close()

	conf := testClientConfig(t, transport.TLSDisabled, nil)
	conf.RemoteAddr = listener.Addr().String()
	c, err := client.Dial(conf, &net.Dialer{Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	f, err := c.Call(map[string]interface{}{"type": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", f.Type)
}
