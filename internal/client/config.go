package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/transport"
)

const DefaultPort = "7632"

// Config contains the configuration parameter fields for a zfsadm client.
type Config struct {
	// Required fields
	// RemoteHost is the agent's hostname or IP address
	RemoteHost string
	// Password is the shared admin password. It is used only to derive the
	// challenge response and never sent.
	Password string

	// Optional fields
	// RemotePort is the port the agent is listening on. Defaults to 7632
	RemotePort string
	// TLSPolicy is this side's floor for the transport upgrade: `required`,
	// `optional` or `disabled`. Defaults to `optional`
	TLSPolicy string
	// ServerName overrides the hostname verified against the agent's
	// certificate. Defaults to RemoteHost
	ServerName string
	// InsecureSkipVerify accepts any agent certificate. Useful for
	// self-signed deployments on trusted networks
	InsecureSkipVerify bool
	// HelloTimeout, AuthTimeout and RequestTimeout are per-step bounds in
	// seconds. Zero values take the defaults 10, 30 and 60
	HelloTimeout   int
	AuthTimeout    int
	RequestTimeout int
	// DialTimeout bounds the TCP connect, in seconds. Defaults to 10
	DialTimeout int
}

type ProcessedConfig struct {
	RemoteAddr string
	Password   string

	Negotiator     transport.ClientNegotiator
	AuthTimeout    time.Duration
	RequestTimeout time.Duration
	DialTimeout    time.Duration

	World common.WorldState
}

func (raw *Config) Process(world common.WorldState) (ProcessedConfig, error) {
	var ret ProcessedConfig
	if raw.RemoteHost == "" {
		return ret, fmt.Errorf("RemoteHost cannot be empty")
	}

	remotePort := raw.RemotePort
	if remotePort == "" {
		remotePort = DefaultPort
	}
	ret.RemoteAddr = net.JoinHostPort(raw.RemoteHost, remotePort)
	ret.Password = raw.Password
	ret.World = world

	policy, err := transport.ParseTLSPolicy(raw.TLSPolicy)
	if err != nil {
		return ret, err
	}

	serverName := raw.ServerName
	if serverName == "" {
		serverName = raw.RemoteHost
	}
	var tlsConf *tls.Config
	if policy != transport.TLSDisabled {
		tlsConf = &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: raw.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}

	ret.Negotiator = transport.ClientNegotiator{
		Policy:  policy,
		TLSConf: tlsConf,
		Timeout: secondsOr(raw.HelloTimeout, 10*time.Second),
		Now:     world.Now,
	}
	ret.AuthTimeout = secondsOr(raw.AuthTimeout, 30*time.Second)
	ret.RequestTimeout = secondsOr(raw.RequestTimeout, 60*time.Second)
	ret.DialTimeout = secondsOr(raw.DialTimeout, 10*time.Second)
	return ret, nil
}

func secondsOr(value int, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return time.Duration(value) * time.Second
}
