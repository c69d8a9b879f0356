package server

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/credentials"
	"github.com/straumur/zfsadm/internal/transport"
)

type rawConfig struct {
	BindAddr      []string
	WSBindAddr    string
	AdminBindAddr string

	TLSPolicy string
	TLSCert   string
	TLSKey    string

	CredentialFile string
	CredentialDB   string

	HelloTimeout   int
	AuthTimeout    int
	RequestTimeout int

	AuthPerMinute int
}

const (
	defaultHelloTimeout   = 10 * time.Second
	defaultAuthTimeout    = 30 * time.Second
	defaultRequestTimeout = 300 * time.Second
	defaultAuthPerMinute  = 6
)

// Handler consumes one authenticated application request and produces the
// reply to send back. It runs on the connection's own goroutine; returning an
// error produces a generic error reply and keeps the session alive.
type Handler interface {
	Handle(f transport.Frame) (interface{}, error)
}

type ErrorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// State stores the resolved server configuration plus the per-process
// registries shared by all sessions.
type State struct {
	BindAddr      []net.Addr
	WSBindAddr    string
	AdminBindAddr string

	World common.WorldState

	TLSPolicy transport.TLSPolicy
	TLSConf   *tls.Config

	Credentials credentials.Store
	Handler     Handler

	HelloTimeout   time.Duration
	AuthTimeout    time.Duration
	RequestTimeout time.Duration

	valve   *Valve
	metrics *Metrics
}

func InitState(world common.WorldState) *State {
	return &State{
		World:          world,
		HelloTimeout:   defaultHelloTimeout,
		AuthTimeout:    defaultAuthTimeout,
		RequestTimeout: defaultRequestTimeout,
		valve:          NewValve(defaultAuthPerMinute),
		metrics:        NewMetrics(),
	}
}

// ParseConfig parses the config (either a path to json or the json itself as
// argument) into the State.
func (sta *State) ParseConfig(conf string) (err error) {
	var preParse rawConfig

	content, errPath := os.ReadFile(conf)
	if errPath != nil {
		if errJson := json.Unmarshal([]byte(conf), &preParse); errJson != nil {
			return errors.New("failed to read/unmarshal configuration, path is invalid or " + errJson.Error())
		}
	} else {
		if errJson := json.Unmarshal(content, &preParse); errJson != nil {
			return errors.New("failed to parse configuration file: " + errJson.Error())
		}
	}

	sta.BindAddr, err = parseBindAddr(preParse.BindAddr)
	if err != nil {
		return fmt.Errorf("unable to parse BindAddr: %v", err)
	}
	if len(sta.BindAddr) == 0 && preParse.WSBindAddr == "" {
		return errors.New("no BindAddr or WSBindAddr configured")
	}
	sta.WSBindAddr = preParse.WSBindAddr
	sta.AdminBindAddr = preParse.AdminBindAddr

	if preParse.HelloTimeout > 0 {
		sta.HelloTimeout = time.Duration(preParse.HelloTimeout) * time.Second
	}
	if preParse.AuthTimeout > 0 {
		sta.AuthTimeout = time.Duration(preParse.AuthTimeout) * time.Second
	}
	if preParse.RequestTimeout > 0 {
		sta.RequestTimeout = time.Duration(preParse.RequestTimeout) * time.Second
	}
	if preParse.AuthPerMinute > 0 {
		sta.valve = NewValve(preParse.AuthPerMinute)
	}

	if err = sta.parseTLS(preParse); err != nil {
		return err
	}
	return sta.parseCredentials(preParse)
}

func parseBindAddr(bindAddrs []string) ([]net.Addr, error) {
	var addrs []net.Addr
	for _, addr := range bindAddrs {
		bindAddr, err := net.ResolveTCPAddr("tcp", addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, bindAddr)
	}
	return addrs, nil
}

func (sta *State) parseTLS(preParse rawConfig) error {
	policy, err := transport.ParseTLSPolicy(preParse.TLSPolicy)
	if err != nil {
		return err
	}
	if policy == transport.TLSDisabled {
		sta.TLSPolicy = policy
		return nil
	}

	cert, err := tls.LoadX509KeyPair(preParse.TLSCert, preParse.TLSKey)
	if err != nil {
		if policy == transport.TLSRequired {
			return fmt.Errorf("TLSPolicy is required but loading certificate failed: %v", err)
		}
		log.Warnf("TLS materials unavailable (%v), continuing with TLS disabled", err)
		sta.TLSPolicy = transport.TLSDisabled
		return nil
	}
	sta.TLSPolicy = policy
	sta.TLSConf = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return nil
}

func (sta *State) parseCredentials(preParse rawConfig) error {
	switch {
	case preParse.CredentialDB != "":
		store, err := credentials.OpenBoltStore(preParse.CredentialDB, sta.World)
		if err != nil {
			return fmt.Errorf("unable to open CredentialDB: %v", err)
		}
		sta.Credentials = store
	case preParse.CredentialFile != "":
		sta.Credentials = credentials.NewFileStore(preParse.CredentialFile, sta.World)
	default:
		return errors.New("one of CredentialFile or CredentialDB must be set")
	}
	return nil
}
