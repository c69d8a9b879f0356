package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/straumur/zfsadm/internal/common"
	"github.com/straumur/zfsadm/internal/transport"
)

func TestConfigDefaults(t *testing.T) {
	raw := Config{
		RemoteHost: "192.0.2.10",
		Password:   "pw",
	}
	processed, err := raw.Process(common.RealWorldState)
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.10:"+DefaultPort, processed.RemoteAddr)
	assert.Equal(t, transport.TLSOptional, processed.Negotiator.Policy)
	require.NotNil(t, processed.Negotiator.TLSConf)
	assert.Equal(t, "192.0.2.10", processed.Negotiator.TLSConf.ServerName)
	assert.Equal(t, 10*time.Second, processed.Negotiator.Timeout)
	assert.Equal(t, 30*time.Second, processed.AuthTimeout)
	assert.Equal(t, 60*time.Second, processed.RequestTimeout)
}

func TestConfigOverrides(t *testing.T) {
	raw := Config{
		RemoteHost:     "zfs.internal",
		RemotePort:     "2222",
		Password:       "pw",
		TLSPolicy:      "required",
		ServerName:     "agent.example.org",
		HelloTimeout:   3,
		AuthTimeout:    7,
		RequestTimeout: 11,
	}
	processed, err := raw.Process(common.RealWorldState)
	require.NoError(t, err)

	assert.Equal(t, "zfs.internal:2222", processed.RemoteAddr)
	assert.Equal(t, transport.TLSRequired, processed.Negotiator.Policy)
	assert.Equal(t, "agent.example.org", processed.Negotiator.TLSConf.ServerName)
	assert.Equal(t, 3*time.Second, processed.Negotiator.Timeout)
	assert.Equal(t, 7*time.Second, processed.AuthTimeout)
	assert.Equal(t, 11*time.Second, processed.RequestTimeout)
}

func TestConfigTLSDisabled(t *testing.T) {
	raw := Config{
		RemoteHost: "192.0.2.10",
		TLSPolicy:  "disabled",
	}
	processed, err := raw.Process(common.RealWorldState)
	require.NoError(t, err)
	assert.Equal(t, transport.TLSDisabled, processed.Negotiator.Policy)
	assert.Nil(t, processed.Negotiator.TLSConf)
}

func TestConfigValidation(t *testing.T) {
	_, err := (&Config{}).Process(common.RealWorldState)
	assert.Error(t, err)

	_, err = (&Config{RemoteHost: "h", TLSPolicy: "sometimes"}).Process(common.RealWorldState)
	assert.Error(t, err)
}
