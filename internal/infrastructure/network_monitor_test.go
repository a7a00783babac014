package infrastructure

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNetworkMonitor_ForcedModes(t *testing.T) {
	tests := map[string]domain.Connectivity{
		"wifi":     domain.ConnectivityWifi,
		"cellular": domain.ConnectivityCellular,
		"none":     domain.ConnectivityNone,
	}
	for mode, want := range tests {
		m := NewNetworkMonitor(&domain.NetworkConfig{Mode: mode}, zap.NewNop())
		assert.Equal(t, want, m.Current(), mode)
	}
}

func TestNetworkMonitor_AutoProbesAndCaches(t *testing.T) {
	m := NewNetworkMonitor(&domain.NetworkConfig{Mode: "auto", ProbeAddress: "probe:53", CacheTTL: time.Hour}, zap.NewNop())

	calls := 0
	m.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		calls++
		assert.Equal(t, "probe:53", address)
		return nil, errors.New("unreachable")
	}

	assert.Equal(t, domain.ConnectivityNone, m.Current())
	assert.Equal(t, domain.ConnectivityNone, m.Current())
	assert.Equal(t, 1, calls)
}

func TestNetworkMonitor_AutoReachable(t *testing.T) {
	m := NewNetworkMonitor(&domain.NetworkConfig{Mode: "auto", ProbeAddress: "probe:53"}, zap.NewNop())
	m.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}

	assert.Equal(t, domain.ConnectivityWifi, m.Current())
}
