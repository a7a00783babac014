package infrastructure

import (
	"net"
	"sync"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"go.uber.org/zap"
)

// NetworkMonitor implements domain.NetworkMonitor. In auto mode the device
// counts as on wifi while the probe address accepts connections; desktop
// hosts never report cellular on their own.
type NetworkMonitor struct {
	config *domain.NetworkConfig
	logger *zap.Logger
	dial   func(network, address string, timeout time.Duration) (net.Conn, error)

	mu        sync.Mutex
	last      domain.Connectivity
	checkedAt time.Time
}

// NewNetworkMonitor creates a monitor for the configured mode
func NewNetworkMonitor(config *domain.NetworkConfig, logger *zap.Logger) *NetworkMonitor {
	return &NetworkMonitor{
		config: config,
		logger: logger,
		dial:   net.DialTimeout,
	}
}

// Current implements domain.NetworkMonitor
func (m *NetworkMonitor) Current() domain.Connectivity {
	switch m.config.Mode {
	case "wifi":
		return domain.ConnectivityWifi
	case "cellular":
		return domain.ConnectivityCellular
	case "none":
		return domain.ConnectivityNone
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkedAt.IsZero() && time.Since(m.checkedAt) < m.config.CacheTTL {
		return m.last
	}

	m.last = domain.ConnectivityWifi
	conn, err := m.dial("tcp", m.config.ProbeAddress, 2*time.Second)
	if err != nil {
		m.logger.Debug("Network probe failed", zap.String("address", m.config.ProbeAddress), zap.Error(err))
		m.last = domain.ConnectivityNone
	} else {
		conn.Close()
	}
	m.checkedAt = time.Now()
	return m.last
}
