package httpserver

import (
	"net"
	"sync"

	"relic/go-backend/internal/platform/metrics"
)

// trackingListener counts accepted and open connections. Connections handed
// over to HTTP/2 stay tracked because the hijacked conn is the wrapper.
type trackingListener struct {
	net.Listener
	metrics *metrics.Listener
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.metrics.ConnectionsAccepted.Inc()
	l.metrics.ConnectionsActive.Inc()
	return &trackedConn{Conn: c, metrics: l.metrics}, nil
}

type trackedConn struct {
	net.Conn
	metrics *metrics.Listener
	once    sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(c.metrics.ConnectionsActive.Dec)
	return c.Conn.Close()
}
