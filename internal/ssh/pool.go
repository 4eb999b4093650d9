package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Dialer opens a Connection. Dial is the production implementation.
type Dialer func(ctx context.Context, cfg Config, creds Credentials) (*Connection, error)

// Pool manages one multiplexed connection per configured host so that every
// tab, SFTP browser and forward on a host shares a single transport.
type Pool struct {
	mu          sync.RWMutex
	connections map[string]*Connection // hostID -> connection
	configs     map[string]Config      // hostID -> config for reconnection
	dial        Dialer
	dials       singleflight.Group // hostID -> in-flight dial
}

// NewPool creates a new connection pool
func NewPool() *Pool {
	return &Pool{
		connections: make(map[string]*Connection),
		configs:     make(map[string]Config),
		dial:        Dial,
	}
}

// globalPool is the default connection pool
var globalPool = NewPool()

// DefaultPool returns the global connection pool
func DefaultPool() *Pool {
	return globalPool
}

// Register adds a host configuration to the pool without connecting
func (p *Pool) Register(hostID string, cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[hostID] = cfg
}

// Get returns a live connection for the host, dialing one if needed.
// Concurrent callers for the same host share one dial, and the pool lock is
// not held while dialing. A dead connection that gets replaced is closed.
func (p *Pool) Get(ctx context.Context, hostID string, creds Credentials) (*Connection, error) {
	p.mu.RLock()
	conn, exists := p.connections[hostID]
	cfg, hasCfg := p.configs[hostID]
	p.mu.RUnlock()

	if exists && conn.IsConnected() {
		return conn, nil
	}
	if !hasCfg {
		return nil, fmt.Errorf("ssh: host %q is not configured", hostID)
	}

	ch := p.dials.DoChan(hostID, func() (interface{}, error) {
		// Another caller may have finished a dial just before this one started
		p.mu.RLock()
		cur, ok := p.connections[hostID]
		p.mu.RUnlock()
		if ok && cur.IsConnected() {
			return cur, nil
		}

		// The dial is shared, so one caller giving up must not cancel it
		fresh, err := p.dial(context.WithoutCancel(ctx), cfg, creds)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		stale := p.connections[hostID]
		p.connections[hostID] = fresh
		p.mu.Unlock()
		if stale != nil && stale != fresh {
			_ = stale.Close()
		}
		return fresh, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Connection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetIfExists returns a connection if it exists and is connected, nil otherwise
func (p *Pool) GetIfExists(hostID string) *Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conn, exists := p.connections[hostID]
	if exists && conn.IsConnected() {
		return conn
	}
	return nil
}

// HealthCheck pings every live connection and returns the results
func (p *Pool) HealthCheck(ctx context.Context) map[string]error {
	p.mu.RLock()
	conns := make(map[string]*Connection, len(p.connections))
	for hostID, conn := range p.connections {
		conns[hostID] = conn
	}
	p.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(conns))
	)
	for hostID, conn := range conns {
		wg.Add(1)
		go func(hid string, c *Connection) {
			defer wg.Done()
			err := c.Ping(ctx)
			mu.Lock()
			results[hid] = err
			mu.Unlock()
		}(hostID, conn)
	}

	wg.Wait()
	return results
}

// Close closes a specific connection
func (p *Pool) Close(hostID string) error {
	p.mu.Lock()
	conn, exists := p.connections[hostID]
	delete(p.connections, hostID)
	p.mu.Unlock()

	if exists && conn != nil {
		return conn.Close()
	}
	return nil
}

// CloseAll closes all connections in the pool
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.connections
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		if conn != nil {
			_ = conn.Close()
		}
	}
}

// ListHosts returns all registered host IDs
func (p *Pool) ListHosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hosts := make([]string, 0, len(p.configs))
	for hostID := range p.configs {
		hosts = append(hosts, hostID)
	}
	return hosts
}

// GetConfig returns the configuration for a host
func (p *Pool) GetConfig(hostID string) (Config, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cfg, exists := p.configs[hostID]
	return cfg, exists
}

// Status represents the status of a connection
type Status struct {
	HostID    string
	Connected bool
	Channels  int
	LastError error
	LastCheck time.Time
}

// Status reports every registered host. Hosts that were never dialed are
// reported as disconnected with a zero LastCheck.
func (p *Pool) Status() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.configs) == 0 {
		return nil
	}

	statuses := make([]Status, 0, len(p.configs))
	for hostID := range p.configs {
		st := Status{HostID: hostID}
		if conn, ok := p.connections[hostID]; ok {
			st.Connected = conn.IsConnected()
			st.Channels = conn.ChannelCount()
			st.LastError = conn.LastError()
			st.LastCheck = conn.LastCheck()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// StartHealthChecker starts a background goroutine that periodically checks connections
func (p *Pool) StartHealthChecker(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				p.HealthCheck(ctx)
				cancel()
			case <-stop:
				return
			}
		}
	}()
}
