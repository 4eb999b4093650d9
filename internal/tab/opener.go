package tab

import (
	"context"
	"io"
	"sync"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/ssh"
)

// Opener produces a ready session and its output stream. For remote hosts
// ready means the shell channel is open, not just the connection.
type Opener func(ctx context.Context, cols, rows int) (*backend.Session, io.Reader, error)

// LocalOpener spawns a local shell on a pty of the requested size.
func LocalOpener(opts backend.LocalOptions) Opener {
	return func(_ context.Context, cols, rows int) (*backend.Session, io.Reader, error) {
		o := opts
		o.Cols, o.Rows = cols, rows
		local, err := backend.SpawnLocal(o)
		if err != nil {
			return nil, nil, err
		}
		return backend.New(local), local.Reader(), nil
	}
}

// RemoteOpener opens a shell channel on the pool's connection to hostID.
// Tabs on the same connection share one lock-protected handle from shares.
func RemoteOpener(pool *ssh.Pool, shares *SharedConns, hostID string, creds ssh.Credentials, term string) Opener {
	return func(ctx context.Context, cols, rows int) (*backend.Session, io.Reader, error) {
		conn, err := pool.Get(ctx, hostID, creds)
		if err != nil {
			return nil, nil, err
		}
		id, stdout, err := conn.OpenShell(ctx, term, cols, rows)
		if err != nil {
			return nil, nil, err
		}
		return backend.New(backend.NewRemote(shares.For(conn), id)), stdout, nil
	}
}

// SharedConns hands out one SharedConn per live connection.
type SharedConns struct {
	mu     sync.Mutex
	shared map[*ssh.Connection]*backend.SharedConn
}

// NewSharedConns creates an empty registry.
func NewSharedConns() *SharedConns {
	return &SharedConns{shared: make(map[*ssh.Connection]*backend.SharedConn)}
}

// For returns the handle for conn, creating it on first use. Handles of
// dead connections are dropped.
func (s *SharedConns) For(conn *ssh.Connection) *backend.SharedConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.shared {
		if c != conn && !c.IsConnected() {
			delete(s.shared, c)
		}
	}
	if sc, ok := s.shared[conn]; ok {
		return sc
	}
	sc := backend.NewSharedConn(conn)
	s.shared[conn] = sc
	return sc
}

// Len returns the number of tracked connections.
func (s *SharedConns) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shared)
}
