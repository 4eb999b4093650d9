package backend

import (
	"context"
	"sync/atomic"

	"github.com/biaogd/rivett/internal/ssh"
)

// Remote sends to one shell channel through a shared connection handle.
type Remote struct {
	shared  *SharedConn
	channel ssh.ChannelID
	closed  atomic.Bool
}

// NewRemote binds a backend to channel id on shared. The channel must
// already have a running shell.
func NewRemote(shared *SharedConn, id ssh.ChannelID) *Remote {
	return &Remote{shared: shared, channel: id}
}

func (*Remote) Kind() Kind { return KindRemote }
func (*Remote) sealed()    {}

// Channel returns the channel identifier.
func (r *Remote) Channel() ssh.ChannelID { return r.channel }

// Shared returns the connection handle this backend writes through.
func (r *Remote) Shared() *SharedConn { return r.shared }

func (r *Remote) write(ctx context.Context, data []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.shared.Do(ctx, func(c Conn) error {
		return c.SendData(r.channel, data)
	})
}

func (r *Remote) resize(ctx context.Context, cols, rows int) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if r.channel == 0 {
		return ErrNoChannel
	}
	return r.shared.Do(ctx, func(c Conn) error {
		return c.WindowChange(r.channel, cols, rows)
	})
}

func (r *Remote) close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if cc, ok := r.shared.Conn().(channelCloser); ok {
		return cc.CloseChannel(r.channel)
	}
	return nil
}
