// Package backend abstracts the two transports a terminal tab can run on:
// a shell channel on a multiplexed SSH connection, or a local pseudo-terminal.
package backend

import (
	"context"
	"errors"

	"github.com/biaogd/rivett/internal/ssh"
)

var (
	// ErrClosed is returned when writing to or resizing a closed backend.
	ErrClosed = errors.New("backend closed")
	// ErrNoChannel is returned by a remote backend with no active channel.
	ErrNoChannel = errors.New("backend: no active channel")
)

// Kind names a backend variant.
type Kind int

const (
	KindRemote Kind = iota + 1
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Backend is implemented only by *Remote and *Local. Session switches over
// the concrete type, so adding a variant means extending that switch.
type Backend interface {
	Kind() Kind
	sealed()
}

// Conn is what a remote backend needs from a multiplexed connection.
// *ssh.Connection implements it.
type Conn interface {
	SendData(id ssh.ChannelID, data []byte) error
	WindowChange(id ssh.ChannelID, cols, rows int) error
}

// channelCloser is implemented by connections that can release one channel.
type channelCloser interface {
	CloseChannel(id ssh.ChannelID) error
}

var _ Conn = (*ssh.Connection)(nil)

// SharedConn is the lock-protected handle to one connection. Every remote
// backend on the connection holds the same SharedConn, and so can SFTP or
// forwarding code that needs exclusive use of the handle.
type SharedConn struct {
	sem  chan struct{}
	conn Conn
}

// NewSharedConn wraps conn.
func NewSharedConn(conn Conn) *SharedConn {
	return &SharedConn{sem: make(chan struct{}, 1), conn: conn}
}

// Lock acquires the handle or returns ctx.Err().
func (s *SharedConn) Lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the handle.
func (s *SharedConn) Unlock() {
	<-s.sem
}

// Conn returns the wrapped connection. Callers must hold the lock while
// using it for writes.
func (s *SharedConn) Conn() Conn {
	return s.conn
}

// Do runs fn with the lock held. See lockedCall for how ctx applies.
func (s *SharedConn) Do(ctx context.Context, fn func(Conn) error) error {
	return lockedCall(ctx, s.sem, func() error { return fn(s.conn) })
}

// lockedCall acquires sem, then runs fn while holding it. If ctx ends first
// the caller gets ctx.Err(): before the lock is taken nothing is written;
// after, fn keeps running and releases the lock when the transport returns,
// so the next writer still starts after the whole payload.
func lockedCall(ctx context.Context, sem chan struct{}, fn func() error) error {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-sem }()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
