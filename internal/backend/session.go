package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Session is a cheaply cloned handle to one Backend. Every clone shares the
// backend; the backend is closed when the last clone is closed.
type Session struct {
	core   *sessionCore
	closed atomic.Bool
}

type sessionCore struct {
	backend   Backend
	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// New wraps b in a Session holding the first reference.
func New(b Backend) *Session {
	core := &sessionCore{backend: b}
	core.refs.Store(1)
	return &Session{core: core}
}

// Clone returns another handle to the same backend.
func (s *Session) Clone() *Session {
	s.core.refs.Add(1)
	return &Session{core: s.core}
}

// Backend returns the wrapped backend.
func (s *Session) Backend() Backend { return s.core.backend }

// Kind returns the backend variant.
func (s *Session) Kind() Kind { return s.core.backend.Kind() }

// Write sends data as one contiguous payload. Concurrent writers are
// serialized by the backend lock; a ctx that expires while waiting for the
// lock returns ctx.Err() without writing anything.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	switch b := s.core.backend.(type) {
	case *Remote:
		return b.write(ctx, data)
	case *Local:
		return b.write(ctx, data)
	default:
		panic(fmt.Sprintf("backend: unhandled variant %T", b))
	}
}

// Resize informs the transport of a new grid size.
func (s *Session) Resize(ctx context.Context, cols, rows int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("backend: invalid size %dx%d", cols, rows)
	}
	switch b := s.core.backend.(type) {
	case *Remote:
		return b.resize(ctx, cols, rows)
	case *Local:
		return b.resize(ctx, cols, rows)
	default:
		panic(fmt.Sprintf("backend: unhandled variant %T", b))
	}
}

// Close drops this handle. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.core.refs.Add(-1) > 0 {
		return nil
	}
	s.core.closeOnce.Do(func() {
		switch b := s.core.backend.(type) {
		case *Remote:
			s.core.closeErr = b.close()
		case *Local:
			s.core.closeErr = b.close()
		default:
			panic(fmt.Sprintf("backend: unhandled variant %T", b))
		}
	})
	return s.core.closeErr
}
