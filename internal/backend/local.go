package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
)

// LocalOptions describe the process to run on a new pseudo-terminal.
type LocalOptions struct {
	Shell string
	Args  []string
	Env   []string // full environment; nil inherits os.Environ()
	Dir   string
	Cols  int
	Rows  int
}

// Local drives a process attached to a pty master. The master file is the
// writer; the reader goroutine reads from the same file.
type Local struct {
	cmd  *exec.Cmd
	file *os.File
	sem  chan struct{}

	closed   atomic.Bool
	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// SpawnLocal starts the shell with the initial window size already applied,
// so programs that query the size on startup see the real dimensions.
func SpawnLocal(opts LocalOptions) (*Local, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/sh"
		}
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}

	cmd := exec.Command(shell, opts.Args...)
	cmd.Dir = opts.Dir
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = append(os.Environ(),
			"TERM=xterm-256color",
			"COLORTERM=truecolor",
		)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", shell, err)
	}

	l := &Local{
		cmd:    cmd,
		file:   ptmx,
		sem:    make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go l.wait()
	return l, nil
}

func (*Local) Kind() Kind { return KindLocal }
func (*Local) sealed()    {}

// Pid returns the child process ID.
func (l *Local) Pid() int {
	if l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

// Reader returns the pty output. A hangup after the child exits is
// reported as io.EOF.
func (l *Local) Reader() io.Reader {
	return hangupReader{l.file}
}

// Wait blocks until the child exits and returns its exit error.
func (l *Local) Wait() error {
	<-l.exited
	return l.waitErr
}

// Exited is closed when the child exits.
func (l *Local) Exited() <-chan struct{} {
	return l.exited
}

func (l *Local) wait() {
	l.waitOnce.Do(func() {
		l.waitErr = l.cmd.Wait()
		close(l.exited)
	})
}

func (l *Local) write(ctx context.Context, data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return lockedCall(ctx, l.sem, func() error {
		if _, err := l.file.Write(data); err != nil {
			if errors.Is(err, os.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("pty write: %w", err)
		}
		return nil
	})
}

func (l *Local) resize(ctx context.Context, cols, rows int) error {
	if l.closed.Load() {
		return ErrClosed
	}
	// Pixel dimensions are not tracked
	return lockedCall(ctx, l.sem, func() error {
		return pty.Setsize(l.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	})
}

// close terminates the shell process and releases the pty.
func (l *Local) close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if l.cmd.Process != nil {
		_ = l.cmd.Process.Kill()
	}
	return l.file.Close()
}

type hangupReader struct {
	f *os.File
}

func (r hangupReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil && (isHangup(err) || errors.Is(err, os.ErrClosed)) {
		return n, io.EOF
	}
	return n, err
}
