// Package sshtest runs an in-process SSH server that echoes shell input,
// records what it receives and tracks pty window changes.
package sshtest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// Password accepted by every test server
const Password = "hunter2"

// Options tune the server behavior
type Options struct {
	// Greeting is written to every shell right after it starts
	Greeting string
	// NoEcho disables echoing input back to the client
	NoEcho bool
}

// Window is a recorded pty size
type Window struct {
	Cols, Rows int
}

// Server is a running test server
type Server struct {
	Addr    string
	HostKey gossh.PublicKey

	opts Options
	srv  *gliderssh.Server

	mu       sync.Mutex
	received bytes.Buffer
	terms    []string
	windows  []Window
	sessions int
}

// Start listens on 127.0.0.1 and stops the server when the test ends.
func Start(tb testing.TB, opts Options) *Server {
	tb.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("generate host key: %v", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		tb.Fatalf("host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:    ln.Addr().String(),
		HostKey: signer.PublicKey(),
		opts:    opts,
	}
	s.srv = &gliderssh.Server{
		Handler: s.handle,
		PasswordHandler: func(_ gliderssh.Context, password string) bool {
			return password == Password
		},
	}
	s.srv.AddHostKey(signer)

	go func() { _ = s.srv.Serve(ln) }()
	tb.Cleanup(func() { _ = s.srv.Close() })
	return s
}

// Host and Port split Addr for client configs
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr)
	n, _ := strconv.Atoi(port)
	return n
}

func (s *Server) handle(sess gliderssh.Session) {
	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	pty, winCh, isPty := sess.Pty()
	if isPty {
		s.mu.Lock()
		s.terms = append(s.terms, pty.Term)
		s.windows = append(s.windows, Window{Cols: pty.Window.Width, Rows: pty.Window.Height})
		s.mu.Unlock()
		go func() {
			for w := range winCh {
				s.mu.Lock()
				s.windows = append(s.windows, Window{Cols: w.Width, Rows: w.Height})
				s.mu.Unlock()
			}
		}()
	}

	if s.opts.Greeting != "" {
		_, _ = io.WriteString(sess, s.opts.Greeting)
	}

	var seen []byte
	buf := make([]byte, 4096)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.received.Write(buf[:n])
			s.mu.Unlock()
			if !s.opts.NoEcho {
				_, _ = sess.Write(buf[:n])
			}
			seen = append(seen, buf[:n]...)
			if bytes.Contains(seen, []byte("exit\r")) {
				_ = sess.Exit(0)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Received returns a copy of every byte received on shell channels
func (s *Server) Received() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.received.Bytes())
}

// Windows returns the initial pty size followed by every window change
func (s *Server) Windows() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Window(nil), s.windows...)
}

// Terms returns the TERM value of every pty request
func (s *Server) Terms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.terms...)
}

// Sessions returns how many session channels were opened
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// WaitFor polls until cond holds or the timeout passes
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
