// Package ssh provides multiplexed SSH connections whose interactive shell
// channels back remote terminal tabs.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrNotConnected is returned when a connection has been closed or lost.
	ErrNotConnected = errors.New("ssh: not connected")
	// ErrUnknownChannel is returned for a channel ID that is not open.
	ErrUnknownChannel = errors.New("ssh: unknown channel")
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 30 * time.Second
	defaultKeepAliveMax   = 3
)

// ChannelID identifies a shell channel within one Connection.
type ChannelID uint32

// Config holds SSH connection configuration
type Config struct {
	Host         string
	User         string
	Port         int    // default 22
	IdentityFile string // path to private key (optional)
	UseAgent     bool   // authenticate with keys from SSH_AUTH_SOCK
	KnownHosts   string // known_hosts file, default ~/.ssh/known_hosts

	ConnectTimeout    time.Duration // default 10s
	KeepAliveInterval time.Duration // default 30s
	KeepAliveMax      int           // consecutive misses before closing, default 3
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = defaultKeepAlive
	}
	if c.KeepAliveMax <= 0 {
		c.KeepAliveMax = defaultKeepAliveMax
	}
	return c
}

// Addr returns host:port
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Target returns the SSH target string (user@host or just host)
func (c Config) Target() string {
	if c.User != "" {
		return c.User + "@" + c.Host
	}
	return c.Host
}

type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
}

// Connection is one authenticated SSH client connection. Shell channels,
// SFTP subsystems and forwards all multiplex over it; channel creation is
// safe from any goroutine.
type Connection struct {
	cfg    Config
	client *ssh.Client
	logger zerolog.Logger

	mu        sync.Mutex
	channels  map[ChannelID]*shellChannel
	nextID    ChannelID
	connected bool
	lastError error
	lastCheck time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects and authenticates. The TCP dial and the SSH handshake are
// bounded by cfg.ConnectTimeout as well as ctx.
func Dial(ctx context.Context, cfg Config, creds Credentials) (*Connection, error) {
	cfg = cfg.withDefaults()
	logger := log.With().Str("component", "ssh").Str("host", cfg.Target()).Logger()

	hostKeys, err := HostKeyCallback(cfg.KnownHosts)
	if err != nil {
		return nil, err
	}
	auth, cleanup, err := authMethods(cfg, creds)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", cfg.Addr(), err)
	}

	// Bound the handshake by the same deadline, then clear it for the session
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	stop := context.AfterFunc(dialCtx, func() { _ = raw.SetDeadline(time.Unix(1, 0)) })
	sshConn, chans, reqs, err := ssh.NewClientConn(raw, cfg.Addr(), clientCfg)
	stop()
	if err != nil {
		_ = raw.Close()
		return nil, classifyHandshakeError(cfg, err)
	}
	_ = raw.SetDeadline(time.Time{})

	c := &Connection{
		cfg:       cfg,
		client:    ssh.NewClient(sshConn, chans, reqs),
		logger:    logger,
		channels:  make(map[ChannelID]*shellChannel),
		connected: true,
		lastCheck: time.Now(),
		done:      make(chan struct{}),
	}
	go c.watch()
	go c.keepAlive()

	logger.Info().Msg("ssh connected")
	return c, nil
}

func classifyHandshakeError(cfg Config, err error) error {
	var mismatch *HostKeyMismatchError
	switch {
	case errors.As(err, &mismatch):
		return err
	case strings.Contains(err.Error(), "unable to authenticate"):
		return fmt.Errorf("%w: %s: %v", ErrAuthFailed, cfg.Target(), err)
	default:
		return fmt.Errorf("ssh handshake with %s: %w", cfg.Addr(), err)
	}
}

// watch marks the connection lost when the transport goes away
func (c *Connection) watch() {
	err := c.client.Wait()
	c.markClosed(err)
}

func (c *Connection) markClosed(err error) {
	c.mu.Lock()
	c.connected = false
	if err != nil && c.lastError == nil {
		c.lastError = err
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// keepAlive sends keepalive@openssh.com requests and closes the connection
// after KeepAliveMax consecutive unanswered probes.
func (c *Connection) keepAlive() {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.KeepAliveInterval)
		err := c.Ping(ctx)
		cancel()
		if err == nil {
			misses = 0
			continue
		}

		misses++
		c.logger.Warn().Err(err).Int("misses", misses).Msg("ssh keepalive missed")
		if misses >= c.cfg.KeepAliveMax {
			c.mu.Lock()
			c.lastError = fmt.Errorf("keepalive: %d probes unanswered: %w", misses, err)
			c.mu.Unlock()
			_ = c.Close()
			return
		}
	}
}

// Ping sends a single keepalive request and waits for the reply or ctx.
func (c *Connection) Ping(ctx context.Context) error {
	result := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		result <- err
	}()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	case <-c.done:
		err = ErrNotConnected
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	if err != nil {
		c.lastError = err
	}
	c.mu.Unlock()
	return err
}

// OpenShell opens a session channel, requests a pty of the given size and
// starts the login shell. The channel is registered only once the shell
// is running, so callers never see a half-initialized channel.
func (c *Connection) OpenShell(ctx context.Context, term string, cols, rows int) (ChannelID, io.Reader, error) {
	if !c.IsConnected() {
		return 0, nil, ErrNotConnected
	}
	if term == "" {
		term = "xterm-256color"
	}
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}

	type opened struct {
		ch     *shellChannel
		stdout io.Reader
		err    error
	}
	result := make(chan opened, 1)

	go func() {
		sess, err := c.client.NewSession()
		if err != nil {
			result <- opened{err: fmt.Errorf("open session channel: %w", err)}
			return
		}
		fail := func(step string, err error) {
			_ = sess.Close()
			result <- opened{err: fmt.Errorf("%s: %w", step, err)}
		}

		modes := ssh.TerminalModes{
			ssh.ECHO:          1,
			ssh.TTY_OP_ISPEED: 14400,
			ssh.TTY_OP_OSPEED: 14400,
		}
		if err := sess.RequestPty(term, rows, cols, modes); err != nil {
			fail("request pty", err)
			return
		}
		stdin, err := sess.StdinPipe()
		if err != nil {
			fail("stdin pipe", err)
			return
		}
		stdout, err := sess.StdoutPipe()
		if err != nil {
			fail("stdout pipe", err)
			return
		}
		if err := sess.Shell(); err != nil {
			fail("start shell", err)
			return
		}
		result <- opened{ch: &shellChannel{session: sess, stdin: stdin}, stdout: stdout}
	}()

	var res opened
	select {
	case res = <-result:
	case <-ctx.Done():
		// Reap whatever the opener produces so the channel is not leaked
		go func() {
			if late := <-result; late.ch != nil {
				_ = late.ch.session.Close()
			}
		}()
		return 0, nil, ctx.Err()
	}
	if res.err != nil {
		return 0, nil, res.err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.channels[id] = res.ch
	c.mu.Unlock()

	c.logger.Debug().Uint32("channel", uint32(id)).Int("cols", cols).Int("rows", rows).Msg("shell opened")
	return id, res.stdout, nil
}

func (c *Connection) channel(id ChannelID) (*shellChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	ch, ok := c.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return ch, nil
}

// SendData writes data to a shell channel's stdin.
func (c *Connection) SendData(id ChannelID, data []byte) error {
	ch, err := c.channel(id)
	if err != nil {
		return err
	}
	if _, err := ch.stdin.Write(data); err != nil {
		return fmt.Errorf("channel %d write: %w", id, err)
	}
	return nil
}

// WindowChange sends a window-change request for a shell channel.
func (c *Connection) WindowChange(id ChannelID, cols, rows int) error {
	ch, err := c.channel(id)
	if err != nil {
		return err
	}
	if err := ch.session.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("channel %d window-change: %w", id, err)
	}
	return nil
}

// CloseChannel closes one shell channel and forgets it.
func (c *Connection) CloseChannel(id ChannelID) error {
	c.mu.Lock()
	ch, ok := c.channels[id]
	delete(c.channels, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := ch.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ChannelCount returns the number of open shell channels.
func (c *Connection) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// Config returns the effective configuration
func (c *Connection) Config() Config {
	return c.cfg
}

// IsConnected returns whether the connection is currently healthy
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the last connection error
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LastCheck returns when the connection was last probed
func (c *Connection) LastCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck
}

// Done is closed once the connection is gone
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close closes every channel and the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	channels := c.channels
	c.channels = make(map[ChannelID]*shellChannel)
	c.connected = false
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.session.Close()
	}
	err := c.client.Close()
	c.closeOnce.Do(func() { close(c.done) })
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
