package ssh_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/biaogd/rivett/internal/ssh"
	"github.com/biaogd/rivett/internal/ssh/sshtest"
)

func testConfig(t *testing.T, srv *sshtest.Server) ssh.Config {
	return ssh.Config{
		Host:       srv.Host(),
		Port:       srv.Port(),
		User:       "tester",
		KnownHosts: filepath.Join(t.TempDir(), "known_hosts"),
	}
}

func dial(t *testing.T, srv *sshtest.Server) *ssh.Connection {
	t.Helper()
	conn, err := ssh.Dial(context.Background(), testConfig(t, srv), ssh.Credentials{Password: sshtest.Password})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, r io.Reader, want string) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		var sb strings.Builder
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			sb.Write(buf[:n])
			if strings.Contains(sb.String(), want) || err != nil {
				got <- sb.String()
				return
			}
		}
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
		return ""
	}
}

func TestConfigAddrAndTarget(t *testing.T) {
	assert.Equal(t, "example.com:22", ssh.Config{Host: "example.com"}.Addr())
	assert.Equal(t, "example.com:2222", ssh.Config{Host: "example.com", Port: 2222}.Addr())
	assert.Equal(t, "example.com", ssh.Config{Host: "example.com"}.Target())
	assert.Equal(t, "deploy@example.com", ssh.Config{Host: "example.com", User: "deploy"}.Target())
}

func TestOpenShell_EchoAndWindowChange(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{Greeting: "welcome\r\n"})
	conn := dial(t, srv)

	id, stdout, err := conn.OpenShell(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.ChannelCount())

	readUntil(t, stdout, "welcome")
	require.NoError(t, conn.SendData(id, []byte("hello")))
	readUntil(t, stdout, "hello")

	require.NoError(t, conn.WindowChange(id, 100, 40))
	assert.True(t, sshtest.WaitFor(2*time.Second, func() bool {
		w := srv.Windows()
		return len(w) == 2 && w[1] == sshtest.Window{Cols: 100, Rows: 40}
	}))
	assert.Equal(t, sshtest.Window{Cols: 80, Rows: 24}, srv.Windows()[0], "default pty size")
	assert.Equal(t, []string{"xterm-256color"}, srv.Terms())

	require.NoError(t, conn.CloseChannel(id))
	assert.Equal(t, 0, conn.ChannelCount())
	assert.ErrorIs(t, conn.SendData(id, []byte("x")), ssh.ErrUnknownChannel)
}

func TestOpenShell_ChannelsShareOneConnection(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	conn := dial(t, srv)

	a, _, err := conn.OpenShell(context.Background(), "xterm-256color", 80, 24)
	require.NoError(t, err)
	b, _, err := conn.OpenShell(context.Background(), "xterm-256color", 80, 24)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.True(t, sshtest.WaitFor(2*time.Second, func() bool { return srv.Sessions() == 2 }))
}

func TestDial_WrongPassword(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	_, err := ssh.Dial(context.Background(), testConfig(t, srv), ssh.Credentials{Password: "nope"})
	assert.ErrorIs(t, err, ssh.ErrAuthFailed)
}

func TestDial_NoCredentials(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	_, err := ssh.Dial(context.Background(), testConfig(t, srv), ssh.Credentials{})
	assert.ErrorIs(t, err, ssh.ErrAuthFailed)
}

func TestDial_ConnectionRefused(t *testing.T) {
	cfg := ssh.Config{
		Host:           "127.0.0.1",
		Port:           1,
		KnownHosts:     filepath.Join(t.TempDir(), "known_hosts"),
		ConnectTimeout: time.Second,
	}
	_, err := ssh.Dial(context.Background(), cfg, ssh.Credentials{Password: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ssh dial")
}

func TestDial_AcceptNewThenRejectChangedKey(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	cfg := testConfig(t, srv)

	conn, err := ssh.Dial(context.Background(), cfg, ssh.Credentials{Password: sshtest.Password})
	require.NoError(t, err)
	_ = conn.Close()

	data, err := os.ReadFile(cfg.KnownHosts)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(gossh.MarshalAuthorizedKey(srv.HostKey))[:20])

	// Second dial with the recorded key succeeds
	conn, err = ssh.Dial(context.Background(), cfg, ssh.Credentials{Password: sshtest.Password})
	require.NoError(t, err)
	_ = conn.Close()

	// A different server on the same address would present another key;
	// simulate it by recording a bogus key for this host
	other := sshtest.Start(t, sshtest.Options{})
	otherCfg := testConfig(t, other)
	line := "[" + other.Host() + "]:" + strconv.Itoa(other.Port()) + " " + strings.TrimSpace(string(gossh.MarshalAuthorizedKey(srv.HostKey)))
	require.NoError(t, os.WriteFile(otherCfg.KnownHosts, []byte(line+"\n"), 0600))

	_, err = ssh.Dial(context.Background(), otherCfg, ssh.Credentials{Password: sshtest.Password})
	require.Error(t, err)
	assert.ErrorIs(t, err, ssh.ErrHostKeyMismatch)
	assert.Contains(t, err.Error(), "does not match known_hosts")
}

func TestClose_MarksDisconnected(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	conn := dial(t, srv)
	require.True(t, conn.IsConnected())
	require.NoError(t, conn.Ping(context.Background()))

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsConnected())
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	_, _, err := conn.OpenShell(context.Background(), "", 80, 24)
	assert.ErrorIs(t, err, ssh.ErrNotConnected)
}

func TestPool_GetReusesLiveConnection(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{})
	pool := ssh.NewPool()
	pool.Register("lab", testConfig(t, srv))
	t.Cleanup(pool.CloseAll)

	creds := ssh.Credentials{Password: sshtest.Password}
	first, err := pool.Get(context.Background(), "lab", creds)
	require.NoError(t, err)
	second, err := pool.Get(context.Background(), "lab", creds)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, pool.GetIfExists("lab"))

	health := pool.HealthCheck(context.Background())
	assert.NoError(t, health["lab"])

	statuses := pool.Status()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Connected)

	require.NoError(t, pool.Close("lab"))
	assert.False(t, first.IsConnected())
	assert.Nil(t, pool.GetIfExists("lab"))
}
