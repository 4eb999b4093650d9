//go:build !windows

package backend

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnSh(t *testing.T) (*Local, *Session) {
	t.Helper()
	local, err := SpawnLocal(LocalOptions{Shell: "/bin/sh", Cols: 80, Rows: 24})
	require.NoError(t, err)
	sess := New(local)
	t.Cleanup(func() { _ = sess.Close() })
	return local, sess
}

func TestLocal_WriteAndRead(t *testing.T) {
	local, sess := spawnSh(t)
	assert.Equal(t, KindLocal, sess.Kind())
	assert.NotZero(t, local.Pid())

	require.NoError(t, sess.Write(context.Background(), []byte("echo rivett-$((40+2))\n")))
	collect(t, local.Reader(), "rivett-42")
}

func TestLocal_ResizeReachesChild(t *testing.T) {
	local, sess := spawnSh(t)

	require.NoError(t, sess.Resize(context.Background(), 100, 40))
	require.NoError(t, sess.Write(context.Background(), []byte("stty size\n")))
	collect(t, local.Reader(), "40 100")
}

func TestLocal_ExitYieldsEOF(t *testing.T) {
	local, sess := spawnSh(t)
	require.NoError(t, sess.Write(context.Background(), []byte("exit\n")))

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, local.Reader())
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err, "hangup must read as a clean EOF")
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not observe hangup")
	}

	select {
	case <-local.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestLocal_WriteAfterClose(t *testing.T) {
	_, sess := spawnSh(t)
	require.NoError(t, sess.Close())
	assert.ErrorIs(t, sess.Write(context.Background(), []byte("x")), ErrClosed)
	assert.ErrorIs(t, sess.Resize(context.Background(), 80, 24), ErrClosed)
}
