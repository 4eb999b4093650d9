//go:build !windows

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biaogd/rivett/internal/ssh/sshtest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestProbe_Local(t *testing.T) {
	cfgPath := writeConfig(t, "[local]\nshell = \"/bin/sh\"\nargs = []\n")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"local", "--config", cfgPath, "--cols", "60", "--rows", "10",
		"--send", "echo probe-$((6*7))", "--wait", "200ms"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "probe-42")
}

func TestProbe_SSH(t *testing.T) {
	srv := sshtest.Start(t, sshtest.Options{Greeting: "hello from sshtest\r\n"})
	cfgPath := writeConfig(t, `
[ssh_hosts.test]
host = "`+srv.Host()+`"
port = `+strconv.Itoa(srv.Port())+`
user = "tester"
known_hosts = "`+filepath.Join(t.TempDir(), "known_hosts")+`"
`)
	t.Setenv("PROBE_PW", sshtest.Password)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"ssh", "test", "--config", cfgPath, "--password-env", "PROBE_PW",
		"--cols", "60", "--rows", "10", "--send", "whoami", "--wait", "200ms"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hello from sshtest")
	assert.Contains(t, out.String(), "whoami")
}

func TestProbe_UnknownHost(t *testing.T) {
	cfgPath := writeConfig(t, "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"ssh", "nowhere", "--config", cfgPath})
	assert.Error(t, cmd.Execute())
}
