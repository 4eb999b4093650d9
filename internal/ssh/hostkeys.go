package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ErrHostKeyMismatch matches any *HostKeyMismatchError with errors.Is.
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// HostKeyMismatchError reports a server key that differs from the one on
// record. The connection is refused.
type HostKeyMismatchError struct {
	Host string
	Err  error
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("ssh: host key for %s does not match known_hosts: %v", e.Host, e.Err)
}

func (e *HostKeyMismatchError) Unwrap() error { return e.Err }

func (e *HostKeyMismatchError) Is(target error) bool { return target == ErrHostKeyMismatch }

var knownHostsMu sync.Mutex

// DefaultKnownHosts returns ~/.ssh/known_hosts
func DefaultKnownHosts() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// HostKeyCallback verifies server keys against a known_hosts file with
// accept-new semantics: unknown hosts are appended, changed keys are refused.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		p, err := DefaultKnownHosts()
		if err != nil {
			return nil, fmt.Errorf("resolve known_hosts: %w", err)
		}
		path = p
	}
	if err := ensureFile(path); err != nil {
		return nil, fmt.Errorf("prepare known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		knownHostsMu.Lock()
		defer knownHostsMu.Unlock()

		// Re-read each time so hosts accepted by other connections are seen
		check, err := knownhosts.New(path)
		if err != nil {
			return fmt.Errorf("load known_hosts: %w", err)
		}
		err = check(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{Host: hostname, Err: err}
		}
		return appendKnownHost(path, hostname, key)
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("append known_hosts: %w", err)
	}
	return nil
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}
