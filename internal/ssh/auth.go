package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ErrAuthFailed is returned when the server rejects every offered method.
var ErrAuthFailed = errors.New("ssh: authentication failed")

// ErrPassphraseRequired is returned when a private key is encrypted and no
// passphrase was supplied.
var ErrPassphraseRequired = errors.New("ssh: private key passphrase required")

// Credentials are supplied by the caller at connect time and never persisted.
type Credentials struct {
	Password      string
	KeyPEM        []byte // inline private key, takes precedence over IdentityFile
	KeyPassphrase string
}

// authMethods builds the method list in preference order: inline key,
// identity file, agent, password. The returned cleanup releases the agent
// socket once the handshake is over.
func authMethods(cfg Config, creds Credentials) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	cleanup := func() {}

	var signers []ssh.Signer
	if len(creds.KeyPEM) > 0 {
		s, err := parseKey(creds.KeyPEM, creds.KeyPassphrase)
		if err != nil {
			return nil, cleanup, fmt.Errorf("inline key: %w", err)
		}
		signers = append(signers, s)
	}
	if cfg.IdentityFile != "" {
		pem, err := os.ReadFile(cfg.IdentityFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("read identity file: %w", err)
		}
		s, err := parseKey(pem, creds.KeyPassphrase)
		if err != nil {
			return nil, cleanup, fmt.Errorf("identity file %s: %w", cfg.IdentityFile, err)
		}
		signers = append(signers, s)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				cleanup = func() { _ = conn.Close() }
			}
		}
	}

	if creds.Password != "" {
		pw := creds.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		cleanup()
		return nil, func() {}, fmt.Errorf("%w: no credentials available for %s", ErrAuthFailed, cfg.Target())
	}
	return methods, cleanup, nil
}

func parseKey(pem []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, ErrPassphraseRequired
	}
	return s, err
}
