// Command rivett-probe opens one terminal tab headlessly, optionally types
// into it, waits for the output to settle and prints the screen.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/biaogd/rivett/internal/backend"
	"github.com/biaogd/rivett/internal/config"
	"github.com/biaogd/rivett/internal/logging"
	"github.com/biaogd/rivett/internal/ssh"
	"github.com/biaogd/rivett/internal/tab"
)

type probeOptions struct {
	configPath string
	logLevel   string
	send       string
	noEnter    bool
	quiet      time.Duration
	timeout    time.Duration
	cols, rows int

	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &probeOptions{}
	root := &cobra.Command{
		Use:           "rivett-probe",
		Short:         "Open a terminal tab headlessly and print its screen",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.rivett/config.toml)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	pf.StringVar(&opts.send, "send", "", "text to type once connected")
	pf.BoolVar(&opts.noEnter, "no-enter", false, "do not press Enter after --send")
	pf.DurationVar(&opts.quiet, "wait", 300*time.Millisecond, "how long output must be quiet before printing")
	pf.DurationVar(&opts.timeout, "timeout", 15*time.Second, "overall deadline")
	pf.IntVar(&opts.cols, "cols", 0, "columns (default: host terminal width)")
	pf.IntVar(&opts.rows, "rows", 0, "rows (default: host terminal height)")

	root.AddCommand(newLocalCmd(opts), newSSHCmd(opts))
	return root
}

func newLocalCmd(opts *probeOptions) *cobra.Command {
	var shell string
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Probe a local shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if shell != "" {
				cfg.Local.Shell = shell
				cfg.Local.Args = nil
			}
			open := tab.LocalOpener(backend.LocalOptions{
				Shell: cfg.Local.Shell,
				Args:  cfg.Local.Args,
				Env:   cfg.LocalEnv(),
			})
			return probe(cmd.Context(), cmd.OutOrStdout(), cfg, opts, nil, "local", open)
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "", "shell to run instead of the configured one")
	return cmd
}

func newSSHCmd(opts *probeOptions) *cobra.Command {
	var user, passwordEnv string
	cmd := &cobra.Command{
		Use:   "ssh HOST_ID",
		Short: "Probe a configured SSH host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			hostID := args[0]
			def, ok := cfg.Host(hostID)
			if !ok {
				return fmt.Errorf("host %q is not in %s", hostID, cfg.HostNames())
			}
			if user != "" {
				def.User = user
			}

			pool := ssh.NewPool()
			defer pool.CloseAll()
			pool.Register(hostID, def.SSHConfig())

			creds := ssh.Credentials{}
			if passwordEnv != "" {
				creds.Password = os.Getenv(passwordEnv)
			}
			open := tab.RemoteOpener(pool, tab.NewSharedConns(), hostID, creds, cfg.Terminal.Term)
			return probe(cmd.Context(), cmd.OutOrStdout(), cfg, opts, pool, hostID, open)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "override the configured user")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the password")
	return cmd
}

func (o *probeOptions) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	off := false
	cfg.Logging.Level = o.logLevel
	cfg.Logging.Console = &off
	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}
	o.logCloser = closer

	cols, rows := o.cols, o.rows
	if cols <= 0 || rows <= 0 {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
			cols, rows = w, h
		}
	}
	if cols > 0 && rows > 0 {
		cfg.Terminal.Cols, cfg.Terminal.Rows = cols, rows
	}
	return cfg, nil
}

func probe(ctx context.Context, out io.Writer, cfg *config.Config, opts *probeOptions, pool *ssh.Pool, title string, open tab.Opener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.logCloser != nil {
		defer opts.logCloser.Close()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	m := tab.NewManager(tab.SettingsFrom(cfg), pool)
	defer m.CloseAll()

	var lastRedraw atomic.Int64
	lastRedraw.Store(time.Now().UnixNano())
	m.SetListener(func(ev tab.Event) {
		if ev.Kind == tab.EventRedraw {
			lastRedraw.Store(time.Now().UnixNano())
		}
	})
	go m.Run(ctx)

	t := m.Create(title, open)
	if err := t.Connect(ctx); err != nil {
		return err
	}
	log.Debug().Str("tab", t.ID).Msg("probe connected")

	if opts.send != "" {
		text := opts.send
		if !opts.noEnter {
			text += "\r"
		}
		if err := t.Input(ctx, []byte(text)); err != nil {
			return err
		}
		lastRedraw.Store(time.Now().UnixNano())
	}

	interval := opts.quiet / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			printScreen(out, m, t)
			return errors.New("timed out waiting for output to settle")
		case <-ticker.C:
		}
		quietFor := time.Since(time.Unix(0, lastRedraw.Load()))
		if quietFor >= opts.quiet {
			printScreen(out, m, t)
			return nil
		}
	}
}

func printScreen(out io.Writer, m *tab.Manager, t *tab.Tab) {
	fmt.Fprintln(out, strings.TrimRight(t.Emulator().ScreenText(), "\n"))
	if st := t.State(); st.Kind != tab.Connected {
		fmt.Fprintf(os.Stderr, "[%s: %s]\n", st.Kind, st.Reason)
	}
	if t.Emulator().AlternateScreen() {
		fmt.Fprintln(os.Stderr, "[alternate screen]")
	}
	if n := m.Connections(); n > 0 {
		fmt.Fprintf(os.Stderr, "[ssh connections: %d]\n", n)
	}
}
