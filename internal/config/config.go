// Package config loads rivett's user configuration from ~/.rivett/config.toml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	sshpkg "github.com/biaogd/rivett/internal/ssh"
)

// FileName is the TOML config file inside the rivett directory
const FileName = "config.toml"

// DirEnv overrides the rivett directory (used by tests and portable installs)
const DirEnv = "RIVETT_HOME"

// Config represents user-facing configuration in TOML format
type Config struct {
	// Terminal defines emulator geometry and history settings
	Terminal TerminalSettings `toml:"terminal"`

	// Engine defines I/O pump and redraw scheduler tuning
	Engine EngineSettings `toml:"engine"`

	// Local defines the shell spawned for local tabs
	Local LocalSettings `toml:"local"`

	// SSHHosts defines remote hosts that can be opened as tabs
	SSHHosts map[string]SSHHostDef `toml:"ssh_hosts"`

	// Logging defines log level and destinations
	Logging LoggingSettings `toml:"logging"`
}

// TerminalSettings configures new emulators
type TerminalSettings struct {
	// Term is the TERM value advertised to local shells and remote ptys
	// Default: "xterm-256color"
	Term string `toml:"term"`

	// Cols and Rows are the initial grid size before the first resize
	// Default: 80x24
	Cols int `toml:"cols"`
	Rows int `toml:"rows"`

	// Scrollback is the number of history lines kept per tab
	// Default: 10000
	Scrollback int `toml:"scrollback"`

	// SemanticEscapeChars separate words for double-click selection
	SemanticEscapeChars string `toml:"semantic_escape_chars"`
}

// EngineSettings tunes the per-tab pipeline
type EngineSettings struct {
	// BatchLimit is how many queued chunks the parser drains per batch (default: 100)
	BatchLimit int `toml:"batch_limit"`

	// ReplyTimeoutMs bounds each terminal reply write (default: 1000)
	ReplyTimeoutMs int `toml:"reply_timeout_ms"`

	// InputTimeoutMs bounds each user input write (default: 2000)
	InputTimeoutMs int `toml:"input_timeout_ms"`

	// StableMs is the output silence after which pending damage is applied (default: 5)
	StableMs int `toml:"stable_ms"`

	// FrameMs forces a redraw during long bursts (default: 16)
	FrameMs int `toml:"frame_ms"`

	// TickMs is the redraw tick interval (default: 16)
	TickMs int `toml:"tick_ms"`

	// ResizeDebounceMs delays applying window resizes (default: 120)
	ResizeDebounceMs int `toml:"resize_debounce_ms"`

	// ReadBuffer is the reader's buffer size in bytes (default: 32768)
	ReadBuffer int `toml:"read_buffer"`
}

// LocalSettings defines the local shell
type LocalSettings struct {
	// Shell is the program to run. Default: $SHELL, then /bin/zsh, then /bin/sh
	Shell string `toml:"shell"`

	// Args are passed to the shell. Default: ["-l"]
	Args []string `toml:"args"`

	// Env entries are added on top of TERM, COLORTERM and LANG
	Env map[string]string `toml:"env"`
}

// SSHHostDef defines a remote host
type SSHHostDef struct {
	Host string `toml:"host"`
	User string `toml:"user"`

	// Port defaults to 22
	Port int `toml:"port"`

	// IdentityFile is the path to the private key (optional, supports ~)
	IdentityFile string `toml:"identity_file"`

	// UseAgent enables ssh-agent authentication through SSH_AUTH_SOCK
	UseAgent bool `toml:"use_agent"`

	// KnownHosts is the known_hosts file. Default: ~/.ssh/known_hosts
	KnownHosts string `toml:"known_hosts"`

	// ConnectTimeoutS bounds the TCP dial and handshake (default: 10)
	ConnectTimeoutS int `toml:"connect_timeout_s"`

	// KeepAliveS is the keepalive interval and KeepAliveMax the tolerated misses (30 / 3)
	KeepAliveS   int `toml:"keepalive_s"`
	KeepAliveMax int `toml:"keepalive_max"`

	// Description is optional help text shown in host pickers
	Description string `toml:"description"`
}

// LoggingSettings defines log output
type LoggingSettings struct {
	// Level is a zerolog level name. Default: "info"
	Level string `toml:"level"`

	// File is the debug log path. Default: $TMPDIR/rivett-debug.log
	File string `toml:"file"`

	// Console mirrors logs to stderr (default: true)
	Console *bool `toml:"console"`
}

// Defaults returns a config with every default applied
func Defaults() *Config {
	cfg := &Config{SSHHosts: make(map[string]SSHHostDef)}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	t := &c.Terminal
	if t.Term == "" {
		t.Term = "xterm-256color"
	}
	if t.Cols <= 0 {
		t.Cols = 80
	}
	if t.Rows <= 0 {
		t.Rows = 24
	}
	if t.Scrollback <= 0 {
		t.Scrollback = 10000
	}
	if t.SemanticEscapeChars == "" {
		t.SemanticEscapeChars = ",│`|:\"' ()[]{}<>\t"
	}

	e := &c.Engine
	if e.BatchLimit <= 0 {
		e.BatchLimit = 100
	}
	if e.ReplyTimeoutMs <= 0 {
		e.ReplyTimeoutMs = 1000
	}
	if e.InputTimeoutMs <= 0 {
		e.InputTimeoutMs = 2000
	}
	if e.StableMs <= 0 {
		e.StableMs = 5
	}
	if e.FrameMs <= 0 {
		e.FrameMs = 16
	}
	if e.TickMs <= 0 {
		e.TickMs = 16
	}
	if e.ResizeDebounceMs <= 0 {
		e.ResizeDebounceMs = 120
	}
	if e.ReadBuffer <= 0 {
		e.ReadBuffer = 32 * 1024
	}

	if c.Local.Shell == "" {
		c.Local.Shell = defaultShell()
	}
	if c.Local.Args == nil {
		c.Local.Args = []string{"-l"}
	}

	if c.SSHHosts == nil {
		c.SSHHosts = make(map[string]SSHHostDef)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(os.TempDir(), "rivett-debug.log")
	}
	if c.Logging.Console == nil {
		on := true
		c.Logging.Console = &on
	}
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	if _, err := os.Stat("/bin/zsh"); err == nil {
		return "/bin/zsh"
	}
	return "/bin/sh"
}

// Cache for the loaded config (loaded once per process)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the rivett directory, honoring RIVETT_HOME
func Dir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".rivett"), nil
}

// Path returns the path to the config file
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load loads the configuration from TOML.
// Returns the cached config after the first load.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = Defaults()
		return cache, nil
	}

	cfg, err := LoadFile(path)
	if err != nil {
		// Still cache defaults so a broken file is not re-parsed on every call
		cache = Defaults()
		return cache, err
	}
	cache = cfg
	return cache, nil
}

// LoadFile decodes a config file without touching the cache.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Defaults(), nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config.toml parse error: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Reload forces a reload of the config
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache drops the cached config; the next Load reads from disk
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes the config atomically (temp file, fsync, rename) and clears the cache
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# rivett configuration\n")
	buf.WriteString("# Secrets (passwords, key passphrases) are never stored here\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if f, err := os.Open(tmp); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// Duration helpers

func (e EngineSettings) ReplyTimeout() time.Duration {
	return time.Duration(e.ReplyTimeoutMs) * time.Millisecond
}

func (e EngineSettings) InputTimeout() time.Duration {
	return time.Duration(e.InputTimeoutMs) * time.Millisecond
}

func (e EngineSettings) Stable() time.Duration { return time.Duration(e.StableMs) * time.Millisecond }

func (e EngineSettings) Frame() time.Duration { return time.Duration(e.FrameMs) * time.Millisecond }

func (e EngineSettings) Tick() time.Duration { return time.Duration(e.TickMs) * time.Millisecond }

func (e EngineSettings) ResizeDebounce() time.Duration {
	return time.Duration(e.ResizeDebounceMs) * time.Millisecond
}

// LocalEnv returns the environment for a local shell: the process
// environment, then terminal variables, then user overrides.
func (c *Config) LocalEnv() []string {
	env := os.Environ()
	env = append(env,
		"TERM="+c.Terminal.Term,
		"COLORTERM=truecolor",
	)
	if os.Getenv("LANG") == "" {
		env = append(env, "LANG=en_US.UTF-8")
	}
	keys := make([]string, 0, len(c.Local.Env))
	for k := range c.Local.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.Local.Env[k])
	}
	return env
}

// HostNames returns the sorted list of configured SSH host IDs
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.SSHHosts))
	for name := range c.SSHHosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Host returns a host definition by ID
func (c *Config) Host(id string) (SSHHostDef, bool) {
	def, ok := c.SSHHosts[id]
	return def, ok
}

// SSHConfig converts a host definition into a dialer config with defaults applied
func (h SSHHostDef) SSHConfig() sshpkg.Config {
	cfg := sshpkg.Config{
		Host:         h.Host,
		User:         h.User,
		Port:         h.Port,
		IdentityFile: expandPath(h.IdentityFile),
		UseAgent:     h.UseAgent,
		KnownHosts:   expandPath(h.KnownHosts),
	}
	if h.ConnectTimeoutS > 0 {
		cfg.ConnectTimeout = time.Duration(h.ConnectTimeoutS) * time.Second
	}
	if h.KeepAliveS > 0 {
		cfg.KeepAliveInterval = time.Duration(h.KeepAliveS) * time.Second
	}
	if h.KeepAliveMax > 0 {
		cfg.KeepAliveMax = h.KeepAliveMax
	}
	return cfg
}

// RegisterHosts registers every configured host with the pool.
// This should be called at application startup.
func (c *Config) RegisterHosts(pool *sshpkg.Pool) {
	for id, def := range c.SSHHosts {
		pool.Register(id, def.SSHConfig())
	}
}

// expandPath expands ~ to the home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
