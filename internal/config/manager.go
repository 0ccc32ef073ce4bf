package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"adhanbot/pkg/logx"
)

// Validator vets a parsed config before a reload commits it.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the current config. Reloads triggered by Watch are parsed,
// validated and only then committed and published to subscribers.
type Manager struct {
	path string

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log       logx.Logger
	validate  Validator
	lookupEnv func(string) (string, bool)
}

func NewManager(path string) *Manager {
	return &Manager{
		path:      path,
		subs:      map[chan *Config]struct{}{},
		log:       logx.Nop(),
		lookupEnv: os.LookupEnv,
	}
}

// SetEnv replaces the environment lookup used for overrides.
func (m *Manager) SetEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	m.lookupEnv = lookup
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

func (m *Manager) SetValidator(fn Validator) { m.validate = fn }

// Parse reads the file over Default() and applies environment overrides.
// A missing file is fine: defaults plus environment can be enough.
func (m *Manager) Parse() (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decode(m.path, b, cfg); err != nil {
			return nil, err
		}
	}
	ApplyEnv(cfg, m.lookupEnv)
	return cfg, nil
}

// Load parses and commits without validation; the caller validates.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg, contentHash(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config, h uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, h
	m.mu.Unlock()
}

// Subscribe returns a channel of committed configs. A slow subscriber only
// ever misses intermediate configs, never the latest one.
func (m *Manager) Subscribe(buffer int) (<-chan *Config, func()) {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// full: drop the oldest and retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload parses the file and, when the content changed and passes the
// validator, commits and publishes it.
func (m *Manager) reload(ctx context.Context) error {
	cfg, err := m.Parse()
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	h := contentHash(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return nil
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("rejected: %w", err)
		}
	}
	m.commit(cfg, h)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%016x", h)))
	return nil
}
