package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ChangeEvent describes one configuration file change.
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // create, modify, delete, manual_reload
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when a watched configuration file changes.
type ChangeHandler func(event ChangeEvent) error

// Manager watches the config directory and hot-reloads yaml files, so
// navigation tuning knobs (timeouts, highlight duration) apply without
// a restart. fsnotify is the primary mechanism with an optional polling
// fallback for filesystems where it is unreliable.
type Manager struct {
	configDir string
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}

	mu       sync.RWMutex
	started  bool
	configs  map[string]map[string]interface{}
	handlers map[string][]ChangeHandler
	modTimes map[string]time.Time

	pollInterval  time.Duration
	enablePolling bool
}

// NewManager creates a configuration manager over configDir.
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Manager{
		configDir:    configDir,
		logger:       logger,
		watcher:      watcher,
		stopCh:       make(chan struct{}),
		configs:      make(map[string]map[string]interface{}),
		handlers:     make(map[string][]ChangeHandler),
		modTimes:     make(map[string]time.Time),
		pollInterval: 10 * time.Second,
	}, nil
}

// Start loads the current files and begins watching for changes.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	polling := m.enablePolling
	m.mu.Unlock()

	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := m.loadAll(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	go m.watchLoop()
	if polling {
		go m.pollLoop()
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.configDir),
		zap.Bool("polling_enabled", polling),
	)
	return nil
}

// Stop ends watching. Safe to call once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}
	m.started = false
	return nil
}

// EnablePolling turns on the polling fallback. Call before Start.
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enablePolling = true
	if interval > 0 {
		m.pollInterval = interval
	}
}

// RegisterHandler subscribes to changes of one file (base name).
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[filename] = append(m.handlers[filename], handler)
}

// GetConfig returns a copy of the parsed configuration for a file.
func (m *Manager) GetConfig(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[filename]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out, true
}

// Reload re-reads one file and notifies handlers.
func (m *Manager) Reload(filename string) error {
	return m.loadFile(filepath.Join(m.configDir, filename), "manual_reload")
}

func (m *Manager) loadAll() error {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		if err := m.loadFile(filepath.Join(m.configDir, entry.Name()), "create"); err != nil {
			m.logger.Warn("Failed to load config file",
				zap.String("file", entry.Name()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Manager) loadFile(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg map[string]interface{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	name := filepath.Base(path)
	m.mu.Lock()
	m.configs[name] = cfg
	if info, err := os.Stat(path); err == nil {
		m.modTimes[name] = info.ModTime()
	}
	handlers := make([]ChangeHandler, len(m.handlers[name]))
	copy(handlers, m.handlers[name])
	m.mu.Unlock()

	event := ChangeEvent{File: name, Action: action, Config: cfg, Timestamp: time.Now()}
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			m.logger.Error("Configuration handler error",
				zap.String("file", name),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0:
				name := filepath.Base(event.Name)
				m.mu.Lock()
				delete(m.configs, name)
				delete(m.modTimes, name)
				m.mu.Unlock()
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				action := "modify"
				if event.Op&fsnotify.Create != 0 {
					action = "create"
				}
				if err := m.loadFile(event.Name, action); err != nil {
					m.logger.Warn("Failed to reload config file",
						zap.String("file", event.Name),
						zap.Error(err),
					)
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// pollLoop re-checks modification times on an interval, catching
// changes fsnotify missed.
func (m *Manager) pollLoop() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			entries, err := os.ReadDir(m.configDir)
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if entry.IsDir() || !isYAML(entry.Name()) {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				m.mu.RLock()
				known, seen := m.modTimes[entry.Name()]
				m.mu.RUnlock()
				if !seen || info.ModTime().After(known) {
					_ = m.loadFile(filepath.Join(m.configDir, entry.Name()), "modify")
				}
			}
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
