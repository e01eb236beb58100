package config

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Manager owns the engine's live configuration snapshot. Reads are
// lock-free (an atomic.Value holding an immutable *Config); reloads
// swap the snapshot under a short-lived lock only to serialize
// concurrent reloads against each other, matching the "process-wide
// configuration is read-mostly; reloads swap an immutable snapshot
// under a lock" contract in spec.md §5.
type Manager struct {
	configPath string
	snapshot   atomic.Value // holds *Config

	mu        sync.Mutex
	callbacks []func(old, new *Config)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup

	logger *logging.Logger
}

// NewManager loads configPath once and returns a Manager ready to serve
// Current() and, if WatchForChanges is called, hot reload.
func NewManager(configPath string) (*Manager, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		configPath: configPath,
		stop:       make(chan struct{}),
		logger:     logging.GetLogger("config-manager"),
	}
	m.snapshot.Store(cfg)
	return m, nil
}

// Current returns the currently active configuration snapshot. Callers
// must treat the returned value as immutable.
func (m *Manager) Current() *Config {
	return m.snapshot.Load().(*Config)
}

// OnChange registers a callback invoked after every successful reload
// with the previous and new snapshots.
func (m *Manager) OnChange(fn func(old, new *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchForChanges starts an fsnotify watch on the backing file and
// reloads on every write/create event, debounced by waitForFileStable
// so a reload never observes a half-written file.
func (m *Manager) WatchForChanges() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(m.configPath); err != nil {
		watcher.Close()
		return fmt.Errorf("watch configuration file: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchLoop()
	return nil
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.reload(); err != nil {
				m.logger.WithError(err).Warn("configuration reload failed, keeping previous snapshot")
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.WithError(err).Warn("configuration watcher error")
		}
	}
}

func (m *Manager) reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.waitForFileStable(); err != nil {
		return err
	}

	next, err := Load(m.configPath)
	if err != nil {
		return err
	}

	old := m.Current()
	m.snapshot.Store(next)

	for _, cb := range m.callbacks {
		cb(old, next)
	}
	m.logger.Info("configuration reloaded")
	return nil
}

// waitForFileStable polls the config file's size until it stops
// changing, avoiding a reload mid-write (teacher's hot_reload.go idiom).
func (m *Manager) waitForFileStable() error {
	const (
		maxWait        = 5 * time.Second
		checkInterval  = 50 * time.Millisecond
		stabilityCount = 3
	)
	deadline := time.Now().Add(maxWait)
	var lastSize int64 = -1
	stable := 0
	for time.Now().Before(deadline) {
		info, err := osStat(m.configPath)
		if err != nil {
			time.Sleep(checkInterval)
			continue
		}
		if info == lastSize {
			stable++
			if stable >= stabilityCount {
				return nil
			}
		} else {
			stable = 0
			lastSize = info
		}
		time.Sleep(checkInterval)
	}
	return fmt.Errorf("configuration file %q did not stabilize within %s", m.configPath, maxWait)
}

// Close stops the watcher goroutine, if running.
func (m *Manager) Close() error {
	close(m.stop)
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}
