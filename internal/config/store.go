package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// DefaultPath returns the default persisted configuration location,
// honouring the CANVASGUARD_CONFIG_PATH override.
func DefaultPath() string {
	if p := os.Getenv("CANVASGUARD_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "canvasguard.json"
	}
	return filepath.Join(home, ".canvasguard", "config.json")
}

// Store persists SecurityConfig as a JSON document. All failure modes
// degrade: a missing file yields defaults, a malformed one yields defaults
// plus an error for the caller to log, and a failed save leaves the
// in-memory configuration authoritative.
type Store struct {
	path   string
	logger *logrus.Logger
}

// NewStore creates a store at path.
func NewStore(path string, logger *logrus.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted configuration. A missing file returns the
// defaults with no error. A partial document is merged over the defaults. A
// malformed document returns the defaults along with the parse error so the
// caller can log it and continue.
func (s *Store) Load() (SecurityConfig, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("failed to read config %s: %w", s.path, err)
	}

	// Decode into a Patch so absent fields keep their default values.
	var patch Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		return Default(), fmt.Errorf("malformed config %s: %w", s.path, err)
	}
	cfg, err := Default().Apply(patch)
	if err != nil {
		return Default(), fmt.Errorf("invalid config %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically, holding a file lock so
// concurrent engine instances cannot interleave writes.
func (s *Store) Save(cfg SecurityConfig) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fileLock := flock.New(s.path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire config lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("config file %s is locked by another process", s.path)
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil && s.logger != nil {
			s.logger.WithError(unlockErr).Warn("Failed to release config lock")
		}
	}()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Watch reloads the file on change and invokes onChange with the result.
// Returns a stop function. Watch failures disable hot reload but never take
// the engine down.
func (s *Store) Watch(onChange func(SecurityConfig)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil && s.logger != nil {
			s.logger.WithError(closeErr).Warn("Failed to close watcher after add error")
		}
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	done := make(chan struct{})
	go func() {
		// Debounce: editors produce several events per save.
		var last time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if time.Since(last) < 100*time.Millisecond {
					continue
				}
				last = time.Now()

				cfg, err := s.Load()
				if err != nil {
					if s.logger != nil {
						s.logger.WithError(err).Error("Failed to reload config, keeping last known configuration")
					}
					continue
				}
				if s.logger != nil {
					s.logger.WithField("path", s.path).Debug("Configuration file changed, reloaded")
				}
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if s.logger != nil {
					s.logger.WithError(err).Error("Config watcher error")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		if err := watcher.Close(); err != nil && s.logger != nil {
			s.logger.WithError(err).Warn("Failed to close config watcher")
		}
	}, nil
}
