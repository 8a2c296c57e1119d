package alerting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Wikid82/sentinel/backend/internal/logger"
)

// RuleLoader reads rule definitions from a YAML file and watches it for changes.
type RuleLoader struct {
	path     string
	mu       sync.RWMutex
	current  *RuleFile
	onChange []func(*RuleFile)
}

// NewRuleLoader creates a loader and performs the initial load.
func NewRuleLoader(path string) (*RuleLoader, error) {
	l := &RuleLoader{path: path}
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = f
	return l, nil
}

// Path returns the watched file.
func (l *RuleLoader) Path() string { return l.path }

// Rules returns the latest successfully parsed file.
func (l *RuleLoader) Rules() *RuleFile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *RuleLoader) OnChange(fn func(*RuleFile)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Reload re-reads the file immediately.
func (l *RuleLoader) Reload() (*RuleFile, error) {
	f, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = f
	callbacks := make([]func(*RuleFile), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(f)
	}
	return f, nil
}

// Watch hot-reloads the file in the background. The parent directory is
// watched so editors that replace the file are picked up. Call the returned
// function to stop.
func (l *RuleLoader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)
	log := logger.Source("alerting").WithField("file", l.path)

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						log.WithError(err).Warn("keeping previous alert rules")
						continue
					}
					log.Info("alert rules reloaded")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("rules watcher error")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}, nil
}

func (l *RuleLoader) load() (*RuleFile, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", l.path, err)
	}
	for _, d := range f.Rules {
		if _, err := d.Compile(SourceFile); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// WatchRules loads path into e and keeps it in sync until stop is called.
func WatchRules(e *Engine, path string) (stop func(), err error) {
	l, err := NewRuleLoader(path)
	if err != nil {
		return nil, err
	}
	if err := e.ApplyDefinitions(l.Rules().Rules); err != nil {
		return nil, err
	}
	l.OnChange(func(f *RuleFile) {
		if err := e.ApplyDefinitions(f.Rules); err != nil {
			logger.Source("alerting").WithError(err).Warn("failed to apply reloaded alert rules")
		}
	})
	return l.Watch()
}
