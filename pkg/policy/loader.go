package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Loader reads policies from .rego and .json files and can watch them
// for changes.
type Loader struct {
	log     zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		log: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from files and directories. Directories
// are walked recursively; unreadable policy files inside a directory
// are logged and skipped, a bad explicit path is an error.
func (l *Loader) LoadFromPaths(paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.loadFile(path)
			if err != nil {
				return nil, err
			}
			all = append(all, *p)
			continue
		}

		err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isPolicyFile(file) {
				return nil
			}
			p, err := l.loadFile(file)
			if err != nil {
				l.log.Warn().Err(err).Str("path", file).Msg("skipping policy file")
				return nil
			}
			all = append(all, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
	}

	l.log.Info().Int("count", len(all)).Int("sources", len(paths)).Msg("policies loaded")
	return all, nil
}

func (l *Loader) loadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch {
	case strings.HasSuffix(path, ".rego"):
		return l.parseRego(path, data), nil
	case strings.HasSuffix(path, ".json"):
		return l.parseJSON(path, data)
	default:
		return nil, fmt.Errorf("unsupported policy file type: %s", path)
	}
}

// parseRego wraps raw Rego source in a Policy. The name comes from the
// file name and the description from the leading comment block.
func (l *Loader) parseRego(path string, data []byte) *Policy {
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Source:      path,
	}
}

// parseJSON parses a full policy definition, Rego source included.
func (l *Loader) parseJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	p.Source = path
	return &p, nil
}

// Watch reloads policies from paths whenever a policy file changes.
// The reload callback receives the full reloaded set. Watch returns
// after starting the watcher; Close stops it.
func (l *Loader) Watch(paths []string, reload func([]Policy)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("cannot watch path")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(dir string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(dir)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("cannot watch path")
		}
	}

	go l.dispatchEvents(paths, reload)
	l.log.Info().Int("paths", len(paths)).Msg("watching policy paths")
	return nil
}

func (l *Loader) dispatchEvents(paths []string, reload func([]Policy)) {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			l.log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("policy file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				policies, err := l.LoadFromPaths(paths)
				if err != nil {
					l.log.Error().Err(err).Msg("policy reload failed")
					return
				}
				reload(policies)
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Error().Err(err).Msg("policy watcher error")
		}
	}
}

// Close stops watching. Safe to call when Watch was never started.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// leadingComment collects the comment block above the package line of
// a Rego file.
func leadingComment(source string) string {
	var b strings.Builder
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if comment, ok := strings.CutPrefix(trimmed, "#"); ok {
			text := strings.TrimSpace(comment)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(text)
			continue
		}
		if trimmed != "" {
			break
		}
	}
	return b.String()
}
