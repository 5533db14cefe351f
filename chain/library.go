package chain

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Names of the four dialectic chains.
const (
	Classify               = "classify"
	ProposeCounterexample  = "propose_counterexample"
	ValidateCounterexample = "validate_counterexample"
	ReviseDefinition       = "revise_definition"
)

// aliases maps alternative chain names to their canonical name.
var aliases = map[string]string{
	"refute_counterexample": ValidateCounterexample,
	"classification":        Classify,
	"counterexample":        ProposeCounterexample,
	"revision":              ReviseDefinition,
}

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Library holds named zero-shot chains. It is safe for concurrent use and
// can be refreshed from a directory of chain documents while in use.
type Library struct {
	mu     sync.RWMutex
	chains map[string]*ZeroShot
	logger *slog.Logger
}

// DefaultLibrary returns a library holding the built-in chains.
func DefaultLibrary() (*Library, error) {
	lib := &Library{
		chains: make(map[string]*ZeroShot),
		logger: slog.Default(),
	}
	if err := lib.loadFS(defaultsFS, "defaults/*.yaml"); err != nil {
		return nil, fmt.Errorf("load built-in chains: %w", err)
	}
	return lib, nil
}

// LoadLibrary returns the built-in chains overridden by any *.yaml or *.yml
// chain documents found under dir. An empty dir yields the built-ins.
func LoadLibrary(dir string, logger *slog.Logger) (*Library, error) {
	lib, err := DefaultLibrary()
	if err != nil {
		return nil, err
	}
	if logger != nil {
		lib.logger = logger
	}
	if dir == "" {
		return lib, nil
	}
	if err := lib.loadDir(dir); err != nil {
		return nil, err
	}
	return lib, nil
}

func (l *Library) loadFS(fsys fs.FS, pattern string) error {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		spec, err := ParseSpec(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := l.Set(nameFor(spec, path), spec); err != nil {
			return err
		}
	}
	return nil
}

func (l *Library) loadDir(dir string) error {
	matches, err := doublestar.FilepathGlob(filepath.Join(dir, "**", "*.{yaml,yml}"))
	if err != nil {
		return fmt.Errorf("glob chain dir: %w", err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		spec, err := LoadSpec(path)
		if err != nil {
			return err
		}
		name := nameFor(spec, path)
		if err := l.Set(name, spec); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		l.logger.Debug("Loaded chain", "name", name, "path", path)
	}
	return nil
}

func nameFor(spec *Spec, path string) string {
	if spec.Name != "" {
		return spec.Name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Canonical resolves an alias to its chain name.
func Canonical(name string) string {
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Set builds spec and stores it under name, replacing any existing chain.
func (l *Library) Set(name string, spec *Spec) error {
	zs, err := spec.Build()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.chains[Canonical(name)] = zs
	l.mu.Unlock()
	return nil
}

// Get returns the chain registered under name or one of its aliases.
func (l *Library) Get(name string) (*ZeroShot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	zs, ok := l.chains[Canonical(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	return zs, nil
}

// Spec returns the document a registered chain was built from.
func (l *Library) Spec(name string) (Spec, error) {
	zs, err := l.Get(name)
	if err != nil {
		return Spec{}, err
	}
	return zs.Spec(), nil
}

// Names returns the registered chain names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.chains))
	for name := range l.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads chain documents under dir whenever they change, until ctx
// is cancelled. A document that fails to load is logged and the previously
// loaded chain stays in place.
func (l *Library) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	l.logger.Info("Watching chain directory", "dir", dir)

	pending := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isChainDocument(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				pending[event.Name] = struct{}{}
				timer.Reset(debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("Chain watcher error", "error", err)

		case <-timer.C:
			for path := range pending {
				l.reload(path)
			}
			clear(pending)
		}
	}
}

func (l *Library) reload(path string) {
	spec, err := LoadSpec(path)
	if err != nil {
		l.logger.Warn("Ignoring invalid chain document", "path", path, "error", err)
		return
	}
	name := nameFor(spec, path)
	if err := l.Set(name, spec); err != nil {
		l.logger.Warn("Ignoring unbuildable chain", "path", path, "error", err)
		return
	}
	l.logger.Info("Reloaded chain", "name", name, "path", path)
}

func isChainDocument(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
