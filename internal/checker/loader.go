package checker

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/tracewire/internal/jobs"
	"github.com/dshills/tracewire/internal/protocol"
)

// CheckArgs is the wire shape of a single check request. Path falls back to
// the job key when empty.
type CheckArgs struct {
	Path    string         `json:"path"`
	Source  string         `json:"source"`
	Options map[string]any `json:"options,omitempty"`
}

type loadedModule struct {
	module     *Module
	searchPath string
}

// Loader loads checker modules on INIT requests and keeps them
// hot-reloadable. It implements the job server's Loader interface.
type Loader struct {
	log     *zap.Logger
	workers int

	mu      sync.RWMutex
	modules map[string]*loadedModule
}

// NewLoader creates a loader. workers sizes the batch pool used by each
// registered module; values below 1 use jobs.PoolSize().
func NewLoader(logger *zap.Logger, workers int) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = jobs.PoolSize()
	}
	return &Loader{log: logger, workers: workers, modules: make(map[string]*loadedModule)}
}

// Load loads <searchPath>/<moduleName>.lua and registers it under its name
// as a single service plus a batch service. Loading a name again replaces
// the previous module.
func (l *Loader) Load(searchPath, moduleName string, reg *jobs.Registry) error {
	module, err := LoadModule(searchPath, moduleName)
	if err != nil {
		return err
	}

	l.mu.Lock()
	prev := l.modules[moduleName]
	l.modules[moduleName] = &loadedModule{module: module, searchPath: searchPath}
	l.mu.Unlock()
	if prev != nil {
		prev.module.Close()
	}

	handler := l.handler(moduleName)
	reg.RegisterSingle(moduleName, handler)
	reg.RegisterBatch(protocol.BatchPrefix+moduleName, jobs.PooledBatch(handler, l.workers))

	l.log.Info("checker module registered",
		zap.String("module", moduleName),
		zap.String("path", module.Path))
	return nil
}

// handler resolves the module by name on every call so a reload takes
// effect without re-registering services.
func (l *Loader) handler(name string) jobs.Handler {
	return func(job jobs.Job) (json.RawMessage, error) {
		module := l.Module(name)
		if module == nil {
			return nil, ErrModuleClosed
		}

		var args CheckArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return nil, fmt.Errorf("check args for %s: %w", job.Key, err)
		}
		if args.Path == "" {
			args.Path = job.Key
		}

		diags, err := module.Check(args.Path, args.Source, args.Options)
		if err != nil {
			return nil, err
		}
		if diags == nil {
			diags = []Diagnostic{}
		}
		return json.Marshal(diags)
	}
}

// Module returns the currently loaded module with the given name, or nil.
func (l *Loader) Module(name string) *Module {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lm := l.modules[name]; lm != nil {
		return lm.module
	}
	return nil
}

// Reload re-reads a loaded module from disk. Names that were never loaded
// are ignored. On a load failure the previous module stays registered.
func (l *Loader) Reload(name string) error {
	l.mu.RLock()
	lm := l.modules[name]
	l.mu.RUnlock()
	if lm == nil {
		return nil
	}

	module, err := LoadModule(lm.searchPath, name)
	if err != nil {
		return err
	}

	l.mu.Lock()
	prev := l.modules[name]
	l.modules[name] = &loadedModule{module: module, searchPath: lm.searchPath}
	l.mu.Unlock()
	if prev != nil {
		prev.module.Close()
	}
	return nil
}

// Names returns the loaded module names, sorted.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.modules))
	for name := range l.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unloads every module.
func (l *Loader) Close() {
	l.mu.Lock()
	modules := l.modules
	l.modules = make(map[string]*loadedModule)
	l.mu.Unlock()

	for _, lm := range modules {
		lm.module.Close()
	}
}
