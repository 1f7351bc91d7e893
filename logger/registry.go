package logger

import (
	"sync"
)

// registry holds named component loggers. WithComponent consults it first, so
// pipeline components constructed in hot paths (the queue rebuilding a
// provider, for example) reuse one logger instead of deriving a fresh zerolog
// chain every time.
var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

func (r *loggerRegistry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loggers = make(map[string]*Logger)
}

// Register stores a named logger. Later WithComponent/Get calls for that name
// return it instead of deriving from the global logger.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Get retrieves a named logger. Unregistered names fall back to the global
// logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterDefaults seeds the registry with component loggers derived from the
// global logger. Call after Init so the seeds carry the configured level and
// format.
func RegisterDefaults(names ...string) {
	for _, name := range names {
		Register(name, GetGlobalLogger().WithComponent(name))
	}
}
