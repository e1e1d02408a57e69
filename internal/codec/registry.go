package codec

import (
	"sort"
	"sync"

	"github.com/aircast/aircast/internal/errors"
)

// ErrUnavailable reports that no engine is registered for a format.
var ErrUnavailable = errors.NewStd("codec engine unavailable")

// Factory opens a fresh engine for one session.
type Factory func(p Params) (Engine, error)

type registryKey struct {
	family Family
	kind   Kind
}

type registryEntry struct {
	name    string
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[registryKey]registryEntry)

	// libMu serializes engine open and close across all encoder
	// instances. The wrapped codec libraries keep global state that is
	// not safe for concurrent context setup or teardown; per-frame
	// Encode calls need no such serialization.
	libMu sync.Mutex
)

// Register installs a factory for the given container/codec pair, replacing
// any previous registration. Engines typically call this from init.
func Register(family Family, kind Kind, name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[registryKey{family, kind}] = registryEntry{name: name, factory: f}
}

// Available reports whether an engine is registered for the pair.
func Available(family Family, kind Kind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[registryKey{family, kind}]
	return ok
}

// Registered returns the registered engine descriptions, one
// "family/codec=name" string per entry, sorted for stable reporting.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k, e := range registry {
		out = append(out, Format{Family: k.family, Kind: k.kind}.String()+"="+e.name)
	}
	sort.Strings(out)
	return out
}

// Open creates an engine for the format, holding the global codec library
// lock for the duration of the factory call.
func Open(format Format, p Params) (Engine, error) {
	registryMu.RLock()
	entry, ok := registry[registryKey{format.Family, format.Kind}]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(ErrUnavailable).
			Component(errors.ComponentCodec).
			Category(errors.CategoryConfiguration).
			Context("format", format.String()).
			Build()
	}

	libMu.Lock()
	defer libMu.Unlock()
	eng, err := entry.factory(p)
	if err != nil {
		return nil, errors.New(err).
			Component(errors.ComponentCodec).
			Category(errors.CategoryCodecInit).
			Context("format", format.String()).
			Context("engine", entry.name).
			Build()
	}
	return eng, nil
}

// Close releases an engine under the global codec library lock.
func Close(e Engine) error {
	if e == nil {
		return nil
	}
	libMu.Lock()
	defer libMu.Unlock()
	return e.Close()
}
