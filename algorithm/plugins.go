package algorithm

import (
	"fmt"
	"sort"
	"sync"
)

// DummyName is the name the reference algorithm is
// registered under
const DummyName = "dummy"

// PluginOptions are passed to a plugin when a server
// builds its algorithm at startup
type PluginOptions struct {
	Cost Cost
}

// Plugin builds an algorithm from options
type Plugin func(options PluginOptions) (Algorithm, error)

var (
	pluginsMu sync.RWMutex
	plugins   = map[string]Plugin{}
)

func init() {
	Register(DummyName, func(options PluginOptions) (Algorithm, error) {
		return NewDummy(options.Cost), nil
	})
}

// Register makes an algorithm available by name. It panics
// if name is already registered.
func Register(name string, plugin Plugin) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()

	if _, ok := plugins[name]; ok {
		panic(fmt.Sprintf("algorithm %q is already registered", name))
	}

	plugins[name] = plugin
}

// New builds the algorithm registered under name
func New(name string, options PluginOptions) (Algorithm, error) {
	pluginsMu.RLock()
	plugin, ok := plugins[name]
	pluginsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", name)
	}

	return plugin(options)
}

// Names lists the registered algorithms in
// lexicographical order
func Names() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()

	names := make([]string, 0, len(plugins))

	for name := range plugins {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
