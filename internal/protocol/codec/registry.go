package codec

import (
	"fmt"
	"sort"
	"sync"
)

var registry = struct {
	sync.RWMutex
	byName map[string]*Grammar
}{byName: make(map[string]*Grammar)}

// Register records g under its name for introspection and returns it.
// Registering two grammars with one name is a programming error and panics.
func Register(g *Grammar) *Grammar {
	registry.Lock()
	defer registry.Unlock()
	if prev, ok := registry.byName[g.name]; ok && prev != g {
		panic(fmt.Sprintf("codec: grammar %q registered twice", g.name))
	}
	registry.byName[g.name] = g
	return g
}

// Registered returns the grammar registered under name.
func Registered(name string) (*Grammar, bool) {
	registry.RLock()
	defer registry.RUnlock()
	g, ok := registry.byName[name]
	return g, ok
}

// GrammarInfo summarizes one registered grammar.
type GrammarInfo struct {
	Name        string `json:"name"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
}

// Grammars returns every registered grammar sorted by name.
func Grammars() []GrammarInfo {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]GrammarInfo, 0, len(registry.byName))
	for _, g := range registry.byName {
		out = append(out, GrammarInfo{
			Name:        g.name,
			States:      g.StateCount(),
			Transitions: len(g.table),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
