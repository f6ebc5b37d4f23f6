// Package env turns environment identifiers into immutable descriptors that
// are applied to a child process. Activating an environment never touches
// the environment of the regress process itself.
package env

import (
	"os"
	"sort"
	"strings"
)

// IDVar is exported to every stage so tests can tell which environment
// they run under.
const IDVar = "REGRESS_ENVIRONMENT"

// Descriptor is the result of activating an environment. It is a value: the
// slices and map it holds are copies owned by the descriptor and are never
// mutated after activation.
type Descriptor struct {
	ID string
	// Interpreter replaces the {interpreter} placeholder in the runner command.
	Interpreter string
	PathPrepend []string
	Vars        map[string]string
	Unset       []string
	// Base, when non-nil, is used instead of the caller's environment. It
	// holds the environment captured from an activation snippet.
	Base []string
}

// Environ returns the environment a stage should run with, derived from
// parent (or from Base when the descriptor carries one). The result is a new
// slice; parent is not modified.
func (d Descriptor) Environ(parent []string) []string {
	src := parent
	if d.Base != nil {
		src = d.Base
	}

	drop := make(map[string]bool, len(d.Unset))
	for _, k := range d.Unset {
		drop[k] = true
	}

	out := make([]string, 0, len(src)+len(d.Vars)+1)
	index := make(map[string]int, len(src))
	for _, kv := range src {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || drop[k] {
			continue
		}
		if i, dup := index[k]; dup {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}

	set := func(k, v string) {
		kv := k + "=" + v
		if i, ok := index[k]; ok {
			out[i] = kv
			return
		}
		index[k] = len(out)
		out = append(out, kv)
	}

	keys := make([]string, 0, len(d.Vars))
	for k := range d.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set(k, d.Vars[k])
	}

	if len(d.PathPrepend) > 0 {
		path := strings.Join(d.PathPrepend, string(os.PathListSeparator))
		if old, ok := Lookup(out, "PATH"); ok && old != "" {
			path += string(os.PathListSeparator) + old
		}
		set("PATH", path)
	}

	if d.ID != "" {
		set(IDVar, d.ID)
	}
	return out
}

// Lookup returns the value of key in environ. The last assignment wins, as
// it does for exec.Cmd.
func Lookup(environ []string, key string) (string, bool) {
	for i := len(environ) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(environ[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

func (d Descriptor) clone() Descriptor {
	c := d
	c.PathPrepend = append([]string(nil), d.PathPrepend...)
	c.Unset = append([]string(nil), d.Unset...)
	if d.Base != nil {
		c.Base = append([]string(nil), d.Base...)
	}
	if d.Vars != nil {
		c.Vars = make(map[string]string, len(d.Vars))
		for k, v := range d.Vars {
			c.Vars[k] = v
		}
	}
	return c
}
