package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/mofagent/internal/plan"
)

// Context accumulates the initial inputs and every successful step's output
// under namespaced keys ("initial.file_path", "step0.output_file_path").
// Keys are kept in insertion order and are never overwritten.
//
// A Context belongs to one execution and is not safe for concurrent use.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext creates a Context seeded with initial values under the
// "initial" namespace.
func NewContext(initial map[string]any) *Context {
	c := &Context{values: make(map[string]any)}
	// Initial keys are distinct by construction, so Merge cannot fail here.
	_ = c.Merge(plan.InitialNamespace, initial)
	return c
}

// Merge adds data under namespace. Keys are added in sorted order so the
// insertion order is deterministic. Merging a key that already exists is an
// error and leaves the Context unchanged.
func (c *Context) Merge(namespace string, data map[string]any) error {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		if _, exists := c.values[namespace+"."+k]; exists {
			return fmt.Errorf("context key %q already set", namespace+"."+k)
		}
	}

	for _, k := range names {
		key := namespace + "." + k
		c.keys = append(c.keys, key)
		c.values[key] = data[k]
	}
	return nil
}

// Lookup returns the value at path. An exact key match wins; otherwise the
// longest stored key that prefixes path is found and the remaining segments
// descend into nested mappings (by key) and lists (by index).
func (c *Context) Lookup(path string) (any, bool) {
	if v, ok := c.values[path]; ok {
		return v, true
	}

	segments := strings.Split(path, ".")
	for i := len(segments) - 1; i >= 1; i-- {
		v, ok := c.values[strings.Join(segments[:i], ".")]
		if !ok {
			continue
		}
		return descend(v, segments[i:])
	}
	return nil, false
}

func descend(v any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch x := v.(type) {
		case map[string]any:
			next, ok := x[seg]
			if !ok {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(x) {
				return nil, false
			}
			v = x[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

// Keys returns the stored keys in insertion order.
func (c *Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of stored keys.
func (c *Context) Len() int { return len(c.keys) }

// Snapshot returns a copy of the stored key/value pairs.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies maps and slices so callers cannot mutate stored values.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
