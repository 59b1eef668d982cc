// Package schema builds the set of request fields the ticket API accepts
// and validates decoded requests against it.
//
// The accepted set depends on the request itself (the help topic selects a
// dynamic form) and on the forms currently configured, so it is composed
// per request and never cached.
package schema

import (
	"sort"
	"strconv"
	"strings"
)

// Wildcard accepts any key at its level; the value is validated against
// the wildcard's child.
const Wildcard = "*"

// Whitelist is a nested set of accepted keys. A nil child marks a leaf.
type Whitelist map[string]Whitelist

// Leaves builds a flat whitelist from names.
func Leaves(names ...string) Whitelist {
	w := make(Whitelist, len(names))
	w.Add(names...)
	return w
}

// ListOf accepts a list (or keyed map) whose items are objects with the
// given keys.
func ListOf(item Whitelist) Whitelist {
	return Whitelist{Wildcard: item}
}

// Add inserts leaf names. Existing nested entries are kept.
func (w Whitelist) Add(names ...string) {
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := w[n]; !ok {
			w[n] = nil
		}
	}
}

// Merge copies other into w. Nested entries of other win over leaves of w.
func (w Whitelist) Merge(other Whitelist) {
	for k, v := range other {
		cur, ok := w[k]
		switch {
		case !ok || cur == nil:
			w[k] = v.clone()
		case v != nil:
			cur.Merge(v)
		}
	}
}

// Has reports whether key is accepted at the top level.
func (w Whitelist) Has(key string) bool {
	_, ok := w[key]
	return ok
}

// Child returns the nested whitelist under key, following a wildcard.
func (w Whitelist) Child(key string) Whitelist {
	if c, ok := w[key]; ok {
		return c
	}
	return w[Wildcard]
}

// Names returns the top-level keys sorted.
func (w Whitelist) Names() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (w Whitelist) clone() Whitelist {
	if w == nil {
		return nil
	}
	out := make(Whitelist, len(w))
	for k, v := range w {
		out[k] = v.clone()
	}
	return out
}

// UnexpectedFieldError names the first key not accepted by a whitelist.
type UnexpectedFieldError struct {
	Path string
}

func (e *UnexpectedFieldError) Error() string {
	return e.Path + ": Unexpected data received in API request"
}

// Validate checks every key of data against w, recursing into nested
// objects and lists. It stops at the first unexpected key.
func Validate(data map[string]any, w Whitelist) error {
	return validate(data, w, "")
}

func validate(data map[string]any, w Whitelist, prefix string) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		_, named := w[key]
		_, wild := w[Wildcard]
		if !named && !wild {
			return &UnexpectedFieldError{Path: prefix + key}
		}
		child := w.Child(key)
		if child == nil {
			continue
		}
		if err := validateValue(data[key], child, prefix+key+"/"); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(v any, w Whitelist, prefix string) error {
	switch t := v.(type) {
	case map[string]any:
		return validate(t, w, prefix)
	case []any:
		m := make(map[string]any, len(t))
		for i, item := range t {
			m[strconv.Itoa(i)] = item
		}
		return validate(m, w, prefix)
	}
	return nil
}
