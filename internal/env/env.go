// Package env composes the environment of the backend process.
package env

import (
	"os"
	"strings"
)

// Merge overlays extra KEY=VALUE pairs on base and returns the result in base
// order, with new keys appended. Later keys win. Values in extra may refer to
// earlier variables as ${NAME} or $NAME; unknown names expand to "". Entries
// without '=' or with an empty key are dropped.
func Merge(base, extra []string) []string {
	idx := make(map[string]int, len(base)+len(extra))
	vals := make(map[string]string, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	put := func(k, v string) {
		vals[k] = v
		if i, ok := idx[k]; ok {
			out[i] = k + "=" + v
			return
		}
		idx[k] = len(out)
		out = append(out, k+"="+v)
	}
	for _, kv := range base {
		if k, v, ok := split(kv); ok {
			put(k, v)
		}
	}
	for _, kv := range extra {
		k, v, ok := split(kv)
		if !ok {
			continue
		}
		put(k, os.Expand(v, func(name string) string { return vals[name] }))
	}
	return out
}

// FromOS is Merge on top of the current process environment.
func FromOS(extra []string) []string {
	return Merge(os.Environ(), extra)
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}
