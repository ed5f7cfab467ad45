package env

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeOverridesInPlace(t *testing.T) {
	got := Merge([]string{"A=1", "B=2"}, []string{"B=3", "C=4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, got)
}

func TestMergeExpandsEarlierValues(t *testing.T) {
	got := Merge(
		[]string{"HOME=/home/alfred", "PATH=/usr/bin"},
		[]string{"DATA=${HOME}/data", "PATH=$DATA/bin:${PATH}", "MISSING=${NOPE}x"},
	)
	assert.Equal(t, []string{
		"HOME=/home/alfred",
		"PATH=/home/alfred/data/bin:/usr/bin",
		"DATA=/home/alfred/data",
		"MISSING=x",
	}, got)
}

func TestMergeDropsMalformed(t *testing.T) {
	got := Merge([]string{"=x", "NOEQ"}, []string{"=y", "OK=1"})
	assert.Equal(t, []string{"OK=1"}, got)
}

func TestFromOSKeepsProcessEnv(t *testing.T) {
	t.Setenv("ALFRED_ENV_TEST", "base")
	got := FromOS([]string{"ALFRED_ENV_DERIVED=${ALFRED_ENV_TEST}-x"})
	assert.Contains(t, got, "ALFRED_ENV_TEST=base")
	assert.Contains(t, got, "ALFRED_ENV_DERIVED=base-x")
}

// FuzzMerge checks that merged output is always well-formed and that inputs
// without '$' pass through unexpanded.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, baseB []byte, extraB []byte) {
		base := splitNZ(string(baseB))
		extra := splitNZ(string(extraB))
		if len(base) > 20 {
			base = base[:20]
		}
		if len(extra) > 20 {
			extra = extra[:20]
		}

		out := Merge(base, extra)
		seen := map[string]bool{}
		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair: %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q in %v", k, out)
			}
			seen[k] = true
		}

		for _, s := range append(append([]string{}, base...), extra...) {
			if strings.ContainsRune(s, '$') {
				return
			}
		}
		want := map[string]string{}
		for _, kv := range append(append([]string{}, base...), extra...) {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				want[k] = v
			}
		}
		for _, kv := range out {
			k, v, _ := strings.Cut(kv, "=")
			if want[k] != v {
				t.Fatalf("value of %q = %q, want %q", k, v, want[k])
			}
		}
	})
}

// splitNZ splits s by newlines and returns non-empty trimmed lines.
func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
