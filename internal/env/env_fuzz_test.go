package env

import (
	"strings"
	"testing"
)

// FuzzMergeOverridesGlobalEnv fuzzes Merge against arbitrary global and
// per-mediator override lists — the same composition MediatorEnv performs:
// a global *Env layered with one alias's own overrides — checking that the
// result never panics and always comes out well-formed.
func FuzzMergeOverridesGlobalEnv(f *testing.F) {
	f.Add([]byte("ALIAS=calc\nMAX_PROCS=${ALIAS}-4"), []byte("LOG_DIR=${MAX_PROCS}/logs"))
	f.Add([]byte("WORKER=echo"), []byte("WORKER=${WORKER}"))
	f.Add([]byte("A=$B"), []byte("B=${A}")) // cyclic-like reference

	f.Fuzz(func(t *testing.T, globalBlob []byte, aliasBlob []byte) {
		global := lines(string(globalBlob))
		alias := lines(string(aliasBlob))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(alias) > 20 {
			alias = alias[:20]
		}

		e := New().WithoutOSEnv()
		for _, kv := range global {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				e = e.WithSet(kv[:i], kv[i+1:])
			}
		}
		out := e.Merge(alias)

		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("pair missing '=': %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("pair has empty key: %q", kv)
			}
		}

		hasDollar := false
		for _, s := range append(append([]string{}, global...), alias...) {
			if strings.ContainsRune(s, '$') {
				hasDollar = true
				break
			}
		}
		if !hasDollar {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("unexpanded placeholder in output with no '$' input: %q", kv)
				}
			}
		}
	})
}

// lines splits s on newlines, dropping blank and whitespace-only entries.
func lines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
