package stats

import (
	"fmt"
	"strings"
	"testing"
)

// VerifyCounts checks rendered values of a finagle registry against expected
// integer values. A missing key fails unless the expected value is zero.
func VerifyCounts(tag string, registry StatsRegistry, t *testing.T, expected map[string]int64) {
	t.Helper()
	reg, ok := registry.(*finagleStatsRegistry)
	if !ok {
		t.Fatalf("%s: VerifyCounts needs a finagle registry, got %T", tag, registry)
	}
	got := reg.MarshalAll()

	var msgs []string
	for key, want := range expected {
		v, present := got[key]
		if !present {
			if want != 0 {
				msgs = append(msgs, fmt.Sprintf("%s: missing, expected %d", key, want))
			}
			continue
		}
		if n, isInt := v.(int64); !isInt || n != want {
			msgs = append(msgs, fmt.Sprintf("%s: got %v, expected %d", key, v, want))
		}
	}
	if len(msgs) > 0 {
		pretty, _ := reg.MarshalJSONPretty()
		t.Errorf("%s: stats registry error:\n%s\nregistry:\n%s", tag, strings.Join(msgs, "\n"), pretty)
	}
}
