package awesome

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	lua "github.com/yuin/gopher-lua"
)

func TestMetricsCollector(t *testing.T) {
	rt := newTestRuntime(t, Config{MissPolicy: MissIgnore})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	class := buildClass(t, b.
		Property(MustNewProperty("label", (&callRecorder{}).function(L, lua.LString("ok")), nil)).
		SaveClass("__button_class"), err)
	allocate(t, rt, class, "a")
	allocate(t, rt, class, "b")
	if err := rt.DoString(context.Background(), `local x = a.nope; b.nope = 1; a.nope = 2`); err != nil {
		t.Fatalf("script failed: %v", err)
	}

	collector := NewMetricsCollector(rt)
	expected := `
# HELP awesome_class_instances Live instances per published class.
# TYPE awesome_class_instances gauge
awesome_class_instances{class="__button_class"} 2
# HELP awesome_class_properties Properties attached per published class.
# TYPE awesome_class_properties gauge
awesome_class_properties{class="__button_class"} 1
# HELP awesome_class_index_misses_total Reads that fell through to the index miss handler.
# TYPE awesome_class_index_misses_total counter
awesome_class_index_misses_total{class="__button_class"} 1
# HELP awesome_class_newindex_misses_total Writes that fell through to the newindex miss handler.
# TYPE awesome_class_newindex_misses_total counter
awesome_class_newindex_misses_total{class="__button_class"} 2
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestMetricsCollectorSkipsUnpublished(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	class := buildClass(t, b, err)
	allocate(t, rt, class, "")

	if got := testutil.CollectAndCount(NewMetricsCollector(rt)); got != 0 {
		t.Fatalf("expected no series for unpublished classes, got %d", got)
	}
}
