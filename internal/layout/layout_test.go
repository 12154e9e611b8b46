package layout

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"testing"

	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/schema"
)

func defs(names ...string) []catalog.Definition {
	out := make([]catalog.Definition, 0, len(names))
	for _, name := range names {
		n := schema.WidgetName(name)
		out = append(out, catalog.Definition{Name: n, Render: catalog.RenderValue, DefaultSpan: catalog.DefaultSpan(n)})
	}
	return out
}

func ids(instances []Instance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.ID
	}
	return out
}

func spans(instances []Instance) map[string]int {
	out := make(map[string]int, len(instances))
	for _, inst := range instances {
		out[inst.ID] = inst.Span
	}
	return out
}

func TestReconcileLaw(t *testing.T) {
	snap := &Snapshot{OrderedIDs: []string{"B", "A"}, SpanByID: map[string]int{"A": 2}}
	got := Reconcile(defs("A", "B", "C"), snap)
	if want := []string{"B", "A", "C"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if want := map[string]int{"A": 2, "B": 1, "C": 1}; !reflect.DeepEqual(spans(got), want) {
		t.Fatalf("spans = %v, want %v", spans(got), want)
	}
	for i, inst := range got {
		if inst.Order != i {
			t.Fatalf("instance %s order = %d, want %d", inst.ID, inst.Order, i)
		}
	}
}

func TestReconcileCases(t *testing.T) {
	cases := []struct {
		name      string
		defs      []catalog.Definition
		snap      *Snapshot
		wantOrder []string
		wantSpans map[string]int
	}{
		{
			name:      "no snapshot uses defaults",
			defs:      defs("Altitude", "Map", "Pressure"),
			wantOrder: []string{"Altitude", "Map", "Pressure"},
			wantSpans: map[string]int{"Altitude": 2, "Map": 2, "Pressure": 1},
		},
		{
			name:      "unknown and duplicate ids dropped",
			defs:      defs("A", "B"),
			snap:      &Snapshot{OrderedIDs: []string{"Z", "B", "B", "A"}, SpanByID: map[string]int{"Z": 3}},
			wantOrder: []string{"B", "A"},
			wantSpans: map[string]int{"A": 1, "B": 1},
		},
		{
			name:      "out of range spans ignored",
			defs:      defs("A", "Map"),
			snap:      &Snapshot{SpanByID: map[string]int{"A": 9, "Map": 0}},
			wantOrder: []string{"A", "Map"},
			wantSpans: map[string]int{"A": 1, "Map": 2},
		},
		{
			name:      "empty catalog",
			defs:      nil,
			snap:      &Snapshot{OrderedIDs: []string{"A"}},
			wantOrder: []string{},
			wantSpans: map[string]int{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Reconcile(tc.defs, tc.snap)
			if !reflect.DeepEqual(ids(got), tc.wantOrder) {
				t.Fatalf("order = %v, want %v", ids(got), tc.wantOrder)
			}
			if !reflect.DeepEqual(spans(got), tc.wantSpans) {
				t.Fatalf("spans = %v, want %v", spans(got), tc.wantSpans)
			}
		})
	}
}

func TestInstanceIDsRepeatedName(t *testing.T) {
	got := InstanceIDs(defs("A", "B", "A"))
	if want := []string{"A", "B", "A-2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
}

func TestMove(t *testing.T) {
	cases := []struct {
		name     string
		from, to string
		want     []string
	}{
		{"forward", "A", "C", []string{"B", "C", "A", "D"}},
		{"backward", "D", "B", []string{"A", "D", "B", "C"}},
		{"same", "B", "B", []string{"A", "B", "C", "D"}},
		{"unknown", "X", "B", []string{"A", "B", "C", "D"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Move([]string{"A", "B", "C", "D"}, tc.from, tc.to)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Move = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReorderIdempotentAndPermutation(t *testing.T) {
	m := New(kv.NewMemory())
	m.Initialize(defs("A", "B", "C", "D"))
	before := m.IDs()
	if got := ids(m.Reorder("B", "B")); !reflect.DeepEqual(got, before) {
		t.Fatalf("self reorder changed order: %v", got)
	}
	if got := ids(m.Reorder("B", "missing")); !reflect.DeepEqual(got, before) {
		t.Fatalf("unknown target changed order: %v", got)
	}
	got := ids(m.Reorder("A", "D"))
	if want := []string{"B", "C", "D", "A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	seen := map[string]int{}
	for _, id := range got {
		seen[id]++
	}
	for _, id := range before {
		if seen[id] != 1 {
			t.Fatalf("id %s appears %d times after reorder", id, seen[id])
		}
	}
	for i, inst := range m.Instances() {
		if inst.Order != i {
			t.Fatalf("instance %s order = %d, want %d", inst.ID, inst.Order, i)
		}
	}
}

func checkPermutation(t *testing.T, step string, m *Machine, universe []string) {
	t.Helper()
	insts := m.Instances()
	if len(insts) != len(universe) {
		t.Fatalf("%s: %d instances, want %d", step, len(insts), len(universe))
	}
	seen := make(map[string]int, len(insts))
	for i, inst := range insts {
		seen[inst.ID]++
		if inst.Order != i {
			t.Fatalf("%s: instance %s order = %d, want %d", step, inst.ID, inst.Order, i)
		}
	}
	for _, id := range universe {
		if seen[id] != 1 {
			t.Fatalf("%s: id %s appears %d times", step, id, seen[id])
		}
	}
}

func TestReorderSequencesKeepPermutation(t *testing.T) {
	universe := []string{"A", "B", "C", "D", "E"}
	candidates := append(append([]string(nil), universe...), "missing")
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs(universe...))
	want := m.IDs()

	step := 0
	for round := 0; round < 3; round++ {
		for i, from := range candidates {
			for j := range candidates {
				// rotate targets per round so later rounds visit different orders
				to := candidates[(i+j+round)%len(candidates)]
				got := ids(m.Reorder(from, to))
				if from != to && slices.Contains(universe, from) && slices.Contains(universe, to) {
					want = Move(want, from, to)
				}
				step++
				label := fmt.Sprintf("step %d (%s->%s)", step, from, to)
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("%s: order = %v, want %v", label, got, want)
				}
				checkPermutation(t, label, m, universe)
			}
		}
	}

	restored := New(store)
	restored.Initialize(defs(universe...))
	if got := restored.IDs(); !reflect.DeepEqual(got, m.IDs()) {
		t.Fatalf("restored order = %v, want %v", got, m.IDs())
	}
}

func TestCandidateSpan(t *testing.T) {
	cases := []struct {
		name  string
		width float64
		delta float64
		span  int
		want  int
	}{
		{"no movement", 200, 0, 2, 2},
		{"below half column", 200, 49, 2, 2},
		{"half column rounds up", 200, 50, 2, 3},
		{"shrink", 200, -60, 2, 1},
		{"clamp low", 100, -1000, 1, 1},
		{"clamp high", 100, 5000, 1, 4},
		{"zero width", 0, 100, 2, 2},
		{"zero span", 200, 100, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CandidateSpan(tc.width, tc.delta, tc.span); got != tc.want {
				t.Fatalf("CandidateSpan = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestResizePersistsOnlyOnChange(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A", "B"))
	if got := m.Resize("A", 10, 100, 1); got != 1 {
		t.Fatalf("span = %d, want 1", got)
	}
	if _, ok, _ := store.Get(SizesKey); ok {
		t.Fatalf("sizes persisted without a span change")
	}
	if got := m.Resize("A", 150, 100, 1); got != 3 {
		t.Fatalf("span = %d, want 3", got)
	}
	raw, ok, _ := store.Get(SizesKey)
	if !ok || raw != `{"A":3,"B":1}` {
		t.Fatalf("sizes = %q (%v)", raw, ok)
	}
	if got := m.Resize("missing", 150, 100, 1); got != 0 {
		t.Fatalf("unknown id span = %d, want 0", got)
	}
	if got := m.Resize("A", 150, -5, 1); got != 3 {
		t.Fatalf("invalid width span = %d, want current 3", got)
	}
}

func TestSpanBound(t *testing.T) {
	m := New(nil)
	m.Initialize(defs("A"))
	for _, delta := range []float64{-1e6, -300, -1, 0, 1, 300, 1e6} {
		span := m.Resize("A", delta, 100, 1)
		if span < catalog.MinSpan || span > catalog.MaxSpan {
			t.Fatalf("delta %v produced span %d", delta, span)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := kv.NewMemory()
	first := New(store)
	first.Initialize(defs("A", "B", "C"))
	first.Reorder("C", "A")
	first.Resize("B", 100, 100, 1)
	want := first.Snapshot()

	second := New(store)
	second.Initialize(defs("A", "B", "C"))
	if got := second.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("snapshot = %+v, want %+v", got, want)
	}
}

func TestInitializeDoesNotWriteBack(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A", "B"))
	if keys := store.Keys(); len(keys) != 0 {
		t.Fatalf("initialize wrote keys %v", keys)
	}
}

func TestCorruptStorageFallsBack(t *testing.T) {
	store := kv.NewMemory()
	_ = store.Set(OrderKey, "{not json")
	_ = store.Set(SizesKey, `{"A":2}`)
	m := New(store)
	got := m.Initialize(defs("A", "B"))
	if want := []string{"A", "B"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if got[0].Span != 2 {
		t.Fatalf("span A = %d, want 2", got[0].Span)
	}
}

type failingStore struct{}

func (failingStore) Get(string) (string, bool, error) { return "", false, errors.New("boom") }
func (failingStore) Set(string, string) error         { return errors.New("boom") }
func (failingStore) Remove(string) error              { return errors.New("boom") }

func TestFailingStoreIsBestEffort(t *testing.T) {
	m := New(failingStore{})
	m.Initialize(defs("A", "B"))
	got := ids(m.Reorder("B", "A"))
	if want := []string{"B", "A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if span := m.Resize("A", 100, 100, 1); span != 2 {
		t.Fatalf("span = %d, want 2", span)
	}
	m.Reset()
}

func TestReset(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A", "B"))
	m.Reorder("B", "A")
	got := m.Reset()
	if want := []string{"A", "B"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Fatalf("reset left keys %v", keys)
	}
}

func TestDragGesture(t *testing.T) {
	m := New(kv.NewMemory())
	m.Initialize(defs("A", "B", "C"))
	if err := m.BeginDrag("A"); err != nil {
		t.Fatalf("BeginDrag: %v", err)
	}
	if !m.Dragging() || m.ActiveID() != "A" {
		t.Fatalf("expected active drag on A")
	}
	if err := m.BeginResize("B", 100); !errors.Is(err, schema.ErrGestureActive) {
		t.Fatalf("expected ErrGestureActive, got %v", err)
	}
	if err := m.DragOver("C"); err != nil {
		t.Fatalf("DragOver: %v", err)
	}
	got, err := m.Drop()
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if want := []string{"B", "C", "A"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if m.Dragging() {
		t.Fatalf("drag flag still set after drop")
	}
}

func TestDropWithoutTargetUnchanged(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A", "B"))
	if err := m.BeginDrag("A"); err != nil {
		t.Fatalf("BeginDrag: %v", err)
	}
	got, err := m.Drop()
	if err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if want := []string{"A", "B"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("order = %v, want %v", ids(got), want)
	}
	if _, ok, _ := store.Get(OrderKey); ok {
		t.Fatalf("order persisted for a no-op drop")
	}
	if _, err := m.Drop(); !errors.Is(err, schema.ErrNoGesture) {
		t.Fatalf("expected ErrNoGesture, got %v", err)
	}
}

func TestResizeGesture(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A", "B"))
	if err := m.BeginResize("A", 100); err != nil {
		t.Fatalf("BeginResize: %v", err)
	}
	if span, _ := m.ResizeMove(60); span != 2 {
		t.Fatalf("span = %d, want 2", span)
	}
	if _, ok, _ := store.Get(SizesKey); ok {
		t.Fatalf("sizes persisted before release")
	}
	if span, _ := m.ResizeMove(20); span != 1 {
		t.Fatalf("span = %d, want 1", span)
	}
	if span, _ := m.ResizeMove(160); span != 3 {
		t.Fatalf("span = %d, want 3", span)
	}
	span, err := m.EndResize()
	if err != nil || span != 3 {
		t.Fatalf("EndResize = %d, %v", span, err)
	}
	if raw, ok, _ := store.Get(SizesKey); !ok || raw != `{"A":3,"B":1}` {
		t.Fatalf("sizes = %q (%v)", raw, ok)
	}
}

func TestResizeGestureCancelRestores(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	m.Initialize(defs("A"))
	if err := m.BeginResize("A", 100); err != nil {
		t.Fatalf("BeginResize: %v", err)
	}
	_, _ = m.ResizeMove(250)
	m.Cancel()
	inst, _ := m.Instance("A")
	if inst.Span != 1 {
		t.Fatalf("span = %d, want 1", inst.Span)
	}
	if m.Dragging() {
		t.Fatalf("gesture still active after cancel")
	}
	if _, ok, _ := store.Get(SizesKey); ok {
		t.Fatalf("sizes persisted after cancel")
	}
}
