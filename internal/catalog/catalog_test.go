package catalog

import (
	"reflect"
	"testing"

	"pkt.systems/groundstation/schema"
)

func TestScanIsSortedByName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"Temperature", "Altitude", "Map", "Accelerometer"} {
		if err := reg.Register(Definition{Name: schema.WidgetName(name)}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	got := Names(reg.Scan())
	want := schema.WidgetNames("Accelerometer", "Altitude", "Map", "Temperature")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Definition{Name: "Map"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Definition{Name: "Map"}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestRegisterRejectsBadSpan(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Definition{Name: "Huge", DefaultSpan: 5}); err == nil {
		t.Fatalf("expected span error")
	}
	if err := reg.Register(Definition{Name: " "}); err == nil {
		t.Fatalf("expected name error")
	}
}

func TestDefaultSpanFromName(t *testing.T) {
	tests := []struct {
		name schema.WidgetName
		want int
	}{
		{name: "Map", want: 2},
		{name: "AltitudeChart", want: 2},
		{name: "Altitude", want: 2},
		{name: "minimap", want: 2},
		{name: "Pressure", want: 1},
		{name: "Gyroscope", want: 1},
	}
	for _, tc := range tests {
		if got := DefaultSpan(tc.name); got != tc.want {
			t.Fatalf("DefaultSpan(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
	reg := NewRegistry()
	reg.MustRegister(Definition{Name: "Map"})
	def, ok := reg.Get("Map")
	if !ok || def.DefaultSpan != 2 || def.Render != RenderValue || def.Title != "Map" {
		t.Fatalf("unexpected derived definition: %+v", def)
	}
}

func TestEmptyCatalogIsValid(t *testing.T) {
	if defs := NewRegistry().Scan(); len(defs) != 0 {
		t.Fatalf("expected empty scan, got %v", defs)
	}
}

func TestClampSpan(t *testing.T) {
	for in, want := range map[int]int{-3: 1, 0: 1, 1: 1, 3: 3, 4: 4, 9: 4} {
		if got := ClampSpan(in); got != want {
			t.Fatalf("ClampSpan(%d) = %d, want %d", in, got, want)
		}
	}
}
