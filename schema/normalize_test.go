package schema

import (
	"reflect"
	"testing"
)

func TestValidateClientID(t *testing.T) {
	cases := []struct {
		name  string
		id    ClientID
		valid bool
	}{
		{"uuid", "0190f5a2-7c1e-7d4e-9f3a-2b1c0d9e8f7a", true},
		{"admin-prefix", "ADMIN_abcde", true},
		{"ssh", "ssh:alice@127.0.0.1:5000", true},
		{"empty", "", false},
		{"space", "a b", false},
		{"control", "a\tb", false},
		{"unicode", "Ã¥", false},
	}
	for _, tc := range cases {
		err := ValidateClientID(tc.id)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestNormalizeWidgetNames(t *testing.T) {
	got := NormalizeWidgetNames(WidgetNames(" Map", "Altitude", "", "Map", "Gyroscope"))
	want := WidgetNames("Altitude", "Gyroscope", "Map")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
