package docstore

import (
	"encoding/json"
	"testing"
)

func TestNumeric(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int64
		wantOK bool
	}{
		{"int", 42, 42, true},
		{"int64", int64(-7), -7, true},
		{"float64 integral", float64(100), 100, true},
		{"float64 fractional truncates", 3.9, 3, true},
		{"json number", json.Number("15"), 15, true},
		{"decimal string", "250", 250, true},
		{"nil", nil, 0, false},
		{"non numeric string", "abc", 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Numeric(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("Numeric(%v) ok = %v, want %v", tt.value, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Numeric(%v) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}
