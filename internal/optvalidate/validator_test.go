package optvalidate

import (
	"strings"
	"testing"
)

type sampleOptions struct {
	LgParts     int    `validate:"gte=0,lte=20"`
	Compression string `validate:"oneof=none snappy"`
	Filter      string `validate:"oneof=none bloom cuckoo"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name        string
		opts        sampleOptions
		expectError bool
		errorField  string
	}{
		{
			name:        "valid",
			opts:        sampleOptions{LgParts: 4, Compression: "snappy", Filter: "bloom"},
			expectError: false,
		},
		{
			name:        "negative lg_parts",
			opts:        sampleOptions{LgParts: -1, Compression: "none", Filter: "none"},
			expectError: true,
			errorField:  "LgParts",
		},
		{
			name:        "lg_parts too large",
			opts:        sampleOptions{LgParts: 21, Compression: "none", Filter: "none"},
			expectError: true,
			errorField:  "LgParts",
		},
		{
			name:        "bad compression",
			opts:        sampleOptions{LgParts: 0, Compression: "gzip", Filter: "none"},
			expectError: true,
			errorField:  "Compression",
		},
		{
			name:        "bad filter",
			opts:        sampleOptions{LgParts: 0, Compression: "none", Filter: "xor"},
			expectError: true,
			errorField:  "Filter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.opts)

			if tt.expectError && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if tt.expectError && !strings.Contains(err.Error(), tt.errorField) {
				t.Errorf("expected error mentioning %q, got: %v", tt.errorField, err)
			}
		})
	}
}

func TestCrossFieldChecks(t *testing.T) {
	tests := []struct {
		name        string
		unordered   bool
		uniqueKeys  bool
		fixedKV     bool
		keySize     int
		valueSize   int
		expectError bool
	}{
		{"ordered unique keys, variable size", false, true, false, 0, 0, false},
		{"unordered, unique_keys false", true, false, false, 0, 0, false},
		{"unordered with unique_keys true is invalid", true, true, false, 0, 0, true},
		{"fixed_kv with declared sizes", false, true, true, 8, 16, false},
		{"fixed_kv without key size", false, true, true, 0, 16, true},
		{"fixed_kv without value size", false, true, true, 8, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CrossFieldChecks(tt.unordered, tt.uniqueKeys, tt.fixedKV, tt.keySize, tt.valueSize)

			if tt.expectError && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
		})
	}
}
