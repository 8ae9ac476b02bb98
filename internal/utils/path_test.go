package utils

import (
	"testing"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty path",
			input:     "",
			wantError: true,
		},
		{
			name:      "relative path",
			input:     "./test",
			wantError: false,
		},
		{
			name:      "absolute path",
			input:     "/tmp/test",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ResolvePath(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
			if !tt.wantError && result == "" {
				t.Errorf("ResolvePath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestNormPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`addons\ace_medical.pbo`, "addons/ace_medical.pbo"},
		{"addons/ace_medical.pbo", "addons/ace_medical.pbo"},
		{"./addons/x.pbo", "addons/x.pbo"},
		{"/addons/x.pbo", "addons/x.pbo"},
		{"Addons/X.PBO", "Addons/X.PBO"}, // case preserved
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormPath(tt.input); got != tt.want {
				t.Errorf("NormPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
