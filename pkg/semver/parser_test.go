package semver

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1.2.3", "1.2.3", false},
		{"v1.2.3", "1.2.3", false},
		{"1", "1.0.0", false},
		{"1.4", "1.4.0", false},
		{" 2.0.0-beta.1 ", "2.0.0-beta.1", false},
		{"", "", true},
		{"one", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("semver:parser_test - expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if v.String() != tt.want {
				t.Errorf("semver:parser_test - ParseVersion(%q) = %q, want %q", tt.input, v.String(), tt.want)
			}
		})
	}
}

func TestIsMajorOnly(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3", true},
		{"v3", true},
		{"3.0", false},
		{"^3", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMajorOnly(tt.input); got != tt.want {
			t.Errorf("semver:parser_test - IsMajorOnly(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCompatibleRange(t *testing.T) {
	tests := []struct {
		local string
		want  string
	}{
		{"1.4.2", "^1.0.0"},
		{"2", "^2.0.0"},
		{"0.3.1", "~0.3.0"},
	}
	for _, tt := range tests {
		got, err := CompatibleRange(tt.local)
		if err != nil {
			t.Fatalf("semver:parser_test - unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("semver:parser_test - CompatibleRange(%q) = %q, want %q", tt.local, got, tt.want)
		}
	}

	if _, err := CompatibleRange("bad"); err == nil {
		t.Error("semver:parser_test - expected error for bad local version")
	}
}
