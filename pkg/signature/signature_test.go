package signature

import "testing"

func TestDeriveFromDataPrecedence(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		want *string
	}{
		{
			name: "sha256 wins over everything",
			data: map[string]any{
				"sha256": "abc123", "etag": "W/\"x\"",
				"content_length": 10, "last_modified": "Mon",
			},
			want: strPtr("sha256:abc123"),
		},
		{
			name: "etag used when sha256 absent",
			data: map[string]any{"etag": "W/\"x\"", "content_length": 10, "last_modified": "Mon"},
			want: strPtr("etag:W/\"x\""),
		},
		{
			name: "length+modified used when no hash or etag",
			data: map[string]any{"content_length": 10, "last_modified": "Mon"},
			want: strPtr("lenlm:10:Mon"),
		},
		{
			name: "nil when nothing usable is present",
			data: map[string]any{"content_type": "image/png"},
			want: nil,
		},
		{
			name: "empty sha256 string falls through to etag",
			data: map[string]any{"sha256": "", "etag": "e1"},
			want: strPtr("etag:e1"),
		},
		{
			name: "missing last_modified prevents lenlm fallback",
			data: map[string]any{"content_length": 10},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveFromData(tc.data)
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("DeriveFromData() = %v, want %v", got, tc.want)
			}
			if got != nil && *got != *tc.want {
				t.Fatalf("DeriveFromData() = %q, want %q", *got, *tc.want)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
