package intelligence

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueryBool(t *testing.T) {
	cases := map[string]bool{
		"?force=true":  true,
		"?force=1":     true,
		"?force=false": false,
		"?force=bogus": false,
		"":             false,
	}
	for query, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/x"+query, nil)
		if got := queryBool(r, "force"); got != want {
			t.Errorf("queryBool(%q) = %v, want %v", query, got, want)
		}
	}
}

func TestQueryInt(t *testing.T) {
	cases := []struct {
		query    string
		fallback int
		want     int
	}{
		{"?limit=10", 5, 10},
		{"?limit=-1", 5, 5},
		{"?limit=abc", 5, 5},
		{"", 5, 5},
		{"?limit=0", 5, 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
		if got := queryInt(r, "limit", tc.fallback); got != tc.want {
			t.Errorf("queryInt(%q, fallback=%d) = %d, want %d", tc.query, tc.fallback, got, tc.want)
		}
	}
}

func TestOptionalQueryString(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?sha256=abc", nil)
	got := optionalQueryString(r, "sha256")
	if got == nil || *got != "abc" {
		t.Fatalf("optionalQueryString() = %v, want \"abc\"", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/x", nil)
	if got := optionalQueryString(r, "sha256"); got != nil {
		t.Fatalf("optionalQueryString() = %v, want nil", got)
	}
}
