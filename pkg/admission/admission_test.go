package admission

import (
	"testing"

	"github.com/YodaheaD/assetintel/pkg/run"
)

func strPtr(s string) *string { return &s }

func TestSigCompatible(t *testing.T) {
	a, b := strPtr("sha256:1"), strPtr("sha256:1")
	if !sigCompatible(a, b) {
		t.Error("equal signatures should be compatible")
	}
	if !sigCompatible(nil, b) {
		t.Error("nil signature should be compatible with anything")
	}
	if !sigCompatible(a, nil) {
		t.Error("nil signature should be compatible with anything")
	}
	if sigCompatible(strPtr("sha256:1"), strPtr("sha256:2")) {
		t.Error("differing known signatures should not be compatible")
	}
}

func TestReuse(t *testing.T) {
	sig := strPtr("sha256:1")

	cases := []struct {
		name   string
		latest run.Run
		opts   Options
		sig    *string
		want   bool
	}{
		{"pending run with matching signature reuses", run.Run{Status: run.StatusPending, InputFingerprintSignature: sig}, Options{}, sig, true},
		{"running run with mismatched signature does not reuse", run.Run{Status: run.StatusRunning, InputFingerprintSignature: strPtr("sha256:old")}, Options{}, sig, false},
		{"completed run with matching signature reuses", run.Run{Status: run.StatusCompleted, InputFingerprintSignature: sig}, Options{}, sig, true},
		{"failed run without retry reuses (returns the failure)", run.Run{Status: run.StatusFailed}, Options{Retry: false}, sig, true},
		{"failed run with retry does not reuse", run.Run{Status: run.StatusFailed}, Options{Retry: true}, sig, false},
		{"canceled run never reuses", run.Run{Status: run.StatusCanceled}, Options{}, sig, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reuse(tc.latest, tc.opts, tc.sig); got != tc.want {
				t.Errorf("reuse() = %v, want %v", got, tc.want)
			}
		})
	}
}
