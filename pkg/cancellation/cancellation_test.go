package cancellation

import "testing"

func TestNormalizeProcessor(t *testing.T) {
	cases := map[string]string{
		"ocr":               processorOCR,
		"ocr_text":          processorOCR,
		"ocr-text":          "ocr-text",
		"fingerprint":       processorFingerprint,
		"asset-fingerprint": "asset-fingerprint",
		"image-metadata":    "image-metadata",
	}
	for in, want := range cases {
		if got := normalizeProcessor(in); got != want {
			t.Errorf("normalizeProcessor(%q) = %q, want %q", in, got, want)
		}
	}
}
