package quota

import "testing"

func TestLimitsFor(t *testing.T) {
	cases := []struct {
		plan Plan
		want Limits
	}{
		{PlanFree, Limits{MaxRuns: 100, MaxCostCents: 5_000}},
		{PlanPro, Limits{MaxRuns: 5_000, MaxCostCents: 250_000}},
		{PlanTeam, Limits{MaxRuns: 50_000, MaxCostCents: 2_500_000}},
		{Plan("unknown"), Limits{MaxRuns: 100, MaxCostCents: 5_000}},
		{Plan(""), Limits{MaxRuns: 100, MaxCostCents: 5_000}},
	}

	for _, tc := range cases {
		got := LimitsFor(tc.plan)
		if got != tc.want {
			t.Errorf("LimitsFor(%q) = %+v, want %+v", tc.plan, got, tc.want)
		}
	}
}

func TestPriceFor(t *testing.T) {
	cases := map[string]int{
		"asset-fingerprint": 50,
		"image-metadata":    100,
		"ocr-text":          150,
		"unknown-processor": 0,
	}

	for name, want := range cases {
		if got := PriceFor(name); got != want {
			t.Errorf("PriceFor(%q) = %d, want %d", name, got, want)
		}
	}
}
