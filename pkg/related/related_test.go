package related

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBadgeFor(t *testing.T) {
	cases := map[string]string{
		"sha256":    "exact_duplicate",
		"etag":      "same_etag",
		"near_size": "near_duplicate",
		"text":      "related_text",
		"other":     "other",
	}
	for name, want := range cases {
		if got := badgeFor(name); got != want {
			t.Errorf("badgeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestExplanationForNearSize(t *testing.T) {
	sig := Signal{Name: "near_size", Score: nearSizeWeight * 0.5}
	got := explanationFor(sig)
	want := "Near duplicate (1.5% size difference)"
	if got != want {
		t.Errorf("explanationFor() = %q, want %q", got, want)
	}
}

func TestFinalizeSortsAndDedupesBadges(t *testing.T) {
	c := &Candidate{
		AssetID: uuid.New(),
		Signals: []Signal{
			{Name: "etag", Score: 0.95},
			{Name: "sha256", Score: 1.00},
			{Name: "near_size", Score: 0.5},
		},
	}
	finalize(c)

	if c.Signals[0].Name != "sha256" {
		t.Fatalf("top signal = %q, want sha256", c.Signals[0].Name)
	}
	if c.Explanation != "Exact duplicate" {
		t.Fatalf("explanation = %q, want %q", c.Explanation, "Exact duplicate")
	}
	wantBadges := []string{"exact_duplicate", "same_etag", "near_duplicate"}
	if len(c.Badges) != len(wantBadges) {
		t.Fatalf("badges = %v, want %v", c.Badges, wantBadges)
	}
	for i, b := range wantBadges {
		if c.Badges[i] != b {
			t.Errorf("badges[%d] = %q, want %q", i, c.Badges[i], b)
		}
	}
}

func TestLimitEntries(t *testing.T) {
	if got := limitEntries(nil, 3); got != nil {
		t.Errorf("limitEntries(nil, 3) = %v, want nil", got)
	}
}

func TestFirstTokens(t *testing.T) {
	got := firstTokens("one two three four five", 3)
	want := "one two three"
	if got != want {
		t.Errorf("firstTokens() = %q, want %q", got, want)
	}

	got = firstTokens("one two", 10)
	if got != "one two" {
		t.Errorf("firstTokens() with n > len = %q, want %q", got, "one two")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate() = %q, want %q", got, "hello")
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Errorf("truncate() = %q, want %q", got, "hello")
	}
}

func TestAbsFloat(t *testing.T) {
	if absFloat(-3.5) != 3.5 {
		t.Errorf("absFloat(-3.5) != 3.5")
	}
	if absFloat(3.5) != 3.5 {
		t.Errorf("absFloat(3.5) != 3.5")
	}
}

func TestCandidateSortingByScoreThenRecency(t *testing.T) {
	now := time.Unix(1700000000, 0)
	candidates := []Candidate{
		{AssetID: uuid.New(), Score: 0.5, UpdatedAt: now},
		{AssetID: uuid.New(), Score: 0.9, UpdatedAt: now.Add(-time.Hour)},
		{AssetID: uuid.New(), Score: 0.9, UpdatedAt: now},
	}
	// Mirrors the sort.Slice comparator in FindRelated: score desc, then
	// updated_at desc for ties.
	less := func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	}
	if !less(2, 1) {
		t.Errorf("expected the more recent of two equal-score candidates to sort first")
	}
	if !less(1, 0) {
		t.Errorf("expected the higher-score candidate to sort first")
	}
}
