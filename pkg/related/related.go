// Package related implements the Related-Assets Ranker: it unifies
// exact-hash, ETag, near-size, and full-text signals into an explainable
// ranked list (SPEC_FULL.md §4.6).
package related

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/YodaheaD/assetintel/pkg/searchindex"
)

const (
	nearSizeTolerance = 0.03
	nearSizeWeight    = 0.75
	textWeight        = 0.70
	textRankHalfLife  = 0.25
	snippetMaxLen     = 220
	seedMaxTokens     = 20
)

// Signal is one scored match between the source asset and a candidate.
type Signal struct {
	Name  string
	Score float64
}

// Candidate is one unified related-asset result.
type Candidate struct {
	AssetID     uuid.UUID
	Score       float64
	Signals     []Signal
	Explanation string
	Badges      []string
	Snippet     string
	UpdatedAt   time.Time
}

// Ranker computes related-asset candidates for a source asset.
type Ranker struct {
	index *searchindex.Store
}

// NewRanker creates a Ranker.
func NewRanker(index *searchindex.Store) *Ranker {
	return &Ranker{index: index}
}

// FindRelated implements find_related(tenant, asset, limit_per_bucket):
// computes the four signal buckets independently, then unifies by
// max-score-wins per candidate asset.
func (r *Ranker) FindRelated(ctx context.Context, tenantID, assetID uuid.UUID, limitPerBucket int) ([]Candidate, error) {
	source, err := r.index.Get(ctx, tenantID, assetID)
	if err != nil {
		return nil, fmt.Errorf("looking up source asset index: %w", err)
	}

	byAsset := map[uuid.UUID]*Candidate{}

	addSignal := func(e searchindex.Entry, name string, score float64) {
		c, ok := byAsset[e.AssetID]
		if !ok {
			c = &Candidate{AssetID: e.AssetID, UpdatedAt: e.UpdatedAt}
			byAsset[e.AssetID] = c
		}
		c.Signals = append(c.Signals, Signal{Name: name, Score: score})
		if score > c.Score {
			c.Score = score
		}
		if e.UpdatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = e.UpdatedAt
		}
	}

	if source.SHA256 != nil {
		hits, err := r.index.ExactCandidates(ctx, tenantID, assetID, "sha256", *source.SHA256)
		if err != nil {
			return nil, fmt.Errorf("sha256 signal bucket: %w", err)
		}
		for _, h := range limitEntries(hits, limitPerBucket) {
			addSignal(h, "sha256", 1.00)
		}
	}

	if source.ETag != nil {
		hits, err := r.index.ExactCandidates(ctx, tenantID, assetID, "etag", *source.ETag)
		if err != nil {
			return nil, fmt.Errorf("etag signal bucket: %w", err)
		}
		for _, h := range limitEntries(hits, limitPerBucket) {
			addSignal(h, "etag", 0.95)
		}
	}

	if source.ContentType != nil && source.ContentLength != nil && *source.ContentLength > 0 {
		hits, err := r.index.NearSizeCandidates(ctx, tenantID, assetID, *source.ContentType, *source.ContentLength, nearSizeTolerance)
		if err != nil {
			return nil, fmt.Errorf("near_size signal bucket: %w", err)
		}
		srcLen := float64(*source.ContentLength)
		for _, h := range limitEntries(hits, limitPerBucket) {
			if h.ContentLength == nil {
				continue
			}
			diff := absFloat(float64(*h.ContentLength)-srcLen) / srcLen
			if diff > nearSizeTolerance {
				continue
			}
			score := nearSizeWeight * (1 - diff/nearSizeTolerance)
			addSignal(h, "near_size", score)
		}
	}

	if source.OCRTextPreview != nil && *source.OCRTextPreview != "" {
		seed := firstTokens(*source.OCRTextPreview, seedMaxTokens)
		if seed != "" {
			hits, err := r.index.TextCandidates(ctx, tenantID, assetID, seed, limitPerBucket)
			if err != nil {
				return nil, fmt.Errorf("text signal bucket: %w", err)
			}
			for _, h := range hits {
				score := textWeight * (h.Rank / (h.Rank + textRankHalfLife))
				addSignal(h.Entry, "text", score)
				if preview := h.OCRTextPreview; preview != nil {
					c := byAsset[h.AssetID]
					if c != nil && c.Snippet == "" {
						c.Snippet = truncate(*preview, snippetMaxLen)
					}
				}
			}
		}
	}

	candidates := make([]Candidate, 0, len(byAsset))
	for _, c := range byAsset {
		finalize(c)
		candidates = append(candidates, *c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})

	return candidates, nil
}

// finalize sorts a candidate's signals desc, derives its explanation from
// the top signal, and deduplicates badges by first occurrence.
func finalize(c *Candidate) {
	sort.Slice(c.Signals, func(i, j int) bool { return c.Signals[i].Score > c.Signals[j].Score })

	seen := map[string]bool{}
	for _, sig := range c.Signals {
		badge := badgeFor(sig.Name)
		if !seen[badge] {
			seen[badge] = true
			c.Badges = append(c.Badges, badge)
		}
	}

	if len(c.Signals) > 0 {
		c.Explanation = explanationFor(c.Signals[0])
	}
}

func badgeFor(signal string) string {
	switch signal {
	case "sha256":
		return "exact_duplicate"
	case "etag":
		return "same_etag"
	case "near_size":
		return "near_duplicate"
	case "text":
		return "related_text"
	default:
		return signal
	}
}

func explanationFor(top Signal) string {
	switch top.Name {
	case "sha256":
		return "Exact duplicate"
	case "etag":
		return "Same ETag"
	case "near_size":
		pct := (1 - top.Score/nearSizeWeight) * nearSizeTolerance * 100
		return fmt.Sprintf("Near duplicate (%.1f%% size difference)", pct)
	case "text":
		return "Related by OCR text"
	default:
		return "Related"
	}
}

func limitEntries(entries []searchindex.Entry, limit int) []searchindex.Entry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[:limit]
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func firstTokens(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
