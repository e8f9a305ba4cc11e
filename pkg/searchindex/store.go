package searchindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `id, tenant_id, asset_id, sha256, etag, content_type, content_length,
	last_modified, ocr_text_preview, (ocr_tsv IS NOT NULL), updated_at`

// Store provides raw-pgx persistence and full-text queries for SearchIndex rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.TenantID, &e.AssetID, &e.SHA256, &e.ETag, &e.ContentType,
		&e.ContentLength, &e.LastModified, &e.OCRTextPreview, &e.HasOCRIndex, &e.UpdatedAt)
	return e, err
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var items []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning search_index row: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// FingerprintUpsert holds the fields written by the fingerprint handler.
type FingerprintUpsert struct {
	TenantID      uuid.UUID
	AssetID       uuid.UUID
	SHA256        *string
	ETag          *string
	ContentType   *string
	ContentLength *int64
	LastModified  *string
}

// UpsertFingerprint writes (or overwrites) the fingerprint columns for
// (tenant_id, asset_id), leaving any existing OCR columns untouched
// (invariant I4: SearchIndex(tenant_id, asset_id) is unique; upserts are idempotent).
func (s *Store) UpsertFingerprint(ctx context.Context, p FingerprintUpsert) error {
	query := `INSERT INTO search_index (tenant_id, asset_id, sha256, etag, content_type,
			content_length, last_modified, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id, asset_id) DO UPDATE SET
			sha256 = EXCLUDED.sha256,
			etag = EXCLUDED.etag,
			content_type = EXCLUDED.content_type,
			content_length = EXCLUDED.content_length,
			last_modified = EXCLUDED.last_modified,
			updated_at = now()`
	_, err := s.pool.Exec(ctx, query, p.TenantID, p.AssetID, p.SHA256, p.ETag, p.ContentType,
		p.ContentLength, p.LastModified)
	if err != nil {
		return fmt.Errorf("upserting fingerprint search index: %w", err)
	}
	return nil
}

// UpsertOCR writes (or overwrites) the OCR preview + tsvector columns.
// preview is truncated to 1000 chars by the caller's handler logic before
// reaching here; tsvector is built server-side from the full text.
func (s *Store) UpsertOCR(ctx context.Context, tenantID, assetID uuid.UUID, preview, fullText string) error {
	query := `INSERT INTO search_index (tenant_id, asset_id, ocr_text_preview, ocr_tsv, updated_at)
		VALUES ($1, $2, $3, to_tsvector('english', $4), now())
		ON CONFLICT (tenant_id, asset_id) DO UPDATE SET
			ocr_text_preview = EXCLUDED.ocr_text_preview,
			ocr_tsv = EXCLUDED.ocr_tsv,
			updated_at = now()`
	_, err := s.pool.Exec(ctx, query, tenantID, assetID, preview, fullText)
	if err != nil {
		return fmt.Errorf("upserting OCR search index: %w", err)
	}
	return nil
}

// Get fetches the index entry for an asset, or pgx.ErrNoRows if none exists.
func (s *Store) Get(ctx context.Context, tenantID, assetID uuid.UUID) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM search_index WHERE tenant_id = $1 AND asset_id = $2`
	row := s.pool.QueryRow(ctx, query, tenantID, assetID)
	return scanEntry(row)
}

// Search implements search_assets: plainto_tsquery against ocr_tsv, ranked
// by ts_rank_cd, tie-broken by updated_at desc.
func (s *Store) Search(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int) ([]SearchHit, error) {
	sqlQuery := `SELECT ` + entryColumns + `,
			ts_rank_cd(ocr_tsv, plainto_tsquery('english', $2)) AS rank
		FROM search_index
		WHERE tenant_id = $1 AND ocr_tsv @@ plainto_tsquery('english', $2)
		ORDER BY rank DESC, updated_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, sqlQuery, tenantID, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("searching assets: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var e Entry
		var rank float64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AssetID, &e.SHA256, &e.ETag, &e.ContentType,
			&e.ContentLength, &e.LastModified, &e.OCRTextPreview, &e.HasOCRIndex, &e.UpdatedAt, &rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, SearchHit{Entry: e, Rank: rank})
	}
	return hits, rows.Err()
}

// DuplicateLookup selects exact-match duplicate lookup parameters; at least
// one of SHA256/ETag must be set.
type DuplicateLookup struct {
	TenantID uuid.UUID
	SHA256   *string
	ETag     *string
	Limit    int
}

// FindDuplicates implements find_duplicates: exact equality on sha256 or
// etag, ordered by updated_at desc, capped by limit.
func (s *Store) FindDuplicates(ctx context.Context, p DuplicateLookup) ([]Entry, error) {
	where := `tenant_id = $1`
	args := []any{p.TenantID}
	clauses := []string{}
	if p.SHA256 != nil {
		args = append(args, *p.SHA256)
		clauses = append(clauses, fmt.Sprintf("sha256 = $%d", len(args)))
	}
	if p.ETag != nil {
		args = append(args, *p.ETag)
		clauses = append(clauses, fmt.Sprintf("etag = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("find_duplicates requires at least one of sha256 or etag")
	}
	or := clauses[0]
	for _, c := range clauses[1:] {
		or += " OR " + c
	}
	args = append(args, p.Limit)

	query := `SELECT ` + entryColumns + ` FROM search_index WHERE ` + where + ` AND (` + or + `)` +
		fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding duplicates: %w", err)
	}
	return scanEntries(rows)
}

// NearSizeCandidates returns entries sharing content_type whose content_length
// is within a proportional tolerance of srcLen, excluding the source asset —
// used by the Related-Assets Ranker's near_size signal.
func (s *Store) NearSizeCandidates(ctx context.Context, tenantID, excludeAssetID uuid.UUID, contentType string, srcLen int64, tolerance float64) ([]Entry, error) {
	lo := int64(float64(srcLen) * (1 - tolerance))
	hi := int64(float64(srcLen) * (1 + tolerance))
	query := `SELECT ` + entryColumns + ` FROM search_index
		WHERE tenant_id = $1 AND asset_id <> $2 AND content_type = $3
		AND content_length BETWEEN $4 AND $5`
	rows, err := s.pool.Query(ctx, query, tenantID, excludeAssetID, contentType, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("finding near-size candidates: %w", err)
	}
	return scanEntries(rows)
}

// TextCandidates returns entries whose ocr_tsv matches the given seed text,
// ranked by ts_rank_cd, excluding the source asset — the text signal bucket.
func (s *Store) TextCandidates(ctx context.Context, tenantID, excludeAssetID uuid.UUID, seed string, limit int) ([]SearchHit, error) {
	query := `SELECT ` + entryColumns + `,
			ts_rank_cd(ocr_tsv, plainto_tsquery('english', $3)) AS rank
		FROM search_index
		WHERE tenant_id = $1 AND asset_id <> $2 AND ocr_tsv @@ plainto_tsquery('english', $3)
		ORDER BY rank DESC LIMIT $4`
	rows, err := s.pool.Query(ctx, query, tenantID, excludeAssetID, seed, limit)
	if err != nil {
		return nil, fmt.Errorf("finding text candidates: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var e Entry
		var rank float64
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AssetID, &e.SHA256, &e.ETag, &e.ContentType,
			&e.ContentLength, &e.LastModified, &e.OCRTextPreview, &e.HasOCRIndex, &e.UpdatedAt, &rank); err != nil {
			return nil, fmt.Errorf("scanning text candidate: %w", err)
		}
		hits = append(hits, SearchHit{Entry: e, Rank: rank})
	}
	return hits, rows.Err()
}

// ExactCandidates returns entries sharing the given sha256 or etag value,
// excluding the source asset — used by the exact-hash/etag signal buckets.
func (s *Store) ExactCandidates(ctx context.Context, tenantID, excludeAssetID uuid.UUID, column, value string) ([]Entry, error) {
	if column != "sha256" && column != "etag" {
		return nil, fmt.Errorf("invalid exact-match column %q", column)
	}
	query := `SELECT ` + entryColumns + ` FROM search_index
		WHERE tenant_id = $1 AND asset_id <> $2 AND ` + column + ` = $3`
	rows, err := s.pool.Query(ctx, query, tenantID, excludeAssetID, value)
	if err != nil {
		return nil, fmt.Errorf("finding exact candidates on %s: %w", column, err)
	}
	return scanEntries(rows)
}
