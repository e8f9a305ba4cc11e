// Package fetch implements the Asset Fetcher blackbox collaborator: it
// retrieves source bytes from an asset's URI with per-call deadlines and
// hands back a seekable in-memory buffer plus HTTP metadata (spec.md §6).
package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	headTimeout           = 15 * time.Second
	fingerprintGetTimeout = 30 * time.Second
	ocrGetTimeout         = 60 * time.Second
	maxBufferedBytes      = 64 << 20 // 64 MiB cap on in-memory buffering
)

// Metadata is the set of fields the fingerprint handler and search index
// need from a fetch, independent of whether the body was downloaded.
type Metadata struct {
	ContentType   string
	ContentLength int64
	ETag          string
	LastModified  string
}

// Content is a fully-buffered, seekable fetch result.
type Content struct {
	Metadata
	Body   *bytes.Reader
	SHA256 string // set only when the body was hashed
}

// Client is an http.Client-backed fetcher. Grounded on the teacher's small,
// single-purpose HTTP clients — an *http.Client field, explicit per-call
// context deadlines, typed errors.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a Client with no default timeout; callers supply a
// deadline via context on every call.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// Head performs a bounded HEAD request, returning metadata without body bytes.
func (c *Client) Head(ctx context.Context, uri string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("building HEAD request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("HEAD %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Metadata{}, fmt.Errorf("HEAD %s: http status %d", uri, resp.StatusCode)
	}
	return metadataFromResponse(resp), nil
}

// GetForFingerprint performs a bounded GET and hashes the body, used only
// when HEAD advertised no ETag (spec.md §4.3: "GET-with-hashing only when
// no ETag is advertised").
func (c *Client) GetForFingerprint(ctx context.Context, uri string) (Content, error) {
	return c.get(ctx, uri, fingerprintGetTimeout, true)
}

// GetForOCR performs a bounded GET returning the full buffered body,
// without hashing (OCR doesn't need a content hash).
func (c *Client) GetForOCR(ctx context.Context, uri string) (Content, error) {
	return c.get(ctx, uri, ocrGetTimeout, false)
}

func (c *Client) get(ctx context.Context, uri string, timeout time.Duration, hash bool) (Content, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	operation := func() (Content, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return Content{}, backoff.Permanent(fmt.Errorf("building GET request: %w", err))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Transient network errors (timeouts, connection resets) are
			// worth a couple of backed-off retries before counting as a
			// fetch_error; a 4xx/5xx response is not retried here.
			return Content{}, fmt.Errorf("GET %s: %w", uri, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return Content{}, backoff.Permanent(fmt.Errorf("GET %s: http status %d", uri, resp.StatusCode))
		}

		limited := io.LimitReader(resp.Body, maxBufferedBytes)
		buf, err := io.ReadAll(limited)
		if err != nil {
			return Content{}, fmt.Errorf("reading body from %s: %w", uri, err)
		}

		fetched := Content{
			Metadata: metadataFromResponse(resp),
			Body:     bytes.NewReader(buf),
		}
		if fetched.ContentLength == 0 {
			fetched.ContentLength = int64(len(buf))
		}
		if hash {
			sum := sha256.Sum256(buf)
			fetched.SHA256 = hex.EncodeToString(sum[:])
		}
		return fetched, nil
	}

	retryPolicy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	return backoff.RetryWithData(operation, backoff.WithContext(retryPolicy, ctx))
}

func metadataFromResponse(resp *http.Response) Metadata {
	return Metadata{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
	}
}
