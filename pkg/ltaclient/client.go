// Package ltaclient is the worker-side client for the coordinator REST API.
// Every mutation a worker makes flows through here, carrying its claimant
// identity so the coordinator can fence writes from reaped claims.
package ltaclient

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

var (
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("lta: not found")

	// ErrClaimConflict is returned for 409 responses: the caller no longer
	// holds the claim (or tried to alter an immutable field). The work has
	// been reassigned; drop it.
	ErrClaimConflict = errors.New("lta: claim conflict")
)

// API is the slice of the coordinator the workers drive. Client implements
// it over HTTP; MockClient backs stage tests.
type API interface {
	CreateTransferRequest(ctx context.Context, source, dest, path string) (string, error)
	GetTransferRequest(ctx context.Context, trUUID string) (*ltamodel.TransferRequest, error)
	PopTransferRequest(ctx context.Context, source, dest, claimant string) (*ltamodel.TransferRequest, error)
	PatchTransferRequest(ctx context.Context, trUUID string, update map[string]any) error

	PopBundle(ctx context.Context, status, source, dest, claimant string) (*ltamodel.Bundle, error)
	GetBundle(ctx context.Context, bundleUUID string) (*ltamodel.Bundle, error)
	PatchBundle(ctx context.Context, bundleUUID string, update map[string]any) error
	ListBundleUUIDs(ctx context.Context, query map[string]string) ([]string, error)
	BulkCreateBundles(ctx context.Context, bundles []ltamodel.Bundle) ([]string, error)

	ListMetadata(ctx context.Context, bundleUUID string, limit, skip int) ([]ltamodel.MetadataRecord, error)
	BulkCreateMetadata(ctx context.Context, bundleUUID string, fileCatalogUUIDs []string) ([]string, error)
	BulkDeleteMetadata(ctx context.Context, recordUUIDs []string) error
	DeleteMetadataForBundle(ctx context.Context, bundleUUID string) error

	Heartbeat(ctx context.Context, componentType, componentName string, payload map[string]any) error
}

// TokenProvider supplies bearer tokens for coordinator requests.
// TokenSource is the production implementation; tests substitute a static
// one.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the coordinator with per-attempt timeouts and retries for
// transient failures. 4xx responses are never retried; 409 maps to
// ErrClaimConflict and 404 to ErrNotFound.
type Client struct {
	rc             *resty.Client
	tokens         TokenProvider
	retries        int
	attemptTimeout time.Duration
}

func NewClient(baseURL string, tokens TokenProvider, retries int, attemptTimeout time.Duration) *Client {
	if retries < 1 {
		retries = 1
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}

	return &Client{
		rc:             resty.New().SetBaseURL(baseURL),
		tokens:         tokens,
		retries:        retries,
		attemptTimeout: attemptTimeout,
	}
}

func (c *Client) CreateTransferRequest(ctx context.Context, source, dest, path string) (string, error) {
	var result struct {
		TransferRequest string `json:"TransferRequest"`
	}

	err := c.do(ctx, http.MethodPost, "/TransferRequests", nil,
		map[string]string{"source": source, "dest": dest, "path": path}, &result)
	if err != nil {
		return "", err
	}

	return result.TransferRequest, nil
}

func (c *Client) GetTransferRequest(ctx context.Context, trUUID string) (*ltamodel.TransferRequest, error) {
	var tr ltamodel.TransferRequest

	if err := c.do(ctx, http.MethodGet, "/TransferRequests/"+trUUID, nil, nil, &tr); err != nil {
		return nil, err
	}

	return &tr, nil
}

func (c *Client) PopTransferRequest(ctx context.Context, source, dest, claimant string) (*ltamodel.TransferRequest, error) {
	var result struct {
		TransferRequest *ltamodel.TransferRequest `json:"transfer_request"`
	}

	query := map[string]string{}
	if source != "" {
		query["source"] = source
	}
	if dest != "" {
		query["dest"] = dest
	}

	err := c.do(ctx, http.MethodPost, "/TransferRequests/actions/pop", query,
		map[string]string{"claimant": claimant}, &result)
	if err != nil {
		return nil, err
	}

	return result.TransferRequest, nil
}

func (c *Client) PatchTransferRequest(ctx context.Context, trUUID string, update map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/TransferRequests/"+trUUID, nil, update, nil)
}

func (c *Client) PopBundle(ctx context.Context, status, source, dest, claimant string) (*ltamodel.Bundle, error) {
	var result struct {
		Bundle *ltamodel.Bundle `json:"bundle"`
	}

	query := map[string]string{"status": status}
	if source != "" {
		query["source"] = source
	}
	if dest != "" {
		query["dest"] = dest
	}

	err := c.do(ctx, http.MethodPost, "/Bundles/actions/pop", query,
		map[string]string{"claimant": claimant}, &result)
	if err != nil {
		return nil, err
	}

	return result.Bundle, nil
}

func (c *Client) GetBundle(ctx context.Context, bundleUUID string) (*ltamodel.Bundle, error) {
	var bundle ltamodel.Bundle

	if err := c.do(ctx, http.MethodGet, "/Bundles/"+bundleUUID, nil, nil, &bundle); err != nil {
		return nil, err
	}

	return &bundle, nil
}

func (c *Client) PatchBundle(ctx context.Context, bundleUUID string, update map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/Bundles/"+bundleUUID, nil, update, nil)
}

func (c *Client) ListBundleUUIDs(ctx context.Context, query map[string]string) ([]string, error) {
	var result struct {
		Results []string `json:"results"`
	}

	if err := c.do(ctx, http.MethodGet, "/Bundles", query, nil, &result); err != nil {
		return nil, err
	}

	return result.Results, nil
}

func (c *Client) BulkCreateBundles(ctx context.Context, bundles []ltamodel.Bundle) ([]string, error) {
	var result struct {
		Bundles []string `json:"bundles"`
	}

	err := c.do(ctx, http.MethodPost, "/Bundles/actions/bulk_create", nil,
		map[string]any{"bundles": bundles}, &result)
	if err != nil {
		return nil, err
	}

	return result.Bundles, nil
}

func (c *Client) ListMetadata(ctx context.Context, bundleUUID string, limit, skip int) ([]ltamodel.MetadataRecord, error) {
	var result struct {
		Results []ltamodel.MetadataRecord `json:"results"`
	}

	query := map[string]string{
		"bundle_uuid": bundleUUID,
		"limit":       strconv.Itoa(limit),
		"skip":        strconv.Itoa(skip),
	}

	if err := c.do(ctx, http.MethodGet, "/Metadata", query, nil, &result); err != nil {
		return nil, err
	}

	return result.Results, nil
}

func (c *Client) BulkCreateMetadata(ctx context.Context, bundleUUID string, fileCatalogUUIDs []string) ([]string, error) {
	var result struct {
		Metadata []string `json:"metadata"`
	}

	err := c.do(ctx, http.MethodPost, "/Metadata/actions/bulk_create", nil,
		map[string]any{"bundle_uuid": bundleUUID, "files": fileCatalogUUIDs}, &result)
	if err != nil {
		return nil, err
	}

	return result.Metadata, nil
}

func (c *Client) BulkDeleteMetadata(ctx context.Context, recordUUIDs []string) error {
	return c.do(ctx, http.MethodPost, "/Metadata/actions/bulk_delete", nil,
		map[string]any{"metadata": recordUUIDs}, nil)
}

func (c *Client) DeleteMetadataForBundle(ctx context.Context, bundleUUID string) error {
	return c.do(ctx, http.MethodDelete, "/Metadata", map[string]string{"bundle_uuid": bundleUUID}, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, componentType, componentName string, payload map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/status/"+componentType, nil,
		map[string]any{componentName: payload}, nil)
}

// do runs one request with per-attempt timeouts, retrying transient
// failures (network errors and 5xx) with exponential backoff. A 401 causes
// one token refresh before counting as an attempt failure.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, result any) error {
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 30 * time.Second, Jitter: true}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		resp, err := c.attempt(ctx, method, path, query, body, result)
		if err != nil {
			lastErr = err
			log.Warnf("lta: %s %s failed (attempt %d): %s", method, path, attempt+1, err)
			continue
		}

		switch {
		case resp.StatusCode() == http.StatusUnauthorized:
			c.tokens.Invalidate()
			lastErr = errors.Errorf("lta: %s %s returned 401", method, path)
			continue
		case resp.StatusCode() == http.StatusNotFound:
			return errors.Wrapf(ErrNotFound, "%s %s", method, path)
		case resp.StatusCode() == http.StatusConflict:
			return errors.Wrapf(ErrClaimConflict, "%s %s", method, path)
		case resp.StatusCode() >= 500:
			lastErr = errors.Errorf("lta: %s %s returned %d: %s", method, path, resp.StatusCode(), resp.String())
			log.Warnf("%s (attempt %d)", lastErr, attempt+1)
			continue
		case resp.IsError():
			return errors.Errorf("lta: %s %s returned %d: %s", method, path, resp.StatusCode(), resp.String())
		default:
			return nil
		}
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, query map[string]string, body, result any) (*resty.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	token, err := c.tokens.Token(attemptCtx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring token")
	}

	req := c.rc.R().SetContext(attemptCtx).SetAuthToken(token)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	return req.Execute(method, path)
}
