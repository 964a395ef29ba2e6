package filecatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("file catalog: record not found")
	ErrConflict = errors.New("file catalog: record already exists")
)

// API is the slice of the File Catalog the archive pipeline uses. Client
// implements it against the real service; MockClient backs tests.
type API interface {
	FindFiles(ctx context.Context, query FilesQuery) ([]FileSummary, error)
	GetRecord(ctx context.Context, uuid string) (*Record, error)
	CreateRecord(ctx context.Context, record *Record) error
	RegisterRecord(ctx context.Context, record *Record) error
	AddLocation(ctx context.Context, uuid string, location Location) error
}

type Client struct {
	baseURL string
	rc      *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		rc:      resty.New().SetBaseURL(baseURL),
	}
}

// SetToken installs the bearer token used on every request. Token refresh
// swaps it in place.
func (c *Client) SetToken(token string) *Client {
	c.rc.SetAuthToken(token)
	return c
}

// FindFiles runs a paged catalog query. The catalog accepts a JSON document
// query in the style of its backing store.
func (c *Client) FindFiles(ctx context.Context, query FilesQuery) ([]FileSummary, error) {
	q := map[string]any{
		"logical_name":   map[string]string{"$regex": "^" + query.PathPrefix},
		"locations.site": map[string]string{"$eq": query.Site},
	}
	if query.ArchivedAtSite {
		q["locations.archive"] = map[string]bool{"$eq": true}
	}

	queryJSON, err := json.Marshal(q)
	if err != nil {
		return nil, errors.Wrap(err, "file catalog: encode query")
	}

	keys := "uuid|logical_name|file_size"
	if query.IncludeLocations {
		keys += "|locations"
	}

	req := c.rc.R().SetContext(ctx).
		SetQueryParam("query", string(queryJSON)).
		SetQueryParam("keys", keys)
	if query.Limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", query.Limit))
	}
	if query.Start > 0 {
		req.SetQueryParam("start", fmt.Sprintf("%d", query.Start))
	}

	var body struct {
		Files []FileSummary `json:"files"`
	}

	resp, err := req.SetResult(&body).Get("/api/files")
	if err != nil {
		return nil, errors.Wrap(err, "file catalog: GET /api/files")
	}
	if resp.IsError() {
		return nil, statusError(resp)
	}

	return body.Files, nil
}

func (c *Client) GetRecord(ctx context.Context, uuid string) (*Record, error) {
	var record Record
	resp, err := c.rc.R().SetContext(ctx).
		SetResult(&record).
		Get("/api/files/" + uuid)
	if err != nil {
		return nil, errors.Wrapf(err, "file catalog: GET /api/files/%s", uuid)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, errors.Wrap(ErrNotFound, uuid)
	}
	if resp.IsError() {
		return nil, statusError(resp)
	}

	return &record, nil
}

func (c *Client) CreateRecord(ctx context.Context, record *Record) error {
	resp, err := c.rc.R().SetContext(ctx).
		SetBody(record).
		Post("/api/files")
	if err != nil {
		return errors.Wrap(err, "file catalog: POST /api/files")
	}
	if resp.StatusCode() == http.StatusConflict {
		return errors.Wrap(ErrConflict, record.LogicalName)
	}
	if resp.IsError() {
		return statusError(resp)
	}

	return nil
}

// RegisterRecord creates the record, falling back to a PATCH when the
// catalog already knows the uuid. Verifiers re-run after a reaped claim hit
// this path.
func (c *Client) RegisterRecord(ctx context.Context, record *Record) error {
	err := c.CreateRecord(ctx, record)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrConflict) {
		return err
	}

	resp, err := c.rc.R().SetContext(ctx).
		SetBody(record).
		Patch("/api/files/" + record.UUID)
	if err != nil {
		return errors.Wrapf(err, "file catalog: PATCH /api/files/%s", record.UUID)
	}
	if resp.IsError() {
		return statusError(resp)
	}

	return nil
}

// AddLocation attaches a replica location to a record. The catalog de-dupes
// locations, so retried actions are safe.
func (c *Client) AddLocation(ctx context.Context, uuid string, location Location) error {
	body := map[string][]Location{
		"locations": {location},
	}

	resp, err := c.rc.R().SetContext(ctx).
		SetBody(body).
		Post("/api/files/" + uuid + "/locations")
	if err != nil {
		return errors.Wrapf(err, "file catalog: POST /api/files/%s/locations", uuid)
	}
	if resp.IsError() {
		return statusError(resp)
	}

	return nil
}

func statusError(resp *resty.Response) error {
	return errors.Errorf("file catalog: %s %s returned %d: %s",
		resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.String())
}
