package filecatalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MockClient is an in-memory catalog for tests.
type MockClient struct {
	mu      sync.Mutex
	err     error
	records map[string]*Record
}

func NewMockClient() *MockClient {
	return &MockClient{records: make(map[string]*Record)}
}

func (c *MockClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// AddRecord seeds the catalog.
func (c *MockClient) AddRecord(record *Record) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[record.UUID] = record
	return c
}

// Records returns all records sorted by logical name, for assertions.
func (c *MockClient) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []*Record
	for _, r := range c.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LogicalName < all[j].LogicalName })
	return all
}

func (c *MockClient) FindFiles(_ context.Context, query FilesQuery) ([]FileSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	var matches []FileSummary
	for _, r := range c.records {
		if !strings.HasPrefix(r.LogicalName, query.PathPrefix) {
			continue
		}
		if !c.atSite(r, query.Site, query.ArchivedAtSite) {
			continue
		}
		summary := FileSummary{UUID: r.UUID, LogicalName: r.LogicalName, FileSize: r.FileSize}
		if query.IncludeLocations {
			summary.Locations = append(summary.Locations, r.Locations...)
		}
		matches = append(matches, summary)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].LogicalName < matches[j].LogicalName })

	if query.Start > 0 {
		if query.Start >= len(matches) {
			return nil, nil
		}
		matches = matches[query.Start:]
	}
	if query.Limit > 0 && len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}

	return matches, nil
}

func (c *MockClient) atSite(r *Record, site string, archived bool) bool {
	for _, loc := range r.Locations {
		if loc.Site != site {
			continue
		}
		if archived && !loc.Archive {
			continue
		}
		return true
	}
	return false
}

func (c *MockClient) GetRecord(_ context.Context, uuid string) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	record, ok := c.records[uuid]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, uuid)
	}

	return record, nil
}

func (c *MockClient) CreateRecord(_ context.Context, record *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	if _, ok := c.records[record.UUID]; ok {
		return errors.Wrap(ErrConflict, record.LogicalName)
	}

	c.records[record.UUID] = record
	return nil
}

func (c *MockClient) RegisterRecord(_ context.Context, record *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	c.records[record.UUID] = record
	return nil
}

func (c *MockClient) AddLocation(_ context.Context, uuid string, location Location) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	record, ok := c.records[uuid]
	if !ok {
		return errors.Wrap(ErrNotFound, uuid)
	}

	for _, existing := range record.Locations {
		if existing.Site == location.Site && existing.Path == location.Path {
			return nil
		}
	}

	record.Locations = append(record.Locations, location)
	return nil
}
