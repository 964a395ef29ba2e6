package stor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataCreateListDelete(t *testing.T) {
	db := newTestDB(t)
	s := NewGormMetadataStor(db)

	fileUUIDs := make([]string, 25)
	for i := range fileUUIDs {
		fileUUIDs[i] = fmt.Sprintf("fc-uuid-%03d", i)
	}

	uuids, err := s.CreateMetadataRecords("bundle-1", fileUUIDs)
	require.NoError(t, err)
	require.Len(t, uuids, 25)

	// paging preserves insertion order
	page1, err := s.ListMetadataForBundle("bundle-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, page1, 10)
	assert.Equal(t, "fc-uuid-000", page1[0].FileCatalogUUID)

	page3, err := s.ListMetadataForBundle("bundle-1", 10, 20)
	require.NoError(t, err)
	require.Len(t, page3, 5)
	assert.Equal(t, "fc-uuid-024", page3[4].FileCatalogUUID)

	record, err := s.GetMetadataRecord(uuids[0])
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", record.BundleUUID)

	deleted, err := s.DeleteMetadataRecords(uuids[:5])
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	_, err = s.GetMetadataRecord(uuids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	remaining, err := s.ListMetadataForBundle("bundle-1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 20)
}

func TestDeleteMetadataForBundle(t *testing.T) {
	db := newTestDB(t)
	s := NewGormMetadataStor(db)

	_, err := s.CreateMetadataRecords("bundle-1", []string{"fc-1", "fc-2"})
	require.NoError(t, err)
	_, err = s.CreateMetadataRecords("bundle-2", []string{"fc-3"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMetadataForBundle("bundle-1"))

	gone, err := s.ListMetadataForBundle("bundle-1", 100, 0)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := s.ListMetadataForBundle("bundle-2", 100, 0)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
