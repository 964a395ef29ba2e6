package stages

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

func testPickerConfig() PickerConfig {
	return PickerConfig{
		FileCatalogPageSize: 100,
		MaxBundleSize:       250,
		MaxBundleCount:      1000,
	}
}

func testRequest() *ltamodel.TransferRequest {
	return &ltamodel.TransferRequest{
		UUID:   "tr1",
		Source: "WIPAC",
		Dest:   "NERSC",
		Path:   "/data/exp/IceCube/2023",
	}
}

func TestPickerCreatesBundlesWithMetadata(t *testing.T) {
	catalog := filecatalog.NewMockClient()
	for i := 0; i < 5; i++ {
		catalog.AddRecord(&filecatalog.Record{
			UUID:        fmt.Sprintf("f%d", i),
			LogicalName: fmt.Sprintf("/data/exp/IceCube/2023/file%d.tar", i),
			FileSize:    100,
			Locations:   []filecatalog.Location{{Site: "WIPAC", Path: fmt.Sprintf("/data/exp/IceCube/2023/file%d.tar", i)}},
		})
	}

	lta := ltaclient.NewMockClient()
	picker := NewPicker(testPickerConfig(), lta, catalog)

	result, err := picker.Do(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Nil(t, result)

	// 5 files of 100 bytes against a 250 byte cap: 2+2+1
	require.Len(t, lta.CreatedBundles, 3)
	for _, bundle := range lta.CreatedBundles {
		assert.Equal(t, ltamodel.BundleStatusSpecified, bundle.Status)
		assert.Equal(t, "tr1", bundle.Request)
		assert.Equal(t, "WIPAC", bundle.Source)
		assert.Equal(t, "NERSC", bundle.Dest)
		assert.Len(t, lta.MetadataFor(bundle.UUID), bundle.FileCount)
	}
	assert.Equal(t, 2, lta.CreatedBundles[0].FileCount)
	assert.Equal(t, int64(200), lta.CreatedBundles[0].Size)
	assert.Equal(t, 1, lta.CreatedBundles[2].FileCount)
}

func TestPickerQuarantinesEmptyRequest(t *testing.T) {
	lta := ltaclient.NewMockClient()
	picker := NewPicker(testPickerConfig(), lta, filecatalog.NewMockClient())

	_, err := picker.Do(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, worker.IsQuarantine(err))
	assert.Empty(t, lta.CreatedBundles)
}

func TestPackBatches(t *testing.T) {
	files := func(sizes ...int64) []filecatalog.FileSummary {
		var fs []filecatalog.FileSummary
		for i, size := range sizes {
			fs = append(fs, filecatalog.FileSummary{UUID: fmt.Sprintf("f%d", i), FileSize: size})
		}
		return fs
	}

	t.Run("size cap splits batches", func(t *testing.T) {
		batches := packBatches(files(100, 100, 100), 200, 1000)
		require.Len(t, batches, 2)
		assert.Len(t, batches[0], 2)
		assert.Len(t, batches[1], 1)
	})

	t.Run("count cap splits batches", func(t *testing.T) {
		batches := packBatches(files(1, 1, 1, 1), 1000, 3)
		require.Len(t, batches, 2)
		assert.Len(t, batches[0], 3)
	})

	t.Run("oversize file gets its own batch", func(t *testing.T) {
		batches := packBatches(files(500, 10), 200, 1000)
		require.Len(t, batches, 2)
		assert.Len(t, batches[0], 1)
	})

	t.Run("no files no batches", func(t *testing.T) {
		assert.Empty(t, packBatches(nil, 200, 1000))
	})
}
