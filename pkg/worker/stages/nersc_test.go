package stages

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/filecatalog"
	"github.com/wipac/lta/pkg/ltaclient"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/worker"
)

type fakeTape struct {
	availErr      error
	hashListSum   string
	hashVerifyErr error

	mkdirs  []string
	puts    [][2]string
	gets    [][2]string
	listed  []string
	checked []string
}

func (f *fakeTape) Available(context.Context) error {
	return f.availErr
}

func (f *fakeTape) MkdirAll(_ context.Context, tapeDir string) error {
	f.mkdirs = append(f.mkdirs, tapeDir)
	return nil
}

func (f *fakeTape) Put(_ context.Context, localPath, tapePath string) error {
	f.puts = append(f.puts, [2]string{localPath, tapePath})
	return nil
}

func (f *fakeTape) Get(_ context.Context, localPath, tapePath string) error {
	f.gets = append(f.gets, [2]string{localPath, tapePath})
	return nil
}

func (f *fakeTape) HashList(_ context.Context, tapePath string) (string, error) {
	f.listed = append(f.listed, tapePath)
	return f.hashListSum, nil
}

func (f *fakeTape) HashVerify(_ context.Context, tapePath string) error {
	f.checked = append(f.checked, tapePath)
	return f.hashVerifyErr
}

func TestNerscMoverWritesToTape(t *testing.T) {
	tape := &fakeTape{}
	mover := NewNerscMover(NerscMoverConfig{
		RseBasePath:  "/global/rse",
		TapeBasePath: "/home/projects/icecube",
	}, tape)

	bundle := &ltamodel.Bundle{
		UUID:       "b1",
		Path:       "/data/exp/IceCube/2023",
		BundlePath: "/global/rse/b1.zip",
	}

	result, err := mover.Do(context.Background(), bundle)
	require.NoError(t, err)
	assert.Nil(t, result)

	require.Len(t, tape.mkdirs, 1)
	assert.Equal(t, "/home/projects/icecube/data/exp/IceCube/2023", tape.mkdirs[0])

	require.Len(t, tape.puts, 1)
	assert.Equal(t, "/global/rse/b1.zip", tape.puts[0][0])
	assert.Equal(t, "/home/projects/icecube/data/exp/IceCube/2023/b1.zip", tape.puts[0][1])
}

func TestNerscMoverPreflight(t *testing.T) {
	tape := &fakeTape{availErr: errors.New("archive system down")}
	mover := NewNerscMover(NerscMoverConfig{RseBasePath: "/rse", TapeBasePath: "/tape"}, tape)

	assert.Error(t, mover.Preflight(context.Background()))

	tape.availErr = nil
	assert.NoError(t, mover.Preflight(context.Background()))
}

func TestNerscRetrieverReadsFromTape(t *testing.T) {
	tape := &fakeTape{}
	retriever := NewNerscRetriever(NerscRetrieverConfig{RseBasePath: "/global/rse"}, tape)

	bundle := &ltamodel.Bundle{
		UUID:       "b1",
		Status:     ltamodel.BundleStatusLocated,
		BundlePath: "/home/projects/icecube/data/exp/IceCube/2023/b1.zip",
	}

	result, err := retriever.Do(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, "/global/rse/b1.zip", result.Updates["bundle_path"])

	require.Len(t, tape.gets, 1)
	assert.Equal(t, "/global/rse/b1.zip", tape.gets[0][0])
	assert.Equal(t, bundle.BundlePath, tape.gets[0][1])
}

func nerscVerifierFixture(t *testing.T, storedSum string) (*NerscVerifier, *ltaclient.MockClient, *filecatalog.MockClient, *fakeTape) {
	t.Helper()

	catalog := filecatalog.NewMockClient()
	catalog.AddRecord(&filecatalog.Record{
		UUID:        "f1",
		LogicalName: "/data/exp/IceCube/2023/a.tar",
	})

	lta := ltaclient.NewMockClient()
	lta.SeedMetadata("b1", []string{"f1"})

	tape := &fakeTape{hashListSum: storedSum}
	verifier := NewNerscVerifier(NerscVerifierConfig{
		TapeBasePath:     "/home/projects/icecube",
		MetadataPageSize: 100,
	}, lta, catalog, tape)

	return verifier, lta, catalog, tape
}

func TestNerscVerifierRegistersCatalogEntries(t *testing.T) {
	verifier, _, catalog, tape := nerscVerifierFixture(t, "cafef00d")

	bundle := &ltamodel.Bundle{
		UUID:       "b1",
		Path:       "/data/exp/IceCube/2023",
		BundlePath: "/global/rse/b1.zip",
		Size:       1000,
		Checksum:   ltamodel.Checksum{SHA512: "cafef00d", Adler32: "0000cafe"},
	}

	result, err := verifier.Do(context.Background(), bundle)
	require.NoError(t, err)
	assert.Nil(t, result)

	tapePath := "/home/projects/icecube/data/exp/IceCube/2023/b1.zip"
	assert.Equal(t, []string{tapePath}, tape.listed)
	assert.Equal(t, []string{tapePath}, tape.checked)

	// the bundled file gained an archive location
	record, err := catalog.GetRecord(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, record.Locations, 1)
	assert.Equal(t, "NERSC", record.Locations[0].Site)
	assert.Equal(t, tapePath+":/data/exp/IceCube/2023/a.tar", record.Locations[0].Path)
	assert.True(t, record.Locations[0].Archive)

	// the bundle archive itself is now a catalog record
	bundleRecord, err := catalog.GetRecord(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, tapePath, bundleRecord.LogicalName)
	assert.Equal(t, "cafef00d", bundleRecord.Checksum.SHA512)
	require.NotNil(t, bundleRecord.LTA)
	assert.NotEmpty(t, bundleRecord.LTA.DateArchived)
}

func TestNerscVerifierQuarantinesOnChecksumMismatch(t *testing.T) {
	verifier, _, catalog, _ := nerscVerifierFixture(t, "00000000")

	bundle := &ltamodel.Bundle{
		UUID:       "b1",
		Path:       "/data/exp/IceCube/2023",
		BundlePath: "/global/rse/b1.zip",
		Checksum:   ltamodel.Checksum{SHA512: "cafef00d"},
	}

	_, err := verifier.Do(context.Background(), bundle)
	require.Error(t, err)
	assert.True(t, worker.IsQuarantine(err))

	// no catalog writes on failure
	_, err = catalog.GetRecord(context.Background(), "b1")
	assert.Error(t, err)
}
