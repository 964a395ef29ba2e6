package stor

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

func createTestBundles(t *testing.T, s *GormBundleStor, count int, status string) []string {
	t.Helper()

	bundles := make([]ltamodel.Bundle, count)
	for i := range bundles {
		bundles[i] = ltamodel.Bundle{
			Request: "request-1",
			Source:  "WIPAC",
			Dest:    "NERSC",
			Path:    fmt.Sprintf("/data/exp/test/%d", i),
			Status:  status,
		}
	}

	uuids, err := s.CreateBundles(bundles)
	require.NoError(t, err)
	require.Len(t, uuids, count)

	return uuids
}

func TestPopBundleClaimsOldestFirst(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	uuids := createTestBundles(t, s, 3, ltamodel.BundleStatusSpecified)

	// push the first bundle to the back of the queue
	_, err := s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{
		"work_priority_timestamp": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}})
	require.NoError(t, err)

	popped, err := s.PopBundle(ltamodel.BundleStatusSpecified, "WIPAC", "NERSC", "bundler-test")
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, uuids[1], popped.UUID)
	assert.True(t, popped.Claimed)
	assert.Equal(t, "bundler-test", popped.Claimant)
	require.NotNil(t, popped.ClaimTimestamp)
}

func TestPopBundleReturnsNilWhenNoneMatch(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	createTestBundles(t, s, 1, ltamodel.BundleStatusSpecified)

	popped, err := s.PopBundle(ltamodel.BundleStatusCreated, "", "NERSC", "bundler-test")
	require.NoError(t, err)
	assert.Nil(t, popped)

	popped, err = s.PopBundle(ltamodel.BundleStatusSpecified, "DESY", "", "bundler-test")
	require.NoError(t, err)
	assert.Nil(t, popped)
}

func TestPopBundleExclusivityUnderConcurrency(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	const workers = 8
	const bundles = 5
	createTestBundles(t, s, bundles, ltamodel.BundleStatusSpecified)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = make(map[string]string)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			claimant := fmt.Sprintf("worker-%d", worker)
			popped, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "NERSC", claimant)
			assert.NoError(t, err)
			if popped == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			prev, taken := wins[popped.UUID]
			assert.Falsef(t, taken, "bundle %s claimed by both %s and %s", popped.UUID, prev, claimant)
			wins[popped.UUID] = claimant
		}(i)
	}
	wg.Wait()

	// min(workers, bundles) distinct wins
	assert.Len(t, wins, bundles)
}

func TestUpdateBundleClaimantFencing(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	createTestBundles(t, s, 1, ltamodel.BundleStatusSpecified)

	popped, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, popped)

	// another claimant's fenced update is rejected
	_, err = s.UpdateBundle(popped.UUID, EntityUpdate{
		Claimant: "worker-b",
		Fields:   map[string]any{"status": ltamodel.BundleStatusCreated},
	})
	assert.ErrorIs(t, err, ErrClaimConflict)

	// the claim holder advances and releases
	updated, err := s.UpdateBundle(popped.UUID, EntityUpdate{
		Claimant: "worker-a",
		Fields: map[string]any{
			"status":  ltamodel.BundleStatusCreated,
			"claimed": false,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ltamodel.BundleStatusCreated, updated.Status)
	assert.False(t, updated.Claimed)
	assert.Empty(t, updated.Claimant)
	assert.Nil(t, updated.ClaimTimestamp)

	// the old claimant's late PATCH is now a conflict
	_, err = s.UpdateBundle(popped.UUID, EntityUpdate{
		Claimant: "worker-a",
		Fields:   map[string]any{"status": ltamodel.BundleStatusStaged},
	})
	assert.ErrorIs(t, err, ErrClaimConflict)
}

func TestUpdateBundleChecksumImmutable(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	uuids := createTestBundles(t, s, 1, ltamodel.BundleStatusSpecified)

	_, err := s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{
		"checksum": map[string]any{"sha512": "abc123", "adler32": "00000001"},
	}})
	require.NoError(t, err)

	// re-sending the same digests is fine (idempotent retry)
	_, err = s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{
		"checksum": map[string]any{"sha512": "abc123"},
	}})
	require.NoError(t, err)

	// altering a set digest is not
	_, err = s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{
		"checksum": map[string]any{"sha512": "def456"},
	}})
	assert.ErrorIs(t, err, ErrChecksumImmutable)

	bundle, err := s.GetBundleByUUID(uuids[0])
	require.NoError(t, err)
	assert.Equal(t, "abc123", bundle.Checksum.SHA512)
}

func TestUpdateBundleRejectsUnknownFields(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	uuids := createTestBundles(t, s, 1, ltamodel.BundleStatusSpecified)

	_, err := s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{"no_such_field": 1}})
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestQuarantineRoundTrip(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	createTestBundles(t, s, 1, ltamodel.BundleStatusSpecified)

	popped, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "bundler-test")
	require.NoError(t, err)
	require.NotNil(t, popped)

	quarantined, err := s.UpdateBundle(popped.UUID, EntityUpdate{
		Claimant: "bundler-test",
		Fields: map[string]any{
			"status":          ltamodel.BundleStatusQuarantined,
			"reason":          "bundler: checksum mismatch on source file",
			"original_status": popped.Status,
			"claimed":         false,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ltamodel.BundleStatusQuarantined, quarantined.Status)
	assert.Equal(t, ltamodel.BundleStatusSpecified, quarantined.OriginalStatus)
	assert.Equal(t, "bundler: checksum mismatch on source file", quarantined.Reason)
	assert.False(t, quarantined.Claimed)

	// quarantined bundles are invisible to POP on their old status
	reclaimed, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "bundler-test")
	require.NoError(t, err)
	assert.Nil(t, reclaimed)

	// admin un-quarantine restores the original status
	restored, err := s.UpdateBundle(popped.UUID, EntityUpdate{
		Fields: map[string]any{
			"status":          quarantined.OriginalStatus,
			"reason":          nil,
			"original_status": nil,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ltamodel.BundleStatusSpecified, restored.Status)
	assert.Empty(t, restored.Reason)
	assert.Empty(t, restored.OriginalStatus)

	// and the next claim succeeds
	reclaimed, err = s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "bundler-test")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, popped.UUID, reclaimed.UUID)
}

func TestReleaseStaleBundleClaims(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	createTestBundles(t, s, 2, ltamodel.BundleStatusSpecified)

	first, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "worker-a")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "worker-b")
	require.NoError(t, err)
	require.NotNil(t, second)

	// back-date the first claim past the claim window
	backdated := time.Now().UTC().Add(-13 * time.Hour)
	err = db.Model(&ltamodel.Bundle{}).
		Where("uuid = ?", first.UUID).
		Update("claim_timestamp", backdated).Error
	require.NoError(t, err)

	released, err := s.ReleaseStaleBundleClaims(12 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{first.UUID}, released)

	// reaping is idempotent
	released, err = s.ReleaseStaleBundleClaims(12 * time.Hour)
	require.NoError(t, err)
	assert.Empty(t, released)

	// the released bundle is claimable again; the live claim is untouched
	reclaimed, err := s.PopBundle(ltamodel.BundleStatusSpecified, "", "", "worker-c")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, first.UUID, reclaimed.UUID)

	// the reaped worker's PATCH is rejected
	_, err = s.UpdateBundle(first.UUID, EntityUpdate{
		Claimant: "worker-a",
		Fields:   map[string]any{"status": ltamodel.BundleStatusCreated},
	})
	assert.ErrorIs(t, err, ErrClaimConflict)
}

func TestListBundlesFilterAndPagination(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	uuids := createTestBundles(t, s, 5, ltamodel.BundleStatusSpecified)

	_, err := s.UpdateBundle(uuids[0], EntityUpdate{Fields: map[string]any{"verified": true}})
	require.NoError(t, err)

	all, err := s.ListBundles(BundleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
	// uuid ordering
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].UUID, all[i].UUID)
	}

	verified := true
	filtered, err := s.ListBundles(BundleFilter{Verified: &verified})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, uuids[0], filtered[0].UUID)

	byLocation, err := s.ListBundles(BundleFilter{Location: "WIP"})
	require.NoError(t, err)
	assert.Len(t, byLocation, 5)

	page, err := s.ListBundles(BundleFilter{After: all[1].UUID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].UUID, page[0].UUID)
	assert.Equal(t, all[3].UUID, page[1].UUID)
}

func TestCountBundlesByStatus(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	createTestBundles(t, s, 3, ltamodel.BundleStatusSpecified)
	createTestBundles(t, s, 2, ltamodel.BundleStatusTaping)

	counts, err := s.CountBundlesByStatus("NERSC")
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[ltamodel.BundleStatusSpecified])
	assert.Equal(t, int64(2), counts[ltamodel.BundleStatusTaping])

	counts, err = s.CountBundlesByStatus("DESY")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestDeleteBundles(t *testing.T) {
	db := newTestDB(t)
	s := NewGormBundleStor(db)

	uuids := createTestBundles(t, s, 2, ltamodel.BundleStatusSpecified)

	deleted, err := s.DeleteBundles([]string{uuids[0], "no-such-uuid"})
	require.NoError(t, err)
	assert.Equal(t, []string{uuids[0]}, deleted)

	_, err = s.GetBundleByUUID(uuids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetBundleByUUID(uuids[1])
	assert.NoError(t, err)
}
