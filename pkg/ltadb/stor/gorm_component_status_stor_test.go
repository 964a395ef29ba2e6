package stor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
)

func TestUpsertComponentStatus(t *testing.T) {
	db := newTestDB(t)
	s := NewGormComponentStatusStor(db)

	err := s.UpsertComponentStatus("picker", "picker-1", map[string]any{"timestamp": "t0"})
	require.NoError(t, err)
	err = s.UpsertComponentStatus("picker", "picker-2", map[string]any{"timestamp": "t0"})
	require.NoError(t, err)

	// second heartbeat from the same instance replaces, not appends
	err = s.UpsertComponentStatus("picker", "picker-1", map[string]any{"timestamp": "t1"})
	require.NoError(t, err)

	statuses, err := s.GetComponentStatuses("picker")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "picker-1", statuses[0].ComponentName)
	assert.Equal(t, "t1", statuses[0].Payload["timestamp"])

	count, err := s.CountComponentsOfType("picker")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.CountComponentsOfType("bundler")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCullComponentStatuses(t *testing.T) {
	db := newTestDB(t)
	s := NewGormComponentStatusStor(db)

	require.NoError(t, s.UpsertComponentStatus("bundler", "bundler-1", nil))
	require.NoError(t, s.UpsertComponentStatus("bundler", "bundler-2", nil))

	stale := time.Now().UTC().Add(-8 * 24 * time.Hour)
	err := db.Model(&ltamodel.ComponentStatus{}).
		Where("component_name = ?", "bundler-1").
		Update("received_timestamp", stale).Error
	require.NoError(t, err)

	culled, err := s.CullComponentStatusesOlderThan(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), culled)

	remaining, err := s.GetAllComponentStatuses()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bundler-2", remaining[0].ComponentName)
}
