package filecatalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFindFiles(t *testing.T) {
	var gotQuery string
	var gotKeys string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/files", r.URL.Path)
		gotQuery = r.URL.Query().Get("query")
		gotKeys = r.URL.Query().Get("keys")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []FileSummary{
				{UUID: "f1", LogicalName: "/data/exp/a.tar", FileSize: 10},
				{UUID: "f2", LogicalName: "/data/exp/b.tar", FileSize: 20},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL).SetToken("token")
	files, err := client.FindFiles(context.Background(), FilesQuery{
		Site:           "WIPAC",
		PathPrefix:     "/data/exp",
		ArchivedAtSite: true,
		Limit:          500,
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f1", files[0].UUID)

	var query map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotQuery), &query))
	assert.Contains(t, query, "logical_name")
	assert.Contains(t, query, "locations.site")
	assert.Contains(t, query, "locations.archive")
	assert.Equal(t, "uuid|logical_name|file_size", gotKeys)
}

func TestClientGetRecordNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientRegisterRecordFallsBackToPatch(t *testing.T) {
	var patched bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/files":
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPatch && r.URL.Path == "/api/files/b1":
			patched = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.RegisterRecord(context.Background(), &Record{UUID: "b1", LogicalName: "/tape/b1.zip"})
	require.NoError(t, err)
	assert.True(t, patched)
}

func TestClientAddLocation(t *testing.T) {
	var body map[string][]Location

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/files/f1/locations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.AddLocation(context.Background(), "f1", Location{Site: "NERSC", Path: "/tape/b1.zip:/data/exp/a.tar", Archive: true})
	require.NoError(t, err)
	require.Len(t, body["locations"], 1)
	assert.True(t, body["locations"][0].Archive)
}

func TestMockClientLocationDedupe(t *testing.T) {
	mock := NewMockClient().AddRecord(&Record{UUID: "f1", LogicalName: "/data/a"})

	loc := Location{Site: "NERSC", Path: "/tape/b.zip:/data/a", Archive: true}
	require.NoError(t, mock.AddLocation(context.Background(), "f1", loc))
	require.NoError(t, mock.AddLocation(context.Background(), "f1", loc))

	record, err := mock.GetRecord(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, record.Locations, 1)
}
