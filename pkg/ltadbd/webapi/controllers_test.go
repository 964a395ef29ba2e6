package webapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/ltadb"
	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/ltadb/stor"
)

func newTestStors(t *testing.T) *stor.Stors {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := ltadb.ConnectToSqlite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, ltadb.RunMigrations(db))

	return stor.NewGormStors(db)
}

// setupEchoContext creates a test echo context with the given request.
func setupEchoContext(t *testing.T, method, target string, body any, queryParams map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	q := req.URL.Query()
	for key, value := range queryParams {
		q.Add(key, value)
	}
	req.URL.RawQuery = q.Encode()

	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	return c, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func createRequestViaAPI(t *testing.T, controller *TransferRequestsController, source, dest, path string) string {
	t.Helper()

	ctx, rec := setupEchoContext(t, http.MethodPost, "/TransferRequests",
		map[string]string{"source": source, "dest": dest, "path": path}, nil)
	require.NoError(t, controller.CreateTransferRequest(ctx))
	require.Equal(t, http.StatusCreated, rec.Code)

	return decodeBody(t, rec)["TransferRequest"].(string)
}

func TestCreateTransferRequestValidation(t *testing.T) {
	stors := newTestStors(t)
	controller := NewTransferRequestsController(stors.TransferRequestStor)

	tests := []struct {
		body map[string]string
		name string
	}{
		{map[string]string{"dest": "NERSC", "path": "/data"}, "missing source"},
		{map[string]string{"source": "WIPAC", "path": "/data"}, "missing dest"},
		{map[string]string{"source": "WIPAC", "dest": "NERSC"}, "missing path"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, rec := setupEchoContext(t, http.MethodPost, "/TransferRequests", test.body, nil)
			require.NoError(t, controller.CreateTransferRequest(ctx))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestTransferRequestLifecycle(t *testing.T) {
	stors := newTestStors(t)
	controller := NewTransferRequestsController(stors.TransferRequestStor)

	trUUID := createRequestViaAPI(t, controller, "WIPAC", "NERSC", "/data/exp/IceCube/2013/filtered/PFFilt/1109")

	// GET the document
	ctx, rec := setupEchoContext(t, http.MethodGet, "/TransferRequests/"+trUUID, nil, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(trUUID)
	require.NoError(t, controller.GetTransferRequest(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)
	assert.Equal(t, "unclaimed", doc["status"])
	assert.Equal(t, false, doc["claimed"])

	// POP claims it and stamps processing
	ctx, rec = setupEchoContext(t, http.MethodPost, "/TransferRequests/actions/pop",
		map[string]string{"claimant": "picker-test"},
		map[string]string{"source": "WIPAC", "dest": "NERSC"})
	require.NoError(t, controller.PopTransferRequest(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	popped := decodeBody(t, rec)["transfer_request"].(map[string]any)
	assert.Equal(t, trUUID, popped["uuid"])
	assert.Equal(t, "processing", popped["status"])

	// a second POP finds nothing
	ctx, rec = setupEchoContext(t, http.MethodPost, "/TransferRequests/actions/pop",
		map[string]string{"claimant": "picker-test-2"}, nil)
	require.NoError(t, controller.PopTransferRequest(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["transfer_request"])

	// fenced PATCH from the claimant releases the claim
	ctx, rec = setupEchoContext(t, http.MethodPatch, "/TransferRequests/"+trUUID,
		map[string]any{"claimant": "picker-test", "claimed": false}, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(trUUID)
	require.NoError(t, controller.PatchTransferRequest(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	// DELETE is idempotent
	ctx, rec = setupEchoContext(t, http.MethodDelete, "/TransferRequests/"+trUUID, nil, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(trUUID)
	require.NoError(t, controller.DeleteTransferRequest(ctx))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPopTransferRequestRequiresClaimant(t *testing.T) {
	stors := newTestStors(t)
	controller := NewTransferRequestsController(stors.TransferRequestStor)

	ctx, rec := setupEchoContext(t, http.MethodPost, "/TransferRequests/actions/pop", map[string]string{}, nil)
	require.NoError(t, controller.PopTransferRequest(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchTransferRequestUUIDMismatch(t *testing.T) {
	stors := newTestStors(t)
	controller := NewTransferRequestsController(stors.TransferRequestStor)

	trUUID := createRequestViaAPI(t, controller, "WIPAC", "NERSC", "/data/a")

	ctx, rec := setupEchoContext(t, http.MethodPatch, "/TransferRequests/"+trUUID,
		map[string]any{"uuid": "some-other-uuid", "status": "finished"}, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(trUUID)
	require.NoError(t, controller.PatchTransferRequest(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexTransferRequestsFieldsProjection(t *testing.T) {
	stors := newTestStors(t)
	controller := NewTransferRequestsController(stors.TransferRequestStor)

	createRequestViaAPI(t, controller, "WIPAC", "NERSC", "/data/a")

	ctx, rec := setupEchoContext(t, http.MethodGet, "/TransferRequests", nil,
		map[string]string{"fields": "status,source"})
	require.NoError(t, controller.IndexTransferRequests(ctx))
	require.Equal(t, http.StatusOK, rec.Code)

	results := decodeBody(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	doc := results[0].(map[string]any)
	assert.Contains(t, doc, "uuid")
	assert.Contains(t, doc, "status")
	assert.Contains(t, doc, "source")
	assert.NotContains(t, doc, "path")
}

func bulkCreateBundles(t *testing.T, controller *BundlesController, bundles []map[string]any) []string {
	t.Helper()

	ctx, rec := setupEchoContext(t, http.MethodPost, "/Bundles/actions/bulk_create",
		map[string]any{"bundles": bundles}, nil)
	require.NoError(t, controller.BulkCreateBundles(ctx))
	require.Equal(t, http.StatusCreated, rec.Code)

	var uuids []string
	for _, u := range decodeBody(t, rec)["bundles"].([]any) {
		uuids = append(uuids, u.(string))
	}
	return uuids
}

func testBundleDoc(path string) map[string]any {
	return map[string]any{
		"request": "request-1",
		"source":  "WIPAC",
		"dest":    "NERSC",
		"path":    path,
		"status":  ltamodel.BundleStatusSpecified,
	}
}

func TestBulkCreateBundlesValidation(t *testing.T) {
	stors := newTestStors(t)
	controller := NewBundlesController(stors.BundleStor)

	ctx, rec := setupEchoContext(t, http.MethodPost, "/Bundles/actions/bulk_create",
		map[string]any{"bundles": []any{}}, nil)
	require.NoError(t, controller.BulkCreateBundles(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, rec = setupEchoContext(t, http.MethodPost, "/Bundles/actions/bulk_create",
		map[string]any{}, nil)
	require.NoError(t, controller.BulkCreateBundles(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBundlePopAndPatchFlow(t *testing.T) {
	stors := newTestStors(t)
	controller := NewBundlesController(stors.BundleStor)

	uuids := bulkCreateBundles(t, controller, []map[string]any{testBundleDoc("/data/a")})

	// pop requires status and a site filter
	ctx, rec := setupEchoContext(t, http.MethodPost, "/Bundles/actions/pop",
		map[string]string{"claimant": "bundler-test"}, map[string]string{"dest": "NERSC"})
	require.NoError(t, controller.PopBundle(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, rec = setupEchoContext(t, http.MethodPost, "/Bundles/actions/pop",
		map[string]string{"claimant": "bundler-test"},
		map[string]string{"status": "specified"})
	require.NoError(t, controller.PopBundle(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a well-formed pop claims the bundle
	ctx, rec = setupEchoContext(t, http.MethodPost, "/Bundles/actions/pop",
		map[string]string{"claimant": "bundler-test"},
		map[string]string{"status": "specified", "dest": "NERSC"})
	require.NoError(t, controller.PopBundle(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	popped := decodeBody(t, rec)["bundle"].(map[string]any)
	assert.Equal(t, uuids[0], popped["uuid"])
	assert.Equal(t, true, popped["claimed"])

	// fenced PATCH from the wrong claimant conflicts
	ctx, rec = setupEchoContext(t, http.MethodPatch, "/Bundles/"+uuids[0],
		map[string]any{"claimant": "impostor", "status": "created"}, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(uuids[0])
	require.NoError(t, controller.PatchBundle(ctx))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// the claim holder advances the bundle and attaches results
	ctx, rec = setupEchoContext(t, http.MethodPatch, "/Bundles/"+uuids[0],
		map[string]any{
			"claimant":    "bundler-test",
			"status":      "created",
			"claimed":     false,
			"bundle_path": "/outbox/" + uuids[0] + ".zip",
			"size":        1024,
			"checksum":    map[string]string{"sha512": "abc", "adler32": "00000001"},
		}, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(uuids[0])
	require.NoError(t, controller.PatchBundle(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)
	assert.Equal(t, "created", updated["status"])
	assert.Equal(t, false, updated["claimed"])

	// altering the recorded checksum is rejected
	ctx, rec = setupEchoContext(t, http.MethodPatch, "/Bundles/"+uuids[0],
		map[string]any{"checksum": map[string]string{"sha512": "changed"}}, nil)
	ctx.SetParamNames("uuid")
	ctx.SetParamValues(uuids[0])
	require.NoError(t, controller.PatchBundle(ctx))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIndexBundlesPagination(t *testing.T) {
	stors := newTestStors(t)
	controller := NewBundlesController(stors.BundleStor)

	bulkCreateBundles(t, controller, []map[string]any{
		testBundleDoc("/data/a"), testBundleDoc("/data/b"), testBundleDoc("/data/c"),
	})

	ctx, rec := setupEchoContext(t, http.MethodGet, "/Bundles", nil, nil)
	require.NoError(t, controller.IndexBundles(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody(t, rec)["results"].([]any)
	require.Len(t, all, 3)

	ctx, rec = setupEchoContext(t, http.MethodGet, "/Bundles", nil,
		map[string]string{"after": all[0].(string), "limit": "1"})
	require.NoError(t, controller.IndexBundles(ctx))
	page := decodeBody(t, rec)["results"].([]any)
	require.Len(t, page, 1)
	assert.Equal(t, all[1], page[0])
}

func TestBulkUpdateBundles(t *testing.T) {
	stors := newTestStors(t)
	controller := NewBundlesController(stors.BundleStor)

	uuids := bulkCreateBundles(t, controller, []map[string]any{
		testBundleDoc("/data/a"), testBundleDoc("/data/b"),
	})

	ctx, rec := setupEchoContext(t, http.MethodPost, "/Bundles/actions/bulk_update",
		map[string]any{
			"bundles": append(uuids, "no-such-uuid"),
			"update":  map[string]any{"status": "quarantined", "original_status": "specified", "reason": "admin: testing"},
		}, nil)
	require.NoError(t, controller.BulkUpdateBundles(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])

	bundle, err := stors.BundleStor.GetBundleByUUID(uuids[0])
	require.NoError(t, err)
	assert.Equal(t, ltamodel.BundleStatusQuarantined, bundle.Status)
}

func TestMetadataEndpoints(t *testing.T) {
	stors := newTestStors(t)
	controller := NewMetadataController(stors.MetadataStor)

	// bulk_create validation
	ctx, rec := setupEchoContext(t, http.MethodPost, "/Metadata/actions/bulk_create",
		map[string]any{"bundle_uuid": "bundle-1", "files": []string{}}, nil)
	require.NoError(t, controller.BulkCreateMetadata(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, rec = setupEchoContext(t, http.MethodPost, "/Metadata/actions/bulk_create",
		map[string]any{"bundle_uuid": "bundle-1", "files": []string{"fc-1", "fc-2", "fc-3"}}, nil)
	require.NoError(t, controller.BulkCreateMetadata(ctx))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, float64(3), created["count"])

	// index requires bundle_uuid
	ctx, rec = setupEchoContext(t, http.MethodGet, "/Metadata", nil, nil)
	require.NoError(t, controller.IndexMetadata(ctx))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctx, rec = setupEchoContext(t, http.MethodGet, "/Metadata", nil,
		map[string]string{"bundle_uuid": "bundle-1", "limit": "2"})
	require.NoError(t, controller.IndexMetadata(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	results := decodeBody(t, rec)["results"].([]any)
	assert.Len(t, results, 2)

	// bulk_delete
	var recordUUIDs []string
	for _, u := range created["metadata"].([]any) {
		recordUUIDs = append(recordUUIDs, u.(string))
	}
	ctx, rec = setupEchoContext(t, http.MethodPost, "/Metadata/actions/bulk_delete",
		map[string]any{"metadata": recordUUIDs}, nil)
	require.NoError(t, controller.BulkDeleteMetadata(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["count"])
}

func TestStatusEndpoints(t *testing.T) {
	stors := newTestStors(t)
	controller := NewStatusController(stors.ComponentStatusStor, stors.BundleStor, 0)

	// heartbeat upsert
	ctx, rec := setupEchoContext(t, http.MethodPatch, "/status/picker",
		map[string]any{"picker-1": map[string]any{"timestamp": "2026-01-01T00:00:00Z"}}, nil)
	ctx.SetParamNames("component_type")
	ctx.SetParamValues("picker")
	require.NoError(t, controller.PatchComponentStatus(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	// GET /status
	ctx, rec = setupEchoContext(t, http.MethodGet, "/status", nil, nil)
	require.NoError(t, controller.IndexStatus(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, "OK", status["health"])
	assert.Equal(t, []any{"picker-1"}, status["picker"])

	// GET /status/{component_type}
	ctx, rec = setupEchoContext(t, http.MethodGet, "/status/picker", nil, nil)
	ctx.SetParamNames("component_type")
	ctx.SetParamValues("picker")
	require.NoError(t, controller.GetComponentStatus(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	byName := decodeBody(t, rec)
	assert.Contains(t, byName, "picker-1")

	// 404 for a type that never heartbeated
	ctx, rec = setupEchoContext(t, http.MethodGet, "/status/bundler", nil, nil)
	ctx.SetParamNames("component_type")
	ctx.SetParamValues("bundler")
	require.NoError(t, controller.GetComponentStatus(ctx))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// count
	ctx, rec = setupEchoContext(t, http.MethodGet, "/status/picker/count", nil, nil)
	ctx.SetParamNames("component_type")
	ctx.SetParamValues("picker")
	require.NoError(t, controller.CountComponentStatus(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestNerscStatusAggregates(t *testing.T) {
	stors := newTestStors(t)
	bundlesController := NewBundlesController(stors.BundleStor)
	controller := NewStatusController(stors.ComponentStatusStor, stors.BundleStor, 0)

	bulkCreateBundles(t, bundlesController, []map[string]any{
		testBundleDoc("/data/a"), testBundleDoc("/data/b"),
	})

	ctx, rec := setupEchoContext(t, http.MethodGet, "/status/nersc", nil, nil)
	require.NoError(t, controller.GetNerscStatus(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	bundles := body["bundles"].(map[string]any)
	assert.Equal(t, float64(2), bundles["specified"])
}
