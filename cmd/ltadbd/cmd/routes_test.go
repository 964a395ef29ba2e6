package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wipac/lta/pkg/ltadb"
	"github.com/wipac/lta/pkg/ltadb/stor"
	"github.com/wipac/lta/pkg/ltadbd/webapi/apimiddleware"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := ltadb.ConnectToSqlite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, ltadb.RunMigrations(db))

	authConfig, err := apimiddleware.NewAuthConfig(testSecret, "", "", "")
	require.NoError(t, err)

	e := echo.New()
	setupRoutes(e, RouteOpts{
		authConfig: authConfig,
		stors:      stor.NewGormStors(db),
	})

	return e
}

func signTestToken(t *testing.T, roles []string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"aud": apimiddleware.DefaultAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"resource_access": map[string]any{
			apimiddleware.DefaultAudience: map[string]any{
				"roles": roles,
			},
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	return signed
}

func doRequest(t *testing.T, e *echo.Echo, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}

func TestLivenessRouteIsOpen(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(t, e, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// The finisher worker runs with the system role and drives the bulk_delete
// actions while closing out a request; those routes must accept it.
func TestBulkDeleteActionsAcceptSystemRole(t *testing.T) {
	e := newTestServer(t)
	system := signTestToken(t, []string{"system"})

	rec := doRequest(t, e, http.MethodPost, "/Metadata/actions/bulk_delete", system,
		map[string]any{"metadata": []string{"some-uuid"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, e, http.MethodPost, "/Bundles/actions/bulk_delete", system,
		map[string]any{"bundles": []string{"some-uuid"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteRoutesRequireAdmin(t *testing.T) {
	e := newTestServer(t)
	system := signTestToken(t, []string{"system"})
	admin := signTestToken(t, []string{"admin"})

	rec := doRequest(t, e, http.MethodDelete, "/Metadata/some-uuid", system, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, e, http.MethodDelete, "/Metadata/some-uuid", admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, e, http.MethodDelete, "/Bundles/some-uuid", system, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReadOnlyRoleCannotPop(t *testing.T) {
	e := newTestServer(t)
	readOnly := signTestToken(t, []string{"read-only"})

	rec := doRequest(t, e, http.MethodPost, "/Bundles/actions/pop?source=WIPAC&status=specified", readOnly,
		map[string]any{"claimant": "picker-test"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/Bundles", readOnly, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
