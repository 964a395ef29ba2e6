package webapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/wipac/lta/pkg/ltadb/stor"
)

// errorJSON is the body shape for every non-2xx response.
func errorJSON(ctx echo.Context, code int, msg string) error {
	return ctx.JSON(code, map[string]string{"error": msg})
}

// storError maps store sentinel errors onto response codes: missing entities
// are 404, lost claims are 409, malformed updates are 400, an immutable
// checksum write is 409, anything else is a retryable 500.
func storError(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, stor.ErrNotFound):
		return errorJSON(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, stor.ErrClaimConflict), errors.Is(err, stor.ErrChecksumImmutable):
		return errorJSON(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, stor.ErrInvalidUpdate):
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	default:
		return errorJSON(ctx, http.StatusInternalServerError, err.Error())
	}
}

// projectFields reduces a document to the requested wire fields; uuid is
// always included so callers can follow up. The doc goes through its JSON
// form so the projection sees wire names, not Go names.
func projectFields(doc any, fields []string) (map[string]any, error) {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var full map[string]any
	if err := json.Unmarshal(encoded, &full); err != nil {
		return nil, err
	}

	projected := map[string]any{"uuid": full["uuid"]}
	for _, field := range fields {
		if value, ok := full[field]; ok {
			projected[field] = value
		}
	}

	return projected, nil
}

// parseFieldsParam splits a fields=a,b,c query value.
func parseFieldsParam(ctx echo.Context) []string {
	raw := ctx.QueryParam("fields")
	if raw == "" {
		return nil
	}

	var fields []string
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field != "" {
			fields = append(fields, field)
		}
	}

	return fields
}

// truthyParam matches the boolean query arg forms: 1, t, true, y, yes.
func truthyParam(val string) bool {
	switch strings.ToLower(val) {
	case "1", "t", "true", "y", "yes":
		return true
	default:
		return false
	}
}

// stringList coerces a decoded JSON array into strings, rejecting anything
// else.
func stringList(value any) ([]string, bool) {
	list, ok := value.([]any)
	if !ok {
		return nil, false
	}

	items := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		items = append(items, s)
	}

	return items, true
}
