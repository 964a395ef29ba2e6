package webapi

import (
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"

	"github.com/wipac/lta/pkg/ltadb/stor"
)

type MetadataController struct {
	metadataStor stor.MetadataStor
}

func NewMetadataController(metadataStor stor.MetadataStor) *MetadataController {
	return &MetadataController{metadataStor: metadataStor}
}

// IndexMetadata handles GET /Metadata?bundle_uuid=&limit=&skip=.
func (c *MetadataController) IndexMetadata(ctx echo.Context) error {
	bundleUUID := ctx.QueryParam("bundle_uuid")
	if bundleUUID == "" {
		return errorJSON(ctx, http.StatusBadRequest, "bundle_uuid is required")
	}

	limit, err := intParam(ctx, "limit", 1000)
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "limit is not a non-negative integer")
	}
	skip, err := intParam(ctx, "skip", 0)
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "skip is not a non-negative integer")
	}

	records, err := c.metadataStor.ListMetadataForBundle(bundleUUID, limit, skip)
	if err != nil {
		log.Errorf("MetadataController.IndexMetadata %s: %s", bundleUUID, err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"results": records})
}

// GetMetadataRecord handles GET /Metadata/{uuid}.
func (c *MetadataController) GetMetadataRecord(ctx echo.Context) error {
	record, err := c.metadataStor.GetMetadataRecord(ctx.Param("uuid"))
	if err != nil {
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, record)
}

// DeleteMetadataRecord handles DELETE /Metadata/{uuid}.
func (c *MetadataController) DeleteMetadataRecord(ctx echo.Context) error {
	if err := c.metadataStor.DeleteMetadataRecord(ctx.Param("uuid")); err != nil {
		log.Errorf("MetadataController.DeleteMetadataRecord %s: %s", ctx.Param("uuid"), err)
		return storError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// DeleteMetadataForBundle handles DELETE /Metadata?bundle_uuid=.
func (c *MetadataController) DeleteMetadataForBundle(ctx echo.Context) error {
	bundleUUID := ctx.QueryParam("bundle_uuid")
	if bundleUUID == "" {
		return errorJSON(ctx, http.StatusBadRequest, "bundle_uuid is required")
	}

	if err := c.metadataStor.DeleteMetadataForBundle(bundleUUID); err != nil {
		log.Errorf("MetadataController.DeleteMetadataForBundle %s: %s", bundleUUID, err)
		return storError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// BulkCreateMetadata handles POST /Metadata/actions/bulk_create: one record
// per catalog file, associating them all with the bundle.
func (c *MetadataController) BulkCreateMetadata(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	bundleUUID, ok := body["bundle_uuid"].(string)
	if !ok || bundleUUID == "" {
		return errorJSON(ctx, http.StatusBadRequest, "bundle_uuid is required")
	}
	files, ok := stringList(body["files"])
	if !ok || len(files) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "files must be a non-empty list of uuids")
	}

	uuids, err := c.metadataStor.CreateMetadataRecords(bundleUUID, files)
	if err != nil {
		log.Errorf("MetadataController.BulkCreateMetadata %s: %s", bundleUUID, err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{"metadata": uuids, "count": len(uuids)})
}

// BulkDeleteMetadata handles POST /Metadata/actions/bulk_delete.
func (c *MetadataController) BulkDeleteMetadata(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	uuids, ok := stringList(body["metadata"])
	if !ok || len(uuids) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "metadata must be a non-empty list of uuids")
	}

	count, err := c.metadataStor.DeleteMetadataRecords(uuids)
	if err != nil {
		log.Errorf("MetadataController.BulkDeleteMetadata: %s", err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"metadata": uuids, "count": count})
}

func intParam(ctx echo.Context, name string, defaultValue int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, strconv.ErrSyntax
	}

	return val, nil
}
