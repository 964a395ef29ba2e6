package webapi

import (
	"net/http"
	"strconv"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/ltadb/stor"
)

type BundlesController struct {
	bundleStor stor.BundleStor
}

func NewBundlesController(bundleStor stor.BundleStor) *BundlesController {
	return &BundlesController{bundleStor: bundleStor}
}

// IndexBundles handles GET /Bundles. The default projection is uuid-only;
// fields=a,b,c widens it. Results are uuid ordered, paged with after/limit.
func (c *BundlesController) IndexBundles(ctx echo.Context) error {
	filter := stor.BundleFilter{
		Status:   ctx.QueryParam("status"),
		Request:  ctx.QueryParam("request"),
		Location: ctx.QueryParam("location"),
		After:    ctx.QueryParam("after"),
	}

	if v := ctx.QueryParam("verified"); v != "" {
		verified := truthyParam(v)
		filter.Verified = &verified
	}
	if l := ctx.QueryParam("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			return errorJSON(ctx, http.StatusBadRequest, "limit is not a non-negative integer")
		}
		filter.Limit = limit
	}

	bundles, err := c.bundleStor.ListBundles(filter)
	if err != nil {
		log.Errorf("BundlesController.IndexBundles: %s", err)
		return storError(ctx, err)
	}

	fields := parseFieldsParam(ctx)
	if fields == nil {
		uuids := make([]string, 0, len(bundles))
		for i := range bundles {
			uuids = append(uuids, bundles[i].UUID)
		}
		return ctx.JSON(http.StatusOK, map[string]any{"results": uuids})
	}

	results := make([]map[string]any, 0, len(bundles))
	for i := range bundles {
		projected, err := projectFields(&bundles[i], fields)
		if err != nil {
			return storError(ctx, err)
		}
		results = append(results, projected)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"results": results})
}

// BulkCreateBundles handles POST /Bundles/actions/bulk_create: all the
// bundles from a single picker or locator run land in one transaction.
func (c *BundlesController) BulkCreateBundles(ctx echo.Context) error {
	var body struct {
		Bundles []ltamodel.Bundle `json:"bundles"`
	}
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}
	if len(body.Bundles) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "bundles must be a non-empty list")
	}

	uuids, err := c.bundleStor.CreateBundles(body.Bundles)
	if err != nil {
		log.Errorf("BundlesController.BulkCreateBundles: %s", err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{"bundles": uuids, "count": len(uuids)})
}

// BulkDeleteBundles handles POST /Bundles/actions/bulk_delete.
func (c *BundlesController) BulkDeleteBundles(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	uuids, ok := stringList(body["bundles"])
	if !ok || len(uuids) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "bundles must be a non-empty list of uuids")
	}

	deleted, err := c.bundleStor.DeleteBundles(uuids)
	if err != nil {
		log.Errorf("BundlesController.BulkDeleteBundles: %s", err)
		return storError(ctx, err)
	}
	if deleted == nil {
		deleted = []string{}
	}

	return ctx.JSON(http.StatusOK, map[string]any{"bundles": deleted, "count": len(deleted)})
}

// BulkUpdateBundles handles POST /Bundles/actions/bulk_update: admin tooling
// applying one update to many bundles, e.g. un-quarantining a batch.
func (c *BundlesController) BulkUpdateBundles(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	uuids, ok := stringList(body["bundles"])
	if !ok || len(uuids) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "bundles must be a non-empty list of uuids")
	}
	update, ok := body["update"].(map[string]any)
	if !ok || len(update) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "update must be a non-empty object")
	}

	updated, err := c.bundleStor.UpdateBundles(uuids, stor.NewEntityUpdate(update))
	if err != nil {
		log.Errorf("BundlesController.BulkUpdateBundles: %s", err)
		return storError(ctx, err)
	}
	if updated == nil {
		updated = []string{}
	}

	return ctx.JSON(http.StatusOK, map[string]any{"bundles": updated, "count": len(updated)})
}

// PopBundle handles POST /Bundles/actions/pop?source=&dest=&status=. This is
// the claim primitive: at most one unclaimed bundle in the requested status
// is handed to the claimant.
func (c *BundlesController) PopBundle(ctx echo.Context) error {
	status := ctx.QueryParam("status")
	if status == "" {
		return errorJSON(ctx, http.StatusBadRequest, "status is required")
	}
	if !ltamodel.KnownBundleStatus(status) {
		return errorJSON(ctx, http.StatusBadRequest, "unknown status "+status)
	}

	source := ctx.QueryParam("source")
	dest := ctx.QueryParam("dest")
	if source == "" && dest == "" {
		return errorJSON(ctx, http.StatusBadRequest, "at least one of source and dest is required")
	}

	var body struct {
		Claimant string `json:"claimant"`
	}
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}
	if body.Claimant == "" {
		return errorJSON(ctx, http.StatusBadRequest, "claimant is required")
	}

	bundle, err := c.bundleStor.PopBundle(status, source, dest, body.Claimant)
	if err != nil {
		log.Errorf("BundlesController.PopBundle: %s", err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"bundle": bundle})
}

// GetBundle handles GET /Bundles/{uuid}.
func (c *BundlesController) GetBundle(ctx echo.Context) error {
	bundle, err := c.bundleStor.GetBundleByUUID(ctx.Param("uuid"))
	if err != nil {
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, bundle)
}

// PatchBundle handles PATCH /Bundles/{uuid} and returns the updated
// document. Fenced when the body carries a claimant.
func (c *BundlesController) PatchBundle(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	bundleUUID := ctx.Param("uuid")
	if bodyUUID, ok := body["uuid"].(string); ok && bodyUUID != bundleUUID {
		return errorJSON(ctx, http.StatusBadRequest, "body uuid does not match route uuid")
	}

	bundle, err := c.bundleStor.UpdateBundle(bundleUUID, stor.NewEntityUpdate(body))
	if err != nil {
		log.Errorf("BundlesController.PatchBundle %s: %s", bundleUUID, err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, bundle)
}

// DeleteBundle handles DELETE /Bundles/{uuid}.
func (c *BundlesController) DeleteBundle(ctx echo.Context) error {
	if err := c.bundleStor.DeleteBundle(ctx.Param("uuid")); err != nil {
		log.Errorf("BundlesController.DeleteBundle %s: %s", ctx.Param("uuid"), err)
		return storError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}
