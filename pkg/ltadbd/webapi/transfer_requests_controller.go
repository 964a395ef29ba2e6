package webapi

import (
	"net/http"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"

	"github.com/wipac/lta/pkg/ltadb/ltamodel"
	"github.com/wipac/lta/pkg/ltadb/stor"
)

type TransferRequestsController struct {
	transferRequestStor stor.TransferRequestStor
}

func NewTransferRequestsController(transferRequestStor stor.TransferRequestStor) *TransferRequestsController {
	return &TransferRequestsController{transferRequestStor: transferRequestStor}
}

// IndexTransferRequests handles GET /TransferRequests. Full documents, with
// an optional fields projection for cheap dashboards.
func (c *TransferRequestsController) IndexTransferRequests(ctx echo.Context) error {
	requests, err := c.transferRequestStor.ListTransferRequests(stor.RequestFilter{
		Status: ctx.QueryParam("status"),
		Source: ctx.QueryParam("source"),
		Dest:   ctx.QueryParam("dest"),
	})
	if err != nil {
		log.Errorf("TransferRequestsController.IndexTransferRequests: %s", err)
		return storError(ctx, err)
	}

	fields := parseFieldsParam(ctx)
	if fields == nil {
		return ctx.JSON(http.StatusOK, map[string]any{"results": requests})
	}

	results := make([]map[string]any, 0, len(requests))
	for i := range requests {
		projected, err := projectFields(&requests[i], fields)
		if err != nil {
			return storError(ctx, err)
		}
		results = append(results, projected)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"results": results})
}

// CreateTransferRequest handles POST /TransferRequests.
func (c *TransferRequestsController) CreateTransferRequest(ctx echo.Context) error {
	var req struct {
		Source string `json:"source"`
		Dest   string `json:"dest"`
		Path   string `json:"path"`
	}

	if err := ctx.Bind(&req); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}
	if req.Source == "" || req.Dest == "" || req.Path == "" {
		return errorJSON(ctx, http.StatusBadRequest, "source, dest, and path are required")
	}

	tr, err := c.transferRequestStor.CreateTransferRequest(&ltamodel.TransferRequest{
		Source: req.Source,
		Dest:   req.Dest,
		Path:   req.Path,
	})
	if err != nil {
		log.Errorf("TransferRequestsController.CreateTransferRequest: %s", err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]string{"TransferRequest": tr.UUID})
}

// GetTransferRequest handles GET /TransferRequests/{uuid}.
func (c *TransferRequestsController) GetTransferRequest(ctx echo.Context) error {
	tr, err := c.transferRequestStor.GetTransferRequestByUUID(ctx.Param("uuid"))
	if err != nil {
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, tr)
}

// PatchTransferRequest handles PATCH /TransferRequests/{uuid}. Worker
// PATCHes carry a claimant and are fenced by the store; admin PATCHes omit
// it.
func (c *TransferRequestsController) PatchTransferRequest(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}

	trUUID := ctx.Param("uuid")
	if bodyUUID, ok := body["uuid"].(string); ok && bodyUUID != trUUID {
		return errorJSON(ctx, http.StatusBadRequest, "body uuid does not match route uuid")
	}

	if _, err := c.transferRequestStor.UpdateTransferRequest(trUUID, stor.NewEntityUpdate(body)); err != nil {
		log.Errorf("TransferRequestsController.PatchTransferRequest %s: %s", trUUID, err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{})
}

// DeleteTransferRequest handles DELETE /TransferRequests/{uuid}; deleting a
// request that is already gone is a success.
func (c *TransferRequestsController) DeleteTransferRequest(ctx echo.Context) error {
	if err := c.transferRequestStor.DeleteTransferRequest(ctx.Param("uuid")); err != nil {
		log.Errorf("TransferRequestsController.DeleteTransferRequest %s: %s", ctx.Param("uuid"), err)
		return storError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// PopTransferRequest handles POST /TransferRequests/actions/pop. At most one
// unclaimed request is claimed for the caller; null when the queue is empty.
func (c *TransferRequestsController) PopTransferRequest(ctx echo.Context) error {
	var body struct {
		Claimant string `json:"claimant"`
	}
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}
	if body.Claimant == "" {
		return errorJSON(ctx, http.StatusBadRequest, "claimant is required")
	}

	tr, err := c.transferRequestStor.PopTransferRequest(ctx.QueryParam("source"), ctx.QueryParam("dest"), body.Claimant)
	if err != nil {
		log.Errorf("TransferRequestsController.PopTransferRequest: %s", err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"transfer_request": tr})
}
