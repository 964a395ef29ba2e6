package cmd

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wipac/lta/pkg/ltadb/stor"
	"github.com/wipac/lta/pkg/ltadbd/webapi"
	"github.com/wipac/lta/pkg/ltadbd/webapi/apimiddleware"
)

type RouteOpts struct {
	authConfig *apimiddleware.AuthConfig
	stors      *stor.Stors
}

func setupRoutes(e *echo.Echo, opts RouteOpts) {
	// liveness stays open for the orchestrator's probes
	e.GET("/", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]any{})
	})

	read := apimiddleware.RequireRole(opts.authConfig,
		apimiddleware.RoleAdmin, apimiddleware.RoleSystem, apimiddleware.RoleReadOnly)
	write := apimiddleware.RequireRole(opts.authConfig,
		apimiddleware.RoleAdmin, apimiddleware.RoleSystem)
	remove := apimiddleware.RequireRole(opts.authConfig, apimiddleware.RoleAdmin)

	transferRequestsController := webapi.NewTransferRequestsController(opts.stors.TransferRequestStor)
	e.GET("/TransferRequests", transferRequestsController.IndexTransferRequests, read)
	e.POST("/TransferRequests", transferRequestsController.CreateTransferRequest, write)
	e.POST("/TransferRequests/actions/pop", transferRequestsController.PopTransferRequest, write)
	e.GET("/TransferRequests/:uuid", transferRequestsController.GetTransferRequest, read)
	e.PATCH("/TransferRequests/:uuid", transferRequestsController.PatchTransferRequest, write)
	e.DELETE("/TransferRequests/:uuid", transferRequestsController.DeleteTransferRequest, remove)

	bundlesController := webapi.NewBundlesController(opts.stors.BundleStor)
	e.GET("/Bundles", bundlesController.IndexBundles, read)
	e.POST("/Bundles/actions/bulk_create", bundlesController.BulkCreateBundles, write)
	e.POST("/Bundles/actions/bulk_delete", bundlesController.BulkDeleteBundles, write)
	e.POST("/Bundles/actions/bulk_update", bundlesController.BulkUpdateBundles, write)
	e.POST("/Bundles/actions/pop", bundlesController.PopBundle, write)
	e.GET("/Bundles/:uuid", bundlesController.GetBundle, read)
	e.PATCH("/Bundles/:uuid", bundlesController.PatchBundle, write)
	e.DELETE("/Bundles/:uuid", bundlesController.DeleteBundle, remove)

	metadataController := webapi.NewMetadataController(opts.stors.MetadataStor)
	e.GET("/Metadata", metadataController.IndexMetadata, read)
	e.DELETE("/Metadata", metadataController.DeleteMetadataForBundle, remove)
	e.POST("/Metadata/actions/bulk_create", metadataController.BulkCreateMetadata, write)
	e.POST("/Metadata/actions/bulk_delete", metadataController.BulkDeleteMetadata, write)
	e.GET("/Metadata/:uuid", metadataController.GetMetadataRecord, read)
	e.DELETE("/Metadata/:uuid", metadataController.DeleteMetadataRecord, remove)

	statusController := webapi.NewStatusController(
		opts.stors.ComponentStatusStor, opts.stors.BundleStor, webapi.DefaultHealthWindow)
	e.GET("/status", statusController.IndexStatus, read)
	e.GET("/status/nersc", statusController.GetNerscStatus, read)
	e.PATCH("/status/:component_type", statusController.PatchComponentStatus, write)
	e.GET("/status/:component_type", statusController.GetComponentStatus, read)
	e.GET("/status/:component_type/count", statusController.CountComponentStatus, read)
}
