package webapi

import (
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/labstack/echo/v4"

	"github.com/wipac/lta/pkg/ltadb/stor"
)

// DefaultHealthWindow is how fresh a component type's newest heartbeat must
// be before GET /status reports WARN for it.
const DefaultHealthWindow = 600 * time.Second

type StatusController struct {
	statusStor   stor.ComponentStatusStor
	bundleStor   stor.BundleStor
	healthWindow time.Duration
}

func NewStatusController(statusStor stor.ComponentStatusStor, bundleStor stor.BundleStor, healthWindow time.Duration) *StatusController {
	if healthWindow <= 0 {
		healthWindow = DefaultHealthWindow
	}
	return &StatusController{statusStor: statusStor, bundleStor: bundleStor, healthWindow: healthWindow}
}

// PatchComponentStatus handles PATCH /status/{component_type}: the heartbeat
// upsert. The body maps component names to their status payloads.
func (c *StatusController) PatchComponentStatus(ctx echo.Context) error {
	var body map[string]any
	if err := ctx.Bind(&body); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "body is not valid JSON")
	}
	if len(body) == 0 {
		return errorJSON(ctx, http.StatusBadRequest, "body must map component names to status objects")
	}

	componentType := ctx.Param("component_type")
	for componentName, payloadValue := range body {
		payload, ok := payloadValue.(map[string]any)
		if !ok {
			return errorJSON(ctx, http.StatusBadRequest, "status for "+componentName+" is not an object")
		}

		if err := c.statusStor.UpsertComponentStatus(componentType, componentName, payload); err != nil {
			log.Errorf("StatusController.PatchComponentStatus %s/%s: %s", componentType, componentName, err)
			return storError(ctx, err)
		}
	}

	return ctx.JSON(http.StatusOK, map[string]any{})
}

// IndexStatus handles GET /status: overall health plus the component names
// seen per type. A type goes WARN when even its freshest heartbeat is stale.
func (c *StatusController) IndexStatus(ctx echo.Context) error {
	statuses, err := c.statusStor.GetAllComponentStatuses()
	if err != nil {
		log.Errorf("StatusController.IndexStatus: %s", err)
		return storError(ctx, err)
	}

	names := make(map[string][]string)
	freshest := make(map[string]time.Time)
	for i := range statuses {
		status := &statuses[i]
		names[status.ComponentType] = append(names[status.ComponentType], status.ComponentName)
		if status.ReceivedTimestamp.After(freshest[status.ComponentType]) {
			freshest[status.ComponentType] = status.ReceivedTimestamp
		}
	}

	health := "OK"
	cutoff := time.Now().UTC().Add(-c.healthWindow)
	result := make(map[string]any)
	for componentType, componentNames := range names {
		result[componentType] = componentNames
		if freshest[componentType].Before(cutoff) {
			health = "WARN"
		}
	}
	result["health"] = health

	return ctx.JSON(http.StatusOK, result)
}

// GetComponentStatus handles GET /status/{component_type}: the latest
// payload per instance, or 404 when the type has never heartbeated.
func (c *StatusController) GetComponentStatus(ctx echo.Context) error {
	componentType := ctx.Param("component_type")

	statuses, err := c.statusStor.GetComponentStatuses(componentType)
	if err != nil {
		log.Errorf("StatusController.GetComponentStatus %s: %s", componentType, err)
		return storError(ctx, err)
	}
	if len(statuses) == 0 {
		return errorJSON(ctx, http.StatusNotFound, "no status for component type "+componentType)
	}

	result := make(map[string]any)
	for i := range statuses {
		result[statuses[i].ComponentName] = statuses[i].Payload
	}

	return ctx.JSON(http.StatusOK, result)
}

// CountComponentStatus handles GET /status/{component_type}/count.
func (c *StatusController) CountComponentStatus(ctx echo.Context) error {
	componentType := ctx.Param("component_type")

	count, err := c.statusStor.CountComponentsOfType(componentType)
	if err != nil {
		log.Errorf("StatusController.CountComponentStatus %s: %s", componentType, err)
		return storError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"component_type": componentType, "count": count})
}

// GetNerscStatus handles GET /status/nersc: bundle counts by status for the
// NERSC destination, the tape dashboard's one query.
func (c *StatusController) GetNerscStatus(ctx echo.Context) error {
	counts, err := c.bundleStor.CountBundlesByStatus("NERSC")
	if err != nil {
		log.Errorf("StatusController.GetNerscStatus: %s", err)
		return storError(ctx, err)
	}

	var total int64
	byStatus := make(map[string]any)
	for status, count := range counts {
		byStatus[status] = count
		total += count
	}

	return ctx.JSON(http.StatusOK, map[string]any{"dest": "NERSC", "bundles": byStatus, "total": total})
}
