package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/subsim/internal/application/substructure"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// NeighborFinder lists the molecules that share a substructure with id in
// the exported similarity graph.
type NeighborFinder interface {
	Neighbors(ctx context.Context, id string) ([]string, error)
}

// RunRequest is the body of POST /api/v1/runs.
type RunRequest struct {
	Records []mtypes.Record `json:"records"`
}

// RunListResponse is the body of GET /api/v1/runs.
type RunListResponse struct {
	Runs     []mtypes.RunSummary `json:"runs"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// NeighborsResponse is the body of GET /api/v1/molecules/:id/neighbors.
type NeighborsResponse struct {
	ID        string   `json:"id"`
	Neighbors []string `json:"neighbors"`
}

// RunHandler serves similarity runs.
type RunHandler struct {
	svc        substructure.Service
	neighbors  NeighborFinder
	maxRecords int
	logger     logging.Logger
}

// NewRunHandler creates a RunHandler.  maxRecords <= 0 disables the request
// size check; neighbors may be nil when no graph database is configured.
func NewRunHandler(svc substructure.Service, neighbors NeighborFinder, maxRecords int, log logging.Logger) *RunHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunHandler{svc: svc, neighbors: neighbors, maxRecords: maxRecords, logger: log.Named("http.runs")}
}

// RegisterRoutes mounts the run routes on an /api/v1 group.
func (h *RunHandler) RegisterRoutes(api *gin.RouterGroup, admission ...gin.HandlerFunc) {
	runs := api.Group("/runs")
	runs.POST("", append(admission, h.Create)...)
	runs.GET("", h.List)
	runs.GET("/:id", h.Get)

	if h.neighbors != nil {
		api.GET("/molecules/:id/neighbors", h.Neighbors)
	}
}

// Create runs the posted records against the loaded library and returns
// the full report.
func (h *RunHandler) Create(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body", err.Error())
		return
	}
	if len(req.Records) == 0 {
		writeBadRequest(c, "records must not be empty", "")
		return
	}
	if h.maxRecords > 0 && len(req.Records) > h.maxRecords {
		writeBadRequest(c, "too many records", "max_records="+strconv.Itoa(h.maxRecords))
		return
	}

	report, err := h.svc.Run(c.Request.Context(), req.Records)
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// Get returns a stored run.
func (h *RunHandler) Get(c *gin.Context) {
	report, err := h.svc.GetRun(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// List returns run summaries, newest first.
func (h *RunHandler) List(c *gin.Context) {
	limit, offset := parsePagination(c)
	runs, err := h.svc.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: runs, Page: offset/limit + 1, PageSize: limit})
}

// Neighbors returns the ids linked to a molecule by SHARES_SUBSTRUCTURE.
func (h *RunHandler) Neighbors(c *gin.Context) {
	id := c.Param("id")
	ids, err := h.neighbors.Neighbors(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, NeighborsResponse{ID: id, Neighbors: ids})
}
