package catalog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/handler"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/httputil"
)

// AffectedCasesHeader reports how many cases a forced stage removal touched.
const AffectedCasesHeader = "X-Affected-Cases"

type Service interface {
	CreateCaseType(ctx context.Context, req *model.CreateCaseTypeRequest) (*model.CaseType, error)
	GetCaseType(ctx context.Context, id uuid.UUID) (*model.CaseType, error)
	ListCaseTypes(ctx context.Context) ([]*model.CaseType, error)
	RenameCaseType(ctx context.Context, id uuid.UUID, name string) (*model.CaseType, error)
	DeleteCaseType(ctx context.Context, id uuid.UUID) error
	AddStage(ctx context.Context, typeID uuid.UUID, req *model.StageTemplateRequest) (*model.CaseType, error)
	UpdateStage(ctx context.Context, typeID, stageID uuid.UUID, req *model.UpdateStageRequest) (*model.CaseType, error)
	ReorderStages(ctx context.Context, typeID uuid.UUID, ids []uuid.UUID) (*model.CaseType, error)
	RemoveStage(ctx context.Context, typeID, stageID uuid.UUID, force bool) (*model.CaseType, int, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the catalog. manage guards every write.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, manage gin.HandlerFunc) {
	types := r.Group("/types")
	{
		types.GET("", h.ListCaseTypes)
		types.GET("/:id", h.GetCaseType)

		types.POST("", manage, h.CreateCaseType)
		types.PATCH("/:id", manage, h.RenameCaseType)
		types.DELETE("/:id", manage, h.DeleteCaseType)
		types.POST("/:id/stages", manage, h.AddStage)
		types.PUT("/:id/stages", manage, h.ReorderStages)
		types.PUT("/:id/stages/:stageId", manage, h.UpdateStage)
		types.DELETE("/:id/stages/:stageId", manage, h.RemoveStage)
	}
}

func (h *Handler) CreateCaseType(c *gin.Context) {
	var req model.CreateCaseTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	ct, err := h.service.CreateCaseType(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, ct)
}

func (h *Handler) ListCaseTypes(c *gin.Context) {
	types, err := h.service.ListCaseTypes(c.Request.Context())
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, types)
}

func (h *Handler) GetCaseType(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	ct, err := h.service.GetCaseType(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ct)
}

func (h *Handler) RenameCaseType(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.RenameCaseTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	ct, err := h.service.RenameCaseType(c.Request.Context(), id, req.Name)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ct)
}

func (h *Handler) DeleteCaseType(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.DeleteCaseType(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AddStage(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.StageTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	ct, err := h.service.AddStage(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, ct)
}

func (h *Handler) UpdateStage(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	stageID, err := handler.ParamUUID(c, "stageId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.UpdateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	ct, err := h.service.UpdateStage(c.Request.Context(), id, stageID, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ct)
}

func (h *Handler) ReorderStages(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.ReorderStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	ct, err := h.service.ReorderStages(c.Request.Context(), id, req.StageIDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ct)
}

func (h *Handler) RemoveStage(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	stageID, err := handler.ParamUUID(c, "stageId")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		if force, err = strconv.ParseBool(raw); err != nil {
			httputil.RespondWithError(c, errors.BadRequest("force must be a boolean", err))
			return
		}
	}

	ct, affected, err := h.service.RemoveStage(c.Request.Context(), id, stageID, force)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Header(AffectedCasesHeader, strconv.Itoa(affected))
	httputil.RespondWithSuccess(c, ct)
}
