package casework

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/handler"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, req *model.CreateCaseRequest, actor *model.ActingUser) (*model.Case, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Case, error)
	List(ctx context.Context, filters *model.CaseFilters) ([]*model.Case, int, error)
	Patch(ctx context.Context, id uuid.UUID, req *model.PatchCaseRequest, actor *model.ActingUser) (*model.Case, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Display(ctx context.Context, id uuid.UUID) (*model.DisplayCase, error)
	Audit(ctx context.Context, id uuid.UUID) (model.AuditTrail, error)
	Advance(ctx context.Context, id uuid.UUID, req *model.AdvanceRequest, actor *model.ActingUser) (*model.Case, error)
	SetStageStatus(ctx context.Context, id, stageID uuid.UUID, req *model.StageStatusRequest, actor *model.ActingUser) (*model.Case, error)
	OverrideDelivery(ctx context.Context, id uuid.UUID, req *model.DeliveryRequest, actor *model.ActingUser) (*model.Case, error)
	Approve(ctx context.Context, id uuid.UUID, req *model.ApprovalRequest, actor *model.ActingUser) (*model.Case, error)
}

// PermissionGate returns middleware that rejects callers lacking permission.
type PermissionGate func(permission string) gin.HandlerFunc

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, require PermissionGate) {
	cases := r.Group("/cases")
	{
		cases.POST("", h.CreateCase)
		cases.GET("", h.ListCases)
		cases.GET("/:id", h.GetCase)
		cases.GET("/:id/display", h.DisplayCase)
		cases.GET("/:id/audit", h.GetAuditTrail)
		cases.PATCH("/:id", h.PatchCase)
		cases.DELETE("/:id", h.DeleteCase)

		cases.POST("/:id/advance", h.Advance)
		cases.POST("/:id/stages/:stageId/status", h.SetStageStatus)
		cases.POST("/:id/delivery", require(model.PermissionCasesOverrideDelivery), h.OverrideDelivery)
		cases.POST("/:id/approve", require(model.PermissionCasesApprove), h.Approve)
	}
}

type listQuery struct {
	model.Pagination
	DoctorID       string `form:"doctor_id" binding:"omitempty,uuid"`
	PatientID      string `form:"patient_id" binding:"omitempty,uuid"`
	CaseTypeID     string `form:"case_type_id" binding:"omitempty,uuid"`
	DeliveryStatus string `form:"delivery_status" binding:"omitempty,delivery_status"`
}

func (q listQuery) filters() *model.CaseFilters {
	f := &model.CaseFilters{Pagination: q.Pagination}
	f.DoctorID = optionalUUID(q.DoctorID)
	f.PatientID = optionalUUID(q.PatientID)
	f.CaseTypeID = optionalUUID(q.CaseTypeID)
	if q.DeliveryStatus != "" {
		s := model.DeliveryStatus(q.DeliveryStatus)
		f.DeliveryStatus = &s
	}
	return f
}

func optionalUUID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func (h *Handler) CreateCase(c *gin.Context) {
	var req model.CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, created)
}

func (h *Handler) ListCases(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	filters := q.filters()
	cases, total, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, cases, filters.Page, filters.PageSize, total)
}

func (h *Handler) GetCase(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, found)
}

func (h *Handler) DisplayCase(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	display, err := h.service.Display(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, display)
}

func (h *Handler) GetAuditTrail(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	trail, err := h.service.Audit(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, trail)
}

func (h *Handler) PatchCase(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.PatchCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	updated, err := h.service.Patch(c.Request.Context(), id, &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) DeleteCase(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Advance(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.AdvanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httputil.RespondWithBindingError(c, err)
			return
		}
	}
	if req.TargetOrder != nil && req.TargetStageID != nil {
		httputil.RespondWithError(c, errors.BadRequest("target_order and target_stage_id are mutually exclusive", nil))
		return
	}

	updated, err := h.service.Advance(c.Request.Context(), id, &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) SetStageStatus(c *gin.Context) {
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
	var req model.StageStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	updated, err := h.service.SetStageStatus(c.Request.Context(), id, stageID, &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) OverrideDelivery(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	updated, err := h.service.OverrideDelivery(c.Request.Context(), id, &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}

func (h *Handler) Approve(c *gin.Context) {
	id, err := handler.ParamUUID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req model.ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithBindingError(c, err)
		return
	}

	updated, err := h.service.Approve(c.Request.Context(), id, &req, handler.Actor(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, updated)
}
