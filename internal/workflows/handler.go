package workflows

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	types := rg.Group("/workflow-types")
	{
		types.POST("", h.CreateWorkflowType)
		types.GET("", h.SearchWorkflowTypes)
		types.GET("/:id", h.GetWorkflowType)
		types.PUT("/:id", h.UpdateWorkflowType)
		types.DELETE("/:id", h.DeleteWorkflowType)
	}

	wfs := rg.Group("/workflows")
	{
		wfs.POST("", h.CreateWorkflow)
		wfs.GET("", h.SearchWorkflows)
		wfs.GET("/:id", h.GetWorkflow)
		wfs.GET("/:id/sequence", h.PreviewSequence)
		wfs.PUT("/:id", h.UpdateWorkflow)
		wfs.DELETE("/:id", h.DeleteWorkflow)
	}

	stages := rg.Group("/stages")
	{
		stages.POST("", h.CreateStage)
		stages.GET("", h.ListStages)
		stages.PUT("/positions", h.UpdateStagePositions)
		stages.GET("/:id", h.GetStage)
		stages.PUT("/:id", h.UpdateStage)
		stages.DELETE("/:id", h.DeleteStage)
	}
}

func (h *Handler) CreateWorkflowType(c *gin.Context) {
	var req WorkflowTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}

	wt, err := h.service.CreateWorkflowType(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": wt})
}

func (h *Handler) SearchWorkflowTypes(c *gin.Context) {
	filter := parseFilter(c)
	types, total, err := h.service.SearchWorkflowTypes(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paged(types, total, filter))
}

func (h *Handler) GetWorkflowType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	wt, err := h.service.GetWorkflowType(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wt})
}

func (h *Handler) UpdateWorkflowType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req WorkflowTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	wt, err := h.service.UpdateWorkflowType(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wt})
}

func (h *Handler) DeleteWorkflowType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteWorkflowType(c.Request.Context(), id); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workflow Type deleted"})
}

func (h *Handler) CreateWorkflow(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		apperrors.Respond(c, h.logger, auth.ErrMissingPrincipal)
		return
	}

	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}

	wf, err := h.service.CreateWorkflow(c.Request.Context(), req, principal.UserID)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": wf})
}

func (h *Handler) SearchWorkflows(c *gin.Context) {
	filter := parseFilter(c)
	if v := c.Query("workflow_type_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.BadRequest(c, "invalid workflow_type_id")
			return
		}
		filter.WorkflowTypeID = &id
	}
	if v := c.Query("created_by_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.BadRequest(c, "invalid created_by_id")
			return
		}
		filter.CreatedByID = &id
	}

	wfs, total, err := h.service.SearchWorkflows(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paged(wfs, total, filter))
}

func (h *Handler) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	wf, err := h.service.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wf})
}

// PreviewSequence shows the path a new document would follow.
func (h *Handler) PreviewSequence(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	snap, err := h.service.SequenceWorkflow(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (h *Handler) UpdateWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	wf, err := h.service.UpdateWorkflow(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wf})
}

func (h *Handler) DeleteWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteWorkflow(c.Request.Context(), id); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workflow deleted"})
}

func (h *Handler) CreateStage(c *gin.Context) {
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	st, err := h.service.CreateStage(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": st})
}

func (h *Handler) ListStages(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Query("workflow_id"))
	if err != nil {
		apperrors.BadRequest(c, "workflow_id is required")
		return
	}
	stages, err := h.service.ListStages(c.Request.Context(), workflowID)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stages})
}

func (h *Handler) UpdateStagePositions(c *gin.Context) {
	var body struct {
		Stages []PositionUpdate `json:"stages" binding:"required,min=1,dive"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	if err := h.service.UpdateStagePositions(c.Request.Context(), body.Stages); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stages updated", "count": len(body.Stages)})
}

func (h *Handler) GetStage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st, err := h.service.GetStage(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st})
}

func (h *Handler) UpdateStage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	st, err := h.service.UpdateStage(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": st})
}

func (h *Handler) DeleteStage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteStage(c.Request.Context(), id); err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Stage deleted"})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperrors.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(c *gin.Context) SearchFilter {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	return SearchFilter{
		Name:  c.Query("name"),
		Page:  page,
		Limit: limit,
	}.normalize()
}

func paged(data interface{}, total int64, filter SearchFilter) gin.H {
	return gin.H{
		"data": data,
		"pagination": gin.H{
			"page":  filter.Page,
			"limit": filter.Limit,
			"total": total,
		},
	}
}
