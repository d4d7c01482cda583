package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/igdrones/ig-docs-backend/internal/apperrors"
	"github.com/igdrones/ig-docs-backend/internal/auth"
	"github.com/igdrones/ig-docs-backend/internal/documents/export"
)

const defaultMaxUpload = 5 << 20

var registerValidators sync.Once

type Handler struct {
	service   Service
	logger    *zap.Logger
	maxUpload int64
}

// NewHandler creates the document handler. maxUpload bounds each uploaded
// file; zero means 5 MiB.
func NewHandler(service Service, logger *zap.Logger, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	registerValidators.Do(func() {
		if err := RegisterValidators(); err != nil {
			logger.Error("Failed to register upload validators", zap.Error(err))
		}
	})
	return &Handler{service: service, logger: logger, maxUpload: maxUpload}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	{
		docs.POST("", h.Create)
		docs.GET("", h.Search)
		docs.GET("/stage-action/me", h.MyStageActions)
		docs.GET("/stage-request/me", h.MyStageRequests)
		docs.GET("/:id", h.Get)
		docs.PUT("/:id/stage", h.AssignStage)
		docs.POST("/:id/submit", h.Submit)
		docs.POST("/:id/versions", h.CreateVersion)
		docs.GET("/:id/versions", h.ListVersions)
		docs.GET("/:id/versions/export", h.ExportVersions)
	}

	fields := rg.Group("/document-fields")
	{
		fields.POST("", h.CreateFields)
		fields.GET("", h.ListFields)
		fields.GET("/:id", h.GetField)
		fields.PUT("/:id", h.UpdateField)
	}

	sigs := rg.Group("/signatures")
	{
		sigs.POST("/validate", h.VerifyUpload)
		sigs.GET("/validate", h.VerifyStored)
	}
}

type createForm struct {
	Name           string `form:"name" binding:"required,max=255"`
	WorkflowTypeID string `form:"workflow_type_id" binding:"required,uuid"`
	WorkflowID     string `form:"workflow_id" binding:"required,uuid"`
}

type versionData struct {
	Content string `json:"content" binding:"required"`
	Status  Action `json:"status" binding:"required,oneof=Accepted Rejected Review Reviewed Completed"`
}

func (h *Handler) Create(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	h.limitBody(c, 1)

	var form createForm
	if err := c.ShouldBind(&form); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	file, header, ok := h.readFile(c, "document", true)
	if !ok {
		return
	}
	if err := binding.Validator.ValidateStruct(&uploadMeta{Document: header.Filename}); err != nil {
		apperrors.BadRequest(c, "document must be a PDF file")
		return
	}

	view, err := h.service.CreateDocument(c.Request.Context(), CreateDocumentInput{
		Name:           form.Name,
		WorkflowTypeID: uuid.MustParse(form.WorkflowTypeID),
		WorkflowID:     uuid.MustParse(form.WorkflowID),
		Filename:       header.Filename,
		ContentType:    contentType(header, "application/pdf"),
		Content:        file,
	}, principal)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Document uploaded successfully", "data": view})
}

func (h *Handler) Search(c *gin.Context) {
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	docs, total, err := h.service.SearchDocuments(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paged(docs, total, filter))
}

func (h *Handler) MyStageActions(c *gin.Context) {
	h.assigned(c, h.service.MyStageActions)
}

func (h *Handler) MyStageRequests(c *gin.Context) {
	h.assigned(c, h.service.MyStageRequests)
}

func (h *Handler) assigned(c *gin.Context, list func(context.Context, auth.Principal, SearchFilter) ([]Document, int64, error)) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	docs, total, err := list(c.Request.Context(), principal, filter)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paged(docs, total, filter))
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.service.GetDocument(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (h *Handler) AssignStage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AssignStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	view, err := h.service.AssignStage(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document stage updated successfully", "data": view})
}

func (h *Handler) Submit(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.service.Submit(c.Request.Context(), id, principal)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document submitted successfully", "data": res})
}

func (h *Handler) CreateVersion(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	h.limitBody(c, 2)

	file, header, ok := h.readFile(c, "documents", true)
	if !ok {
		return
	}
	signature, sigHeader, ok := h.readFile(c, "signatureFile", false)
	if !ok {
		return
	}
	meta := uploadMeta{Document: header.Filename}
	if sigHeader != nil {
		meta.Signature = sigHeader.Filename
	}
	if err := binding.Validator.ValidateStruct(&meta); err != nil {
		apperrors.BadRequest(c, "documents must be a PDF and signatureFile a PNG, JPG or JPEG image")
		return
	}

	var data versionData
	if err := json.Unmarshal([]byte(c.PostForm("data")), &data); err != nil {
		apperrors.BadRequest(c, "data must be a JSON object with content and status")
		return
	}
	if err := binding.Validator.ValidateStruct(&data); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}

	res, err := h.service.CreateVersion(c.Request.Context(), id, VersionInput{
		Action:      data.Status,
		Content:     data.Content,
		Filename:    header.Filename,
		ContentType: contentType(header, "application/pdf"),
		File:        file,
		Signature:   signature,
	}, principal)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": versionMessage(res.Document.Status), "data": res})
}

func (h *Handler) ListVersions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	versions, total, err := h.service.ListVersions(c.Request.Context(), id, filter.Page, filter.Limit)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, paged(versions, total, filter))
}

func (h *Handler) ExportVersions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	file, err := h.service.ExportVersions(c.Request.Context(), id, format)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

func (h *Handler) CreateFields(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}
	var req FieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	field, err := h.service.CreateFields(c.Request.Context(), req, principal)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": field})
}

func (h *Handler) ListFields(c *gin.Context) {
	docID, err := uuid.Parse(c.Query("document_id"))
	if err != nil {
		apperrors.BadRequest(c, "document_id is required")
		return
	}
	fields, err := h.service.ListFields(c.Request.Context(), docID)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fields})
}

func (h *Handler) GetField(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	field, err := h.service.GetField(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": field})
}

func (h *Handler) UpdateField(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req FieldsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.BadRequest(c, err.Error())
		return
	}
	field, err := h.service.UpdateField(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": field})
}

func (h *Handler) VerifyUpload(c *gin.Context) {
	h.limitBody(c, 1)
	file, _, ok := h.readFile(c, "document", true)
	if !ok {
		return
	}
	infos, err := h.service.VerifySignatures(c.Request.Context(), file)
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": infos})
}

func (h *Handler) VerifyStored(c *gin.Context) {
	infos, err := h.service.VerifyStoredSignatures(c.Request.Context(), c.Query("key"))
	if err != nil {
		apperrors.Respond(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": infos})
}

func (h *Handler) principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		apperrors.Respond(c, h.logger, auth.ErrMissingPrincipal)
	}
	return p, ok
}

// limitBody caps the request at files uploads plus form overhead.
func (h *Handler) limitBody(c *gin.Context, files int64) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, files*h.maxUpload+1<<20)
}

// readFile reads one multipart file. A missing optional file yields nil
// data and a nil header.
func (h *Handler) readFile(c *gin.Context, field string, required bool) ([]byte, *multipart.FileHeader, bool) {
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apperrors.Respond(c, h.logger, apperrors.Validation("documents.upload", "request body is too large"))
			return nil, nil, false
		case errors.Is(err, http.ErrMissingFile) && !required:
			return nil, nil, true
		default:
			apperrors.BadRequest(c, fmt.Sprintf("%s file is required", field))
			return nil, nil, false
		}
	}
	if header.Size == 0 {
		apperrors.BadRequest(c, fmt.Sprintf("%s file is empty", field))
		return nil, nil, false
	}
	if header.Size > h.maxUpload {
		apperrors.BadRequest(c, fmt.Sprintf("%s exceeds the %d byte limit", field, h.maxUpload))
		return nil, nil, false
	}

	f, err := header.Open()
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("documents.upload", err))
		return nil, nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		apperrors.Respond(c, h.logger, apperrors.Internal("documents.upload", err))
		return nil, nil, false
	}
	if len(data) == 0 {
		apperrors.BadRequest(c, fmt.Sprintf("%s file is empty", field))
		return nil, nil, false
	}
	return data, header, true
}

func contentType(header *multipart.FileHeader, fallback string) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return fallback
}

func versionMessage(s Status) string {
	switch s {
	case StatusRejected:
		return "Document rejected"
	case StatusReview:
		return "Document in review"
	case StatusCompleted:
		return "Document Completed"
	default:
		return "Document in transition"
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apperrors.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(c *gin.Context) (SearchFilter, bool) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	filter := SearchFilter{
		Name:  c.DefaultQuery("search", c.Query("name")),
		Page:  page,
		Limit: limit,
	}

	for param, dst := range map[string]**uuid.UUID{
		"workflow_type_id": &filter.WorkflowTypeID,
		"workflow_id":      &filter.WorkflowID,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			apperrors.BadRequest(c, "invalid "+param)
			return SearchFilter{}, false
		}
		*dst = &id
	}
	return filter.normalize(), true
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
