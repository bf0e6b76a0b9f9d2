package handlers

import (
	"errors"
	"net/http"

	"crmflow/internal/middleware"
	"crmflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LeadHandler 线索管理
type LeadHandler struct {
	service *services.LeadService
	logger  *logrus.Logger
}

func NewLeadHandler(service *services.LeadService, logger *logrus.Logger) *LeadHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &LeadHandler{service: service, logger: logger}
}

// ListLeads 获取线索列表
func (h *LeadHandler) ListLeads(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	page, pageSize := parsePagination(c)

	leads, total, err := h.service.ListLeads(c.Request.Context(), tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list leads", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: leads, Total: total, Page: page, PageSize: pageSize})
}

// CreateLead 创建线索（触发 lead_created 自动化）
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req services.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tenantID := middleware.GetTenantID(c)

	lead, err := h.service.CreateLead(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create lead", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": lead})
}

// ChangeStage 变更线索阶段（触发 lead_stage_changed / deal_won 自动化）
func (h *LeadHandler) ChangeStage(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Stage string `json:"stage" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	lead, err := h.service.ChangeStage(c.Request.Context(), tenantID, id, req.Stage, middleware.GetUserID(c))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to change stage", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": lead})
}

// RegisterLeadRoutes 注册路由
func RegisterLeadRoutes(r *gin.RouterGroup, handler *LeadHandler) {
	leads := r.Group("/leads")
	{
		leads.GET("", handler.ListLeads)
		leads.POST("", handler.CreateLead)
		leads.PUT(":id/stage", handler.ChangeStage)
	}
}
