package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"crmflow/internal/middleware"
	"crmflow/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AutomationHandler 管理自动化规则并暴露触发入口
type AutomationHandler struct {
	service *services.AutomationService
	feed    *services.ExecutionFeed
}

func NewAutomationHandler(service *services.AutomationService, feed *services.ExecutionFeed) *AutomationHandler {
	return &AutomationHandler{service: service, feed: feed}
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	rules, err := h.service.ListRules(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rules})
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), tenantID, id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to get rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rule})
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	rule, err := h.service.CreateRule(c.Request.Context(), tenantID, userID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": rule})
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tenantID := middleware.GetTenantID(c)
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), tenantID, id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rule})
}

// SetRuleEnabled 启用/停用规则
func (h *AutomationHandler) SetRuleEnabled(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.service.SetRuleEnabled(c.Request.Context(), tenantID, id, req.Enabled); err != nil {
		status := http.StatusBadRequest
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), tenantID, id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// DispatchRequest 手动触发请求
type DispatchRequest struct {
	TriggerType string                 `json:"trigger_type" binding:"required"`
	TriggerData map[string]interface{} `json:"trigger_data"`
}

// Dispatch runs the engine for one trigger event. The tenant comes from the
// authenticated caller; a malformed trigger yields 400, a rule store outage 500.
func (h *AutomationHandler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	tenantID := middleware.GetTenantID(c)

	result, err := h.service.Dispatch(c.Request.Context(), tenantID, services.TriggerKind(req.TriggerType), req.TriggerData)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid trigger", Message: verr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Dispatch failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// ListExecutions 获取执行记录
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	page, pageSize := parsePagination(c)
	var ruleID uint
	if raw := c.Query("rule_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			ruleID = uint(id)
		}
	}

	records, total, err := h.service.ListExecutions(c.Request.Context(), tenantID, ruleID, pageSize, (page-1)*pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{Data: records, Total: total, Page: page, PageSize: pageSize})
}

// ExecutionFeed 升级到 WebSocket，推送实时执行记录
func (h *AutomationHandler) ExecutionFeed(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not available", Message: "execution feed disabled"})
		return
	}
	h.feed.HandleWebSocket(c, middleware.GetTenantID(c))
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

func parsePagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return page, pageSize
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListRules)
		auto.POST("", handler.CreateRule)
		auto.GET(":id", handler.GetRule)
		auto.PUT(":id", handler.UpdateRule)
		auto.PUT(":id/enabled", handler.SetRuleEnabled)
		auto.DELETE(":id", handler.DeleteRule)
		auto.POST("/dispatch", handler.Dispatch)
		auto.GET("/executions", handler.ListExecutions)
		auto.GET("/executions/feed", handler.ExecutionFeed)
	}
}
