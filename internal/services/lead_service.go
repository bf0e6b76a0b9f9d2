package services

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LeadService 线索管理，负责在业务事件发生时触发自动化
type LeadService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	automation *AutomationService
}

func NewLeadService(db *gorm.DB, logger *logrus.Logger) *LeadService {
	if logger == nil {
		logger = logrus.New()
	}
	return &LeadService{db: db, logger: logger}
}

// SetAutomationService wires the engine. Optional: lead CRUD works without
// it, it just fires no triggers.
func (s *LeadService) SetAutomationService(automation *AutomationService) {
	s.automation = automation
}

// LeadRequest 创建线索的请求
type LeadRequest struct {
	Name         string  `json:"name" binding:"required"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone"`
	BusinessName string  `json:"business_name"`
	Source       string  `json:"source"`
	Value        float64 `json:"value"`
	OwnerID      uint    `json:"owner_id"`
}

// CreateLead stores the lead and fires the lead_created trigger.
func (s *LeadService) CreateLead(ctx context.Context, tenantID uint, req *LeadRequest) (*models.Lead, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	lead := &models.Lead{
		TenantID:     tenantID,
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		BusinessName: req.BusinessName,
		Source:       req.Source,
		Stage:        models.StageNew,
		Value:        req.Value,
		OwnerID:      req.OwnerID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, err
	}

	s.fireTrigger(ctx, tenantID, TriggerLeadCreated, map[string]interface{}{
		"lead_id":       float64(lead.ID),
		"name":          lead.Name,
		"email":         lead.Email,
		"business_name": lead.BusinessName,
		"source":        lead.Source,
		"stage":         lead.Stage,
		"value":         lead.Value,
		"owner_id":      float64(lead.OwnerID),
	})
	return lead, nil
}

// GetLead loads one lead scoped to the tenant.
func (s *LeadService) GetLead(ctx context.Context, tenantID, leadID uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", leadID, tenantID).
		First(&lead).Error; err != nil {
		return nil, err
	}
	return &lead, nil
}

// ListLeads 返回租户的线索列表
func (s *LeadService) ListLeads(ctx context.Context, tenantID uint, limit, offset int) ([]models.Lead, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&models.Lead{}).Where("tenant_id = ?", tenantID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var leads []models.Lead
	if err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&leads).Error; err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// ChangeStage moves a lead through the pipeline and fires the
// lead_stage_changed trigger, plus deal_won when the lead lands on "won".
// A no-op transition (same stage) fires nothing: the engine is at-least-once
// and duplicate dispatches for an unchanged status are a caller bug, so the
// guard lives here at the event source.
func (s *LeadService) ChangeStage(ctx context.Context, tenantID, leadID uint, toStage string, actorID uint) (*models.Lead, error) {
	if !isKnownStage(toStage) {
		return nil, fmt.Errorf("unknown pipeline stage: %s", toStage)
	}
	lead, err := s.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Stage == toStage {
		return lead, nil
	}

	fromStage := lead.Stage
	lead.Stage = toStage
	lead.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(lead).Error; err != nil {
		return nil, err
	}

	s.fireTrigger(ctx, tenantID, TriggerLeadStageChanged, map[string]interface{}{
		"lead_id":       float64(lead.ID),
		"from_stage":    fromStage,
		"to_stage":      toStage,
		"actor_id":      float64(actorID),
		"business_name": lead.BusinessName,
		"source":        lead.Source,
		"value":         lead.Value,
	})
	if toStage == models.StageWon {
		s.fireTrigger(ctx, tenantID, TriggerDealWon, map[string]interface{}{
			"lead_id":       float64(lead.ID),
			"business_name": lead.BusinessName,
			"value":         lead.Value,
			"owner_id":      float64(lead.OwnerID),
			"won_at":        time.Now().UTC().Format(time.RFC3339),
		})
	}
	return lead, nil
}

// fireTrigger dispatches best-effort: automation failures never fail the
// business operation that triggered them.
func (s *LeadService) fireTrigger(ctx context.Context, tenantID uint, kind TriggerKind, data map[string]interface{}) {
	if s.automation == nil {
		return
	}
	result, err := s.automation.Dispatch(ctx, tenantID, kind, data)
	if err != nil {
		s.logger.Warnf("lead: dispatch %s for tenant %d: %v", kind, tenantID, err)
		return
	}
	s.logger.Infof("lead: dispatched %s for tenant %d, %d/%d rules matched",
		kind, tenantID, result.MatchedCount, len(result.Results))
}

func isKnownStage(stage string) bool {
	switch stage {
	case models.StageNew, models.StageContacted, models.StageQualified,
		models.StageProposal, models.StageNegotiation, models.StageWon, models.StageLost:
		return true
	}
	return false
}
