package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmflow/internal/models"
)

// AutomationRuleRequest 创建/更新规则的请求
type AutomationRuleRequest struct {
	Name        string       `json:"name" binding:"required"`
	TriggerKind string       `json:"trigger_kind" binding:"required"`
	Conditions  []Condition  `json:"conditions"`
	Actions     []ActionSpec `json:"actions"`
	Enabled     *bool        `json:"enabled"`
}

// validateRuleRequest enforces the rule invariants at the management
// boundary: known trigger, condition fields inside the trigger's payload
// schema, valid operators, known action kinds with valid params, and at
// least one action when the rule is enabled.
func validateRuleRequest(req *AutomationRuleRequest) error {
	kind := TriggerKind(req.TriggerKind)
	if !IsKnownTrigger(kind) {
		return fmt.Errorf("unknown trigger type: %s", req.TriggerKind)
	}
	schema := triggerSchemas[kind]
	for _, cond := range req.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("condition field is required")
		}
		if _, ok := schema[cond.Field]; !ok {
			return fmt.Errorf("condition field %q is not part of trigger %s", cond.Field, kind)
		}
		if !IsValidOperator(cond.Operator) {
			return fmt.Errorf("unknown condition operator: %s", cond.Operator)
		}
	}
	for _, act := range req.Actions {
		if !IsKnownAction(act.Kind) {
			return fmt.Errorf("unsupported action kind: %s", act.Kind)
		}
		if err := ValidateActionParams(act.Kind, act.Params); err != nil {
			return fmt.Errorf("action %s: %w", act.Kind, err)
		}
	}
	enabled := req.Enabled == nil || *req.Enabled
	if enabled && len(req.Actions) == 0 {
		return fmt.Errorf("an enabled rule requires at least one action")
	}
	return nil
}

// ListRules 返回租户的所有规则
func (s *AutomationService) ListRules(ctx context.Context, tenantID uint) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// GetRule loads one rule scoped to the tenant.
func (s *AutomationService) GetRule(ctx context.Context, tenantID, ruleID uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", ruleID, tenantID).
		First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateRule 新建规则
func (s *AutomationService) CreateRule(ctx context.Context, tenantID, createdBy uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &models.AutomationRule{
		TenantID:    tenantID,
		Name:        req.Name,
		TriggerKind: req.TriggerKind,
		Enabled:     enabled,
		Conditions:  string(condJSON),
		Actions:     string(actJSON),
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, tenantID)
	return rule, nil
}

// UpdateRule 更新规则
func (s *AutomationService) UpdateRule(ctx context.Context, tenantID, ruleID uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	rule, err := s.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	rule.Name = req.Name
	rule.TriggerKind = req.TriggerKind
	rule.Conditions = string(condJSON)
	rule.Actions = string(actJSON)
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(rule).Error; err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, tenantID)
	return rule, nil
}

// SetRuleEnabled 启用/停用规则
func (s *AutomationService) SetRuleEnabled(ctx context.Context, tenantID, ruleID uint, enabled bool) error {
	if enabled {
		// re-check the no-actions invariant before enabling
		rule, err := s.GetRule(ctx, tenantID, ruleID)
		if err != nil {
			return err
		}
		actions, err := parseActions(rule.Actions)
		if err != nil || len(actions) == 0 {
			return fmt.Errorf("an enabled rule requires at least one action")
		}
	}
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ? AND tenant_id = ?", ruleID, tenantID).
		Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	s.cache.Invalidate(ctx, tenantID)
	return nil
}

// DeleteRule 删除规则
func (s *AutomationService) DeleteRule(ctx context.Context, tenantID, ruleID uint) error {
	result := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Delete(&models.AutomationRule{}, ruleID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	s.cache.Invalidate(ctx, tenantID)
	return nil
}
