package models

import "time"

// AutomationRule 自动化规则定义
type AutomationRule struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TenantID    uint      `gorm:"index:idx_rules_tenant_trigger;not null" json:"tenant_id"`
	Name        string    `gorm:"not null" json:"name"`
	TriggerKind string    `gorm:"index:idx_rules_tenant_trigger;not null" json:"trigger_kind"` // lead_created, lead_stage_changed, deal_won, followup_due
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	Conditions  string    `gorm:"type:text" json:"conditions"` // JSON: [{field,operator,value}]
	Actions     string    `gorm:"type:text" json:"actions"`    // JSON: [{kind,params}]
	CreatedBy   uint      `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecutionRecord 执行记录用于审计
// One row per (rule, trigger event) pair, written whether or not the rule
// matched, so "why didn't this rule fire" is answerable from the audit trail.
type ExecutionRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RuleID          uint      `gorm:"index" json:"rule_id"`
	TenantID        uint      `gorm:"index" json:"tenant_id"`
	TriggerEventRef string    `gorm:"index" json:"trigger_event_ref"`
	TriggerKind     string    `json:"trigger_kind"`
	Matched         bool      `json:"matched"`
	Reason          string    `json:"reason,omitempty"`                // why the rule did not match, when it didn't
	ActionResults   string    `gorm:"type:text" json:"action_results"` // JSON: [{kind,outcome,reason,duration_ms}]
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}
