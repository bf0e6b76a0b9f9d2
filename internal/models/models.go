package models

import (
	"time"

	"gorm.io/gorm"
)

// Tenant is an isolated customer account. Every rule, lead and execution
// record belongs to exactly one tenant.
type Tenant struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"unique;not null" json:"name"`
	Plan      string         `gorm:"default:'free'" json:"plan"` // free, pro, enterprise
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// User is a member of a tenant who can configure rules and own leads.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	TenantID  uint           `gorm:"index" json:"tenant_id"`
	Username  string         `gorm:"not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'member'" json:"role"` // admin, manager, member
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Lead 线索模型
type Lead struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     uint      `gorm:"index;not null" json:"tenant_id"`
	Name         string    `gorm:"not null" json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	BusinessName string    `json:"business_name"`
	Source       string    `gorm:"index" json:"source"` // web, referral, ads, import
	Stage        string    `gorm:"index;default:'new'" json:"stage"`
	Value        float64   `json:"value"`
	Tags         string    `json:"tags"`
	OwnerID      uint      `gorm:"index" json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pipeline stages recognized by the lead service. Transitions into
// StageWon additionally fire a deal_won trigger.
const (
	StageNew         = "new"
	StageContacted   = "contacted"
	StageQualified   = "qualified"
	StageProposal    = "proposal"
	StageNegotiation = "negotiation"
	StageWon         = "won"
	StageLost        = "lost"
)

// FollowupTask 跟进任务模型
type FollowupTask struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TenantID  uint      `gorm:"index;not null" json:"tenant_id"`
	LeadID    uint      `gorm:"index" json:"lead_id"`
	Note      string    `gorm:"type:text" json:"note"`
	DueAt     time.Time `json:"due_at"`
	Status    string    `gorm:"default:'open'" json:"status"` // open, done, cancelled
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lead Lead `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
}
