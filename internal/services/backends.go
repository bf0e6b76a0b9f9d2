package services

import (
	"context"
	"fmt"
	"time"

	"crmflow/internal/models"

	"gorm.io/gorm"
)

// Action back-ends are external collaborators behind narrow interfaces, one
// per action kind. The engine only relies on their success/failure contract;
// network-backed implementations live in pkg/mailer and pkg/chathook, while
// record mutation and task creation write through gorm below.

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

type ChatPoster interface {
	PostMessage(ctx context.Context, webhookURL, text string) error
}

type RecordMutator interface {
	UpdateLeadField(ctx context.Context, tenantID, leadID uint, field string, value interface{}) error
}

type TaskCreator interface {
	CreateFollowupTask(ctx context.Context, tenantID, leadID uint, dueAt time.Time, note string) error
}

type WebhookCaller interface {
	Call(ctx context.Context, url string, payload map[string]interface{}) error
}

// ActionBackends bundles one back-end per action kind for the executor.
type ActionBackends struct {
	Email    EmailSender
	Chat     ChatPoster
	Records  RecordMutator
	Tasks    TaskCreator
	Webhooks WebhookCaller
}

// mutableLeadFields is the allowlist for update_record_field. Keys are the
// rule-facing field names, values the lead table columns they map to.
var mutableLeadFields = map[string]string{
	"stage":    "stage",
	"source":   "source",
	"tags":     "tags",
	"owner_id": "owner_id",
	"value":    "value",
}

type gormRecordMutator struct {
	db *gorm.DB
}

// NewGormRecordMutator returns the update_record_field back-end writing to
// the leads table.
func NewGormRecordMutator(db *gorm.DB) RecordMutator {
	return &gormRecordMutator{db: db}
}

func (m *gormRecordMutator) UpdateLeadField(ctx context.Context, tenantID, leadID uint, field string, value interface{}) error {
	column, ok := mutableLeadFields[field]
	if !ok {
		return fmt.Errorf("field %q is not mutable", field)
	}
	result := m.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND tenant_id = ?", leadID, tenantID).
		Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("lead %d not found", leadID)
	}
	return nil
}

type gormTaskCreator struct {
	db *gorm.DB
}

// NewGormTaskCreator returns the create_followup_task back-end.
func NewGormTaskCreator(db *gorm.DB) TaskCreator {
	return &gormTaskCreator{db: db}
}

func (t *gormTaskCreator) CreateFollowupTask(ctx context.Context, tenantID, leadID uint, dueAt time.Time, note string) error {
	task := &models.FollowupTask{
		TenantID:  tenantID,
		LeadID:    leadID,
		Note:      note,
		DueAt:     dueAt,
		Status:    "open",
		CreatedAt: time.Now(),
	}
	return t.db.WithContext(ctx).Create(task).Error
}

// breakerWebhookCaller wraps a webhook back-end with a circuit breaker so a
// repeatedly failing remote fails fast instead of eating the action timeout
// on every dispatch.
type breakerWebhookCaller struct {
	inner   WebhookCaller
	breaker *CircuitBreaker
}

// NewBreakerWebhookCaller guards inner with breaker.
func NewBreakerWebhookCaller(inner WebhookCaller, breaker *CircuitBreaker) WebhookCaller {
	return &breakerWebhookCaller{inner: inner, breaker: breaker}
}

func (w *breakerWebhookCaller) Call(ctx context.Context, url string, payload map[string]interface{}) error {
	if !w.breaker.Allow() {
		return fmt.Errorf("%s", ReasonCircuitOpen)
	}
	err := w.inner.Call(ctx, url, payload)
	if err != nil {
		w.breaker.OnFailure()
		return err
	}
	w.breaker.OnSuccess()
	return nil
}
