package services

import (
	"context"
	"testing"

	"crmflow/internal/models"

	"github.com/sirupsen/logrus"
)

func TestEntitlementService_IsActionAllowed(t *testing.T) {
	db := newEngineTestDB(t)
	free := models.Tenant{Name: "free-co", Plan: "free"}
	pro := models.Tenant{Name: "pro-co", Plan: "pro"}
	ent := models.Tenant{Name: "ent-co", Plan: "enterprise"}
	for _, tenant := range []*models.Tenant{&free, &pro, &ent} {
		if err := db.Create(tenant).Error; err != nil {
			t.Fatalf("create tenant: %v", err)
		}
	}
	svc := NewEntitlementService(db, logrus.New())

	tests := []struct {
		name     string
		tenantID uint
		kind     ActionKind
		want     bool
	}{
		{"free can update records", free.ID, ActionUpdateRecordField, true},
		{"free can create tasks", free.ID, ActionCreateFollowupTask, true},
		{"free cannot send email", free.ID, ActionSendEmail, false},
		{"free cannot call webhooks", free.ID, ActionCustomWebhook, false},
		{"pro can send email", pro.ID, ActionSendEmail, true},
		{"pro can post chat", pro.ID, ActionPostChatMessage, true},
		{"pro cannot call webhooks", pro.ID, ActionCustomWebhook, false},
		{"enterprise can do everything", ent.ID, ActionCustomWebhook, true},
		{"unknown tenant denied", 999, ActionUpdateRecordField, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.IsActionAllowed(context.Background(), tt.tenantID, tt.kind)
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntitlementService_CachesPlan(t *testing.T) {
	db := newEngineTestDB(t)
	tenant := models.Tenant{Name: "acme", Plan: "pro"}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	svc := NewEntitlementService(db, logrus.New())

	if !svc.IsActionAllowed(context.Background(), tenant.ID, ActionSendEmail) {
		t.Fatal("pro tenant should send email")
	}
	// 降级后在缓存 TTL 内仍按旧套餐判定
	db.Model(&tenant).Update("plan", "free")
	if !svc.IsActionAllowed(context.Background(), tenant.ID, ActionSendEmail) {
		t.Fatal("cached plan should still grant within TTL")
	}
	// 缓存过期后读取新套餐
	svc.cacheTTL = 0
	if svc.IsActionAllowed(context.Background(), tenant.ID, ActionSendEmail) {
		t.Fatal("downgraded plan should deny after cache expiry")
	}
}

func TestFeatureGranted(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"exact match", []string{"automation.send_email"}, "automation.send_email", true},
		{"wildcard all", []string{"*"}, "automation.send_email", true},
		{"prefix wildcard", []string{"automation.*"}, "automation.custom_webhook", true},
		{"prefix wildcard wrong namespace", []string{"automation.*"}, "billing.export", false},
		{"no grants", nil, "automation.send_email", false},
		{"empty required always passes", []string{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FeatureGranted(tt.granted, tt.required); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
