package services

import (
	"context"
	"testing"

	"crmflow/internal/models"

	"github.com/sirupsen/logrus"
)

func newLeadFixture(t *testing.T) (*LeadService, *engineFixture) {
	f := newEngineFixture(t, nil)
	leads := NewLeadService(f.db, logrus.New())
	leads.SetAutomationService(f.svc)
	return leads, f
}

func TestLeadService_CreateLeadFiresTrigger(t *testing.T) {
	leads, f := newLeadFixture(t)
	mustCreateRule(t, f.db, 1, "referral ping", "lead_created",
		`[{"field":"source","operator":"equals","value":"referral"}]`, chatAction)

	lead, err := leads.CreateLead(context.Background(), 1, &LeadRequest{
		Name:   "Acme",
		Email:  "lee@example.com",
		Source: "referral",
		Value:  5000,
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if lead.Stage != models.StageNew {
		t.Fatalf("new lead stage: got %q", lead.Stage)
	}
	if f.chat.calls != 1 {
		t.Fatalf("chat calls: got %d, want 1", f.chat.calls)
	}

	var rec models.ExecutionRecord
	if err := f.db.Where("tenant_id = ?", 1).First(&rec).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.TriggerKind != "lead_created" || !rec.Matched {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestLeadService_CreateLeadWithoutEngine(t *testing.T) {
	db := newEngineTestDB(t)
	leads := NewLeadService(db, logrus.New())

	// 未接入引擎时线索照常创建
	lead, err := leads.CreateLead(context.Background(), 1, &LeadRequest{Name: "Solo"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if lead.ID == 0 {
		t.Fatal("expected a persisted lead")
	}
}

func TestLeadService_ChangeStage(t *testing.T) {
	leads, f := newLeadFixture(t)
	mustCreateRule(t, f.db, 1, "stage watcher", "lead_stage_changed",
		`[{"field":"to_stage","operator":"equals","value":"contacted"}]`, chatAction)

	lead, err := leads.CreateLead(context.Background(), 1, &LeadRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}

	updated, err := leads.ChangeStage(context.Background(), 1, lead.ID, models.StageContacted, 10)
	if err != nil {
		t.Fatalf("change stage: %v", err)
	}
	if updated.Stage != models.StageContacted {
		t.Fatalf("stage: got %q", updated.Stage)
	}
	if f.chat.calls != 1 {
		t.Fatalf("chat calls: got %d, want 1", f.chat.calls)
	}

	// 相同阶段的重复调用不重新派发
	if _, err := leads.ChangeStage(context.Background(), 1, lead.ID, models.StageContacted, 10); err != nil {
		t.Fatalf("same-stage change: %v", err)
	}
	if f.chat.calls != 1 {
		t.Fatalf("same-stage transition must not re-fire, got %d calls", f.chat.calls)
	}

	// 未知阶段被拒绝
	if _, err := leads.ChangeStage(context.Background(), 1, lead.ID, "archived", 10); err == nil {
		t.Fatal("unknown stage should be rejected")
	}

	// 跨租户不可见
	if _, err := leads.ChangeStage(context.Background(), 2, lead.ID, models.StageQualified, 10); err == nil {
		t.Fatal("cross-tenant stage change should fail")
	}
}

func TestLeadService_WinningFiresDealWon(t *testing.T) {
	leads, f := newLeadFixture(t)
	mustCreateRule(t, f.db, 1, "won deals", "deal_won",
		`[{"field":"value","operator":"greater_than","value":1000}]`, chatAction)

	lead, err := leads.CreateLead(context.Background(), 1, &LeadRequest{Name: "Acme", Value: 5000})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if _, err := leads.ChangeStage(context.Background(), 1, lead.ID, models.StageWon, 10); err != nil {
		t.Fatalf("win: %v", err)
	}
	if f.chat.calls != 1 {
		t.Fatalf("chat calls: got %d, want 1", f.chat.calls)
	}

	var rec models.ExecutionRecord
	if err := f.db.Where("trigger_kind = ?", "deal_won").First(&rec).Error; err != nil {
		t.Fatalf("load deal_won record: %v", err)
	}
	if !rec.Matched {
		t.Fatalf("deal_won rule should have matched: %+v", rec)
	}
}

func TestLeadService_ListLeads(t *testing.T) {
	leads, _ := newLeadFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := leads.CreateLead(context.Background(), 1, &LeadRequest{Name: "Lead"}); err != nil {
			t.Fatalf("create lead %d: %v", i, err)
		}
	}
	if _, err := leads.CreateLead(context.Background(), 2, &LeadRequest{Name: "Other"}); err != nil {
		t.Fatalf("tenant 2 lead: %v", err)
	}

	got, total, err := leads.ListLeads(context.Background(), 1, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("got total=%d len=%d, want 3", total, len(got))
	}
	for _, l := range got {
		if l.TenantID != 1 {
			t.Fatalf("cross-tenant lead leaked: %+v", l)
		}
	}
}
