package services

import (
	"context"
	"testing"
)

func TestCreateRule(t *testing.T) {
	f := newEngineFixture(t, nil)

	enabled := true
	disabled := false

	tests := []struct {
		name    string
		req     *AutomationRuleRequest
		wantErr bool
	}{
		{
			name: "valid rule",
			req: &AutomationRuleRequest{
				Name:        "referral ping",
				TriggerKind: "lead_created",
				Conditions:  []Condition{{Field: "source", Operator: OperatorEquals, Value: "referral"}},
				Actions: []ActionSpec{{
					Kind:   ActionPostChatMessage,
					Params: map[string]interface{}{"webhook_url": "https://hooks.example.com/x", "text": "new referral"},
				}},
			},
			wantErr: false,
		},
		{
			name: "unknown trigger",
			req: &AutomationRuleRequest{
				Name:        "bad trigger",
				TriggerKind: "ticket_created",
				Actions: []ActionSpec{{
					Kind:   ActionCreateFollowupTask,
					Params: map[string]interface{}{"note": "call"},
				}},
			},
			wantErr: true,
		},
		{
			name: "condition field outside trigger schema",
			req: &AutomationRuleRequest{
				Name:        "wrong field",
				TriggerKind: "lead_created",
				Conditions:  []Condition{{Field: "priority", Operator: OperatorEquals, Value: "high"}},
				Actions: []ActionSpec{{
					Kind:   ActionCreateFollowupTask,
					Params: map[string]interface{}{"note": "call"},
				}},
			},
			wantErr: true,
		},
		{
			name: "unknown operator",
			req: &AutomationRuleRequest{
				Name:        "bad operator",
				TriggerKind: "lead_created",
				Conditions:  []Condition{{Field: "source", Operator: "regex", Value: ".*"}},
				Actions: []ActionSpec{{
					Kind:   ActionCreateFollowupTask,
					Params: map[string]interface{}{"note": "call"},
				}},
			},
			wantErr: true,
		},
		{
			name: "invalid action params",
			req: &AutomationRuleRequest{
				Name:        "bad params",
				TriggerKind: "lead_created",
				Actions:     []ActionSpec{{Kind: ActionSendEmail, Params: map[string]interface{}{"to": "a@b.c"}}},
			},
			wantErr: true,
		},
		{
			name: "enabled rule without actions",
			req: &AutomationRuleRequest{
				Name:        "hollow",
				TriggerKind: "lead_created",
				Enabled:     &enabled,
			},
			wantErr: true,
		},
		{
			name: "disabled rule without actions is a valid draft",
			req: &AutomationRuleRequest{
				Name:        "draft",
				TriggerKind: "lead_created",
				Enabled:     &disabled,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := f.svc.CreateRule(context.Background(), 1, 10, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if rule.TenantID != 1 || rule.CreatedBy != 10 {
					t.Fatalf("unexpected rule: %+v", rule)
				}
			}
		})
	}
}

func TestUpdateRule(t *testing.T) {
	f := newEngineFixture(t, nil)
	rule := mustCreateRule(t, f.db, 1, "welcome", "lead_created", `[]`, emailAction)

	updated, err := f.svc.UpdateRule(context.Background(), 1, rule.ID, &AutomationRuleRequest{
		Name:        "welcome v2",
		TriggerKind: "lead_created",
		Actions: []ActionSpec{{
			Kind:   ActionCreateFollowupTask,
			Params: map[string]interface{}{"note": "call back"},
		}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "welcome v2" {
		t.Fatalf("name: got %q", updated.Name)
	}

	// 跨租户更新必须失败
	if _, err := f.svc.UpdateRule(context.Background(), 2, rule.ID, &AutomationRuleRequest{
		Name:        "stolen",
		TriggerKind: "lead_created",
		Actions: []ActionSpec{{
			Kind:   ActionCreateFollowupTask,
			Params: map[string]interface{}{"note": "x"},
		}},
	}); err == nil {
		t.Fatal("cross-tenant update should fail")
	}
}

func TestSetRuleEnabled(t *testing.T) {
	f := newEngineFixture(t, nil)
	rule := mustCreateRule(t, f.db, 1, "welcome", "lead_created", `[]`, emailAction)

	if err := f.svc.SetRuleEnabled(context.Background(), 1, rule.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	got, err := f.svc.GetRule(context.Background(), 1, rule.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Fatal("rule should be disabled")
	}

	if err := f.svc.SetRuleEnabled(context.Background(), 1, rule.ID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// 无动作的规则不允许启用
	hollow := mustCreateRule(t, f.db, 1, "hollow", "lead_created", `[]`, `[]`)
	f.db.Model(hollow).Update("enabled", false)
	if err := f.svc.SetRuleEnabled(context.Background(), 1, hollow.ID, true); err == nil {
		t.Fatal("enabling a rule without actions should fail")
	}

	// 跨租户操作
	if err := f.svc.SetRuleEnabled(context.Background(), 2, rule.ID, false); err == nil {
		t.Fatal("cross-tenant toggle should fail")
	}
}

func TestDeleteRule(t *testing.T) {
	f := newEngineFixture(t, nil)
	rule := mustCreateRule(t, f.db, 1, "welcome", "lead_created", `[]`, emailAction)

	if err := f.svc.DeleteRule(context.Background(), 2, rule.ID); err == nil {
		t.Fatal("cross-tenant delete should fail")
	}
	if err := f.svc.DeleteRule(context.Background(), 1, rule.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetRule(context.Background(), 1, rule.ID); err == nil {
		t.Fatal("rule should be gone")
	}
	if err := f.svc.DeleteRule(context.Background(), 1, rule.ID); err == nil {
		t.Fatal("deleting a missing rule should fail")
	}
}

func TestListRules(t *testing.T) {
	f := newEngineFixture(t, nil)
	mustCreateRule(t, f.db, 1, "a", "lead_created", `[]`, emailAction)
	mustCreateRule(t, f.db, 1, "b", "deal_won", `[]`, chatAction)
	mustCreateRule(t, f.db, 2, "c", "lead_created", `[]`, emailAction)

	rules, err := f.svc.ListRules(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rules))
	}
	for _, r := range rules {
		if r.TenantID != 1 {
			t.Fatalf("cross-tenant rule leaked: %+v", r)
		}
	}
}
