package services

import (
	"testing"
	"time"
)

func TestIsKnownTrigger(t *testing.T) {
	for _, kind := range []TriggerKind{
		TriggerLeadCreated, TriggerLeadStageChanged, TriggerDealWon, TriggerFollowupDue,
	} {
		if !IsKnownTrigger(kind) {
			t.Fatalf("trigger %s should be known", kind)
		}
	}
	if IsKnownTrigger("ticket_created") {
		t.Fatal("ticket_created should not be a known trigger")
	}
}

func TestValidateTriggerPayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    TriggerKind
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name:    "lead_created valid",
			kind:    TriggerLeadCreated,
			data:    map[string]interface{}{"lead_id": 42.0, "source": "referral"},
			wantErr: false,
		},
		{
			name:    "lead_created missing required lead_id",
			kind:    TriggerLeadCreated,
			data:    map[string]interface{}{"source": "referral"},
			wantErr: true,
		},
		{
			name:    "lead_created mistyped lead_id",
			kind:    TriggerLeadCreated,
			data:    map[string]interface{}{"lead_id": "forty-two"},
			wantErr: true,
		},
		{
			name:    "stage_changed requires to_stage",
			kind:    TriggerLeadStageChanged,
			data:    map[string]interface{}{"lead_id": 1.0, "from_stage": "new"},
			wantErr: true,
		},
		{
			name:    "deal_won with RFC3339 timestamp",
			kind:    TriggerDealWon,
			data:    map[string]interface{}{"lead_id": 1.0, "won_at": "2026-03-01T10:00:00Z"},
			wantErr: false,
		},
		{
			name:    "deal_won with malformed timestamp",
			kind:    TriggerDealWon,
			data:    map[string]interface{}{"lead_id": 1.0, "won_at": "yesterday"},
			wantErr: true,
		},
		{
			name:    "followup_due requires task_id",
			kind:    TriggerFollowupDue,
			data:    map[string]interface{}{"note": "call"},
			wantErr: true,
		},
		{
			name:    "unknown trigger",
			kind:    TriggerKind("ticket_created"),
			data:    map[string]interface{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ValidateTriggerPayload(tt.kind, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && payload == nil {
				t.Fatal("valid payload should not be nil")
			}
		})
	}
}

func TestValidateTriggerPayload_DropsUnknownFields(t *testing.T) {
	payload, err := ValidateTriggerPayload(TriggerLeadCreated, map[string]interface{}{
		"lead_id": 7.0,
		"source":  "web",
		"rogue":   "ignored",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := payload["rogue"]; ok {
		t.Fatal("fields outside the schema must not pass through")
	}
	if payload["lead_id"] != 7.0 {
		t.Fatalf("lead_id: got %v", payload["lead_id"])
	}
}

func TestValidateTriggerPayload_NormalizesTime(t *testing.T) {
	won := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	payload, err := ValidateTriggerPayload(TriggerDealWon, map[string]interface{}{
		"lead_id": 1.0,
		"won_at":  won,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["won_at"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("won_at: got %v", payload["won_at"])
	}
}

func TestTriggerFields(t *testing.T) {
	fields := TriggerFields(TriggerLeadCreated)
	if len(fields) == 0 {
		t.Fatal("expected schema fields for lead_created")
	}
	found := false
	for _, f := range fields {
		if f == "source" {
			found = true
		}
	}
	if !found {
		t.Fatal("lead_created schema should include source")
	}
	if TriggerFields("nope") != nil {
		t.Fatal("unknown trigger should have no fields")
	}
}
