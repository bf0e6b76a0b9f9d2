package services

import (
	"fmt"
	"time"
)

// TriggerKind names a category of business event that can cause automation
// rules to run.
type TriggerKind string

const (
	TriggerLeadCreated      TriggerKind = "lead_created"
	TriggerLeadStageChanged TriggerKind = "lead_stage_changed"
	TriggerDealWon          TriggerKind = "deal_won"
	TriggerFollowupDue      TriggerKind = "followup_due"
)

// fieldType classifies a payload field for condition evaluation.
type fieldType int

const (
	fieldString fieldType = iota
	fieldNumber
	fieldTime
)

type fieldSpec struct {
	typ      fieldType
	required bool
}

// triggerSchemas defines, per trigger kind, the closed set of payload fields
// a rule's conditions may reference. Conditions on fields outside the schema
// fail closed at evaluation time and are rejected at rule-create time.
var triggerSchemas = map[TriggerKind]map[string]fieldSpec{
	TriggerLeadCreated: {
		"lead_id":       {fieldNumber, true},
		"name":          {fieldString, false},
		"email":         {fieldString, false},
		"business_name": {fieldString, false},
		"source":        {fieldString, false},
		"stage":         {fieldString, false},
		"value":         {fieldNumber, false},
		"owner_id":      {fieldNumber, false},
	},
	TriggerLeadStageChanged: {
		"lead_id":       {fieldNumber, true},
		"from_stage":    {fieldString, false},
		"to_stage":      {fieldString, true},
		"actor_id":      {fieldNumber, false},
		"business_name": {fieldString, false},
		"source":        {fieldString, false},
		"value":         {fieldNumber, false},
	},
	TriggerDealWon: {
		"lead_id":       {fieldNumber, true},
		"business_name": {fieldString, false},
		"value":         {fieldNumber, false},
		"owner_id":      {fieldNumber, false},
		"won_at":        {fieldTime, false},
	},
	TriggerFollowupDue: {
		"task_id": {fieldNumber, true},
		"lead_id": {fieldNumber, false},
		"due_at":  {fieldTime, false},
		"note":    {fieldString, false},
	},
}

// TriggerEvent is the ephemeral input to one dispatch. It is created by the
// caller at the moment a business event occurs and never mutated.
type TriggerEvent struct {
	Kind       TriggerKind
	TenantID   uint
	Payload    map[string]interface{}
	OccurredAt time.Time
}

// IsKnownTrigger reports whether kind is part of the trigger taxonomy.
func IsKnownTrigger(kind TriggerKind) bool {
	_, ok := triggerSchemas[kind]
	return ok
}

// TriggerFields returns the payload field names a rule on kind may reference.
func TriggerFields(kind TriggerKind) []string {
	schema, ok := triggerSchemas[kind]
	if !ok {
		return nil
	}
	fields := make([]string, 0, len(schema))
	for name := range schema {
		fields = append(fields, name)
	}
	return fields
}

// ValidateTriggerPayload checks data against kind's schema and returns a
// normalized copy. Unknown trigger kinds, missing required fields and
// mistyped values are validation errors; downstream code then only ever sees
// typed data.
func ValidateTriggerPayload(kind TriggerKind, data map[string]interface{}) (map[string]interface{}, error) {
	schema, ok := triggerSchemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown trigger type: %s", kind)
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	payload := make(map[string]interface{}, len(data))
	for name, spec := range schema {
		raw, present := data[name]
		if !present || raw == nil {
			if spec.required {
				return nil, fmt.Errorf("trigger %s: missing required field %q", kind, name)
			}
			continue
		}
		val, err := coerceField(name, spec.typ, raw)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", kind, err)
		}
		payload[name] = val
	}
	return payload, nil
}

func coerceField(name string, typ fieldType, raw interface{}) (interface{}, error) {
	switch typ {
	case fieldNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case uint:
			return float64(v), nil
		}
		return nil, fmt.Errorf("field %q must be a number", name)
	case fieldTime:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339), nil
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return nil, fmt.Errorf("field %q must be an RFC3339 timestamp", name)
			}
			return v, nil
		}
		return nil, fmt.Errorf("field %q must be an RFC3339 timestamp", name)
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", name)
		}
		return s, nil
	}
}
