package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ActionKind 动作类型
type ActionKind string

const (
	ActionSendEmail          ActionKind = "send_email"
	ActionPostChatMessage    ActionKind = "post_chat_message"
	ActionUpdateRecordField  ActionKind = "update_record_field"
	ActionCreateFollowupTask ActionKind = "create_followup_task"
	ActionCustomWebhook      ActionKind = "custom_webhook"
)

// ActionSpec is one entry in a rule's ordered action list.
type ActionSpec struct {
	Kind   ActionKind             `json:"kind"`
	Params map[string]interface{} `json:"params"`
}

// ActionOutcome 动作执行结果状态
type ActionOutcome string

const (
	OutcomeSucceeded ActionOutcome = "succeeded"
	OutcomeFailed    ActionOutcome = "failed"
	OutcomeSkipped   ActionOutcome = "skipped"
)

// Skip/failure reasons shared across the executor and tests.
const (
	ReasonNotEntitled      = "feature_not_entitled"
	ReasonTimeout          = "timeout"
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonCircuitOpen      = "circuit_open"
)

// ActionResult records one action's outcome within an execution record.
type ActionResult struct {
	Kind       ActionKind    `json:"kind"`
	Outcome    ActionOutcome `json:"outcome"`
	Reason     string        `json:"reason,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// actionHandler executes one action kind against its back-end. Params have
// already been validated and interpolated.
type actionHandler func(ctx context.Context, b *ActionBackends, tenantID uint, params map[string]interface{}, payload map[string]interface{}) error

// actionHandlers selects the handler per kind. Adding an action kind means
// adding a row here plus a validator, without touching the executor loop.
var actionHandlers = map[ActionKind]actionHandler{
	ActionSendEmail:          execSendEmail,
	ActionPostChatMessage:    execPostChatMessage,
	ActionUpdateRecordField:  execUpdateRecordField,
	ActionCreateFollowupTask: execCreateFollowupTask,
	ActionCustomWebhook:      execCustomWebhook,
}

// IsKnownAction reports whether kind has a registered handler.
func IsKnownAction(kind ActionKind) bool {
	_, ok := actionHandlers[kind]
	return ok
}

// ValidateActionParams checks the per-kind required params. Called at rule
// create/update time and again defensively before execution.
func ValidateActionParams(kind ActionKind, params map[string]interface{}) error {
	switch kind {
	case ActionSendEmail:
		return requireStringParams(params, "to", "subject", "body")
	case ActionPostChatMessage:
		return requireStringParams(params, "webhook_url", "text")
	case ActionUpdateRecordField:
		if err := requireStringParams(params, "field"); err != nil {
			return err
		}
		if _, ok := params["value"]; !ok {
			return fmt.Errorf("param %q is required", "value")
		}
		return nil
	case ActionCreateFollowupTask:
		if err := requireStringParams(params, "note"); err != nil {
			return err
		}
		if raw, ok := params["due_in_hours"]; ok {
			if _, ok := asNumber(raw); !ok {
				return fmt.Errorf("param %q must be a number", "due_in_hours")
			}
		}
		return nil
	case ActionCustomWebhook:
		return requireStringParams(params, "url")
	default:
		return fmt.Errorf("unsupported action kind: %s", kind)
	}
}

func requireStringParams(params map[string]interface{}, names ...string) error {
	for _, name := range names {
		s, _ := params[name].(string)
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("param %q is required", name)
		}
	}
	return nil
}

var templateTokenRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes {{field}} tokens from the trigger payload.
// Unresolved tokens are left verbatim and reported as warnings rather than
// failing the action.
func RenderTemplate(s string, payload map[string]interface{}) (string, []string) {
	var warnings []string
	out := templateTokenRe.ReplaceAllStringFunc(s, func(token string) string {
		field := templateTokenRe.FindStringSubmatch(token)[1]
		val, ok := resolvePath(payload, field)
		if !ok || val == nil {
			warnings = append(warnings, fmt.Sprintf("unresolved template token %q", field))
			return token
		}
		return stringifyValue(val)
	})
	return out, warnings
}

// interpolateParams renders every string param against the payload.
func interpolateParams(params map[string]interface{}, payload map[string]interface{}) (map[string]interface{}, []string) {
	out := make(map[string]interface{}, len(params))
	var warnings []string
	for name, raw := range params {
		if s, ok := raw.(string); ok {
			rendered, w := RenderTemplate(s, payload)
			out[name] = rendered
			warnings = append(warnings, w...)
			continue
		}
		out[name] = raw
	}
	return out, warnings
}

func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// render integral values without a trailing ".0"
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func execSendEmail(ctx context.Context, b *ActionBackends, _ uint, params, _ map[string]interface{}) error {
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)
	return b.Email.SendEmail(ctx, to, subject, body)
}

func execPostChatMessage(ctx context.Context, b *ActionBackends, _ uint, params, _ map[string]interface{}) error {
	url, _ := params["webhook_url"].(string)
	text, _ := params["text"].(string)
	return b.Chat.PostMessage(ctx, url, text)
}

func execUpdateRecordField(ctx context.Context, b *ActionBackends, tenantID uint, params, payload map[string]interface{}) error {
	leadID, err := payloadLeadID(payload)
	if err != nil {
		return err
	}
	field, _ := params["field"].(string)
	return b.Records.UpdateLeadField(ctx, tenantID, leadID, field, params["value"])
}

func execCreateFollowupTask(ctx context.Context, b *ActionBackends, tenantID uint, params, payload map[string]interface{}) error {
	leadID, err := payloadLeadID(payload)
	if err != nil {
		return err
	}
	note, _ := params["note"].(string)
	dueIn := 24.0
	if raw, ok := params["due_in_hours"]; ok {
		if n, ok := asNumber(raw); ok {
			dueIn = n
		}
	}
	dueAt := time.Now().Add(time.Duration(dueIn * float64(time.Hour)))
	return b.Tasks.CreateFollowupTask(ctx, tenantID, leadID, dueAt, note)
}

func execCustomWebhook(ctx context.Context, b *ActionBackends, _ uint, params, payload map[string]interface{}) error {
	url, _ := params["url"].(string)
	return b.Webhooks.Call(ctx, url, payload)
}

func payloadLeadID(payload map[string]interface{}) (uint, error) {
	raw, ok := resolvePath(payload, "lead_id")
	if !ok {
		return 0, fmt.Errorf("payload has no lead_id")
	}
	n, ok := asNumber(raw)
	if !ok || n < 0 {
		return 0, fmt.Errorf("payload lead_id is not a valid id")
	}
	return uint(n), nil
}
