package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	appmetrics "crmflow/internal/metrics"
	"crmflow/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ValidationError marks a malformed dispatch request. The caller can fix the
// input; nothing was evaluated or recorded.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError marks a dependency failure (rule store unreachable) that
// aborted the dispatch before rule evaluation. Retryable.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// RuleResult is one rule's outcome within an EngineResult.
type RuleResult struct {
	RuleID   uint           `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Matched  bool           `json:"matched"`
	Reason   string         `json:"reason,omitempty"`
	Actions  []ActionResult `json:"actions,omitempty"`
}

// EngineResult is the aggregate returned to the dispatch caller. Results
// carries exactly one entry per rule the store returned, in load order,
// whether or not the rule matched.
type EngineResult struct {
	TriggerEventRef string       `json:"trigger_event_ref"`
	MatchedCount    int          `json:"matched_count"`
	Results         []RuleResult `json:"results"`
}

// AutomationService runs a tenant's automation rules when a business event
// occurs: load enabled rules for the trigger, evaluate each rule's
// conditions, execute matched rules' actions in order with per-action
// isolation, and persist one execution record per rule.
type AutomationService struct {
	db            *gorm.DB
	logger        *logrus.Logger
	backends      *ActionBackends
	entitlements  EntitlementChecker
	cache         *RuleCache
	feed          *ExecutionFeed
	actionTimeout time.Duration
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, backends *ActionBackends, entitlements EntitlementChecker) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{
		db:            db,
		logger:        logger,
		backends:      backends,
		entitlements:  entitlements,
		actionTimeout: 10 * time.Second,
	}
}

// SetRuleCache enables the optional redis rule-set cache.
func (s *AutomationService) SetRuleCache(cache *RuleCache) {
	s.cache = cache
}

// SetExecutionFeed wires the websocket feed that streams execution records
// to the dashboard.
func (s *AutomationService) SetExecutionFeed(feed *ExecutionFeed) {
	s.feed = feed
}

// SetActionTimeout bounds each individual action attempt.
func (s *AutomationService) SetActionTimeout(d time.Duration) {
	if d > 0 {
		s.actionTimeout = d
	}
}

// Dispatch is the sole entry point into the engine. It validates the trigger
// at the boundary, then evaluates and executes every enabled rule of the
// tenant for that trigger kind. A malformed request is the only condition
// that aborts before any rule runs; once evaluation begins no single rule's
// failure affects the others. The call returns after every rule finished or
// the caller's deadline elapsed.
//
// Delivery is at least once: dispatching the same underlying change twice
// produces two independent execution records and two sets of side effects.
// Not re-firing an unchanged status is the caller's responsibility.
func (s *AutomationService) Dispatch(ctx context.Context, tenantID uint, kind TriggerKind, data map[string]interface{}) (*EngineResult, error) {
	if tenantID == 0 {
		return nil, &ValidationError{Message: "tenant id is required"}
	}
	if !IsKnownTrigger(kind) {
		return nil, &ValidationError{Message: fmt.Sprintf("unknown trigger type: %s", kind)}
	}
	payload, err := ValidateTriggerPayload(kind, data)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	rules, err := s.loadEnabledRules(ctx, tenantID, kind)
	if err != nil {
		return nil, &UpstreamError{Op: "load automation rules", Err: err}
	}
	appmetrics.IncDispatch(string(kind))

	event := &TriggerEvent{
		Kind:       kind,
		TenantID:   tenantID,
		Payload:    payload,
		OccurredAt: time.Now(),
	}
	eventRef := uuid.NewString()

	result := &EngineResult{
		TriggerEventRef: eventRef,
		Results:         make([]RuleResult, 0, len(rules)),
	}
	for _, rule := range rules {
		rr := s.runRule(ctx, &rule, event, eventRef)
		if rr.Matched {
			result.MatchedCount++
		}
		result.Results = append(result.Results, rr)
	}
	return result, nil
}

// loadEnabledRules reads the tenant's enabled rules for the trigger kind in
// a stable order (ascending creation time) so multi-rule side effects are
// reproducible. Tenant scoping is part of every query, never a post-filter.
func (s *AutomationService) loadEnabledRules(ctx context.Context, tenantID uint, kind TriggerKind) ([]models.AutomationRule, error) {
	if cached, ok := s.cache.Get(ctx, tenantID, kind); ok {
		return cached, nil
	}
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_kind = ? AND enabled = ?", tenantID, kind, true).
		Order("created_at ASC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	s.cache.Set(ctx, tenantID, kind, rules)
	return rules, nil
}

// runRule evaluates and, on match, executes one rule. Every path ends in an
// execution record so the audit trail answers "why didn't this rule fire".
func (s *AutomationService) runRule(ctx context.Context, rule *models.AutomationRule, event *TriggerEvent, eventRef string) RuleResult {
	startedAt := time.Now()
	rr := RuleResult{RuleID: rule.ID, RuleName: rule.Name}

	if err := ctx.Err(); err != nil {
		// Caller deadline elapsed before this rule started.
		rr.Reason = ReasonDeadlineExceeded
		s.recordExecution(rule, event, eventRef, rr, startedAt)
		return rr
	}

	conds, err := parseConditions(rule.Conditions)
	if err != nil {
		s.logger.Warnf("automation: rule %d has invalid conditions: %v", rule.ID, err)
		rr.Reason = "invalid conditions configuration"
		s.recordExecution(rule, event, eventRef, rr, startedAt)
		return rr
	}

	matched, reason := EvaluateConditions(conds, event.Payload)
	rr.Matched = matched
	rr.Reason = reason
	if !matched {
		s.recordExecution(rule, event, eventRef, rr, startedAt)
		return rr
	}

	actions, err := parseActions(rule.Actions)
	if err != nil {
		s.logger.Warnf("automation: rule %d has invalid actions: %v", rule.ID, err)
		rr.Reason = "invalid actions configuration"
		s.recordExecution(rule, event, eventRef, rr, startedAt)
		return rr
	}
	if len(actions) == 0 {
		// Enabled rule with no actions is a configuration error: reported,
		// not executed.
		s.logger.Warnf("automation: rule %d matched but has no actions", rule.ID)
		rr.Reason = "no actions configured"
		s.recordExecution(rule, event, eventRef, rr, startedAt)
		return rr
	}

	rr.Actions = s.executeActions(ctx, rule.TenantID, actions, event.Payload)
	s.recordExecution(rule, event, eventRef, rr, startedAt)
	return rr
}

// executeActions runs a matched rule's actions strictly in declared order.
// Each action is isolated: a failure or timeout in action n is recorded and
// action n+1 still attempts to run.
func (s *AutomationService) executeActions(ctx context.Context, tenantID uint, actions []ActionSpec, payload map[string]interface{}) []ActionResult {
	results := make([]ActionResult, 0, len(actions))
	for _, spec := range actions {
		results = append(results, s.executeAction(ctx, tenantID, spec, payload))
	}
	return results
}

func (s *AutomationService) executeAction(ctx context.Context, tenantID uint, spec ActionSpec, payload map[string]interface{}) ActionResult {
	start := time.Now()
	res := ActionResult{Kind: spec.Kind}

	finish := func() ActionResult {
		res.DurationMs = time.Since(start).Milliseconds()
		appmetrics.IncActionOutcome(string(res.Outcome))
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonDeadlineExceeded
		return finish()
	}

	handler, ok := actionHandlers[spec.Kind]
	if !ok {
		res.Outcome = OutcomeFailed
		res.Reason = fmt.Sprintf("unsupported action kind: %s", spec.Kind)
		return finish()
	}

	if !s.entitlements.IsActionAllowed(ctx, tenantID, spec.Kind) {
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonNotEntitled
		return finish()
	}

	if err := ValidateActionParams(spec.Kind, spec.Params); err != nil {
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
		return finish()
	}

	params, warnings := interpolateParams(spec.Params, payload)
	res.Warnings = warnings

	err := s.runWithTimeout(ctx, func(actionCtx context.Context) error {
		return handler(actionCtx, s.backends, tenantID, params, payload)
	})
	switch {
	case err == nil:
		res.Outcome = OutcomeSucceeded
	case errors.Is(err, context.DeadlineExceeded):
		res.Outcome = OutcomeFailed
		res.Reason = ReasonTimeout
	default:
		res.Outcome = OutcomeFailed
		res.Reason = err.Error()
	}
	if res.Outcome == OutcomeFailed {
		s.logger.Warnf("automation: action %s failed: %s", spec.Kind, res.Reason)
	}
	return finish()
}

// runWithTimeout bounds one action attempt. The handler runs in its own
// goroutine so a back-end that ignores context cancellation still yields a
// timeout result here; the attempt itself is left to finish rather than
// hard-killed mid external call.
func (s *AutomationService) runWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	actionCtx, cancel := context.WithTimeout(ctx, s.actionTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(actionCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-actionCtx.Done():
		return actionCtx.Err()
	}
}

// recordExecution persists the audit row for one (rule, trigger event) pair.
// Side effects have already happened, so a failed write is logged and never
// causes the dispatch to fail or the actions to be retried.
func (s *AutomationService) recordExecution(rule *models.AutomationRule, event *TriggerEvent, eventRef string, rr RuleResult, startedAt time.Time) {
	resultsJSON, err := json.Marshal(rr.Actions)
	if err != nil {
		s.logger.Warnf("automation: marshal action results for rule %d: %v", rule.ID, err)
		resultsJSON = []byte("[]")
	}
	record := &models.ExecutionRecord{
		RuleID:          rule.ID,
		TenantID:        rule.TenantID,
		TriggerEventRef: eventRef,
		TriggerKind:     string(event.Kind),
		Matched:         rr.Matched,
		Reason:          rr.Reason,
		ActionResults:   string(resultsJSON),
		StartedAt:       startedAt,
		FinishedAt:      time.Now(),
	}
	// Deliberately not the caller's context: the audit write should not be
	// lost because the dispatch deadline elapsed during the last action.
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.WithContext(writeCtx).Create(record).Error; err != nil {
		s.logger.Warnf("automation: record execution for rule %d: %v", rule.ID, err)
		return
	}
	if s.feed != nil {
		s.feed.Broadcast(record)
	}
}

// ListExecutions returns the tenant's execution records, newest first,
// optionally filtered to one rule.
func (s *AutomationService) ListExecutions(ctx context.Context, tenantID uint, ruleID uint, limit, offset int) ([]models.ExecutionRecord, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&models.ExecutionRecord{}).Where("tenant_id = ?", tenantID)
	if ruleID != 0 {
		query = query.Where("rule_id = ?", ruleID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []models.ExecutionRecord
	if err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func parseConditions(raw string) ([]Condition, error) {
	if raw == "" {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal([]byte(raw), &conds); err != nil {
		return nil, err
	}
	return conds, nil
}

func parseActions(raw string) ([]ActionSpec, error) {
	if raw == "" {
		return nil, nil
	}
	var actions []ActionSpec
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, err
	}
	return actions, nil
}
