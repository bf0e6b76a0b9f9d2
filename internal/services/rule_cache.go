package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crmflow/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RuleCache is a short-lived redis cache of rule sets keyed by
// tenant+trigger. It only ever speeds up the rule store read: any redis
// error is treated as a miss, never surfaced as an upstream failure, and
// entries are invalidated whenever a tenant's rules are edited.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRuleCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RuleCache {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RuleCache{client: client, ttl: ttl, logger: logger}
}

func ruleCacheKey(tenantID uint, kind TriggerKind) string {
	return fmt.Sprintf("crmflow:rules:%d:%s", tenantID, kind)
}

// Get returns the cached rule set and whether it was present.
func (c *RuleCache) Get(ctx context.Context, tenantID uint, kind TriggerKind) ([]models.AutomationRule, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, ruleCacheKey(tenantID, kind)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debugf("rule cache: get tenant %d kind %s: %v", tenantID, kind, err)
		}
		return nil, false
	}
	var rules []models.AutomationRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		c.logger.Warnf("rule cache: corrupt entry for tenant %d kind %s: %v", tenantID, kind, err)
		return nil, false
	}
	return rules, true
}

// Set stores the rule set under the cache TTL. Best effort.
func (c *RuleCache) Set(ctx context.Context, tenantID uint, kind TriggerKind, rules []models.AutomationRule) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		c.logger.Warnf("rule cache: marshal rules for tenant %d: %v", tenantID, err)
		return
	}
	if err := c.client.Set(ctx, ruleCacheKey(tenantID, kind), raw, c.ttl).Err(); err != nil {
		c.logger.Debugf("rule cache: set tenant %d kind %s: %v", tenantID, kind, err)
	}
}

// Invalidate drops every trigger kind's entry for the tenant. Called by the
// rule management surface after any rule edit.
func (c *RuleCache) Invalidate(ctx context.Context, tenantID uint) {
	if c == nil || c.client == nil {
		return
	}
	keys := make([]string, 0, len(triggerSchemas))
	for kind := range triggerSchemas {
		keys = append(keys, ruleCacheKey(tenantID, kind))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Debugf("rule cache: invalidate tenant %d: %v", tenantID, err)
	}
}
