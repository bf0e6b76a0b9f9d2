package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"crmflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EntitlementChecker answers whether a tenant's plan permits an action kind.
// Consulted by the executor before every action attempt.
type EntitlementChecker interface {
	IsActionAllowed(ctx context.Context, tenantID uint, kind ActionKind) bool
}

// planFeatures maps a subscription plan to the automation features it grants.
// Patterns follow the permission matcher below: "*" grants everything,
// "automation.*" grants every action kind.
var planFeatures = map[string][]string{
	"free":       {"automation.update_record_field", "automation.create_followup_task"},
	"pro":        {"automation.update_record_field", "automation.create_followup_task", "automation.send_email", "automation.post_chat_message"},
	"enterprise": {"automation.*"},
}

// EntitlementService resolves tenant plans from the database with a short
// in-memory cache; an unknown tenant or plan grants nothing.
type EntitlementService struct {
	db     *gorm.DB
	logger *logrus.Logger

	mu       sync.Mutex
	plans    map[uint]cachedPlan
	cacheTTL time.Duration
}

type cachedPlan struct {
	plan      string
	fetchedAt time.Time
}

func NewEntitlementService(db *gorm.DB, logger *logrus.Logger) *EntitlementService {
	if logger == nil {
		logger = logrus.New()
	}
	return &EntitlementService{
		db:       db,
		logger:   logger,
		plans:    make(map[uint]cachedPlan),
		cacheTTL: time.Minute,
	}
}

// IsActionAllowed reports whether tenantID's current plan includes kind.
// A lookup failure denies: withholding an action is recoverable, running one
// the tenant did not pay for is not.
func (s *EntitlementService) IsActionAllowed(ctx context.Context, tenantID uint, kind ActionKind) bool {
	plan, err := s.tenantPlan(ctx, tenantID)
	if err != nil {
		s.logger.Warnf("entitlement: resolve plan for tenant %d: %v", tenantID, err)
		return false
	}
	return FeatureGranted(planFeatures[plan], "automation."+string(kind))
}

func (s *EntitlementService) tenantPlan(ctx context.Context, tenantID uint) (string, error) {
	s.mu.Lock()
	if cached, ok := s.plans[tenantID]; ok && time.Since(cached.fetchedAt) < s.cacheTTL {
		s.mu.Unlock()
		return cached.plan, nil
	}
	s.mu.Unlock()

	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, tenantID).Error; err != nil {
		return "", err
	}

	s.mu.Lock()
	s.plans[tenantID] = cachedPlan{plan: tenant.Plan, fetchedAt: time.Now()}
	s.mu.Unlock()
	return tenant.Plan, nil
}

// FeatureGranted returns true if `required` is satisfied by any feature in
// `granted`. Supported patterns:
// - "*" matches everything
// - "automation.*" matches "automation.<anything>"
// - exact match
func FeatureGranted(granted []string, required string) bool {
	required = strings.TrimSpace(required)
	if required == "" {
		return true
	}
	for _, f := range granted {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if f == "*" {
			return true
		}
		if f == required {
			return true
		}
		if strings.HasSuffix(f, ".*") {
			prefix := strings.TrimSuffix(f, ".*")
			if prefix != "" && (required == prefix || strings.HasPrefix(required, prefix+".")) {
				return true
			}
		}
	}
	return false
}
