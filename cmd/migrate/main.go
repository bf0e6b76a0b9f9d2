package main

import (
	"log"
	"os"

	"crmflow/internal/config"
	"crmflow/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}

	// 连接数据库
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.Lead{},
		&models.FollowupTask{},
		&models.AutomationRule{},
		&models.ExecutionRecord{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	// 创建索引
	log.Println("Creating additional indexes...")

	// 规则按租户和触发类型查询
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_tenant_trigger ON automation_rules(tenant_id, trigger_kind)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_tenant_enabled ON automation_rules(tenant_id, enabled)")

	// 执行记录按规则和租户检索
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_rule_created ON execution_records(rule_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_tenant_created ON execution_records(tenant_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_event_ref ON execution_records(trigger_event_ref)")

	// 线索表索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_leads_tenant_stage ON leads(tenant_id, stage)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_leads_tenant_source ON leads(tenant_id, source)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_leads_owner ON leads(owner_id)")

	// 跟进任务索引
	db.Exec("CREATE INDEX IF NOT EXISTS idx_followups_tenant_due ON followup_tasks(tenant_id, due_at)")

	log.Println("Additional indexes created successfully!")

	// 插入默认数据
	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	// 创建演示租户
	var demoTenant models.Tenant
	if err := db.Where("name = ?", "demo").First(&demoTenant).Error; err != nil {
		demoTenant = models.Tenant{
			Name: "demo",
			Plan: "pro",
		}
		db.Create(&demoTenant)
		log.Println("Created demo tenant")
	}

	// 创建默认管理员用户
	var adminUser models.User
	if err := db.Where("username = ? AND tenant_id = ?", "admin", demoTenant.ID).First(&adminUser).Error; err != nil {
		adminUser = models.User{
			TenantID: demoTenant.ID,
			Username: "admin",
			Email:    "admin@crmflow.local",
			Name:     "系统管理员",
			Role:     "admin",
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	// 创建示例线索
	var sampleLead models.Lead
	if err := db.Where("email = ? AND tenant_id = ?", "lee@example.com", demoTenant.ID).First(&sampleLead).Error; err != nil {
		sampleLead = models.Lead{
			TenantID:     demoTenant.ID,
			Name:         "示例线索",
			Email:        "lee@example.com",
			Source:       "referral",
			Stage:        models.StageNew,
			BusinessName: "示例公司",
			OwnerID:      adminUser.ID,
		}
		db.Create(&sampleLead)
		log.Println("Created sample lead")
	}

	// 创建示例自动化规则：新线索欢迎邮件
	var welcomeRule models.AutomationRule
	if err := db.Where("name = ? AND tenant_id = ?", "新线索欢迎邮件", demoTenant.ID).First(&welcomeRule).Error; err != nil {
		welcomeRule = models.AutomationRule{
			TenantID:    demoTenant.ID,
			Name:        "新线索欢迎邮件",
			TriggerKind: "lead_created",
			Enabled:     true,
			Conditions:  `[]`,
			Actions:     `[{"kind":"send_email","params":{"to":"{{lead.email}}","subject":"Welcome, {{lead.name}}","body":"Thanks for reaching out!"}}]`,
			CreatedBy:   adminUser.ID,
		}
		db.Create(&welcomeRule)
		log.Println("Created sample automation rule")
	}
}
