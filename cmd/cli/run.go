package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmflow/internal/config"
	"crmflow/internal/handlers"
	"crmflow/internal/middleware"
	"crmflow/internal/models"
	"crmflow/internal/services"
	"crmflow/pkg/chathook"
	"crmflow/pkg/mailer"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the crmflow application",
	Long:  `Run the crmflow application`,
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	// 加载配置
	cfg := config.Load()

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = cfg.Database.DSN()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Tenant{}, &models.User{}, &models.Lead{}, &models.FollowupTask{},
		&models.AutomationRule{}, &models.ExecutionRecord{},
	); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	// 初始化服务
	mailerClient := mailer.NewClient(&mailer.Config{
		BaseURL: cfg.Mailer.BaseURL,
		APIKey:  cfg.Mailer.APIKey,
		From:    cfg.Mailer.From,
		Timeout: cfg.Mailer.Timeout,
	}, appLogger)
	chatClient := chathook.NewClient(&chathook.Config{Timeout: cfg.Chat.Timeout}, appLogger)
	backends := &services.ActionBackends{
		Email:    mailerClient,
		Chat:     chatClient,
		Records:  services.NewGormRecordMutator(db),
		Tasks:    services.NewGormTaskCreator(db),
		Webhooks: services.NewBreakerWebhookCaller(chatClient, services.NewCircuitBreaker()),
	}
	entitlements := services.NewEntitlementService(db, appLogger)
	automationService := services.NewAutomationService(db, appLogger, backends, entitlements)
	automationService.SetActionTimeout(cfg.Automation.ActionTimeout)

	feed := services.NewExecutionFeed(appLogger)
	automationService.SetExecutionFeed(feed)

	leadService := services.NewLeadService(db, appLogger)
	leadService.SetAutomationService(automationService)

	// 设置 Gin 模式
	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := setupRouter(cfg, db, automationService, leadService, feed, appLogger)

	// 创建服务器
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// 启动服务器
	go func() {
		logrus.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func setupRouter(cfg *config.Config, db *gorm.DB, automationService *services.AutomationService, leadService *services.LeadService, feed *services.ExecutionFeed, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// 健康检查
	healthHandler := handlers.NewHealthHandler(db)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", healthHandler.GetMetrics)

	// API 路由组
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		automationAPI := api.Group("/")
		automationAPI.Use(middleware.RequireResourcePermission("automation"))
		handlers.RegisterAutomationRoutes(automationAPI, handlers.NewAutomationHandler(automationService, feed))

		leadsAPI := api.Group("/")
		leadsAPI.Use(middleware.RequireResourcePermission("leads"))
		handlers.RegisterLeadRoutes(leadsAPI, handlers.NewLeadHandler(leadService, logger))
	}

	return router
}
