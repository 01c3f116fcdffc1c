package container

import (
	"fmt"
	"time"

	"github.com/mautops/procure-gin/internal/api"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/config"
	"github.com/mautops/procure-gin/internal/database"
	"github.com/mautops/procure-gin/internal/integration"
	"github.com/mautops/procure-gin/internal/metrics"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Container 依赖注入容器
// 管理数据库连接、服务层与外部系统客户端的生命周期
type Container struct {
	cfg            *config.Config
	db             *gorm.DB
	log            *logrus.Logger
	tokenParser    *auth.TokenParser
	ledger         service.LedgerService
	budgetCodes    service.BudgetCodeService
	pettyCash      service.PettyCashService
	auditLog       service.AuditLogService
	requisitions   service.RequisitionService
	query          service.QueryService
	statistics     service.StatisticsService
	eventHandler   integration.EventHandler
	procurement    *integration.ProcurementClient
	sweepScheduler *service.SweepScheduler
	collector      *metrics.Collector
}

// NewContainer 创建依赖注入容器
func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. 日志记录器
	log, err := api.NewLoggerFromConfig(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	api.SetDefaultLogger(log)

	// 2. 数据库连接(带重试)与迁移
	db, err := database.ConnectWithRetry(cfg.Database, 3, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := database.CreateIndexes(db); err != nil {
		log.WithError(err).Warn("Failed to create database indexes")
	}

	// 3. 事件处理器: outbox 持久化 + 通知分发 + 采购订单下发 + Webhook 投递
	notifier := integration.NewNotificationDispatcher(&integration.NotificationConfig{
		Enabled: cfg.Notification.Enabled,
		URL:     cfg.Notification.URL,
		Token:   cfg.Notification.Token,
	}, log)
	procurement := integration.NewProcurementClient(&integration.ProcurementConfig{
		Enabled: cfg.Procurement.Enabled,
		BaseURL: cfg.Procurement.BaseURL,
		Token:   cfg.Procurement.Token,
		Timeout: time.Duration(cfg.Procurement.TimeoutSeconds) * time.Second,
	})
	webhooks := make([]*integration.WebhookConfig, 0, len(cfg.Events.Webhooks))
	for _, w := range cfg.Events.Webhooks {
		webhooks = append(webhooks, &integration.WebhookConfig{
			URL:       w.URL,
			Method:    w.Method,
			Headers:   w.Headers,
			AuthType:  w.AuthType,
			AuthKey:   w.AuthKey,
			AuthToken: w.AuthToken,
		})
	}
	eventHandler := integration.NewEventHandler(db, webhooks, notifier, procurement, cfg.Events.Workers, log)

	// 4. 服务层
	ledger := service.NewLedgerService(db, log)
	budgetCodes := service.NewBudgetCodeService(db)
	pettyCash := service.NewPettyCashService(db, log)
	auditLog := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	requisitions := service.NewRequisitionService(db, ledger, pettyCash, auditLog, eventHandler, log)
	query := service.NewQueryService(db)
	statistics := service.NewStatisticsService(db)

	// 5. 后台对账调度器: 过期预留释放 + 备用金表单补偿
	sweepScheduler := service.NewSweepScheduler(ledger, pettyCash, &service.SweepConfig{
		Enabled:           cfg.Sweep.Enabled,
		Interval:          time.Duration(cfg.Sweep.IntervalMinutes) * time.Minute,
		ReservationMaxAge: time.Duration(cfg.Sweep.ReservationMaxAgeHours) * time.Hour,
		PettyCashRetry:    cfg.Sweep.PettyCashRetry,
	}, log)

	// 6. 指标收集器: 数据库连接数与申请状态分布
	collector := metrics.NewCollector(db, 30*time.Second)
	collector.Start()

	return &Container{
		cfg:            cfg,
		db:             db,
		log:            log,
		tokenParser:    auth.NewTokenParser(cfg.Auth.JWTSecret),
		ledger:         ledger,
		budgetCodes:    budgetCodes,
		pettyCash:      pettyCash,
		auditLog:       auditLog,
		requisitions:   requisitions,
		query:          query,
		statistics:     statistics,
		eventHandler:   eventHandler,
		procurement:    procurement,
		sweepScheduler: sweepScheduler,
		collector:      collector,
	}, nil
}

// DB 获取数据库连接
func (c *Container) DB() *gorm.DB {
	return c.db
}

// Logger 获取日志记录器
func (c *Container) Logger() *logrus.Logger {
	return c.log
}

// TokenParser 获取 token 解析器
func (c *Container) TokenParser() *auth.TokenParser {
	return c.tokenParser
}

// LedgerService 获取预算台账服务
func (c *Container) LedgerService() service.LedgerService {
	return c.ledger
}

// BudgetCodeService 获取预算科目服务
func (c *Container) BudgetCodeService() service.BudgetCodeService {
	return c.budgetCodes
}

// PettyCashService 获取备用金表单服务
func (c *Container) PettyCashService() service.PettyCashService {
	return c.pettyCash
}

// AuditLogService 获取审计日志服务
func (c *Container) AuditLogService() service.AuditLogService {
	return c.auditLog
}

// RequisitionService 获取采购申请工作流服务
func (c *Container) RequisitionService() service.RequisitionService {
	return c.requisitions
}

// QueryService 获取查询服务
func (c *Container) QueryService() service.QueryService {
	return c.query
}

// StatisticsService 获取统计服务
func (c *Container) StatisticsService() service.StatisticsService {
	return c.statistics
}

// EventHandler 获取事件处理器
func (c *Container) EventHandler() integration.EventHandler {
	return c.eventHandler
}

// ProcurementClient 获取采购执行系统客户端
func (c *Container) ProcurementClient() *integration.ProcurementClient {
	return c.procurement
}

// SweepScheduler 获取后台对账调度器
func (c *Container) SweepScheduler() *service.SweepScheduler {
	return c.sweepScheduler
}

// Close 关闭容器,清理资源
func (c *Container) Close() error {
	if c.sweepScheduler != nil {
		c.sweepScheduler.Stop()
	}
	if c.collector != nil {
		c.collector.Stop()
	}
	if c.eventHandler != nil {
		c.eventHandler.Stop()
	}
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	return nil
}
