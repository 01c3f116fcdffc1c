package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/config"
	"github.com/mautops/procure-gin/internal/metrics"
	"github.com/mautops/procure-gin/internal/service"
	"gorm.io/gorm"
)

// RouterDeps 路由依赖
type RouterDeps struct {
	DB           *gorm.DB
	TokenParser  *auth.TokenParser
	Requisitions service.RequisitionService
	BudgetCodes  service.BudgetCodeService
	Ledger       service.LedgerService
	Query        service.QueryService
	Statistics   service.StatisticsService
	AuditLogs    service.AuditLogService
	// CORS 配置,来源为空时不挂 CORS 中间件
	CORS config.CORSConfig
	// 全局限流,RateLimitRPS <= 0 时不挂限流中间件
	RateLimitRPS   float64
	RateLimitBurst int
	// 链路追踪,需先调用 InitTracing
	TracingEnabled bool
}

// SetupRoutes 配置路由
func SetupRoutes(deps *RouterDeps) *gin.Engine {
	router := gin.Default()

	router.Use(RequestIDMiddleware())
	router.Use(RequestLogMiddleware())
	router.Use(SecurityHeadersMiddleware())
	if len(deps.CORS.AllowedOrigins) > 0 {
		router.Use(CORSMiddleware(deps.CORS))
	}
	if deps.RateLimitRPS > 0 {
		router.Use(RateLimitMiddleware(deps.RateLimitRPS, deps.RateLimitBurst))
	}
	if deps.TracingEnabled {
		router.Use(TracingMiddleware())
	}

	// 健康检查
	healthController := NewHealthController(deps.DB)
	router.GET("/health", healthController.Check)

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	reqController := NewRequisitionController(deps.Requisitions)
	budgetController := NewBudgetController(deps.BudgetCodes, deps.Ledger)
	queryController := NewQueryController(deps.Query, deps.Statistics)
	auditController := NewAuditController(deps.AuditLogs)

	// API v1 路由组,业务路由全部要求已认证主体
	v1 := router.Group("/api/v1")
	v1.Use(auth.PrincipalMiddleware(deps.TokenParser))
	{
		requisitions := v1.Group("/requisitions")
		{
			requisitions.POST("", reqController.Create)
			requisitions.GET("", queryController.ListRequisitions)
			requisitions.GET("/pending", queryController.ListPending)
			requisitions.GET("/:id", reqController.Get)
			requisitions.POST("/:id/submit", reqController.Submit)
			requisitions.POST("/:id/supervisor/decision", reqController.SupervisorDecision)
			requisitions.POST("/:id/finance/verify", reqController.FinanceVerify)
			requisitions.POST("/:id/supply-chain/review", reqController.SupplyChainReview)
			requisitions.POST("/:id/buyer", reqController.AssignBuyer)
			requisitions.POST("/:id/head/decision", reqController.HeadDecision)
			requisitions.POST("/:id/clarification/request", reqController.RequestClarification)
			requisitions.POST("/:id/clarification/respond", reqController.ProvideClarification)
			requisitions.POST("/:id/cancel", reqController.Cancel)
			requisitions.POST("/:id/procurement/start", reqController.StartProcurement)
			requisitions.POST("/:id/procurement/complete", reqController.CompleteProcurement)
			requisitions.POST("/:id/delivered", reqController.MarkDelivered)
			requisitions.GET("/:id/history", queryController.GetHistory)
			requisitions.GET("/:id/decisions", queryController.GetDecisions)
			requisitions.GET("/:id/audit", auditController.RequisitionTrail)
		}

		budgetCodes := v1.Group("/budget-codes")
		{
			budgetCodes.POST("", budgetController.Create)
			budgetCodes.GET("", budgetController.List)
			budgetCodes.POST("/sweep", budgetController.Sweep)
			budgetCodes.GET("/:id", budgetController.Get)
			budgetCodes.GET("/:id/summary", budgetController.Summary)
			budgetCodes.POST("/:id/deactivate", budgetController.Deactivate)
		}

		v1.GET("/statistics", queryController.Statistics)
		v1.GET("/audit-logs", auditController.ListByUser)
	}

	// 未匹配路由返回 JSON 404 而不是 HTML
	router.NoRoute(func(c *gin.Context) {
		Error(c, http.StatusNotFound, "route not found", "the requested route does not exist")
	})

	return router
}
