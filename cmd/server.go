/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mautops/procure-gin/internal/api"
	"github.com/mautops/procure-gin/internal/config"
	"github.com/mautops/procure-gin/internal/container"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the Procure Gin API server.
The server will listen on the configured host and port,
and provide REST API interfaces for requisition and budget management.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// 2. 初始化容器
		ctr, err := container.NewContainer(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		// 3. 链路追踪
		if cfg.Tracing.Enabled {
			if err := api.InitTracing("procure-gin", cfg.Tracing.JaegerEndpoint); err != nil {
				ctr.Logger().WithError(err).Warn("Failed to initialize tracing, continuing without it")
				cfg.Tracing.Enabled = false
			}
		}

		// 4. 配置热更新: 日志级别可以不重启直接生效
		if configPath != "" {
			watcher := config.NewWatcher(cfg, configPath, ctr.Logger())
			watcher.Subscribe(func(next *config.Config) {
				level, err := logrus.ParseLevel(next.Log.Level)
				if err != nil {
					ctr.Logger().WithError(err).Warn("Invalid log level in updated config, keeping current level")
					return
				}
				ctr.Logger().SetLevel(level)
				api.SetLoggerLevel(level)
			})
			if err := watcher.Start(); err != nil {
				ctr.Logger().WithError(err).Warn("Config hot-reload disabled")
			} else {
				defer watcher.Stop()
			}
		}

		// 5. 后台任务: 过期预留释放调度器 + 事件补投
		bgCtx, bgCancel := context.WithCancel(context.Background())
		defer bgCancel()
		if err := ctr.SweepScheduler().Start(bgCtx); err != nil {
			ctr.Logger().WithError(err).Warn("Failed to start sweep scheduler")
		}
		if redelivered, err := ctr.EventHandler().RedeliverPending(); err != nil {
			ctr.Logger().WithError(err).Warn("Failed to redeliver pending events on startup")
		} else if redelivered > 0 {
			ctr.Logger().WithField("count", redelivered).Info("Re-enqueued pending events from outbox")
		}

		// 6. 设置路由
		router := api.SetupRoutes(&api.RouterDeps{
			DB:             ctr.DB(),
			TokenParser:    ctr.TokenParser(),
			Requisitions:   ctr.RequisitionService(),
			BudgetCodes:    ctr.BudgetCodeService(),
			Ledger:         ctr.LedgerService(),
			Query:          ctr.QueryService(),
			Statistics:     ctr.StatisticsService(),
			AuditLogs:      ctr.AuditLogService(),
			CORS:           cfg.CORS,
			RateLimitRPS:   cfg.RateLimit.RPS,
			RateLimitBurst: cfg.RateLimit.Burst,
			TracingEnabled: cfg.Tracing.Enabled,
		})

		// 7. 启动服务器
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: router,
		}

		// 启动服务器（在 goroutine 中）
		go func() {
			log.Printf("Server starting on %s", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()

		// 等待中断信号
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("Shutting down server...")

		// 优雅关闭
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
		if cfg.Tracing.Enabled {
			if err := api.ShutdownTracing(ctx); err != nil {
				ctr.Logger().WithError(err).Warn("Failed to flush tracing spans")
			}
		}

		log.Println("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// 服务器配置标志
	serverCmd.Flags().String("config", "", "Config file path (default: config.yaml)")
	serverCmd.Flags().String("host", "0.0.0.0", "Server host")
	serverCmd.Flags().Int("port", 8080, "Server port")
}
