package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepScheduler 后台对账调度器
// 周期性释放过期预留、补生成缺失的备用金表单
type SweepScheduler struct {
	ledger    LedgerService
	pettyCash PettyCashService
	config    *SweepConfig
	log       *logrus.Logger
	stopChan  chan struct{}
}

// SweepConfig 对账调度配置
type SweepConfig struct {
	Enabled            bool          // 是否启用后台对账
	Interval           time.Duration // 扫描间隔
	ReservationMaxAge  time.Duration // 预留最长存活时间,超过即视为遗留并释放
	PettyCashRetry     bool          // 是否补生成备用金表单
	RunOnStart         bool          // 启动时立即执行一轮
}

// DefaultSweepConfig 默认对账配置
func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Enabled:           true,
		Interval:          time.Hour,
		ReservationMaxAge: 30 * 24 * time.Hour,
		PettyCashRetry:    true,
		RunOnStart:        false,
	}
}

// NewSweepScheduler 创建对账调度器
func NewSweepScheduler(ledger LedgerService, pettyCash PettyCashService, config *SweepConfig, log *logrus.Logger) *SweepScheduler {
	if config == nil {
		config = DefaultSweepConfig()
	}
	return &SweepScheduler{
		ledger:    ledger,
		pettyCash: pettyCash,
		config:    config,
		log:       log,
		stopChan:  make(chan struct{}),
	}
}

// Start 启动调度器
func (s *SweepScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.log.Info("sweep scheduler disabled")
		return nil
	}
	go s.run(ctx)
	return nil
}

// Stop 停止调度器
func (s *SweepScheduler) Stop() {
	close(s.stopChan)
}

// Config 获取对账配置
func (s *SweepScheduler) Config() *SweepConfig {
	return s.config
}

func (s *SweepScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.RunOnce(ctx)
	}

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce 执行一轮对账(公开方法,供测试与 CLI 使用)
// 每次运行都幂等: 已释放的预留、已有表单的申请直接跳过
func (s *SweepScheduler) RunOnce(ctx context.Context) {
	result, err := s.ledger.ReleaseStale(ctx, s.config.ReservationMaxAge)
	if err != nil {
		s.log.WithError(err).Error("stale reservation sweep failed")
	} else if result.ReleasedCount > 0 {
		s.log.WithFields(logrus.Fields{
			"released_count":  result.ReleasedCount,
			"released_amount": result.ReleasedAmount.String(),
		}).Info("stale reservations released")
	}

	if s.config.PettyCashRetry {
		generated, err := s.pettyCash.RetryPending(ctx)
		if err != nil {
			s.log.WithError(err).Error("petty cash form retry sweep failed")
		} else if generated > 0 {
			s.log.WithField("generated", generated).Info("petty cash forms backfilled")
		}
	}
}
