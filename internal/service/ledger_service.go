package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/procure-gin/internal/metrics"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 乐观锁冲突时的重试次数
// 冲突的 reserve/commit/release 会基于最新版本重算后重试
const ledgerMaxRetries = 5

// BudgetSummary 预算科目概览
// @Description 预算科目余额与使用率概览
type BudgetSummary struct {
	BudgetCodeID          string          `json:"budget_code_id"`
	Code                  string          `json:"code"`
	TotalBudget           decimal.Decimal `json:"total_budget"`
	UsedBudget            decimal.Decimal `json:"used_budget"`
	AllocatedBudget       decimal.Decimal `json:"allocated_budget"` // allocated 状态预留之和
	Remaining             decimal.Decimal `json:"remaining"`        // total - used - allocated
	UtilizationPercentage float64         `json:"utilization_percentage"`
	AlertLevel            string          `json:"alert_level"` // ok/warning/critical
	Active                bool            `json:"active"`
}

// SweepResult 过期预留清理结果
// @Description 过期预留清理结果
type SweepResult struct {
	ReleasedCount  int             `json:"released_count"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
}

// LedgerService 预算台账服务接口
// 预算科目的金额只能通过这里的 reserve/commit/release 变更,
// 所有操作对同一科目的并发调用通过版本号 CAS 串行化
type LedgerService interface {
	Reserve(ctx context.Context, budgetCodeID string, amount decimal.Decimal, requisitionID string) (string, error)
	Commit(ctx context.Context, reservationID string, actualAmount decimal.Decimal) error
	Release(ctx context.Context, reservationID string, reason string) error
	// Tx 变体在调用方事务内执行,供需要把台账操作与申请写入
	// 绑成一个原子单元的工作流转换使用;版本冲突以 StaleStateError 回滚外部事务
	ReserveTx(tx *gorm.DB, budgetCodeID string, amount decimal.Decimal, requisitionID string) (string, error)
	CommitTx(tx *gorm.DB, reservationID string, actualAmount decimal.Decimal) error
	ReleaseTx(tx *gorm.DB, reservationID string, reason string) error
	// ReleaseStale 释放超过 maxAge 仍未结清的预留,幂等
	ReleaseStale(ctx context.Context, maxAge time.Duration) (*SweepResult, error)
	Summary(budgetCodeID string) (*BudgetSummary, error)
}

// ledgerService 预算台账服务实现
type ledgerService struct {
	db         *gorm.DB
	budgetRepo repository.BudgetCodeRepository
	allocRepo  repository.AllocationRepository
	log        *logrus.Logger
}

// NewLedgerService 创建预算台账服务
func NewLedgerService(db *gorm.DB, log *logrus.Logger) LedgerService {
	return &ledgerService{
		db:         db,
		budgetRepo: repository.NewBudgetCodeRepository(db),
		allocRepo:  repository.NewAllocationRepository(db),
		log:        log,
	}
}

// Reserve 预留预算
// 单个事务内完成: 读取科目 -> 计算剩余额度 -> 校验 -> 写入预留 -> 版本号 CAS。
// 版本冲突时基于最新数据重试,额度不足返回 InsufficientBudgetError
func (s *ledgerService) Reserve(ctx context.Context, budgetCodeID string, amount decimal.Decimal, requisitionID string) (string, error) {
	var reservationID string
	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			id, err := s.reserveInTx(tx, budgetCodeID, amount, requisitionID)
			if err != nil {
				return err
			}
			reservationID = id
			return nil
		})
	})
	if err != nil {
		return "", err
	}

	metrics.RecordBudgetReservation("reserved")
	s.log.WithFields(logrus.Fields{
		"budget_code_id": budgetCodeID,
		"requisition_id": requisitionID,
		"reservation_id": reservationID,
		"amount":         amount.StringFixed(2),
	}).Info("budget reserved")
	return reservationID, nil
}

// ReserveTx 在调用方事务内预留预算
// 不做冲突重试,冲突以 StaleStateError 回滚整个外部事务
func (s *ledgerService) ReserveTx(tx *gorm.DB, budgetCodeID string, amount decimal.Decimal, requisitionID string) (string, error) {
	return s.reserveInTx(tx, budgetCodeID, amount, requisitionID)
}

// reserveInTx 事务内的预留逻辑
func (s *ledgerService) reserveInTx(tx *gorm.DB, budgetCodeID string, amount decimal.Decimal, requisitionID string) (string, error) {
	if !amount.IsPositive() {
		return "", workflow.NewValidationError("amount", "must be positive")
	}

	var code model.BudgetCodeModel
	if err := tx.Where("id = ?", budgetCodeID).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", workflow.NewValidationError("budget_code_id", "does not exist")
		}
		return "", err
	}
	if !code.Active {
		return "", workflow.NewValidationError("budget_code_id", "is deactivated")
	}

	allocated, err := repository.SumAllocatedTx(tx, budgetCodeID)
	if err != nil {
		return "", err
	}
	remaining := code.TotalBudget.Sub(code.UsedBudget).Sub(allocated)
	if remaining.LessThan(amount) {
		return "", &workflow.InsufficientBudgetError{
			BudgetCode: code.Code,
			Requested:  amount,
			Remaining:  remaining,
		}
	}

	alloc := &model.AllocationModel{
		ID:            uuid.New().String(),
		BudgetCodeID:  budgetCodeID,
		RequisitionID: requisitionID,
		Amount:        amount,
		Status:        model.AllocationAllocated,
		AllocatedAt:   time.Now(),
	}
	if err := tx.Create(alloc).Error; err != nil {
		return "", fmt.Errorf("failed to create allocation: %w", err)
	}

	if err := bumpBudgetVersion(tx, &code, nil); err != nil {
		return "", err
	}
	return alloc.ID, nil
}

// Commit 结清预留
// allocated -> consumed,按实际金额计入 used。实际金额可以与预留金额不同,
// 差额自动回到剩余额度
func (s *ledgerService) Commit(ctx context.Context, reservationID string, actualAmount decimal.Decimal) error {
	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			return s.commitInTx(tx, reservationID, actualAmount)
		})
	})
	if err != nil {
		return err
	}

	metrics.RecordBudgetReservation("committed")
	s.log.WithFields(logrus.Fields{
		"reservation_id": reservationID,
		"actual_amount":  actualAmount.StringFixed(2),
	}).Info("budget reservation committed")
	return nil
}

// Release 释放预留
// allocated -> released,预留不再占用剩余额度
func (s *ledgerService) Release(ctx context.Context, reservationID string, reason string) error {
	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			return s.releaseInTx(tx, reservationID, reason)
		})
	})
	if err != nil {
		return err
	}

	metrics.RecordBudgetReservation("released")
	s.log.WithFields(logrus.Fields{
		"reservation_id": reservationID,
		"reason":         reason,
	}).Info("budget reservation released")
	return nil
}

// CommitTx 在调用方事务内结清预留
func (s *ledgerService) CommitTx(tx *gorm.DB, reservationID string, actualAmount decimal.Decimal) error {
	return s.commitInTx(tx, reservationID, actualAmount)
}

// ReleaseTx 在调用方事务内释放预留
func (s *ledgerService) ReleaseTx(tx *gorm.DB, reservationID string, reason string) error {
	return s.releaseInTx(tx, reservationID, reason)
}

// commitInTx 事务内的结清逻辑
func (s *ledgerService) commitInTx(tx *gorm.DB, reservationID string, actualAmount decimal.Decimal) error {
	if actualAmount.IsNegative() {
		return workflow.NewValidationError("actual_amount", "must not be negative")
	}

	alloc, code, err := loadAllocationForUpdate(tx, reservationID)
	if err != nil {
		return err
	}

	newUsed := code.UsedBudget.Add(actualAmount)
	if newUsed.GreaterThan(code.TotalBudget) {
		allocated, err := repository.SumAllocatedTx(tx, code.ID)
		if err != nil {
			return err
		}
		return &workflow.InsufficientBudgetError{
			BudgetCode: code.Code,
			Requested:  actualAmount,
			Remaining:  code.TotalBudget.Sub(code.UsedBudget).Sub(allocated),
		}
	}

	now := time.Now()
	if err := tx.Model(&model.AllocationModel{}).
		Where("id = ? AND status = ?", alloc.ID, model.AllocationAllocated).
		Updates(map[string]interface{}{
			"status":        model.AllocationConsumed,
			"actual_amount": actualAmount,
			"consumed_at":   now,
		}).Error; err != nil {
		return err
	}

	return bumpBudgetVersion(tx, code, &newUsed)
}

// releaseInTx 事务内的释放逻辑
func (s *ledgerService) releaseInTx(tx *gorm.DB, reservationID string, reason string) error {
	alloc, code, err := loadAllocationForUpdate(tx, reservationID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := tx.Model(&model.AllocationModel{}).
		Where("id = ? AND status = ?", alloc.ID, model.AllocationAllocated).
		Updates(map[string]interface{}{
			"status":         model.AllocationReleased,
			"release_reason": reason,
			"released_at":    now,
		}).Error; err != nil {
		return err
	}

	return bumpBudgetVersion(tx, code, nil)
}

// ReleaseStale 清理过期未结清的预留
// 只扫描 allocated 状态,对已释放/已结清的预留天然幂等;
// 单条失败不会中断整个扫描
func (s *ledgerService) ReleaseStale(ctx context.Context, maxAge time.Duration) (*SweepResult, error) {
	cutoff := time.Now().Add(-maxAge)
	stale, err := s.allocRepo.FindStale(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale allocations: %w", err)
	}

	result := &SweepResult{ReleasedAmount: decimal.Zero}
	for _, alloc := range stale {
		if err := s.Release(ctx, alloc.ID, fmt.Sprintf("stale reservation sweep (older than %s)", maxAge)); err != nil {
			// 已被并发结清的预留视为不需要处理
			var notFound *workflow.ReservationNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			s.log.WithError(err).WithField("reservation_id", alloc.ID).Warn("failed to release stale reservation")
			continue
		}
		result.ReleasedCount++
		result.ReleasedAmount = result.ReleasedAmount.Add(alloc.Amount)
	}
	return result, nil
}

// Summary 预算科目概览
func (s *ledgerService) Summary(budgetCodeID string) (*BudgetSummary, error) {
	code, err := s.budgetRepo.FindByID(budgetCodeID)
	if err != nil {
		return nil, err
	}
	allocated, err := s.budgetRepo.SumAllocated(budgetCodeID)
	if err != nil {
		return nil, err
	}

	summary := &BudgetSummary{
		BudgetCodeID:          code.ID,
		Code:                  code.Code,
		TotalBudget:           code.TotalBudget,
		UsedBudget:            code.UsedBudget,
		AllocatedBudget:       allocated,
		Remaining:             code.TotalBudget.Sub(code.UsedBudget).Sub(allocated),
		UtilizationPercentage: code.UtilizationPercentage(),
		AlertLevel:            code.AlertLevel(),
		Active:                code.Active,
	}
	metrics.SetBudgetUtilization(code.Code, summary.UtilizationPercentage)
	return summary, nil
}

// withRetry 乐观锁冲突重试
func (s *ledgerService) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < ledgerMaxRetries; attempt++ {
		err = fn()
		var stale *workflow.StaleStateError
		if err == nil || !errors.As(err, &stale) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

// loadAllocationForUpdate 加载预留及其所属科目
// 预留必须处于 allocated 状态,否则返回 ReservationNotFoundError
func loadAllocationForUpdate(tx *gorm.DB, reservationID string) (*model.AllocationModel, *model.BudgetCodeModel, error) {
	var alloc model.AllocationModel
	if err := tx.Where("id = ?", reservationID).First(&alloc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &workflow.ReservationNotFoundError{ReservationID: reservationID}
		}
		return nil, nil, err
	}
	if alloc.Status != model.AllocationAllocated {
		return nil, nil, &workflow.ReservationNotFoundError{ReservationID: reservationID}
	}

	var code model.BudgetCodeModel
	if err := tx.Where("id = ?", alloc.BudgetCodeID).First(&code).Error; err != nil {
		return nil, nil, err
	}
	return &alloc, &code, nil
}

// bumpBudgetVersion 预算科目版本号 CAS
// newUsed 非空时一并更新 used_budget;写不到行说明版本已被并发修改
func bumpBudgetVersion(tx *gorm.DB, code *model.BudgetCodeModel, newUsed *decimal.Decimal) error {
	updates := map[string]interface{}{
		"version":    code.Version + 1,
		"updated_at": time.Now(),
	}
	if newUsed != nil {
		updates["used_budget"] = *newUsed
	}
	result := tx.Model(&model.BudgetCodeModel{}).
		Where("id = ? AND version = ?", code.ID, code.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &workflow.StaleStateError{Resource: "budget_code", ID: code.ID}
	}
	return nil
}
