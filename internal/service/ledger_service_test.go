package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mautops/procure-gin/internal/database"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupLedgerTestDB 创建台账测试数据库
func setupLedgerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存库每个连接都是独立数据库,必须固定为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// seedBudgetCode 写入一个预算科目
func seedBudgetCode(t *testing.T, db *gorm.DB, id string, total int64) *model.BudgetCodeModel {
	code := &model.BudgetCodeModel{
		ID:          id,
		Code:        "IT-CAPEX-" + id,
		Department:  "engineering",
		TotalBudget: decimal.NewFromInt(total),
		UsedBudget:  decimal.Zero,
		Active:      true,
		Version:     1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, db.Create(code).Error)
	return code
}

// TestLedger_Reserve 测试预算预留
func TestLedger_Reserve(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	id, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(600000), "req-001")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.Equal(decimal.NewFromInt(600000)))
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(400000)))
	assert.True(t, summary.UsedBudget.IsZero())
}

// TestLedger_Reserve_InsufficientBudget 测试额度不足时整体拒绝
func TestLedger_Reserve_InsufficientBudget(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	_, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(600000), "req-001")
	require.NoError(t, err)

	// 剩余 400000,不足以预留 500000;不允许部分预留
	_, err = ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(500000), "req-002")
	var insufficient *workflow.InsufficientBudgetError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Remaining.Equal(decimal.NewFromInt(400000)))

	// 失败的预留不留痕
	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.Equal(decimal.NewFromInt(600000)))

	// 恰好等于剩余额度的预留成功
	_, err = ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(400000), "req-003")
	assert.NoError(t, err)
}

// TestLedger_Reserve_Validation 测试预留参数校验
func TestLedger_Reserve_Validation(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000)

	var valErr *workflow.ValidationError

	_, err := ledger.Reserve(context.Background(), "bc-001", decimal.Zero, "req-001")
	assert.True(t, errors.As(err, &valErr))

	_, err = ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(-5), "req-001")
	assert.True(t, errors.As(err, &valErr))

	_, err = ledger.Reserve(context.Background(), "bc-missing", decimal.NewFromInt(10), "req-001")
	assert.True(t, errors.As(err, &valErr))
}

// TestLedger_Reserve_DeactivatedCode 测试停用科目不可预留
func TestLedger_Reserve_DeactivatedCode(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	code := seedBudgetCode(t, db, "bc-001", 1000)
	require.NoError(t, db.Model(code).Update("active", false).Error)

	_, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(10), "req-001")
	var valErr *workflow.ValidationError
	assert.True(t, errors.As(err, &valErr))
}

// TestLedger_Commit 测试按实际金额结清,差额回到剩余额度
func TestLedger_Commit(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	id, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(600000), "req-001")
	require.NoError(t, err)

	// 实际结算 550000,差额 50000 自动回到剩余额度
	require.NoError(t, ledger.Commit(context.Background(), id, decimal.NewFromInt(550000)))

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.UsedBudget.Equal(decimal.NewFromInt(550000)))
	assert.True(t, summary.AllocatedBudget.IsZero())
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(450000)))

	// 已结清的预留不能再次结清或释放
	var notFound *workflow.ReservationNotFoundError
	err = ledger.Commit(context.Background(), id, decimal.NewFromInt(1))
	assert.True(t, errors.As(err, &notFound))
	err = ledger.Release(context.Background(), id, "late")
	assert.True(t, errors.As(err, &notFound))
}

// TestLedger_Release 测试释放预留
func TestLedger_Release(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	id, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(600000), "req-001")
	require.NoError(t, err)
	require.NoError(t, ledger.Release(context.Background(), id, "requisition rejected"))

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.IsZero())
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(1000000)))

	var alloc model.AllocationModel
	require.NoError(t, db.Where("id = ?", id).First(&alloc).Error)
	assert.Equal(t, model.AllocationReleased, alloc.Status)
	assert.Equal(t, "requisition rejected", alloc.ReleaseReason)
	assert.NotNil(t, alloc.ReleasedAt)
}

// TestLedger_UnknownReservation 测试不存在的预留
func TestLedger_UnknownReservation(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())

	var notFound *workflow.ReservationNotFoundError
	err := ledger.Commit(context.Background(), "missing", decimal.NewFromInt(1))
	assert.True(t, errors.As(err, &notFound))
	err = ledger.Release(context.Background(), "missing", "x")
	assert.True(t, errors.As(err, &notFound))
}

// TestLedger_ReleaseStale 测试过期预留清理及其幂等性
func TestLedger_ReleaseStale(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	oldID, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(100000), "req-old")
	require.NoError(t, err)
	freshID, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(200000), "req-fresh")
	require.NoError(t, err)

	// 把第一笔预留改成 40 天前
	require.NoError(t, db.Model(&model.AllocationModel{}).
		Where("id = ?", oldID).
		Update("allocated_at", time.Now().Add(-40*24*time.Hour)).Error)

	result, err := ledger.ReleaseStale(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReleasedCount)
	assert.True(t, result.ReleasedAmount.Equal(decimal.NewFromInt(100000)))

	// 未过期的预留不受影响
	var fresh model.AllocationModel
	require.NoError(t, db.Where("id = ?", freshID).First(&fresh).Error)
	assert.Equal(t, model.AllocationAllocated, fresh.Status)

	// 再次清理为空操作
	result, err = ledger.ReleaseStale(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ReleasedCount)
}

// TestLedger_TxVariants 测试事务变体与外部事务一起回滚
func TestLedger_TxVariants(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	// 外部事务回滚时,预留一并消失
	rollbackErr := errors.New("outer failure")
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.ReserveTx(tx, "bc-001", decimal.NewFromInt(600000), "req-001")
		require.NoError(t, err)
		return rollbackErr
	})
	assert.ErrorIs(t, err, rollbackErr)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.IsZero())

	// 外部事务提交时,预留生效
	var id string
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = ledger.ReserveTx(tx, "bc-001", decimal.NewFromInt(600000), "req-001")
		return err
	})
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.CommitTx(tx, id, decimal.NewFromInt(600000))
	})
	require.NoError(t, err)

	summary, err = ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.UsedBudget.Equal(decimal.NewFromInt(600000)))
}

// TestLedger_Summary_AlertLevels 测试使用率告警级别
func TestLedger_Summary_AlertLevels(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 100)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.Equal(t, "ok", summary.AlertLevel)

	id, err := ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(80), "req-001")
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(context.Background(), id, decimal.NewFromInt(80)))

	summary, err = ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.Equal(t, "warning", summary.AlertLevel)

	id, err = ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(15), "req-002")
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(context.Background(), id, decimal.NewFromInt(15)))

	summary, err = ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.Equal(t, "critical", summary.AlertLevel)
}

// TestLedger_ConcurrentReserve 测试并发预留时不超卖
func TestLedger_ConcurrentReserve(t *testing.T) {
	db := setupLedgerTestDB(t)
	ledger := service.NewLedgerService(db, testLogger())
	seedBudgetCode(t, db, "bc-001", 1000000)

	// 两个各 600000 的并发预留,额度只够一个
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reqID := fmt.Sprintf("req-%03d", i)
			_, errs[i] = ledger.Reserve(context.Background(), "bc-001", decimal.NewFromInt(600000), reqID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *workflow.InsufficientBudgetError
		require.ErrorAs(t, err, &insufficient)
	}
	assert.Equal(t, 1, succeeded)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.Equal(decimal.NewFromInt(600000)))
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(400000)))
}
