package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 预算预留状态
const (
	AllocationAllocated = "allocated" // 已预留,占用剩余额度
	AllocationConsumed  = "consumed"  // 已消耗,计入 used
	AllocationReleased  = "released"  // 已释放,不再占用额度
)

// AllocationModel 预算预留数据模型
// 只在台账事务内变更,同一事务会递增所属预算科目的 Version
type AllocationModel struct {
	ID            string          `gorm:"primaryKey;type:varchar(64)"`
	BudgetCodeID  string          `gorm:"type:varchar(64);not null;index"`
	RequisitionID string          `gorm:"type:varchar(64);not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null"` // 预留金额
	ActualAmount  decimal.Decimal `gorm:"type:decimal(20,2)"`          // 结算金额(consumed 时填写)
	Status        string          `gorm:"type:varchar(32);not null;index"`
	ReleaseReason string          `gorm:"type:text"`
	AllocatedAt   time.Time       `gorm:"not null;index"`
	ConsumedAt    *time.Time
	ReleasedAt    *time.Time
}

// TableName 指定表名
func (AllocationModel) TableName() string {
	return "budget_allocations"
}

// Validate 验证预留模型
func (a *AllocationModel) Validate() error {
	if a.ID == "" {
		return errors.New("allocation ID is required")
	}
	if a.BudgetCodeID == "" {
		return errors.New("budget code ID is required")
	}
	if a.RequisitionID == "" {
		return errors.New("requisition ID is required")
	}
	if !a.Amount.IsPositive() {
		return errors.New("allocation amount must be positive")
	}
	switch a.Status {
	case AllocationAllocated, AllocationConsumed, AllocationReleased:
	default:
		return errors.New("invalid allocation status")
	}
	return nil
}
