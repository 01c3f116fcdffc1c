package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 预算使用率告警阈值
const (
	AlertWarningThreshold  = 75.0
	AlertCriticalThreshold = 90.0
)

// BudgetCodeModel 预算科目数据模型
// TotalBudget/UsedBudget 只能通过台账的 reserve/commit/release 操作变更,
// Version 用于乐观锁,所有写入必须带版本条件
type BudgetCodeModel struct {
	ID          string          `gorm:"primaryKey;type:varchar(64)"`
	Code        string          `gorm:"type:varchar(64);not null;uniqueIndex"` // 科目编码
	Description string          `gorm:"type:text"`
	Department  string          `gorm:"type:varchar(128);index"`
	TotalBudget decimal.Decimal `gorm:"type:decimal(20,2);not null"` // 总预算
	UsedBudget  decimal.Decimal `gorm:"type:decimal(20,2);not null"` // 已消耗金额
	Active      bool            `gorm:"not null;default:true"`
	Version     int             `gorm:"not null;default:1"` // 乐观锁版本号
	CreatedBy   string          `gorm:"type:varchar(64)"`
	CreatedAt   time.Time       `gorm:"not null;index"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

// TableName 指定表名
func (BudgetCodeModel) TableName() string {
	return "budget_codes"
}

// Validate 验证预算科目模型
func (bc *BudgetCodeModel) Validate() error {
	if bc.ID == "" {
		return errors.New("budget code ID is required")
	}
	if bc.Code == "" {
		return errors.New("budget code is required")
	}
	if bc.TotalBudget.IsNegative() {
		return errors.New("total budget must not be negative")
	}
	if bc.UsedBudget.IsNegative() {
		return errors.New("used budget must not be negative")
	}
	if bc.UsedBudget.GreaterThan(bc.TotalBudget) {
		return errors.New("used budget must not exceed total budget")
	}
	return nil
}

// UtilizationPercentage 预算使用率(百分比)
func (bc *BudgetCodeModel) UtilizationPercentage() float64 {
	if bc.TotalBudget.IsZero() {
		return 0
	}
	pct, _ := bc.UsedBudget.Div(bc.TotalBudget).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// AlertLevel 根据使用率返回告警级别: ok/warning/critical
func (bc *BudgetCodeModel) AlertLevel() string {
	pct := bc.UtilizationPercentage()
	switch {
	case pct >= AlertCriticalThreshold:
		return "critical"
	case pct >= AlertWarningThreshold:
		return "warning"
	}
	return "ok"
}
