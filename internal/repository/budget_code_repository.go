package repository

import (
	"fmt"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BudgetCodeRepository 预算科目仓储接口
// 金额字段的变更只发生在台账服务的事务内,这里只提供读取与创建
type BudgetCodeRepository interface {
	Create(code *model.BudgetCodeModel) error
	FindByID(id string) (*model.BudgetCodeModel, error)
	FindByCode(code string) (*model.BudgetCodeModel, error)
	FindActive() ([]*model.BudgetCodeModel, error)
	FindByDepartment(department string) ([]*model.BudgetCodeModel, error)
	// SumAllocated 统计某科目下所有 allocated 状态预留的金额之和
	SumAllocated(budgetCodeID string) (decimal.Decimal, error)
	Deactivate(id string) error
}

// budgetCodeRepository 预算科目仓储实现
type budgetCodeRepository struct {
	db *gorm.DB
}

// NewBudgetCodeRepository 创建预算科目仓储
func NewBudgetCodeRepository(db *gorm.DB) BudgetCodeRepository {
	return &budgetCodeRepository{db: db}
}

// Create 创建预算科目
func (r *budgetCodeRepository) Create(code *model.BudgetCodeModel) error {
	return r.db.Create(code).Error
}

// FindByID 根据 ID 查找预算科目
func (r *budgetCodeRepository) FindByID(id string) (*model.BudgetCodeModel, error) {
	var code model.BudgetCodeModel
	if err := r.db.Where("id = ?", id).First(&code).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

// FindByCode 根据科目编码查找
func (r *budgetCodeRepository) FindByCode(code string) (*model.BudgetCodeModel, error) {
	var bc model.BudgetCodeModel
	if err := r.db.Where("code = ?", code).First(&bc).Error; err != nil {
		return nil, err
	}
	return &bc, nil
}

// FindActive 查找所有启用的预算科目
func (r *budgetCodeRepository) FindActive() ([]*model.BudgetCodeModel, error) {
	var codes []*model.BudgetCodeModel
	err := r.db.Where("active = ?", true).Order("code ASC").Find(&codes).Error
	return codes, err
}

// FindByDepartment 根据部门查找预算科目
func (r *budgetCodeRepository) FindByDepartment(department string) ([]*model.BudgetCodeModel, error) {
	var codes []*model.BudgetCodeModel
	err := r.db.Where("department = ?", department).Order("code ASC").Find(&codes).Error
	return codes, err
}

// SumAllocated 统计 allocated 状态预留金额之和
func (r *budgetCodeRepository) SumAllocated(budgetCodeID string) (decimal.Decimal, error) {
	return SumAllocatedTx(r.db, budgetCodeID)
}

// SumAllocatedTx 在给定事务/连接上统计 allocated 预留金额之和
func SumAllocatedTx(tx *gorm.DB, budgetCodeID string) (decimal.Decimal, error) {
	var row struct {
		Total decimal.NullDecimal
	}
	err := tx.Model(&model.AllocationModel{}).
		Where("budget_code_id = ? AND status = ?", budgetCodeID, model.AllocationAllocated).
		Select("SUM(amount) AS total").
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum allocations: %w", err)
	}
	if !row.Total.Valid {
		return decimal.Zero, nil
	}
	return row.Total.Decimal, nil
}

// Deactivate 停用预算科目(归档,不做物理删除)
func (r *budgetCodeRepository) Deactivate(id string) error {
	return r.db.Model(&model.BudgetCodeModel{}).
		Where("id = ?", id).
		Update("active", false).Error
}
