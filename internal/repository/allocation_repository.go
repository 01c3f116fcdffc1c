package repository

import (
	"time"

	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/gorm"
)

// AllocationRepository 预算预留仓储接口
type AllocationRepository interface {
	FindByID(id string) (*model.AllocationModel, error)
	FindByRequisition(requisitionID string) ([]*model.AllocationModel, error)
	FindByBudgetCode(budgetCodeID string) ([]*model.AllocationModel, error)
	// FindStale 查找早于 cutoff 且仍为 allocated 状态的预留
	FindStale(cutoff time.Time) ([]*model.AllocationModel, error)
}

// allocationRepository 预算预留仓储实现
type allocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository 创建预算预留仓储
func NewAllocationRepository(db *gorm.DB) AllocationRepository {
	return &allocationRepository{db: db}
}

// FindByID 根据 ID 查找预留
func (r *allocationRepository) FindByID(id string) (*model.AllocationModel, error) {
	var alloc model.AllocationModel
	if err := r.db.Where("id = ?", id).First(&alloc).Error; err != nil {
		return nil, err
	}
	return &alloc, nil
}

// FindByRequisition 根据申请查找预留
func (r *allocationRepository) FindByRequisition(requisitionID string) ([]*model.AllocationModel, error) {
	var allocs []*model.AllocationModel
	err := r.db.Where("requisition_id = ?", requisitionID).
		Order("allocated_at ASC").Find(&allocs).Error
	return allocs, err
}

// FindByBudgetCode 根据预算科目查找预留
func (r *allocationRepository) FindByBudgetCode(budgetCodeID string) ([]*model.AllocationModel, error) {
	var allocs []*model.AllocationModel
	err := r.db.Where("budget_code_id = ?", budgetCodeID).
		Order("allocated_at ASC").Find(&allocs).Error
	return allocs, err
}

// FindStale 查找过期未结清的预留
func (r *allocationRepository) FindStale(cutoff time.Time) ([]*model.AllocationModel, error) {
	var allocs []*model.AllocationModel
	err := r.db.Where("status = ? AND allocated_at < ?", model.AllocationAllocated, cutoff).
		Order("allocated_at ASC").Find(&allocs).Error
	return allocs, err
}
