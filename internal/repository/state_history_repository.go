package repository

import (
	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/gorm"
)

// StateHistoryRepository 状态历史仓储接口
type StateHistoryRepository interface {
	Save(history *model.StateHistoryModel) error
	FindByRequisitionID(requisitionID string) ([]*model.StateHistoryModel, error)
}

// stateHistoryRepository 状态历史仓储实现
type stateHistoryRepository struct {
	db *gorm.DB
}

// NewStateHistoryRepository 创建状态历史仓储
func NewStateHistoryRepository(db *gorm.DB) StateHistoryRepository {
	return &stateHistoryRepository{db: db}
}

// Save 保存状态历史
func (r *stateHistoryRepository) Save(history *model.StateHistoryModel) error {
	return SaveStateHistoryTx(r.db, history)
}

// SaveStateHistoryTx 在给定事务/连接上保存状态历史
// 供需要把历史写入与状态转换绑成一个事务的服务层使用
func SaveStateHistoryTx(tx *gorm.DB, history *model.StateHistoryModel) error {
	return tx.Create(history).Error
}

// FindByRequisitionID 根据申请 ID 查找状态历史
func (r *stateHistoryRepository) FindByRequisitionID(requisitionID string) ([]*model.StateHistoryModel, error) {
	var histories []*model.StateHistoryModel
	err := r.db.Where("requisition_id = ?", requisitionID).
		Order("created_at ASC").Find(&histories).Error
	return histories, err
}
