package repository

import (
	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/gorm"
)

// DecisionRecordRepository 审批决定仓储接口(追加式)
type DecisionRecordRepository interface {
	Append(record *model.DecisionRecordModel) error
	FindByRequisitionID(requisitionID string) ([]*model.DecisionRecordModel, error)
	FindByActor(actor string) ([]*model.DecisionRecordModel, error)
}

// decisionRecordRepository 审批决定仓储实现
type decisionRecordRepository struct {
	db *gorm.DB
}

// NewDecisionRecordRepository 创建审批决定仓储
func NewDecisionRecordRepository(db *gorm.DB) DecisionRecordRepository {
	return &decisionRecordRepository{db: db}
}

// Append 追加一条审批决定记录
func (r *decisionRecordRepository) Append(record *model.DecisionRecordModel) error {
	return AppendDecisionRecordTx(r.db, record)
}

// AppendDecisionRecordTx 在给定事务/连接上追加一条审批决定记录
func AppendDecisionRecordTx(tx *gorm.DB, record *model.DecisionRecordModel) error {
	return tx.Create(record).Error
}

// FindByRequisitionID 根据申请 ID 查找审批决定
func (r *decisionRecordRepository) FindByRequisitionID(requisitionID string) ([]*model.DecisionRecordModel, error) {
	var records []*model.DecisionRecordModel
	err := r.db.Where("requisition_id = ?", requisitionID).
		Order("created_at ASC").Find(&records).Error
	return records, err
}

// FindByActor 根据审批人查找审批决定
func (r *decisionRecordRepository) FindByActor(actor string) ([]*model.DecisionRecordModel, error) {
	var records []*model.DecisionRecordModel
	err := r.db.Where("actor = ?", actor).
		Order("created_at DESC").Find(&records).Error
	return records, err
}
