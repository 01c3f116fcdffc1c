package model

import (
	"errors"
	"time"
)

// StateHistoryModel 申请状态变更历史数据模型
type StateHistoryModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	RequisitionID string    `gorm:"type:varchar(64);not null;index"`
	FromStatus    string    `gorm:"type:varchar(40)"`
	ToStatus      string    `gorm:"type:varchar(40);not null"`
	Reason        string    `gorm:"type:text"`
	Operator      string    `gorm:"type:varchar(64);not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (StateHistoryModel) TableName() string {
	return "state_history"
}

// Validate 验证状态历史模型
func (shm *StateHistoryModel) Validate() error {
	if shm.ID == "" {
		return errors.New("history ID is required")
	}
	if shm.RequisitionID == "" {
		return errors.New("requisition ID is required")
	}
	if shm.ToStatus == "" {
		return errors.New("to status is required")
	}
	if shm.Operator == "" {
		return errors.New("operator is required")
	}
	return nil
}
