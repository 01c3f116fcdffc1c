package model

import (
	"errors"
	"time"
)

// 审批链动作
const (
	DecisionActionApprove              = "approve"
	DecisionActionReject               = "reject"
	DecisionActionRequestClarification = "request_clarification"
	DecisionActionProvideClarification = "provide_clarification"
)

// DecisionRecordModel 审批决定数据模型
// 追加式写入,作为审批链动作(含澄清往返与拒绝)的审计来源
type DecisionRecordModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	RequisitionID string    `gorm:"type:varchar(64);not null;index"`
	Level         int       `gorm:"type:int;not null"`
	TargetLevel   int       `gorm:"type:int"` // 澄清动作的目标层级
	Role          string    `gorm:"type:varchar(64);not null"`
	Actor         string    `gorm:"type:varchar(64);not null;index"`
	Action        string    `gorm:"type:varchar(32);not null"` // approve/reject/request_clarification/provide_clarification
	Comment       string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"not null;index"`
}

// TableName 指定表名
func (DecisionRecordModel) TableName() string {
	return "decision_records"
}

// Validate 验证审批决定模型
func (drm *DecisionRecordModel) Validate() error {
	if drm.ID == "" {
		return errors.New("record ID is required")
	}
	if drm.RequisitionID == "" {
		return errors.New("requisition ID is required")
	}
	if drm.Actor == "" {
		return errors.New("actor is required")
	}
	if drm.Action == "" {
		return errors.New("decision action is required")
	}
	return nil
}
