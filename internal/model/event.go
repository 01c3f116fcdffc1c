package model

import (
	"errors"
	"time"
)

// 事件状态
const (
	EventPending = "pending"
	EventSuccess = "success"
	EventFailed  = "failed"
)

// EventModel 领域事件数据模型(outbox 行)
// 状态转换只写事件,通知与采购协作方由独立的分发器异步消费
type EventModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	RequisitionID string    `gorm:"type:varchar(64);not null;index"`
	Type          string    `gorm:"type:varchar(48);not null;index"` // requisition.submitted/approved/...
	Data          []byte    `gorm:"type:jsonb;not null"`             // 序列化后的事件数据
	Status        string    `gorm:"type:varchar(32);not null;default:'pending'"`
	RetryCount    int       `gorm:"type:int;default:0"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName 指定表名
func (EventModel) TableName() string {
	return "events"
}

// Validate 验证事件模型
func (em *EventModel) Validate() error {
	if em.ID == "" {
		return errors.New("event ID is required")
	}
	if em.RequisitionID == "" {
		return errors.New("requisition ID is required")
	}
	if em.Type == "" {
		return errors.New("event type is required")
	}
	if len(em.Data) == 0 {
		return errors.New("event data is required")
	}
	if em.Status == "" {
		em.Status = EventPending
	}
	return nil
}
