package repository

import (
	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/gorm"
)

// EventRepository 事件仓储接口
type EventRepository interface {
	Save(event *model.EventModel) error
	FindByRequisitionID(requisitionID string) ([]*model.EventModel, error)
	FindPending() ([]*model.EventModel, error)
	MarkStatus(id string, status string, retryCount int) error
}

// eventRepository 事件仓储实现
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Save 保存事件
func (r *eventRepository) Save(event *model.EventModel) error {
	return r.db.Save(event).Error
}

// FindByRequisitionID 根据申请 ID 查找事件
func (r *eventRepository) FindByRequisitionID(requisitionID string) ([]*model.EventModel, error) {
	var events []*model.EventModel
	err := r.db.Where("requisition_id = ?", requisitionID).Order("created_at ASC").Find(&events).Error
	return events, err
}

// FindPending 查找待处理的事件
func (r *eventRepository) FindPending() ([]*model.EventModel, error) {
	var events []*model.EventModel
	err := r.db.Where("status = ?", model.EventPending).Order("created_at ASC").Find(&events).Error
	return events, err
}

// MarkStatus 更新事件处理状态
func (r *eventRepository) MarkStatus(id string, status string, retryCount int) error {
	return r.db.Model(&model.EventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"retry_count": retryCount,
		}).Error
}
