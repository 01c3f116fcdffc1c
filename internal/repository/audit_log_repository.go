package repository

import (
	"github.com/mautops/procure-gin/internal/model"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓储接口
// 审计日志只追加不修改,不提供更新和删除
type AuditLogRepository interface {
	Save(log *model.AuditLogModel) error
	FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error)
	FindByUser(userID string, limit int) ([]*model.AuditLogModel, error)
}

// auditLogRepository 审计日志仓储实现
type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓储
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Save 追加审计日志
func (r *auditLogRepository) Save(log *model.AuditLogModel) error {
	return r.db.Create(log).Error
}

// FindByResource 查询某个资源的全部审计轨迹,按时间正序
func (r *auditLogRepository) FindByResource(resourceType string, resourceID string) ([]*model.AuditLogModel, error) {
	var logs []*model.AuditLogModel
	err := r.db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// FindByUser 查询某个用户最近的操作记录,按时间倒序
func (r *auditLogRepository) FindByUser(userID string, limit int) ([]*model.AuditLogModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var logs []*model.AuditLogModel
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
