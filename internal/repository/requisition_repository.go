package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/workflow"
	"gorm.io/gorm"
)

// RequisitionRepository 采购申请仓储接口
type RequisitionRepository interface {
	Create(req *model.RequisitionModel) error
	// SaveWithVersion 带乐观锁保存: 仅当数据库版本等于 expectedVersion 时写入并递增版本,
	// 版本不匹配返回 StaleStateError
	SaveWithVersion(req *model.RequisitionModel, expectedVersion int) error
	FindByID(id string) (*model.RequisitionModel, error)
	FindAll() ([]*model.RequisitionModel, error)
	FindByFilter(filter *RequisitionFilter) ([]*model.RequisitionModel, error)
	CountForYear(year int) (int64, error)
	// MaxSequenceForYear 返回某一年申请编号的最大序号,没有记录时返回 0
	MaxSequenceForYear(year int) (int, error)
}

// RequisitionFilter 申请查询过滤器
type RequisitionFilter struct {
	Status      *string
	RequesterID *string
	Department  *string
	StartTime   *string
	EndTime     *string
}

// requisitionRepository 采购申请仓储实现
type requisitionRepository struct {
	db *gorm.DB
}

// NewRequisitionRepository 创建采购申请仓储
func NewRequisitionRepository(db *gorm.DB) RequisitionRepository {
	return &requisitionRepository{db: db}
}

// Create 创建申请
func (r *requisitionRepository) Create(req *model.RequisitionModel) error {
	return r.db.Create(req).Error
}

// SaveWithVersion 带乐观锁保存申请
func (r *requisitionRepository) SaveWithVersion(req *model.RequisitionModel, expectedVersion int) error {
	return SaveRequisitionTx(r.db, req, expectedVersion)
}

// SaveRequisitionTx 在给定事务/连接上带乐观锁保存申请
// 供需要把申请写入与台账操作绑成一个事务的服务层使用
func SaveRequisitionTx(tx *gorm.DB, req *model.RequisitionModel, expectedVersion int) error {
	req.Version = expectedVersion + 1
	result := tx.Model(&model.RequisitionModel{}).
		Where("id = ? AND version = ?", req.ID, expectedVersion).
		Updates(map[string]interface{}{
			"number":           req.Number,
			"requester_id":     req.RequesterID,
			"department":       req.Department,
			"status":           req.Status,
			"requested_amount": req.RequestedAmount,
			"payment_method":   req.PaymentMethod,
			"version":          req.Version,
			"data":             req.Data,
			"updated_at":       req.UpdatedAt,
			"submitted_at":     req.SubmittedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return &workflow.StaleStateError{Resource: "requisition", ID: req.ID}
	}
	return nil
}

// FindByID 根据 ID 查找申请
func (r *requisitionRepository) FindByID(id string) (*model.RequisitionModel, error) {
	var req model.RequisitionModel
	if err := r.db.Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// FindAll 查找所有申请
func (r *requisitionRepository) FindAll() ([]*model.RequisitionModel, error) {
	var reqs []*model.RequisitionModel
	err := r.db.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

// FindByFilter 根据过滤器查找申请
func (r *requisitionRepository) FindByFilter(filter *RequisitionFilter) ([]*model.RequisitionModel, error) {
	var reqs []*model.RequisitionModel
	query := r.db.Model(&model.RequisitionModel{})

	if filter != nil {
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.RequesterID != nil {
			query = query.Where("requester_id = ?", *filter.RequesterID)
		}
		if filter.Department != nil {
			query = query.Where("department = ?", *filter.Department)
		}
		if filter.StartTime != nil {
			query = query.Where("created_at >= ?", *filter.StartTime)
		}
		if filter.EndTime != nil {
			query = query.Where("created_at <= ?", *filter.EndTime)
		}
	}

	err := query.Order("created_at DESC").Find(&reqs).Error
	return reqs, err
}

// CountForYear 统计某一年创建的申请数,用于生成申请编号
func (r *requisitionRepository) CountForYear(year int) (int64, error) {
	var count int64
	err := r.db.Model(&model.RequisitionModel{}).
		Where("number LIKE ?", numberPrefix("REQ", year)+"%").
		Count(&count).Error
	return count, err
}

// MaxSequenceForYear 返回某一年申请编号的最大序号
// 编号序号部分固定四位零填充,字符串倒序即数值倒序
func (r *requisitionRepository) MaxSequenceForYear(year int) (int, error) {
	prefix := numberPrefix("REQ", year)
	var numbers []string
	err := r.db.Model(&model.RequisitionModel{}).
		Where("number LIKE ?", prefix+"%").
		Order("number DESC").Limit(1).
		Pluck("number", &numbers).Error
	if err != nil {
		return 0, err
	}
	if len(numbers) == 0 {
		return 0, nil
	}
	var seq int
	if _, err := fmt.Sscanf(strings.TrimPrefix(numbers[0], prefix), "%d", &seq); err != nil {
		return 0, fmt.Errorf("malformed requisition number %q: %w", numbers[0], err)
	}
	return seq, nil
}

// IsNotFound 判断是否为记录不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// numberPrefix 业务编号前缀,如 REQ-2026-
func numberPrefix(kind string, year int) string {
	return fmt.Sprintf("%s-%d-", kind, year)
}
