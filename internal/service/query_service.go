package service

import (
	"fmt"
	"strings"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/utils"
	"github.com/mautops/procure-gin/internal/workflow"
	"gorm.io/gorm"
)

// QueryService 查询服务接口
// 只读的列表与历史查询,不含任何状态变更
type QueryService interface {
	ListRequisitions(filter *ListRequisitionsFilter) ([]*model.Requisition, int64, error)
	GetHistory(requisitionID string) ([]*StateHistoryView, error)
	GetDecisions(requisitionID string) ([]*DecisionView, error)
	ListPendingForRole(role string) ([]*model.Requisition, error)
}

// ListRequisitionsFilter 申请列表查询过滤器
type ListRequisitionsFilter struct {
	Status      *workflow.RequisitionStatus
	RequesterID *string
	Department  *string
	StartTime   *string
	EndTime     *string
	Page        int
	PageSize    int
	SortBy      string
	Order       string
}

// StateHistoryView 状态历史视图
type StateHistoryView struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
	Operator   string `json:"operator"`
	CreatedAt  string `json:"created_at"`
}

// DecisionView 审批决定视图
type DecisionView struct {
	ID          string `json:"id"`
	Level       int    `json:"level"`
	TargetLevel int    `json:"target_level,omitempty"`
	Role        string `json:"role"`
	Actor       string `json:"actor"`
	Action      string `json:"action"`
	Comment     string `json:"comment,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// queryService 查询服务实现
type queryService struct {
	db           *gorm.DB
	historyRepo  repository.StateHistoryRepository
	decisionRepo repository.DecisionRecordRepository
}

// NewQueryService 创建查询服务
func NewQueryService(db *gorm.DB) QueryService {
	return &queryService{
		db:           db,
		historyRepo:  repository.NewStateHistoryRepository(db),
		decisionRepo: repository.NewDecisionRecordRepository(db),
	}
}

// ListRequisitions 分页列出申请
func (s *queryService) ListRequisitions(filter *ListRequisitionsFilter) ([]*model.Requisition, int64, error) {
	query := s.db.Model(&model.RequisitionModel{})

	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
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

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requisitions: %w", err)
	}

	// 排序字段走白名单校验
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	if err := utils.ValidateSortField(sortBy); err != nil {
		return nil, 0, fmt.Errorf("invalid sort field: %w", err)
	}
	order := filter.Order
	if order == "" {
		order = "desc"
	}
	if err := utils.ValidateSortOrder(order); err != nil {
		return nil, 0, fmt.Errorf("invalid sort order: %w", err)
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, strings.ToUpper(order)))

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	query = query.Offset((page - 1) * pageSize).Limit(pageSize)

	var rms []model.RequisitionModel
	if err := query.Find(&rms).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query requisitions: %w", err)
	}

	// 直接反序列化聚合,避免 N+1 查询
	reqs := make([]*model.Requisition, 0, len(rms))
	for _, rm := range rms {
		req, err := rm.Aggregate()
		if err != nil {
			continue // 跳过无法反序列化的记录
		}
		reqs = append(reqs, req)
	}

	return reqs, total, nil
}

// GetHistory 获取申请状态历史
func (s *queryService) GetHistory(requisitionID string) ([]*StateHistoryView, error) {
	models, err := s.historyRepo.FindByRequisitionID(requisitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	views := make([]*StateHistoryView, 0, len(models))
	for _, m := range models {
		views = append(views, &StateHistoryView{
			ID:         m.ID,
			FromStatus: m.FromStatus,
			ToStatus:   m.ToStatus,
			Reason:     m.Reason,
			Operator:   m.Operator,
			CreatedAt:  m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return views, nil
}

// GetDecisions 获取申请审批决定记录
func (s *queryService) GetDecisions(requisitionID string) ([]*DecisionView, error) {
	models, err := s.decisionRepo.FindByRequisitionID(requisitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get decisions: %w", err)
	}

	views := make([]*DecisionView, 0, len(models))
	for _, m := range models {
		views = append(views, &DecisionView{
			ID:          m.ID,
			Level:       m.Level,
			TargetLevel: m.TargetLevel,
			Role:        m.Role,
			Actor:       m.Actor,
			Action:      m.Action,
			Comment:     m.Comment,
			CreatedAt:   m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return views, nil
}

// ListPendingForRole 列出某个审批角色的待办申请
func (s *queryService) ListPendingForRole(role string) ([]*model.Requisition, error) {
	status := workflow.StatusForRole(workflow.ApproverRole(role))
	if !status.IsPending() {
		return nil, workflow.NewValidationError("role", "is not an approver role")
	}

	var rms []model.RequisitionModel
	err := s.db.Model(&model.RequisitionModel{}).
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&rms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requisitions: %w", err)
	}

	reqs := make([]*model.Requisition, 0, len(rms))
	for _, rm := range rms {
		req, err := rm.Aggregate()
		if err != nil {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
