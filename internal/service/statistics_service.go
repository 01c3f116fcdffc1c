package service

import (
	"fmt"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatisticsService 统计服务接口
type StatisticsService interface {
	GetRequisitionStatisticsByStatus() ([]*RequisitionStatisticsByStatus, error)
	GetRequisitionStatisticsByDepartment() ([]*RequisitionStatisticsByDepartment, error)
	GetRequisitionStatisticsByTime() ([]*RequisitionStatisticsByTime, error)
	GetApprovalStatistics() (*ApprovalStatistics, error)
	GetBudgetStatistics() ([]*BudgetStatistics, error)
}

// RequisitionStatisticsByStatus 按状态统计
type RequisitionStatisticsByStatus struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// RequisitionStatisticsByDepartment 按部门统计
type RequisitionStatisticsByDepartment struct {
	Department  string          `json:"department"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// RequisitionStatisticsByTime 按时间统计
type RequisitionStatisticsByTime struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ApprovalStatistics 审批统计
type ApprovalStatistics struct {
	TotalDecisions     int64   `json:"total_decisions"`
	ApprovedCount      int64   `json:"approved_count"`
	RejectedCount      int64   `json:"rejected_count"`
	ClarificationCount int64   `json:"clarification_count"`
	ApprovalRate       float64 `json:"approval_rate"`
}

// BudgetStatistics 预算科目统计
type BudgetStatistics struct {
	Code        string          `json:"code"`
	Department  string          `json:"department"`
	TotalBudget decimal.Decimal `json:"total_budget"`
	UsedBudget  decimal.Decimal `json:"used_budget"`
	Utilization float64         `json:"utilization"`
	AlertLevel  string          `json:"alert_level"`
}

// statisticsService 统计服务实现
type statisticsService struct {
	db *gorm.DB
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// GetRequisitionStatisticsByStatus 按状态统计申请
func (s *statisticsService) GetRequisitionStatisticsByStatus() ([]*RequisitionStatisticsByStatus, error) {
	var results []struct {
		Status string
		Count  int64
	}

	err := s.db.Model(&model.RequisitionModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get requisition statistics by status: %w", err)
	}

	stats := make([]*RequisitionStatisticsByStatus, 0, len(results))
	for _, r := range results {
		stats = append(stats, &RequisitionStatisticsByStatus{
			Status: r.Status,
			Count:  r.Count,
		})
	}
	return stats, nil
}

// GetRequisitionStatisticsByDepartment 按部门统计申请数与金额
func (s *statisticsService) GetRequisitionStatisticsByDepartment() ([]*RequisitionStatisticsByDepartment, error) {
	var results []struct {
		Department  string
		Count       int64
		TotalAmount decimal.NullDecimal
	}

	err := s.db.Model(&model.RequisitionModel{}).
		Select("department, COUNT(*) as count, SUM(requested_amount) as total_amount").
		Group("department").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get requisition statistics by department: %w", err)
	}

	stats := make([]*RequisitionStatisticsByDepartment, 0, len(results))
	for _, r := range results {
		total := decimal.Zero
		if r.TotalAmount.Valid {
			total = r.TotalAmount.Decimal
		}
		stats = append(stats, &RequisitionStatisticsByDepartment{
			Department:  r.Department,
			Count:       r.Count,
			TotalAmount: total,
		})
	}
	return stats, nil
}

// GetRequisitionStatisticsByTime 按创建日期统计申请
func (s *statisticsService) GetRequisitionStatisticsByTime() ([]*RequisitionStatisticsByTime, error) {
	var results []struct {
		Date  string
		Count int64
	}

	err := s.db.Model(&model.RequisitionModel{}).
		Select("DATE(created_at) as date, COUNT(*) as count").
		Group("DATE(created_at)").
		Order("date DESC").
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get requisition statistics by time: %w", err)
	}

	stats := make([]*RequisitionStatisticsByTime, 0, len(results))
	for _, r := range results {
		stats = append(stats, &RequisitionStatisticsByTime{
			Date:  r.Date,
			Count: r.Count,
		})
	}
	return stats, nil
}

// GetApprovalStatistics 获取审批决定统计
func (s *statisticsService) GetApprovalStatistics() (*ApprovalStatistics, error) {
	var totalCount int64
	err := s.db.Model(&model.DecisionRecordModel{}).Count(&totalCount).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count decision records: %w", err)
	}

	var approvedCount int64
	err = s.db.Model(&model.DecisionRecordModel{}).
		Where("action = ?", model.DecisionActionApprove).
		Count(&approvedCount).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count approvals: %w", err)
	}

	var rejectedCount int64
	err = s.db.Model(&model.DecisionRecordModel{}).
		Where("action = ?", model.DecisionActionReject).
		Count(&rejectedCount).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}

	var clarificationCount int64
	err = s.db.Model(&model.DecisionRecordModel{}).
		Where("action = ?", model.DecisionActionRequestClarification).
		Count(&clarificationCount).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count clarification requests: %w", err)
	}

	approvalRate := 0.0
	if decided := approvedCount + rejectedCount; decided > 0 {
		approvalRate = float64(approvedCount) / float64(decided) * 100
	}

	return &ApprovalStatistics{
		TotalDecisions:     totalCount,
		ApprovedCount:      approvedCount,
		RejectedCount:      rejectedCount,
		ClarificationCount: clarificationCount,
		ApprovalRate:       approvalRate,
	}, nil
}

// GetBudgetStatistics 获取各预算科目的使用率与告警级别
func (s *statisticsService) GetBudgetStatistics() ([]*BudgetStatistics, error) {
	var codes []*model.BudgetCodeModel
	err := s.db.Where("active = ?", true).Order("code ASC").Find(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query budget codes: %w", err)
	}

	stats := make([]*BudgetStatistics, 0, len(codes))
	for _, code := range codes {
		stats = append(stats, &BudgetStatistics{
			Code:        code.Code,
			Department:  code.Department,
			TotalBudget: code.TotalBudget,
			UsedBudget:  code.UsedBudget,
			Utilization: code.UtilizationPercentage(),
			AlertLevel:  code.AlertLevel(),
		})
	}
	return stats, nil
}
