package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/utils"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateBudgetCodeRequest 创建预算科目请求
// @Description 创建预算科目的请求参数
type CreateBudgetCodeRequest struct {
	Code        string          `json:"code" binding:"required" example:"IT-OPEX-2026"` // 科目编码
	Description string          `json:"description"`
	Department  string          `json:"department"`
	TotalBudget decimal.Decimal `json:"total_budget" binding:"required"` // 总额度
}

// BudgetCodeService 预算科目管理服务
// 科目的生命周期管理;金额变更不在这里,只能走台账服务
type BudgetCodeService interface {
	Create(ctx context.Context, req *CreateBudgetCodeRequest) (*model.BudgetCodeModel, error)
	Get(id string) (*model.BudgetCodeModel, error)
	List(department string) ([]*model.BudgetCodeModel, error)
	// Deactivate 停用科目: 归档而非删除,历史分配保持可查
	Deactivate(ctx context.Context, id string) error
}

// budgetCodeService 预算科目管理服务实现
type budgetCodeService struct {
	codeRepo repository.BudgetCodeRepository
}

// NewBudgetCodeService 创建预算科目管理服务
func NewBudgetCodeService(db *gorm.DB) BudgetCodeService {
	return &budgetCodeService{
		codeRepo: repository.NewBudgetCodeRepository(db),
	}
}

// Create 创建预算科目
func (s *budgetCodeService) Create(ctx context.Context, req *CreateBudgetCodeRequest) (*model.BudgetCodeModel, error) {
	if err := utils.ValidateBudgetCode(req.Code); err != nil {
		return nil, workflow.NewValidationError("code", err.Error())
	}
	if !req.TotalBudget.IsPositive() {
		return nil, workflow.NewValidationError("total_budget", "must be positive")
	}
	if existing, err := s.codeRepo.FindByCode(req.Code); err == nil && existing != nil {
		return nil, workflow.NewValidationError("code", "already exists")
	}

	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	code := &model.BudgetCodeModel{
		ID:          uuid.New().String(),
		Code:        req.Code,
		Description: req.Description,
		Department:  req.Department,
		TotalBudget: req.TotalBudget,
		UsedBudget:  decimal.Zero,
		Active:      true,
		Version:     1,
		CreatedBy:   principal.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := code.Validate(); err != nil {
		return nil, err
	}
	if err := s.codeRepo.Create(code); err != nil {
		return nil, err
	}
	return code, nil
}

// Get 获取预算科目
func (s *budgetCodeService) Get(id string) (*model.BudgetCodeModel, error) {
	return s.codeRepo.FindByID(id)
}

// List 列出科目,department 为空时返回全部启用科目
func (s *budgetCodeService) List(department string) ([]*model.BudgetCodeModel, error) {
	if department != "" {
		return s.codeRepo.FindByDepartment(department)
	}
	return s.codeRepo.FindActive()
}

// Deactivate 停用预算科目
func (s *budgetCodeService) Deactivate(ctx context.Context, id string) error {
	return s.codeRepo.Deactivate(id)
}
