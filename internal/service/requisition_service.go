package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/metrics"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RequisitionService 采购申请工作流服务接口
// 所有状态转换的唯一入口: 转换合法性、审批链推进、预算台账联动都在这里完成
type RequisitionService interface {
	Create(ctx context.Context, req *CreateRequisitionRequest) (*model.Requisition, error)
	Get(id string) (*model.Requisition, error)
	List(filter *repository.RequisitionFilter) ([]*model.Requisition, error)
	Submit(ctx context.Context, id string) (*model.Requisition, error)
	SupervisorDecision(ctx context.Context, id string, req *DecisionRequest) (*model.Requisition, error)
	FinanceVerify(ctx context.Context, id string, req *FinanceVerifyRequest) (*model.Requisition, error)
	SupplyChainReview(ctx context.Context, id string, req *SupplyChainReviewRequest) (*model.Requisition, error)
	AssignBuyer(ctx context.Context, id string, req *AssignBuyerRequest) (*model.Requisition, error)
	HeadDecision(ctx context.Context, id string, req *DecisionRequest) (*model.Requisition, error)
	RequestClarification(ctx context.Context, id string, req *ClarificationRequestInput) (*model.Requisition, error)
	ProvideClarification(ctx context.Context, id string, req *ClarificationResponseInput) (*model.Requisition, error)
	Cancel(ctx context.Context, id string, reason string) (*model.Requisition, error)
	StartProcurement(ctx context.Context, id string) (*model.Requisition, error)
	CompleteProcurement(ctx context.Context, id string, req *CompleteProcurementRequest) (*model.Requisition, error)
	MarkDelivered(ctx context.Context, id string) (*model.Requisition, error)
	History(id string) ([]*model.StateHistoryModel, error)
	Decisions(id string) ([]*model.DecisionRecordModel, error)
}

// CreateRequisitionRequest 创建申请请求
// @Description 创建采购申请的请求参数
type CreateRequisitionRequest struct {
	Items         []model.LineItem       `json:"items" binding:"required"`          // 明细行
	Justification string                 `json:"justification"`                     // 采购理由
	Urgency       workflow.Urgency       `json:"urgency" example:"normal"`          // 紧急程度
	PaymentMethod workflow.PaymentMethod `json:"payment_method" example:"bank" binding:"required"` // 付款方式
	// 申请人画像中无法从 token 得到的部分
	SupervisorID   string `json:"supervisor_id"`
	SupervisorName string `json:"supervisor_name"`
	ReportsToHead  bool   `json:"reports_to_head"`
}

// DecisionRequest 审批决定请求
// @Description 审批同意/拒绝的请求参数
type DecisionRequest struct {
	Decision workflow.Decision `json:"decision" example:"approved" binding:"required"` // approved/rejected
	Comments string            `json:"comments"`                                       // 审批意见
}

// FinanceVerifyRequest 财务核验请求
// @Description 财务核验的请求参数,通过时须指定预算科目
type FinanceVerifyRequest struct {
	Decision       workflow.Decision `json:"decision" example:"approved" binding:"required"`
	BudgetCodeID   string            `json:"budget_code_id"`  // 通过时必填
	VerifiedAmount decimal.Decimal   `json:"verified_amount"` // 为零时取申请金额
	Comments       string            `json:"comments"`
}

// SupplyChainReviewRequest 供应链审核请求
// @Description 供应链审核的请求参数
type SupplyChainReviewRequest struct {
	Decision      workflow.Decision `json:"decision" example:"approved" binding:"required"`
	SourcingType  string            `json:"sourcing_type" example:"competitive"` // direct/competitive
	AssignedBuyer string            `json:"assigned_buyer"`                      // direct 模式下可直接指定
	Comments      string            `json:"comments"`
}

// AssignBuyerRequest 指派采购员请求
// @Description 指派采购员的请求参数
type AssignBuyerRequest struct {
	Buyer string `json:"buyer" binding:"required"` // 采购员 ID
}

// ClarificationRequestInput 澄清请求
// @Description 向链上更早节点发起澄清的请求参数
type ClarificationRequestInput struct {
	ToLevel int    `json:"to_level" binding:"required"` // 目标层级
	Message string `json:"message" binding:"required"`  // 澄清问题
}

// ClarificationResponseInput 澄清答复
// @Description 答复澄清请求的请求参数
type ClarificationResponseInput struct {
	Level    int    `json:"level" binding:"required"`    // 被澄清的层级
	Response string `json:"response" binding:"required"` // 答复内容
}

// CompleteProcurementRequest 采购完成回报
// @Description 采购子系统回报完成的请求参数
type CompleteProcurementRequest struct {
	ActualCost decimal.Decimal `json:"actual_cost" binding:"required"` // 实际成交金额
}

// requisitionService 采购申请工作流服务实现
type requisitionService struct {
	db           *gorm.DB
	reqRepo      repository.RequisitionRepository
	historyRepo  repository.StateHistoryRepository
	decisionRepo repository.DecisionRecordRepository
	ledger       LedgerService
	pettyCash    PettyCashService
	auditLogSvc  AuditLogService
	events       EventSink
	log          *logrus.Logger
}

// NewRequisitionService 创建采购申请工作流服务
func NewRequisitionService(
	db *gorm.DB,
	ledger LedgerService,
	pettyCash PettyCashService,
	auditLogSvc AuditLogService,
	events EventSink,
	log *logrus.Logger,
) RequisitionService {
	if events == nil {
		events = NopEventSink{}
	}
	return &requisitionService{
		db:           db,
		reqRepo:      repository.NewRequisitionRepository(db),
		historyRepo:  repository.NewStateHistoryRepository(db),
		decisionRepo: repository.NewDecisionRecordRepository(db),
		ledger:       ledger,
		pettyCash:    pettyCash,
		auditLogSvc:  auditLogSvc,
		events:       events,
		log:          log,
	}
}

// Create 创建申请(draft)
func (s *requisitionService) Create(ctx context.Context, req *CreateRequisitionRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, workflow.NewValidationError("items", "must not be empty")
	}

	amount := decimal.Zero
	for i, item := range req.Items {
		if item.Description == "" {
			return nil, workflow.NewValidationError(fmt.Sprintf("items[%d].description", i), "is required")
		}
		if item.Quantity <= 0 {
			return nil, workflow.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		if item.EstimatedPrice.IsNegative() {
			return nil, workflow.NewValidationError(fmt.Sprintf("items[%d].estimated_price", i), "must not be negative")
		}
		amount = amount.Add(item.EstimatedPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	switch req.PaymentMethod {
	case workflow.PaymentBank, workflow.PaymentCash:
	default:
		return nil, workflow.NewValidationError("payment_method", "must be bank or cash")
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = workflow.UrgencyNormal
	}

	now := time.Now()
	requisition := &model.Requisition{
		ID: uuid.New().String(),
		Requester: workflow.RequesterProfile{
			UserID:         principal.UserID,
			FullName:       principal.FullName,
			Department:     principal.Department,
			SupervisorID:   req.SupervisorID,
			SupervisorName: req.SupervisorName,
			ReportsToHead:  req.ReportsToHead,
			IsDepartmentHead: principal.Role == auth.RoleDepartmentHead,
		},
		Items:           req.Items,
		RequestedAmount: amount,
		Justification:   req.Justification,
		Urgency:         urgency,
		PaymentMethod:   req.PaymentMethod,
		Status:          workflow.StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 编号由当年最大序号派生,编号列有唯一索引:
	// 并发创建撞号时插入失败,重取序号重试
	for attempt := 0; ; attempt++ {
		number, err := s.nextNumber(now)
		if err != nil {
			return nil, err
		}
		requisition.Number = number
		rm, err := model.FromAggregate(requisition, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal requisition: %w", err)
		}
		if err := s.reqRepo.Create(rm); err != nil {
			if attempt < createNumberRetries {
				continue
			}
			return nil, fmt.Errorf("failed to save requisition: %w", err)
		}
		break
	}

	metrics.RecordRequisitionCreated()
	s.audit(ctx, principal.UserID, "create", requisition.ID, map[string]string{"number": requisition.Number})
	return requisition, nil
}

// Get 获取申请详情
func (s *requisitionService) Get(id string) (*model.Requisition, error) {
	rm, err := s.reqRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	return rm.Aggregate()
}

// List 按过滤条件查询申请
func (s *requisitionService) List(filter *repository.RequisitionFilter) ([]*model.Requisition, error) {
	rms, err := s.reqRepo.FindByFilter(filter)
	if err != nil {
		return nil, err
	}
	reqs := make([]*model.Requisition, 0, len(rms))
	for _, rm := range rms {
		req, err := rm.Aggregate()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// Submit 提交申请
// 根据申请人画像构建审批链,进入第一个审批节点对应的状态
func (s *requisitionService) Submit(ctx context.Context, id string) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "submit", func(req *model.Requisition, m *mutation) error {
		if req.Requester.UserID != principal.UserID {
			return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "submit this requisition"}
		}

		req.Chain = workflow.BuildChain(&req.Requester)
		first := workflow.CurrentStep(req.Chain)
		target := workflow.StatusForRole(first.Role)
		if err := workflow.EnsureTransition(req.Status, target, "submit"); err != nil {
			return err
		}

		now := time.Now()
		req.Status = target
		req.SubmittedAt = &now
		if err := m.recordHistory(req.ID, workflow.StatusDraft, target, "submitted", principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionSubmitted)
		return nil
	})
}

// SupervisorDecision 主管审批
func (s *requisitionService) SupervisorDecision(ctx context.Context, id string, req *DecisionRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "supervisor_decision", func(r *model.Requisition, m *mutation) error {
		step, err := s.currentStepFor(r, workflow.RoleSupervisor, principal)
		if err != nil {
			return err
		}

		if req.Decision == workflow.DecisionRejected {
			return s.rejectAt(r, m, step, principal, req.Comments, workflow.StatusRejected, "supervisor rejected")
		}

		return s.approveAt(r, m, step, principal, req.Comments, workflow.StatusPendingFinanceVerification, EventRequisitionSupervisorApproved)
	})
}

// FinanceVerify 财务核验
// 通过时在同一个事务内完成预算预留与状态变更: 预留失败则状态不变
func (s *requisitionService) FinanceVerify(ctx context.Context, id string, req *FinanceVerifyRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "finance_verify", func(r *model.Requisition, m *mutation) error {
		step, err := s.currentStepFor(r, workflow.RoleFinanceOfficer, principal)
		if err != nil {
			return err
		}

		if req.Decision == workflow.DecisionRejected {
			// 核验未通过时尚未产生任何预留
			return s.rejectAt(r, m, step, principal, req.Comments, workflow.StatusRejected, "finance rejected")
		}

		if req.BudgetCodeID == "" {
			return workflow.NewValidationError("budget_code_id", "is required when approving")
		}
		amount := req.VerifiedAmount
		if amount.IsZero() {
			amount = r.RequestedAmount
		}
		if !amount.IsPositive() {
			return workflow.NewValidationError("verified_amount", "must be positive")
		}

		if err := workflow.EnsureTransition(r.Status, workflow.StatusPendingSupplyChainReview, "finance_verify"); err != nil {
			return err
		}

		reservationID, err := s.ledger.ReserveTx(m.tx, req.BudgetCodeID, amount, r.ID)
		if err != nil {
			return err
		}

		if _, err := workflow.Advance(r.Chain, step.Level, workflow.DecisionApproved, principal.UserID, req.Comments, time.Now()); err != nil {
			return err
		}
		from := r.Status
		r.Status = workflow.StatusPendingSupplyChainReview
		r.Finance = &model.FinanceVerification{
			VerifiedBy:     principal.UserID,
			BudgetCodeID:   req.BudgetCodeID,
			VerifiedAmount: amount,
			ReservationID:  reservationID,
			Comments:       req.Comments,
			VerifiedAt:     time.Now(),
		}

		if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionApprove, req.Comments, 0); err != nil {
			return err
		}
		if err := m.recordHistory(r.ID, from, r.Status, "finance verified", principal.UserID); err != nil {
			return err
		}
		metrics.RecordApproval("approve")
		m.emit(EventRequisitionFinanceVerified)
		return nil
	})
}

// SupplyChainReview 供应链审核
// 通过时推进审批链;competitive 模式进入待指派采购员,
// direct 模式且已指定采购员时直接进入负责人终批
func (s *requisitionService) SupplyChainReview(ctx context.Context, id string, req *SupplyChainReviewRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "supply_chain_review", func(r *model.Requisition, m *mutation) error {
		step, err := s.currentStepFor(r, workflow.RoleSupplyChain, principal)
		if err != nil {
			return err
		}

		if req.Decision == workflow.DecisionRejected {
			return s.rejectAt(r, m, step, principal, req.Comments, workflow.StatusSupplyChainRejected, "supply chain rejected")
		}

		sourcing := req.SourcingType
		if sourcing == "" {
			sourcing = "competitive"
		}
		if sourcing != "direct" && sourcing != "competitive" {
			return workflow.NewValidationError("sourcing_type", "must be direct or competitive")
		}

		target := workflow.StatusPendingBuyerAssignment
		if sourcing == "direct" && req.AssignedBuyer != "" {
			target = workflow.StatusPendingHeadApproval
		}
		if err := workflow.EnsureTransition(r.Status, target, "supply_chain_review"); err != nil {
			return err
		}

		if _, err := workflow.Advance(r.Chain, step.Level, workflow.DecisionApproved, principal.UserID, req.Comments, time.Now()); err != nil {
			return err
		}
		from := r.Status
		r.Status = target
		r.SupplyChain = &model.SupplyChainReview{
			ReviewedBy:    principal.UserID,
			SourcingType:  sourcing,
			AssignedBuyer: req.AssignedBuyer,
			Comments:      req.Comments,
			ReviewedAt:    time.Now(),
		}

		if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionApprove, req.Comments, 0); err != nil {
			return err
		}
		if err := m.recordHistory(r.ID, from, r.Status, "supply chain approved", principal.UserID); err != nil {
			return err
		}
		metrics.RecordApproval("approve")
		m.emit(EventRequisitionSupplyChainApproved)
		return nil
	})
}

// AssignBuyer 指派采购员
// SupplyChainReview.AssignedBuyer 是采购员归属的唯一权威字段
func (s *requisitionService) AssignBuyer(ctx context.Context, id string, req *AssignBuyerRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "assign_buyer", func(r *model.Requisition, m *mutation) error {
		if !principal.HasRole(auth.RoleSupplyChainOfficer) {
			return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "assign buyer"}
		}
		if err := workflow.EnsureTransition(r.Status, workflow.StatusPendingHeadApproval, "assign_buyer"); err != nil {
			return err
		}
		if r.SupplyChain == nil {
			return workflow.NewValidationError("supply_chain", "review record is missing")
		}

		from := r.Status
		r.SupplyChain.AssignedBuyer = req.Buyer
		r.Status = workflow.StatusPendingHeadApproval
		if err := m.recordHistory(r.ID, from, r.Status, fmt.Sprintf("buyer %s assigned", req.Buyer), principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionBuyerAssigned)
		return nil
	})
}

// HeadDecision 部门负责人终批
// 通过: 现金付款时生成备用金表单(失败不阻断审批)并结清预留;
// 银行付款时预留保持 allocated,待采购完成按实际成本结清。
// 拒绝: 释放预留
func (s *requisitionService) HeadDecision(ctx context.Context, id string, req *DecisionRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "head_decision", func(r *model.Requisition, m *mutation) error {
		step, err := s.currentStepFor(r, workflow.RoleDepartmentHead, principal)
		if err != nil {
			return err
		}

		if req.Decision == workflow.DecisionRejected {
			return s.rejectAt(r, m, step, principal, req.Comments, workflow.StatusRejected, "head rejected")
		}

		if err := workflow.EnsureTransition(r.Status, workflow.StatusApproved, "head_decision"); err != nil {
			return err
		}

		outcome, err := workflow.Advance(r.Chain, step.Level, workflow.DecisionApproved, principal.UserID, req.Comments, time.Now())
		if err != nil {
			return err
		}
		if outcome != workflow.OutcomeChainComplete {
			return workflow.NewValidationError("chain", "head approval must be the final step")
		}

		from := r.Status
		now := time.Now()
		r.Status = workflow.StatusApproved
		r.Head = &model.HeadApproval{
			ApprovedBy: principal.UserID,
			Comments:   req.Comments,
			ApprovedAt: now,
		}

		if r.PaymentMethod == workflow.PaymentCash && r.Finance != nil {
			// 现金付款的金额在核验时已确定,立即结清预留
			if err := s.ledger.CommitTx(m.tx, r.Finance.ReservationID, r.Finance.VerifiedAmount); err != nil {
				return err
			}
			// 备用金表单是派生产物,生成失败不阻断审批,后台任务会补生成
			form, err := s.pettyCash.Generate(r)
			if err != nil {
				s.log.WithError(err).WithField("requisition_id", r.ID).
					Warn("petty cash form generation failed, approval proceeds")
			} else {
				r.PettyCash = form
				m.emit(EventPettyCashFormGenerated)
			}
		}

		if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionApprove, req.Comments, 0); err != nil {
			return err
		}
		if err := m.recordHistory(r.ID, from, r.Status, "head approved", principal.UserID); err != nil {
			return err
		}
		metrics.RecordApproval("approve")
		m.emit(EventRequisitionApproved)
		return nil
	})
}

// RequestClarification 当前节点向更早的已批准节点发起澄清
func (s *requisitionService) RequestClarification(ctx context.Context, id string, req *ClarificationRequestInput) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "request_clarification", func(r *model.Requisition, m *mutation) error {
		step := r.CurrentStep()
		if step == nil {
			return &workflow.InvalidTransitionError{From: r.Status, Event: "request_clarification"}
		}
		if err := s.checkStepOwnership(step, principal); err != nil {
			return err
		}
		if err := workflow.EnsureTransition(r.Status, workflow.StatusPendingClarification, "request_clarification"); err != nil {
			return err
		}

		now := time.Now()
		if err := workflow.RequestClarification(r.Chain, step.Level, req.ToLevel, principal.UserID, req.Message, now); err != nil {
			return err
		}

		from := r.Status
		r.PreClarificationStatus = r.Status
		r.Status = workflow.StatusPendingClarification
		r.Clarifications = append(r.Clarifications, model.ClarificationRecord{
			FromLevel:   step.Level,
			ToLevel:     req.ToLevel,
			RequestedBy: principal.UserID,
			Message:     req.Message,
			RequestedAt: now,
		})

		if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionRequestClarification, req.Message, req.ToLevel); err != nil {
			return err
		}
		if err := m.recordHistory(r.ID, from, r.Status, "clarification requested", principal.UserID); err != nil {
			return err
		}
		metrics.RecordApproval("request_clarification")
		m.emit(EventRequisitionClarificationRequest)
		return nil
	})
}

// ProvideClarification 答复澄清请求
// 申请恢复到发起澄清前的 pending_* 状态,链上层级位置不变
func (s *requisitionService) ProvideClarification(ctx context.Context, id string, req *ClarificationResponseInput) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "provide_clarification", func(r *model.Requisition, m *mutation) error {
		if r.Status != workflow.StatusPendingClarification {
			return &workflow.InvalidTransitionError{From: r.Status, Event: "provide_clarification"}
		}

		target := workflow.StepAt(r.Chain, req.Level)
		if target == nil {
			return workflow.NewValidationError("level", "does not exist in approval chain")
		}
		if err := s.checkStepOwnership(target, principal); err != nil {
			return err
		}

		now := time.Now()
		origin, err := workflow.ProvideClarification(r.Chain, req.Level, principal.UserID, req.Response, now)
		if err != nil {
			return err
		}

		restored := r.PreClarificationStatus
		if restored == "" || !restored.IsPending() {
			// 容错: 没有记录时退回发起澄清的节点对应的状态
			restored = workflow.StatusForRole(origin.Role)
		}
		if err := workflow.EnsureTransition(r.Status, restored, "provide_clarification"); err != nil {
			return err
		}

		from := r.Status
		r.Status = restored
		r.PreClarificationStatus = ""
		for i := range r.Clarifications {
			rec := &r.Clarifications[i]
			if rec.ToLevel == req.Level && rec.RespondedAt == nil {
				rec.RespondedBy = principal.UserID
				rec.Response = req.Response
				rec.RespondedAt = &now
			}
		}

		if err := m.recordDecision(r.ID, target, principal.UserID, model.DecisionActionProvideClarification, req.Response, 0); err != nil {
			return err
		}
		if err := m.recordHistory(r.ID, from, r.Status, "clarification provided", principal.UserID); err != nil {
			return err
		}
		metrics.RecordApproval("provide_clarification")
		m.emit(EventRequisitionClarificationProvided)
		return nil
	})
}

// Cancel 撤销申请
// 仅申请人可撤销,释放仍然有效的预算预留
func (s *requisitionService) Cancel(ctx context.Context, id string, reason string) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "cancel", func(r *model.Requisition, m *mutation) error {
		if r.Requester.UserID != principal.UserID && !principal.HasRole(auth.RoleAdmin) {
			return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "cancel this requisition"}
		}
		if err := workflow.EnsureTransition(r.Status, workflow.StatusCancelled, "cancel"); err != nil {
			return err
		}

		if r.HasActiveReservation() && r.Status != workflow.StatusApproved {
			if err := s.releaseIfAllocated(m.tx, r, "requisition cancelled: "+reason); err != nil {
				return err
			}
		} else if r.Status == workflow.StatusApproved && r.PaymentMethod == workflow.PaymentBank {
			// 已批准但尚未进入采购的银行付款申请,预留仍为 allocated
			if err := s.releaseIfAllocated(m.tx, r, "requisition cancelled: "+reason); err != nil {
				return err
			}
		}

		from := r.Status
		r.Status = workflow.StatusCancelled
		if err := m.recordHistory(r.ID, from, r.Status, reason, principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionCancelled)
		return nil
	})
}

// StartProcurement 进入采购执行
func (s *requisitionService) StartProcurement(ctx context.Context, id string) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "start_procurement", func(r *model.Requisition, m *mutation) error {
		if !principal.HasRole(auth.RoleProcurement) && !principal.HasRole(auth.RoleSupplyChainOfficer) {
			return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "start procurement"}
		}
		if err := workflow.EnsureTransition(r.Status, workflow.StatusInProcurement, "start_procurement"); err != nil {
			return err
		}
		from := r.Status
		r.Status = workflow.StatusInProcurement
		if err := m.recordHistory(r.ID, from, r.Status, "procurement started", principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionInProcurement)
		return nil
	})
}

// CompleteProcurement 采购完成回报
// 按实际成交金额结清预留,预留与实际的差额回到剩余额度
func (s *requisitionService) CompleteProcurement(ctx context.Context, id string, req *CompleteProcurementRequest) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "complete_procurement", func(r *model.Requisition, m *mutation) error {
		if !principal.HasRole(auth.RoleProcurement) && !principal.HasRole(auth.RoleSupplyChainOfficer) {
			return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "complete procurement"}
		}
		if err := workflow.EnsureTransition(r.Status, workflow.StatusProcurementComplete, "complete_procurement"); err != nil {
			return err
		}
		if req.ActualCost.IsNegative() {
			return workflow.NewValidationError("actual_cost", "must not be negative")
		}

		// 现金流程在终批时已结清,这里对仍为 allocated 的预留按实际成本结清
		if r.HasActiveReservation() && r.PaymentMethod == workflow.PaymentBank {
			if err := s.ledger.CommitTx(m.tx, r.Finance.ReservationID, req.ActualCost); err != nil {
				return err
			}
		}

		from := r.Status
		cost := req.ActualCost
		r.ActualCost = &cost
		r.Status = workflow.StatusProcurementComplete
		if err := m.recordHistory(r.ID, from, r.Status, "procurement complete", principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionProcurementComplete)
		return nil
	})
}

// MarkDelivered 标记交付完成
func (s *requisitionService) MarkDelivered(ctx context.Context, id string) (*model.Requisition, error) {
	principal, err := requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, "mark_delivered", func(r *model.Requisition, m *mutation) error {
		if err := workflow.EnsureTransition(r.Status, workflow.StatusDelivered, "mark_delivered"); err != nil {
			return err
		}
		from := r.Status
		r.Status = workflow.StatusDelivered
		if err := m.recordHistory(r.ID, from, r.Status, "delivered", principal.UserID); err != nil {
			return err
		}
		m.emit(EventRequisitionDelivered)
		return nil
	})
}

// History 申请状态历史
func (s *requisitionService) History(id string) ([]*model.StateHistoryModel, error) {
	return s.historyRepo.FindByRequisitionID(id)
}

// Decisions 申请审批决定记录
func (s *requisitionService) Decisions(id string) ([]*model.DecisionRecordModel, error) {
	return s.decisionRepo.FindByRequisitionID(id)
}

// mutation 单次状态转换的事务作用域
// 历史与决定记录走转换所在的事务,与申请、台账一同提交或回滚;
// 领域事件只在这里缓存类型,事务提交成功后才对外发布
type mutation struct {
	tx     *gorm.DB
	events []string
}

// recordHistory 在转换事务内写状态历史
func (m *mutation) recordHistory(requisitionID string, from, to workflow.RequisitionStatus, reason, operator string) error {
	history := &model.StateHistoryModel{
		ID:            uuid.New().String(),
		RequisitionID: requisitionID,
		FromStatus:    string(from),
		ToStatus:      string(to),
		Reason:        reason,
		Operator:      operator,
		CreatedAt:     time.Now(),
	}
	if err := repository.SaveStateHistoryTx(m.tx, history); err != nil {
		return fmt.Errorf("failed to save state history: %w", err)
	}
	return nil
}

// recordDecision 在转换事务内追加审批决定记录
func (m *mutation) recordDecision(requisitionID string, step *workflow.ApprovalStep, actor, action, comment string, targetLevel int) error {
	record := &model.DecisionRecordModel{
		ID:            uuid.New().String(),
		RequisitionID: requisitionID,
		Level:         step.Level,
		TargetLevel:   targetLevel,
		Role:          string(step.Role),
		Actor:         actor,
		Action:        action,
		Comment:       comment,
		CreatedAt:     time.Now(),
	}
	if err := repository.AppendDecisionRecordTx(m.tx, record); err != nil {
		return fmt.Errorf("failed to append decision record: %w", err)
	}
	return nil
}

// emit 缓存待发布的领域事件,事务提交后由 mutate 发布
func (m *mutation) emit(eventType string) {
	m.events = append(m.events, eventType)
}

// mutate 加载申请聚合,执行转换函数,带乐观锁保存
// 转换函数与保存在同一个数据库事务内执行:
// 任何一步失败整个转换回滚,申请、历史、决定记录与台账都不会部分更新。
// 转换函数缓存的事件在提交成功后才发布,回滚的转换不会泄漏事件
func (s *requisitionService) mutate(
	ctx context.Context,
	id string,
	action string,
	fn func(r *model.Requisition, m *mutation) error,
) (*model.Requisition, error) {
	rm, err := s.reqRepo.FindByID(id)
	if err != nil {
		return nil, err
	}
	req, err := rm.Aggregate()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal requisition: %w", err)
	}

	m := &mutation{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		m.tx = tx
		m.events = m.events[:0]
		if err := fn(req, m); err != nil {
			return err
		}
		req.UpdatedAt = time.Now()
		updated, err := model.FromAggregate(req, rm.Version)
		if err != nil {
			return fmt.Errorf("failed to marshal requisition: %w", err)
		}
		return repository.SaveRequisitionTx(tx, updated, rm.Version)
	})
	if err != nil {
		return nil, err
	}

	for _, eventType := range m.events {
		s.emit(eventType, req)
	}
	if principal, ok := auth.PrincipalFromContext(ctx); ok {
		s.audit(ctx, principal.UserID, action, req.ID, map[string]string{"status": string(req.Status)})
	}
	return req, nil
}

// currentStepFor 取当前待审节点并校验角色与归属
func (s *requisitionService) currentStepFor(r *model.Requisition, role workflow.ApproverRole, principal *auth.Principal) (*workflow.ApprovalStep, error) {
	step := r.CurrentStep()
	if step == nil || step.Role != role {
		return nil, &workflow.InvalidTransitionError{From: r.Status, Event: string(role) + " decision"}
	}
	if err := s.checkStepOwnership(step, principal); err != nil {
		return nil, err
	}
	return step, nil
}

// checkStepOwnership 校验主体是否可以在指定节点动作
// 节点绑定了具体审批人时必须本人,否则角色匹配即可
func (s *requisitionService) checkStepOwnership(step *workflow.ApprovalStep, principal *auth.Principal) error {
	if step.ApproverID != "" {
		if step.ApproverID == principal.UserID || principal.HasRole(auth.RoleAdmin) {
			return nil
		}
		return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "act on level " + fmt.Sprint(step.Level)}
	}
	if principal.HasRole(string(step.Role)) {
		return nil
	}
	return &workflow.UnauthorizedActionError{UserID: principal.UserID, Role: principal.Role, Action: "act on level " + fmt.Sprint(step.Level)}
}

// approveAt 在指定节点记录通过并推进到目标状态
func (s *requisitionService) approveAt(
	r *model.Requisition,
	m *mutation,
	step *workflow.ApprovalStep,
	principal *auth.Principal,
	comments string,
	target workflow.RequisitionStatus,
	eventType string,
) error {
	if err := workflow.EnsureTransition(r.Status, target, "approve"); err != nil {
		return err
	}
	if _, err := workflow.Advance(r.Chain, step.Level, workflow.DecisionApproved, principal.UserID, comments, time.Now()); err != nil {
		return err
	}
	from := r.Status
	r.Status = target
	if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionApprove, comments, 0); err != nil {
		return err
	}
	if err := m.recordHistory(r.ID, from, r.Status, "approved at level "+fmt.Sprint(step.Level), principal.UserID); err != nil {
		return err
	}
	metrics.RecordApproval("approve")
	m.emit(eventType)
	return nil
}

// rejectAt 在指定节点记录拒绝,释放已有预留并进入终态
func (s *requisitionService) rejectAt(
	r *model.Requisition,
	m *mutation,
	step *workflow.ApprovalStep,
	principal *auth.Principal,
	comments string,
	target workflow.RequisitionStatus,
	reason string,
) error {
	if err := workflow.EnsureTransition(r.Status, target, "reject"); err != nil {
		return err
	}
	if _, err := workflow.Advance(r.Chain, step.Level, workflow.DecisionRejected, principal.UserID, comments, time.Now()); err != nil {
		return err
	}

	if err := s.releaseIfAllocated(m.tx, r, reason); err != nil {
		return err
	}

	from := r.Status
	now := time.Now()
	r.Status = target
	r.Rejections = append(r.Rejections, model.RejectionRecord{
		Level:      step.Level,
		RejectedBy: principal.UserID,
		Reason:     comments,
		RejectedAt: now,
	})

	if err := m.recordDecision(r.ID, step, principal.UserID, model.DecisionActionReject, comments, 0); err != nil {
		return err
	}
	if err := m.recordHistory(r.ID, from, r.Status, reason, principal.UserID); err != nil {
		return err
	}
	metrics.RecordApproval("reject")
	if target == workflow.StatusSupplyChainRejected {
		m.emit(EventRequisitionSupplyChainRejected)
	} else {
		m.emit(EventRequisitionRejected)
	}
	return nil
}

// releaseIfAllocated 释放申请持有的预留(如果仍为 allocated)
func (s *requisitionService) releaseIfAllocated(tx *gorm.DB, r *model.Requisition, reason string) error {
	if !r.HasActiveReservation() {
		return nil
	}
	err := s.ledger.ReleaseTx(tx, r.Finance.ReservationID, reason)
	if err != nil {
		// 预留已被结清或释放时无需再处理
		if _, ok := err.(*workflow.ReservationNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// createNumberRetries 编号冲突时的额外重试次数
const createNumberRetries = 3

// nextNumber 生成申请编号 REQ-YYYY-NNNN,序号取当年最大序号加一
func (s *requisitionService) nextNumber(now time.Time) (string, error) {
	seq, err := s.reqRepo.MaxSequenceForYear(now.Year())
	if err != nil {
		return "", fmt.Errorf("failed to derive requisition number: %w", err)
	}
	return fmt.Sprintf("REQ-%d-%04d", now.Year(), seq+1), nil
}

// emit 发布领域事件,失败只记录日志
func (s *requisitionService) emit(eventType string, r *model.Requisition) {
	if err := s.events.Emit(eventType, r); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"event_type":     eventType,
			"requisition_id": r.ID,
		}).Warn("failed to emit event")
	}
}

// audit 记录审计日志,失败只记录日志
func (s *requisitionService) audit(ctx context.Context, userID, action, resourceID string, details interface{}) {
	if s.auditLogSvc == nil {
		return
	}
	if err := s.auditLogSvc.RecordAction(ctx, userID, action, model.ResourceRequisition, resourceID, details); err != nil {
		s.log.WithError(err).Warn("failed to record audit log")
	}
}

// requirePrincipal 从 context 取操作主体
func requirePrincipal(ctx context.Context) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal.UserID == "" {
		return nil, &workflow.UnauthorizedActionError{Action: "act without an authenticated principal"}
	}
	return principal, nil
}
