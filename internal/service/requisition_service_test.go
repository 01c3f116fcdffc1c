package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordingSink 记录已发布的领域事件类型
type recordingSink struct {
	mu    sync.Mutex
	types []string
}

func (s *recordingSink) Emit(eventType string, _ *model.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, eventType)
	return nil
}

func (s *recordingSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.types...)
}

// newWorkflowService 构建工作流服务及其台账依赖
func newWorkflowService(t *testing.T, db *gorm.DB) (service.RequisitionService, service.LedgerService) {
	log := testLogger()
	ledger := service.NewLedgerService(db, log)
	pettyCash := service.NewPettyCashService(db, log)
	svc := service.NewRequisitionService(db, ledger, pettyCash, nil, nil, log)
	return svc, ledger
}

// ctxAs 构造带操作主体的 context
func ctxAs(userID, role, department string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{
		UserID:     userID,
		Role:       role,
		Department: department,
		FullName:   userID,
	})
}

// createDraft 以标准申请人创建一份草稿
func createDraft(t *testing.T, svc service.RequisitionService, payment workflow.PaymentMethod) *model.Requisition {
	req, err := svc.Create(ctxAs("emp-001", auth.RoleEmployee, "engineering"), &service.CreateRequisitionRequest{
		Items: []model.LineItem{
			{Description: "工作站", Quantity: 2, Unit: "台", EstimatedPrice: decimal.NewFromInt(8000)},
			{Description: "显示器", Quantity: 4, Unit: "台", EstimatedPrice: decimal.NewFromInt(1500)},
		},
		Justification:  "团队扩编",
		PaymentMethod:  payment,
		SupervisorID:   "sup-001",
		SupervisorName: "李主管",
	})
	require.NoError(t, err)
	return req
}

// advanceToFinance 提交并通过主管审批
func advanceToFinance(t *testing.T, svc service.RequisitionService, id string) {
	_, err := svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), id)
	require.NoError(t, err)
	_, err = svc.SupervisorDecision(ctxAs("sup-001", auth.RoleSupervisor, "engineering"), id, &service.DecisionRequest{
		Decision: workflow.DecisionApproved, Comments: "同意",
	})
	require.NoError(t, err)
}

// TestRequisition_Create 测试创建申请
func TestRequisition_Create(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	req := createDraft(t, svc, workflow.PaymentBank)
	assert.Equal(t, workflow.StatusDraft, req.Status)
	// 16000 + 6000
	assert.True(t, req.RequestedAmount.Equal(decimal.NewFromInt(22000)))
	assert.Regexp(t, `^REQ-\d{4}-0001$`, req.Number)
	assert.Equal(t, "emp-001", req.Requester.UserID)
	assert.Empty(t, req.Chain)

	// 编号按年递增
	second := createDraft(t, svc, workflow.PaymentBank)
	assert.Regexp(t, `^REQ-\d{4}-0002$`, second.Number)
}

// TestRequisition_Create_Validation 测试创建申请的输入校验
func TestRequisition_Create_Validation(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)
	ctx := ctxAs("emp-001", auth.RoleEmployee, "engineering")

	var valErr *workflow.ValidationError

	_, err := svc.Create(ctx, &service.CreateRequisitionRequest{PaymentMethod: workflow.PaymentBank})
	assert.True(t, errors.As(err, &valErr))

	_, err = svc.Create(ctx, &service.CreateRequisitionRequest{
		Items:         []model.LineItem{{Description: "x", Quantity: 0, EstimatedPrice: decimal.NewFromInt(1)}},
		PaymentMethod: workflow.PaymentBank,
	})
	assert.True(t, errors.As(err, &valErr))

	_, err = svc.Create(ctx, &service.CreateRequisitionRequest{
		Items:         []model.LineItem{{Description: "x", Quantity: 1, EstimatedPrice: decimal.NewFromInt(1)}},
		PaymentMethod: workflow.PaymentMethod("cheque"),
	})
	assert.True(t, errors.As(err, &valErr))

	// 无认证主体
	_, err = svc.Create(context.Background(), &service.CreateRequisitionRequest{
		Items:         []model.LineItem{{Description: "x", Quantity: 1, EstimatedPrice: decimal.NewFromInt(1)}},
		PaymentMethod: workflow.PaymentBank,
	})
	var unauth *workflow.UnauthorizedActionError
	assert.True(t, errors.As(err, &unauth))
}

// TestRequisition_Submit 测试提交构建审批链
func TestRequisition_Submit(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)
	req := createDraft(t, svc, workflow.PaymentBank)

	submitted, err := svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingSupervisor, submitted.Status)
	require.Len(t, submitted.Chain, 4)
	assert.NotNil(t, submitted.SubmittedAt)

	// 只有申请人可以提交
	other := createDraft(t, svc, workflow.PaymentBank)
	_, err = svc.Submit(ctxAs("emp-002", auth.RoleEmployee, "engineering"), other.ID)
	var unauth *workflow.UnauthorizedActionError
	assert.True(t, errors.As(err, &unauth))

	// 重复提交被拒绝
	_, err = svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	var transErr *workflow.InvalidTransitionError
	assert.True(t, errors.As(err, &transErr))
}

// TestRequisition_HappyPath_Bank 测试银行付款完整流程
func TestRequisition_HappyPath_Bank(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, ledger := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)

	// 财务核验: 预留预算并推进
	verified, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingSupplyChainReview, verified.Status)
	require.NotNil(t, verified.Finance)
	assert.NotEmpty(t, verified.Finance.ReservationID)
	assert.True(t, verified.Finance.VerifiedAmount.Equal(decimal.NewFromInt(22000)))

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.Equal(decimal.NewFromInt(22000)))

	// 供应链审核: competitive 进入待指派
	reviewed, err := svc.SupplyChainReview(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.SupplyChainReviewRequest{
		Decision:     workflow.DecisionApproved,
		SourcingType: "competitive",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingBuyerAssignment, reviewed.Status)

	// 指派采购员
	assigned, err := svc.AssignBuyer(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.AssignBuyerRequest{Buyer: "buyer-007"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingHeadApproval, assigned.Status)
	assert.Equal(t, "buyer-007", assigned.SupplyChain.AssignedBuyer)

	// 负责人终批: 银行付款不立即结清
	approved, err := svc.HeadDecision(ctxAs("head-001", auth.RoleDepartmentHead, "engineering"), req.ID, &service.DecisionRequest{
		Decision: workflow.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, approved.Status)
	assert.Nil(t, approved.PettyCash)

	summary, err = ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.Equal(decimal.NewFromInt(22000)))
	assert.True(t, summary.UsedBudget.IsZero())

	// 采购执行与完成: 按实际成交金额结清
	_, err = svc.StartProcurement(ctxAs("proc-001", auth.RoleProcurement, "supply"), req.ID)
	require.NoError(t, err)

	completed, err := svc.CompleteProcurement(ctxAs("proc-001", auth.RoleProcurement, "supply"), req.ID, &service.CompleteProcurementRequest{
		ActualCost: decimal.NewFromInt(21000),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusProcurementComplete, completed.Status)
	require.NotNil(t, completed.ActualCost)
	assert.True(t, completed.ActualCost.Equal(decimal.NewFromInt(21000)))

	summary, err = ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.UsedBudget.Equal(decimal.NewFromInt(21000)))
	assert.True(t, summary.AllocatedBudget.IsZero())
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(79000)))

	delivered, err := svc.MarkDelivered(ctxAs("proc-001", auth.RoleProcurement, "supply"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusDelivered, delivered.Status)

	// 状态历史完整记录
	history, err := svc.History(req.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(history), 7)
}

// TestRequisition_HappyPath_Cash 测试现金付款终批即结清并生成备用金表单
func TestRequisition_HappyPath_Cash(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, ledger := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentCash)
	advanceToFinance(t, svc, req.ID)

	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:       workflow.DecisionApproved,
		BudgetCodeID:   "bc-001",
		VerifiedAmount: decimal.NewFromInt(20000),
	})
	require.NoError(t, err)

	// direct 模式且已指定采购员,跳过指派环节
	reviewed, err := svc.SupplyChainReview(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.SupplyChainReviewRequest{
		Decision:      workflow.DecisionApproved,
		SourcingType:  "direct",
		AssignedBuyer: "buyer-001",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingHeadApproval, reviewed.Status)

	approved, err := svc.HeadDecision(ctxAs("head-001", auth.RoleDepartmentHead, "engineering"), req.ID, &service.DecisionRequest{
		Decision: workflow.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, approved.Status)

	// 备用金表单编号由申请编号派生,金额为核验金额
	require.NotNil(t, approved.PettyCash)
	assert.Regexp(t, `^PC-\d{4}-0001$`, approved.PettyCash.FormNumber)
	assert.True(t, approved.PettyCash.Amount.Equal(decimal.NewFromInt(20000)))

	// 现金付款在终批时按核验金额结清
	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.UsedBudget.Equal(decimal.NewFromInt(20000)))
	assert.True(t, summary.AllocatedBudget.IsZero())
}

// TestRequisition_FinanceVerify_InsufficientBudget 测试预算不足时状态不变
func TestRequisition_FinanceVerify_InsufficientBudget(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, ledger := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 10000)

	req := createDraft(t, svc, workflow.PaymentBank) // 22000
	advanceToFinance(t, svc, req.ID)

	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	var insufficient *workflow.InsufficientBudgetError
	require.True(t, errors.As(err, &insufficient))

	// 预留与状态变更同一事务: 失败后双双回滚
	current, err := svc.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingFinanceVerification, current.Status)
	assert.Nil(t, current.Finance)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.IsZero())
}

// TestRequisition_FinanceReject 测试财务拒绝时无预留产生
func TestRequisition_FinanceReject(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)

	rejected, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision: workflow.DecisionRejected,
		Comments: "超出年度预算计划",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, rejected.Status)
	require.Len(t, rejected.Rejections, 1)
	assert.Equal(t, "超出年度预算计划", rejected.Rejections[0].Reason)

	var count int64
	require.NoError(t, db.Model(&model.AllocationModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

// TestRequisition_SupplyChainReject_ReleasesReservation 测试供应链拒绝释放预留
func TestRequisition_SupplyChainReject_ReleasesReservation(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, ledger := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)
	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	require.NoError(t, err)

	rejected, err := svc.SupplyChainReview(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.SupplyChainReviewRequest{
		Decision: workflow.DecisionRejected,
		Comments: "无合规供应商",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSupplyChainRejected, rejected.Status)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.IsZero())
	assert.True(t, summary.Remaining.Equal(decimal.NewFromInt(100000)))
}

// TestRequisition_ClarificationRoundTrip 测试澄清往返恢复原状态
func TestRequisition_ClarificationRoundTrip(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)
	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	require.NoError(t, err)

	// 供应链(第 3 级)向主管(第 1 级)发起澄清
	pending, err := svc.RequestClarification(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.ClarificationRequestInput{
		ToLevel: 1,
		Message: "请确认采购数量是否含备件",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingClarification, pending.Status)
	assert.Equal(t, workflow.StatusPendingSupplyChainReview, pending.PreClarificationStatus)
	require.Len(t, pending.Clarifications, 1)

	// 澄清挂起期间不能推进审批
	_, err = svc.SupplyChainReview(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.SupplyChainReviewRequest{
		Decision: workflow.DecisionApproved,
	})
	assert.Error(t, err)

	// 主管答复后恢复到发起前的状态
	restored, err := svc.ProvideClarification(ctxAs("sup-001", auth.RoleSupervisor, "engineering"), req.ID, &service.ClarificationResponseInput{
		Level:    1,
		Response: "数量含备件",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingSupplyChainReview, restored.Status)
	assert.Empty(t, restored.PreClarificationStatus)
	require.NotNil(t, restored.Clarifications[0].RespondedAt)
	assert.Equal(t, "数量含备件", restored.Clarifications[0].Response)

	// 链位置未变,供应链继续审核
	reviewed, err := svc.SupplyChainReview(ctxAs("sc-001", auth.RoleSupplyChainOfficer, "supply"), req.ID, &service.SupplyChainReviewRequest{
		Decision: workflow.DecisionApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingBuyerAssignment, reviewed.Status)
}

// TestRequisition_Clarification_Unauthorized 测试澄清只能由目标节点审批人答复
func TestRequisition_Clarification_Unauthorized(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)

	// 财务(第 2 级)向主管(第 1 级)发起澄清
	_, err := svc.RequestClarification(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.ClarificationRequestInput{
		ToLevel: 1,
		Message: "请补充报价单",
	})
	require.NoError(t, err)

	// 主管节点绑定了具体审批人,他人不能代答
	_, err = svc.ProvideClarification(ctxAs("sup-999", auth.RoleSupervisor, "engineering"), req.ID, &service.ClarificationResponseInput{
		Level:    1,
		Response: "x",
	})
	var unauth *workflow.UnauthorizedActionError
	assert.True(t, errors.As(err, &unauth))
}

// TestRequisition_Cancel 测试撤销释放预留
func TestRequisition_Cancel(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, ledger := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)
	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	require.NoError(t, err)

	// 他人不能撤销
	_, err = svc.Cancel(ctxAs("emp-002", auth.RoleEmployee, "engineering"), req.ID, "想要撤销")
	var unauth *workflow.UnauthorizedActionError
	assert.True(t, errors.As(err, &unauth))

	cancelled, err := svc.Cancel(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID, "需求变更")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, cancelled.Status)

	summary, err := ledger.Summary("bc-001")
	require.NoError(t, err)
	assert.True(t, summary.AllocatedBudget.IsZero())

	// 终态不可再操作
	_, err = svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	assert.Error(t, err)
}

// TestRequisition_StepOwnership 测试审批节点的角色与归属校验
func TestRequisition_StepOwnership(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	req := createDraft(t, svc, workflow.PaymentBank)
	_, err := svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	require.NoError(t, err)

	var unauth *workflow.UnauthorizedActionError
	var transErr *workflow.InvalidTransitionError

	// 主管节点绑定了 sup-001,别的主管不能审批
	_, err = svc.SupervisorDecision(ctxAs("sup-002", auth.RoleSupervisor, "engineering"), req.ID, &service.DecisionRequest{Decision: workflow.DecisionApproved})
	assert.True(t, errors.As(err, &unauth))

	// admin 可以代任意节点动作
	_, err = svc.SupervisorDecision(ctxAs("admin-001", auth.RoleAdmin, "it"), req.ID, &service.DecisionRequest{Decision: workflow.DecisionApproved})
	assert.NoError(t, err)

	// 当前节点是财务,财务以外的角色不能核验;主管环节也已走完
	_, err = svc.SupervisorDecision(ctxAs("sup-001", auth.RoleSupervisor, "engineering"), req.ID, &service.DecisionRequest{Decision: workflow.DecisionApproved})
	assert.True(t, errors.As(err, &transErr))
	_, err = svc.FinanceVerify(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID, &service.FinanceVerifyRequest{Decision: workflow.DecisionRejected})
	assert.True(t, errors.As(err, &unauth))
}

// TestRequisition_ReportsToHead_SkipsSupervisor 测试直接汇报负责人跳过主管环节
func TestRequisition_ReportsToHead_SkipsSupervisor(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	req, err := svc.Create(ctxAs("emp-003", auth.RoleEmployee, "engineering"), &service.CreateRequisitionRequest{
		Items:         []model.LineItem{{Description: "服务器", Quantity: 1, EstimatedPrice: decimal.NewFromInt(50000)}},
		PaymentMethod: workflow.PaymentBank,
		ReportsToHead: true,
	})
	require.NoError(t, err)

	submitted, err := svc.Submit(ctxAs("emp-003", auth.RoleEmployee, "engineering"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingFinanceVerification, submitted.Status)
	require.Len(t, submitted.Chain, 3)
	assert.Equal(t, workflow.RoleFinanceOfficer, submitted.Chain[0].Role)
}

// TestRequisition_Decisions 测试审批决定追加式记录
func TestRequisition_Decisions(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)
	seedBudgetCode(t, db, "bc-001", 100000)

	req := createDraft(t, svc, workflow.PaymentBank)
	advanceToFinance(t, svc, req.ID)
	_, err := svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	require.NoError(t, err)

	decisions, err := svc.Decisions(req.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, model.DecisionActionApprove, decisions[0].Action)
	assert.Equal(t, model.DecisionActionApprove, decisions[1].Action)
}

// TestRequisition_FailedTransition_LeavesNoRecords 测试失败的转换不留任何痕迹
// 历史、决定记录与状态转换同一事务,回滚后一并消失,事件也不发布
func TestRequisition_FailedTransition_LeavesNoRecords(t *testing.T) {
	db := setupLedgerTestDB(t)
	log := testLogger()
	sink := &recordingSink{}
	svc := service.NewRequisitionService(db, service.NewLedgerService(db, log), service.NewPettyCashService(db, log), nil, sink, log)
	seedBudgetCode(t, db, "bc-001", 10000)

	req := createDraft(t, svc, workflow.PaymentBank) // 22000
	advanceToFinance(t, svc, req.ID)

	historyBefore, err := svc.History(req.ID)
	require.NoError(t, err)
	decisionsBefore, err := svc.Decisions(req.ID)
	require.NoError(t, err)
	eventsBefore := len(sink.published())

	_, err = svc.FinanceVerify(ctxAs("fin-001", auth.RoleFinanceOfficer, "finance"), req.ID, &service.FinanceVerifyRequest{
		Decision:     workflow.DecisionApproved,
		BudgetCodeID: "bc-001",
	})
	var insufficient *workflow.InsufficientBudgetError
	require.True(t, errors.As(err, &insufficient))

	historyAfter, err := svc.History(req.ID)
	require.NoError(t, err)
	decisionsAfter, err := svc.Decisions(req.ID)
	require.NoError(t, err)
	assert.Len(t, historyAfter, len(historyBefore))
	assert.Len(t, decisionsAfter, len(decisionsBefore))
	assert.Len(t, sink.published(), eventsBefore)
}

// TestRequisition_EventsFollowCommit 测试事件在转换提交后才发布
func TestRequisition_EventsFollowCommit(t *testing.T) {
	db := setupLedgerTestDB(t)
	log := testLogger()
	sink := &recordingSink{}
	svc := service.NewRequisitionService(db, service.NewLedgerService(db, log), service.NewPettyCashService(db, log), nil, sink, log)

	req := createDraft(t, svc, workflow.PaymentBank)
	assert.Empty(t, sink.published())

	_, err := svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{service.EventRequisitionSubmitted}, sink.published())

	// 重复提交失败,不产生事件
	_, err = svc.Submit(ctxAs("emp-001", auth.RoleEmployee, "engineering"), req.ID)
	require.Error(t, err)
	assert.Equal(t, []string{service.EventRequisitionSubmitted}, sink.published())
}

// TestRequisition_ProvideClarification_NoRecordedPriorStatus 测试缺失澄清前状态时退回发起节点状态
// 历史数据可能没有记录澄清前的状态,且链上没有处于 pending 的节点
func TestRequisition_ProvideClarification_NoRecordedPriorStatus(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	now := time.Now()
	legacy := &model.Requisition{
		ID:     "req-legacy-001",
		Number: fmt.Sprintf("REQ-%d-9001", now.Year()),
		Requester: workflow.RequesterProfile{
			UserID:     "emp-001",
			Department: "engineering",
		},
		Items:           []model.LineItem{{Description: "配件", Quantity: 1, EstimatedPrice: decimal.NewFromInt(100)}},
		RequestedAmount: decimal.NewFromInt(100),
		PaymentMethod:   workflow.PaymentBank,
		Status:          workflow.StatusPendingClarification,
		Chain: []*workflow.ApprovalStep{
			{
				Level: 1, Role: workflow.RoleSupervisor, ApproverID: "sup-001",
				Status: workflow.StepNeedsClarification,
				ClarificationRequest: &workflow.ClarificationRequest{
					FromLevel: 2, RequestedBy: "fin-001", Message: "请补充报价单", RequestedAt: now,
				},
			},
			{Level: 2, Role: workflow.RoleFinanceOfficer, Status: workflow.StepApproved},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	rm, err := model.FromAggregate(legacy, 1)
	require.NoError(t, err)
	require.NoError(t, db.Create(rm).Error)

	restored, err := svc.ProvideClarification(ctxAs("sup-001", auth.RoleSupervisor, "engineering"), legacy.ID, &service.ClarificationResponseInput{
		Level:    1,
		Response: "报价单已补充",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPendingFinanceVerification, restored.Status)
}

// TestRequisition_NumberSkipsTakenSequence 测试编号序号越过已占用的最大值
func TestRequisition_NumberSkipsTakenSequence(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	first := createDraft(t, svc, workflow.PaymentBank)
	assert.Regexp(t, `^REQ-\d{4}-0001$`, first.Number)

	// 占用更大的序号,模拟并发创建的竞争者先行落库
	now := time.Now()
	taken := &model.RequisitionModel{
		ID:              "req-taken-001",
		Number:          fmt.Sprintf("REQ-%d-0007", now.Year()),
		RequesterID:     "emp-009",
		Department:      "engineering",
		Status:          string(workflow.StatusDraft),
		RequestedAmount: decimal.NewFromInt(1),
		PaymentMethod:   string(workflow.PaymentBank),
		Version:         1,
		Data:            []byte("{}"),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, db.Create(taken).Error)

	next := createDraft(t, svc, workflow.PaymentBank)
	assert.Regexp(t, `^REQ-\d{4}-0008$`, next.Number)
}

// TestRequisition_ConcurrentCreate_DistinctNumbers 测试并发创建获得互不相同的编号
func TestRequisition_ConcurrentCreate_DistinctNumbers(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newWorkflowService(t, db)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	numbers := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := svc.Create(ctxAs(fmt.Sprintf("emp-%03d", i+1), auth.RoleEmployee, "engineering"), &service.CreateRequisitionRequest{
				Items:         []model.LineItem{{Description: "耗材", Quantity: 1, EstimatedPrice: decimal.NewFromInt(50)}},
				PaymentMethod: workflow.PaymentBank,
			})
			errs[i] = err
			if err == nil {
				numbers[i] = req.Number
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "duplicate number %s", numbers[i])
		seen[numbers[i]] = true
	}
}
