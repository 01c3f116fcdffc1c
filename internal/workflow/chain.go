package workflow

import (
	"time"
)

// StepStatus 审批节点状态
type StepStatus string

const (
	StepPending               StepStatus = "pending"
	StepApproved              StepStatus = "approved"
	StepRejected              StepStatus = "rejected"
	StepNeedsClarification    StepStatus = "needs_clarification"
	StepClarificationProvided StepStatus = "clarification_provided"
)

// ApproverRole 审批人角色
type ApproverRole string

const (
	RoleSupervisor     ApproverRole = "supervisor"
	RoleFinanceOfficer ApproverRole = "finance_officer"
	RoleSupplyChain    ApproverRole = "supply_chain_officer"
	RoleDepartmentHead ApproverRole = "department_head"
)

// ClarificationRequest 澄清请求记录
type ClarificationRequest struct {
	FromLevel   int       `json:"from_level"`
	RequestedBy string    `json:"requested_by"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// ClarificationResponse 澄清答复记录
type ClarificationResponse struct {
	RespondedBy string    `json:"responded_by"`
	Response    string    `json:"response"`
	RespondedAt time.Time `json:"responded_at"`
}

// ApprovalStep 审批链上的一个节点
type ApprovalStep struct {
	Level                 int                    `json:"level"` // 从 1 开始连续
	Role                  ApproverRole           `json:"role"`
	ApproverID            string                 `json:"approver_id,omitempty"` // 为空表示该角色的任意持有者均可审批
	ApproverName          string                 `json:"approver_name,omitempty"`
	Status                StepStatus             `json:"status"`
	Comments              string                 `json:"comments,omitempty"`
	DecidedBy             string                 `json:"decided_by,omitempty"`
	DecidedAt             *time.Time             `json:"decided_at,omitempty"`
	ClarificationRequest  *ClarificationRequest  `json:"clarification_request,omitempty"`
	ClarificationResponse *ClarificationResponse `json:"clarification_response,omitempty"`
}

// RequesterProfile 申请人画像
// BuildChain 的唯一输入,不做任何隐式查询
type RequesterProfile struct {
	UserID           string `json:"user_id"`
	FullName         string `json:"full_name"`
	Department       string `json:"department"`
	SupervisorID     string `json:"supervisor_id,omitempty"`
	SupervisorName   string `json:"supervisor_name,omitempty"`
	ReportsToHead    bool   `json:"reports_to_head"`    // 直接汇报给部门负责人,跳过主管节点
	IsDepartmentHead bool   `json:"is_department_head"` // 申请人本人是部门负责人
}

// Decision 审批决定
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// AdvanceOutcome 链推进结果
type AdvanceOutcome string

const (
	OutcomeAdvanced      AdvanceOutcome = "advanced"       // 下一节点已激活
	OutcomeChainComplete AdvanceOutcome = "chain_complete" // 最后一级批准,链完成
	OutcomeChainRejected AdvanceOutcome = "chain_rejected" // 链被拒绝,不再激活后续节点
)

// StatusForRole 角色对应的申请状态
func StatusForRole(role ApproverRole) RequisitionStatus {
	switch role {
	case RoleSupervisor:
		return StatusPendingSupervisor
	case RoleFinanceOfficer:
		return StatusPendingFinanceVerification
	case RoleSupplyChain:
		return StatusPendingSupplyChainReview
	case RoleDepartmentHead:
		return StatusPendingHeadApproval
	}
	return StatusDraft
}

// BuildChain 根据申请人画像构建审批链
// 纯函数: 相同输入必然产生相同的链。标准链为
// 主管 -> 财务 -> 供应链 -> 部门负责人;
// 直接汇报给负责人的申请人(以及负责人本人)跳过主管节点。
// 负责人本人提交时,负责人节点仍保留,由其上级负责人角色持有者审批。
func BuildChain(profile *RequesterProfile) []*ApprovalStep {
	var steps []*ApprovalStep

	if !profile.ReportsToHead && !profile.IsDepartmentHead {
		steps = append(steps, &ApprovalStep{
			Role:         RoleSupervisor,
			ApproverID:   profile.SupervisorID,
			ApproverName: profile.SupervisorName,
			Status:       StepPending,
		})
	}

	steps = append(steps,
		&ApprovalStep{Role: RoleFinanceOfficer, Status: StepPending},
		&ApprovalStep{Role: RoleSupplyChain, Status: StepPending},
		&ApprovalStep{Role: RoleDepartmentHead, Status: StepPending},
	)

	// 重编连续层级,仅激活第一级
	for i, s := range steps {
		s.Level = i + 1
		if i > 0 {
			s.Status = ""
		}
	}
	return steps
}

// StepAt 返回指定层级的节点,不存在时返回 nil
func StepAt(chain []*ApprovalStep, level int) *ApprovalStep {
	for _, s := range chain {
		if s.Level == level {
			return s
		}
	}
	return nil
}

// CurrentStep 返回唯一处于 pending 状态的节点
// 链已走完或尚未激活时返回 nil
func CurrentStep(chain []*ApprovalStep) *ApprovalStep {
	for _, s := range chain {
		if s.Status == StepPending {
			return s
		}
	}
	return nil
}

// pendingClarificationStep 返回处于 needs_clarification 状态的节点
func pendingClarificationStep(chain []*ApprovalStep) *ApprovalStep {
	for _, s := range chain {
		if s.Status == StepNeedsClarification {
			return s
		}
	}
	return nil
}

// Advance 在指定层级记录审批决定并推进链
// decision 为 approved 时激活下一级(若有),为最后一级时返回 chain_complete;
// decision 为 rejected 时返回 chain_rejected,后续节点不再激活
func Advance(chain []*ApprovalStep, level int, decision Decision, decidedBy, comments string, now time.Time) (AdvanceOutcome, error) {
	step := StepAt(chain, level)
	if step == nil {
		return "", NewValidationError("level", "does not exist in approval chain")
	}
	if step.Status != StepPending {
		return "", NewValidationError("level", "is not the current pending step")
	}
	if clar := pendingClarificationStep(chain); clar != nil {
		return "", &ClarificationAlreadyPendingError{Level: clar.Level}
	}

	decidedAt := now
	step.DecidedBy = decidedBy
	step.DecidedAt = &decidedAt
	step.Comments = comments

	if decision == DecisionRejected {
		step.Status = StepRejected
		return OutcomeChainRejected, nil
	}

	step.Status = StepApproved
	next := StepAt(chain, level+1)
	if next == nil {
		return OutcomeChainComplete, nil
	}
	next.Status = StepPending
	return OutcomeAdvanced, nil
}

// RequestClarification 向链上更早的节点发起澄清
// 目标必须位于发起节点之前且已批准;同一时刻只允许一个未完成的澄清。
// 发起节点保持 pending,申请整体挂起由服务层体现为 pending_clarification
func RequestClarification(chain []*ApprovalStep, fromLevel, toLevel int, requestedBy, message string, now time.Time) error {
	from := StepAt(chain, fromLevel)
	if from == nil {
		return NewValidationError("from_level", "does not exist in approval chain")
	}
	if from.Status != StepPending {
		return NewValidationError("from_level", "is not the current pending step")
	}
	if clar := pendingClarificationStep(chain); clar != nil {
		return &ClarificationAlreadyPendingError{Level: clar.Level}
	}

	target := StepAt(chain, toLevel)
	if target == nil {
		return &InvalidClarificationTargetError{FromLevel: fromLevel, ToLevel: toLevel, Reason: "target level does not exist"}
	}
	if toLevel >= fromLevel {
		return &InvalidClarificationTargetError{FromLevel: fromLevel, ToLevel: toLevel, Reason: "target must be earlier in the chain"}
	}
	if target.Status != StepApproved {
		return &InvalidClarificationTargetError{FromLevel: fromLevel, ToLevel: toLevel, Reason: "only an approved step can be asked for clarification"}
	}

	target.Status = StepNeedsClarification
	target.ClarificationRequest = &ClarificationRequest{
		FromLevel:   fromLevel,
		RequestedBy: requestedBy,
		Message:     message,
		RequestedAt: now,
	}
	target.ClarificationResponse = nil
	return nil
}

// ProvideClarification 答复澄清请求
// 目标节点回到 clarification_provided,返回发起澄清的节点,
// 服务层据此把申请恢复到发起节点对应的 pending_* 状态
func ProvideClarification(chain []*ApprovalStep, level int, respondedBy, response string, now time.Time) (*ApprovalStep, error) {
	target := StepAt(chain, level)
	if target == nil {
		return nil, NewValidationError("level", "does not exist in approval chain")
	}
	if target.Status != StepNeedsClarification {
		return nil, NewValidationError("level", "has no pending clarification request")
	}

	target.Status = StepClarificationProvided
	target.ClarificationResponse = &ClarificationResponse{
		RespondedBy: respondedBy,
		Response:    response,
		RespondedAt: now,
	}

	from := StepAt(chain, target.ClarificationRequest.FromLevel)
	if from == nil {
		return nil, NewValidationError("from_level", "no longer exists in approval chain")
	}
	return from, nil
}
