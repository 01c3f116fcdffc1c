package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError 输入校验错误
// 在任何状态变更之前拒绝非法输入
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError 创建校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError 非法状态转换错误
// 携带当前状态与目标事件,状态保持不变
type InvalidTransitionError struct {
	From  RequisitionStatus
	To    RequisitionStatus
	Event string
}

func (e *InvalidTransitionError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("invalid transition: cannot apply %q in state %q", e.Event, e.From)
	}
	return fmt.Sprintf("invalid transition: %q -> %q", e.From, e.To)
}

// InsufficientBudgetError 预算余额不足错误
type InsufficientBudgetError struct {
	BudgetCode string
	Requested  decimal.Decimal
	Remaining  decimal.Decimal
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget on %s: requested %s, remaining %s",
		e.BudgetCode, e.Requested.StringFixed(2), e.Remaining.StringFixed(2))
}

// ReservationNotFoundError 预算预留不存在或已结清错误
type ReservationNotFoundError struct {
	ReservationID string
}

func (e *ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found or already settled", e.ReservationID)
}

// UnauthorizedActionError 角色或审批人不匹配错误
type UnauthorizedActionError struct {
	UserID string
	Role   string
	Action string
}

func (e *UnauthorizedActionError) Error() string {
	return fmt.Sprintf("user %s (role %s) is not allowed to %s", e.UserID, e.Role, e.Action)
}

// StaleStateError 乐观锁冲突错误
// 调用方需要重新读取最新状态后重试
type StaleStateError struct {
	Resource string
	ID       string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: %s %s was modified concurrently, retry with fresh state", e.Resource, e.ID)
}

// InvalidClarificationTargetError 澄清目标非法错误
// 只能向链上更早且已批准的节点发起澄清
type InvalidClarificationTargetError struct {
	FromLevel int
	ToLevel   int
	Reason    string
}

func (e *InvalidClarificationTargetError) Error() string {
	return fmt.Sprintf("invalid clarification target level %d from level %d: %s", e.ToLevel, e.FromLevel, e.Reason)
}

// ClarificationAlreadyPendingError 已有未完成的澄清请求错误
type ClarificationAlreadyPendingError struct {
	Level int
}

func (e *ClarificationAlreadyPendingError) Error() string {
	return fmt.Sprintf("a clarification request is already pending at level %d", e.Level)
}

// ExternalDependencyError 外部依赖失败错误
// 仅用于记录日志,不会作为工作流错误向上传播
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("external dependency %s failed: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error {
	return e.Err
}
