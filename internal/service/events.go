package service

import "github.com/mautops/procure-gin/internal/model"

// 领域事件类型
const (
	EventRequisitionSubmitted             = "requisition.submitted"
	EventRequisitionSupervisorApproved    = "requisition.supervisor_approved"
	EventRequisitionFinanceVerified       = "requisition.finance_verified"
	EventRequisitionSupplyChainApproved   = "requisition.supply_chain_approved"
	EventRequisitionBuyerAssigned         = "requisition.buyer_assigned"
	EventRequisitionApproved              = "requisition.approved"
	EventRequisitionRejected              = "requisition.rejected"
	EventRequisitionSupplyChainRejected   = "requisition.supply_chain_rejected"
	EventRequisitionClarificationRequest  = "requisition.clarification_requested"
	EventRequisitionClarificationProvided = "requisition.clarification_provided"
	EventRequisitionCancelled             = "requisition.cancelled"
	EventRequisitionInProcurement         = "requisition.in_procurement"
	EventRequisitionProcurementComplete   = "requisition.procurement_complete"
	EventRequisitionDelivered             = "requisition.delivered"
	EventPettyCashFormGenerated           = "requisition.petty_cash_form_generated"
	EventBudgetAlert                      = "budget.alert"
)

// EventSink 领域事件出口
// 状态转换成功后发布事件;发布失败只记录日志,绝不影响工作流状态
type EventSink interface {
	Emit(eventType string, snapshot *model.Requisition) error
}

// NopEventSink 空实现,供测试与无事件场景使用
type NopEventSink struct{}

// Emit 丢弃事件
func (NopEventSink) Emit(eventType string, snapshot *model.Requisition) error {
	return nil
}
