package workflow

// RequisitionStatus 采购申请状态
type RequisitionStatus string

const (
	StatusDraft                      RequisitionStatus = "draft"
	StatusPendingSupervisor          RequisitionStatus = "pending_supervisor"
	StatusPendingFinanceVerification RequisitionStatus = "pending_finance_verification"
	StatusPendingSupplyChainReview   RequisitionStatus = "pending_supply_chain_review"
	StatusPendingBuyerAssignment     RequisitionStatus = "pending_buyer_assignment"
	StatusPendingHeadApproval        RequisitionStatus = "pending_head_approval"
	StatusPendingClarification       RequisitionStatus = "pending_clarification"
	StatusApproved                   RequisitionStatus = "approved"
	StatusRejected                   RequisitionStatus = "rejected"
	StatusSupplyChainRejected        RequisitionStatus = "supply_chain_rejected"
	StatusCancelled                  RequisitionStatus = "cancelled"
	StatusInProcurement              RequisitionStatus = "in_procurement"
	StatusProcurementComplete        RequisitionStatus = "procurement_complete"
	StatusDelivered                  RequisitionStatus = "delivered"
)

// IsTerminal 判断状态是否为终态
func (s RequisitionStatus) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusSupplyChainRejected, StatusCancelled, StatusDelivered:
		return true
	}
	return false
}

// IsPending 判断是否为审批中状态(pending_* 系列)
func (s RequisitionStatus) IsPending() bool {
	switch s {
	case StatusPendingSupervisor, StatusPendingFinanceVerification,
		StatusPendingSupplyChainReview, StatusPendingBuyerAssignment,
		StatusPendingHeadApproval, StatusPendingClarification:
		return true
	}
	return false
}

// PaymentMethod 付款方式
type PaymentMethod string

const (
	PaymentBank PaymentMethod = "bank"
	PaymentCash PaymentMethod = "cash"
)

// Urgency 紧急程度
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)
