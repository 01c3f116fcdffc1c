package workflow

// transitions 合法状态转换表
// pending_clarification 的进入与返回由服务层结合链位置处理,
// 这里列出所有允许的边
var transitions = map[RequisitionStatus][]RequisitionStatus{
	StatusDraft: {StatusPendingSupervisor, StatusPendingFinanceVerification, StatusCancelled},
	StatusPendingSupervisor: {
		StatusPendingFinanceVerification, StatusRejected,
		StatusPendingClarification, StatusCancelled,
	},
	StatusPendingFinanceVerification: {
		StatusPendingSupplyChainReview, StatusRejected,
		StatusPendingClarification, StatusCancelled,
	},
	StatusPendingSupplyChainReview: {
		StatusPendingBuyerAssignment, StatusPendingHeadApproval, StatusSupplyChainRejected,
		StatusPendingClarification, StatusCancelled,
	},
	StatusPendingBuyerAssignment: {
		StatusPendingHeadApproval, StatusSupplyChainRejected,
		StatusPendingClarification, StatusCancelled,
	},
	StatusPendingHeadApproval: {
		StatusApproved, StatusRejected,
		StatusPendingClarification, StatusCancelled,
	},
	StatusPendingClarification: {
		StatusPendingSupervisor, StatusPendingFinanceVerification,
		StatusPendingSupplyChainReview, StatusPendingBuyerAssignment,
		StatusPendingHeadApproval, StatusCancelled,
	},
	StatusApproved:            {StatusInProcurement, StatusCancelled},
	StatusInProcurement:       {StatusProcurementComplete},
	StatusProcurementComplete: {StatusDelivered},
	// 终态: rejected, supply_chain_rejected, cancelled, delivered
}

// CanTransition 判断状态转换是否合法
func CanTransition(from, to RequisitionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// EnsureTransition 校验状态转换,非法时返回 InvalidTransitionError
func EnsureTransition(from, to RequisitionStatus, event string) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to, Event: event}
	}
	return nil
}
