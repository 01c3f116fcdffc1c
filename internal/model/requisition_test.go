package model_test

import (
	"testing"
	"time"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequisitionModel_Validate 测试申请模型校验
func TestRequisitionModel_Validate(t *testing.T) {
	rm := &model.RequisitionModel{
		ID:          "req-001",
		Number:      "REQ-2026-0001",
		RequesterID: "emp-001",
		Status:      string(workflow.StatusDraft),
		Data:        []byte(`{}`),
	}
	assert.NoError(t, rm.Validate())

	cases := []func(*model.RequisitionModel){
		func(m *model.RequisitionModel) { m.ID = "" },
		func(m *model.RequisitionModel) { m.Number = "" },
		func(m *model.RequisitionModel) { m.RequesterID = "" },
		func(m *model.RequisitionModel) { m.Status = "" },
		func(m *model.RequisitionModel) { m.Data = nil },
	}
	for _, breakIt := range cases {
		broken := *rm
		breakIt(&broken)
		assert.Error(t, broken.Validate())
	}
}

// TestRequisition_AggregateRoundTrip 测试聚合序列化往返保留审批链与各环节记录
func TestRequisition_AggregateRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	req := &model.Requisition{
		ID:     "req-001",
		Number: "REQ-2026-0001",
		Requester: workflow.RequesterProfile{
			UserID:       "emp-001",
			Department:   "engineering",
			SupervisorID: "sup-001",
		},
		Items:           []model.LineItem{{Description: "笔记本", Quantity: 3, Unit: "台", EstimatedPrice: decimal.NewFromInt(6000)}},
		RequestedAmount: decimal.NewFromInt(18000),
		Urgency:         workflow.UrgencyHigh,
		PaymentMethod:   workflow.PaymentCash,
		Status:          workflow.StatusPendingSupplyChainReview,
		Chain:           workflow.BuildChain(&workflow.RequesterProfile{UserID: "emp-001", SupervisorID: "sup-001"}),
		Finance: &model.FinanceVerification{
			VerifiedBy:     "fin-001",
			BudgetCodeID:   "bc-001",
			VerifiedAmount: decimal.NewFromInt(17500),
			ReservationID:  "alloc-001",
			VerifiedAt:     now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	rm, err := model.FromAggregate(req, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, rm.Version)
	assert.Equal(t, "emp-001", rm.RequesterID)
	assert.Equal(t, "engineering", rm.Department)
	assert.Equal(t, string(workflow.StatusPendingSupplyChainReview), rm.Status)
	assert.Equal(t, string(workflow.PaymentCash), rm.PaymentMethod)

	restored, err := rm.Aggregate()
	require.NoError(t, err)
	assert.Equal(t, req.ID, restored.ID)
	assert.True(t, restored.RequestedAmount.Equal(req.RequestedAmount))
	require.Len(t, restored.Chain, 4)
	assert.Equal(t, workflow.RoleSupervisor, restored.Chain[0].Role)
	require.NotNil(t, restored.Finance)
	assert.Equal(t, "alloc-001", restored.Finance.ReservationID)
	assert.True(t, restored.Finance.VerifiedAmount.Equal(decimal.NewFromInt(17500)))
	assert.True(t, restored.HasActiveReservation())
}

// TestRequisition_CurrentStep 测试当前待审节点
func TestRequisition_CurrentStep(t *testing.T) {
	req := &model.Requisition{}
	assert.Nil(t, req.CurrentStep())

	req.Chain = workflow.BuildChain(&workflow.RequesterProfile{UserID: "emp-001", SupervisorID: "sup-001"})
	step := req.CurrentStep()
	require.NotNil(t, step)
	assert.Equal(t, 1, step.Level)
}
