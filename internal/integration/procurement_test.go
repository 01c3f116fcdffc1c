package integration_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mautops/procure-gin/internal/database"
	"github.com/mautops/procure-gin/internal/integration"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupIntegrationTestDB 创建集成层测试数据库
func setupIntegrationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// 内存库每个连接都是独立数据库,必须固定为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func integrationLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// approvedRequisition 构造一份终批通过的申请
func approvedRequisition() *model.Requisition {
	now := time.Now()
	return &model.Requisition{
		ID:     "req-int-001",
		Number: "REQ-2026-0001",
		Requester: workflow.RequesterProfile{
			UserID:     "emp-001",
			Department: "engineering",
		},
		Items:           []model.LineItem{{Description: "工作站", Quantity: 1, EstimatedPrice: decimal.NewFromInt(9000)}},
		RequestedAmount: decimal.NewFromInt(9000),
		PaymentMethod:   workflow.PaymentBank,
		Status:          workflow.StatusApproved,
		Finance: &model.FinanceVerification{
			VerifiedBy:     "fin-001",
			BudgetCodeID:   "bc-001",
			VerifiedAmount: decimal.NewFromInt(8500),
			ReservationID:  "rsv-001",
			VerifiedAt:     now,
		},
		SupplyChain: &model.SupplyChainReview{
			ReviewedBy:    "sc-001",
			SourcingType:  "direct",
			AssignedBuyer: "buyer-007",
			ReviewedAt:    now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestProcurementClient_SubmitOrder 测试订单下发与降级语义
func TestProcurementClient_SubmitOrder(t *testing.T) {
	received := make(chan integration.ProcurementOrder, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var order integration.ProcurementOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		received <- order
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := integration.NewProcurementClient(&integration.ProcurementConfig{
		Enabled: true, BaseURL: ts.URL, Token: "secret",
	})
	req := approvedRequisition()
	require.NoError(t, client.SubmitOrder(context.Background(), req))

	order := <-received
	assert.Equal(t, req.ID, order.RequisitionID)
	assert.Equal(t, "buyer-007", order.Buyer)
	assert.Equal(t, "direct", order.SourcingType)
	// 金额取核验金额而非申请金额
	assert.True(t, order.ApprovedAmount.Equal(decimal.NewFromInt(8500)))

	// 供应链审核记录缺失时拒绝下发
	broken := approvedRequisition()
	broken.SupplyChain = nil
	var valErr *workflow.ValidationError
	assert.True(t, errors.As(client.SubmitOrder(context.Background(), broken), &valErr))

	// 未启用时不发请求
	disabled := integration.NewProcurementClient(&integration.ProcurementConfig{Enabled: false, BaseURL: ts.URL})
	assert.NoError(t, disabled.SubmitOrder(context.Background(), req))
}

// TestProcurementClient_SubmitOrder_Unavailable 测试采购系统不可用时返回外部依赖错误
func TestProcurementClient_SubmitOrder_Unavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := integration.NewProcurementClient(&integration.ProcurementConfig{Enabled: true, BaseURL: ts.URL})
	err := client.SubmitOrder(context.Background(), approvedRequisition())
	var extErr *workflow.ExternalDependencyError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "procurement", extErr.Dependency)
}

// TestEventHandler_ForwardsApprovedRequisition 测试终批事件触发采购订单下发
func TestEventHandler_ForwardsApprovedRequisition(t *testing.T) {
	received := make(chan integration.ProcurementOrder, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var order integration.ProcurementOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		received <- order
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	db := setupIntegrationTestDB(t)
	client := integration.NewProcurementClient(&integration.ProcurementConfig{Enabled: true, BaseURL: ts.URL})
	handler := integration.NewEventHandler(db, nil, nil, client, 1, integrationLogger())
	defer handler.Stop()

	req := approvedRequisition()
	require.NoError(t, handler.Emit(service.EventRequisitionApproved, req))

	select {
	case order := <-received:
		assert.Equal(t, req.ID, order.RequisitionID)
		assert.Equal(t, "buyer-007", order.Buyer)
	case <-time.After(3 * time.Second):
		t.Fatal("procurement order was not submitted")
	}

	// 其余事件类型不触发订单下发
	require.NoError(t, handler.Emit(service.EventRequisitionSubmitted, req))
	select {
	case order := <-received:
		t.Fatalf("unexpected order for non-approval event: %+v", order)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestEventHandler_ProcurementFailureDoesNotFailEvent 测试采购系统故障不影响事件投递结果
func TestEventHandler_ProcurementFailureDoesNotFailEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	db := setupIntegrationTestDB(t)
	client := integration.NewProcurementClient(&integration.ProcurementConfig{Enabled: true, BaseURL: ts.URL})
	handler := integration.NewEventHandler(db, nil, nil, client, 1, integrationLogger())
	defer handler.Stop()

	req := approvedRequisition()
	require.NoError(t, handler.Emit(service.EventRequisitionApproved, req))

	deadline := time.Now().Add(3 * time.Second)
	for {
		var em model.EventModel
		require.NoError(t, db.First(&em, "requisition_id = ?", req.ID).Error)
		if em.Status == model.EventSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event stuck in status %s", em.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
