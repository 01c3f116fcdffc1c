package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
)

// ProcurementConfig 采购执行系统配置
type ProcurementConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProcurementOrder 下发给采购执行系统的订单
type ProcurementOrder struct {
	RequisitionID   string           `json:"requisition_id"`
	Number          string           `json:"number"`
	Buyer           string           `json:"buyer"`
	SourcingType    string           `json:"sourcing_type"`
	Items           []model.LineItem `json:"items"`
	ApprovedAmount  decimal.Decimal  `json:"approved_amount"`
	PaymentMethod   string           `json:"payment_method"`
	Department      string           `json:"department"`
}

// ProcurementClient 采购执行系统客户端
// 申请批准后把订单推给外部采购系统;不可用时返回
// ExternalDependencyError,调用方决定降级策略
type ProcurementClient struct {
	config     *ProcurementConfig
	httpClient *http.Client
}

// NewProcurementClient 创建采购执行系统客户端
func NewProcurementClient(config *ProcurementConfig) *ProcurementClient {
	if config == nil {
		config = &ProcurementConfig{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProcurementClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SubmitOrder 把已批准的申请作为订单下发
func (c *ProcurementClient) SubmitOrder(ctx context.Context, req *model.Requisition) error {
	if !c.config.Enabled {
		return nil
	}
	if req.SupplyChain == nil {
		return workflow.NewValidationError("supply_chain", "review record is missing")
	}

	amount := req.RequestedAmount
	if req.Finance != nil {
		amount = req.Finance.VerifiedAmount
	}
	order := &ProcurementOrder{
		RequisitionID:  req.ID,
		Number:         req.Number,
		Buyer:          req.SupplyChain.AssignedBuyer,
		SourcingType:   req.SupplyChain.SourcingType,
		Items:          req.Items,
		ApprovedAmount: amount,
		PaymentMethod:  string(req.PaymentMethod),
		Department:     req.Requester.Department,
	}

	if err := c.post(ctx, "/api/v1/orders", order); err != nil {
		return &workflow.ExternalDependencyError{Dependency: "procurement", Err: err}
	}
	return nil
}

func (c *ProcurementClient) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("procurement system returned status code: %d", resp.StatusCode)
	}
	return nil
}
