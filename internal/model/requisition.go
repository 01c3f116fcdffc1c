package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/shopspring/decimal"
)

// LineItem 申请明细行
type LineItem struct {
	Description    string          `json:"description"`
	Quantity       int             `json:"quantity"`
	Unit           string          `json:"unit"`
	EstimatedPrice decimal.Decimal `json:"estimated_price"`
}

// FinanceVerification 财务核验记录
type FinanceVerification struct {
	VerifiedBy     string          `json:"verified_by"`
	BudgetCodeID   string          `json:"budget_code_id"`
	VerifiedAmount decimal.Decimal `json:"verified_amount"`
	ReservationID  string          `json:"reservation_id"`
	Comments       string          `json:"comments,omitempty"`
	VerifiedAt     time.Time       `json:"verified_at"`
}

// SupplyChainReview 供应链审核记录
// AssignedBuyer 是采购员归属的唯一权威字段
type SupplyChainReview struct {
	ReviewedBy    string    `json:"reviewed_by"`
	SourcingType  string    `json:"sourcing_type"` // direct | competitive
	AssignedBuyer string    `json:"assigned_buyer,omitempty"`
	Comments      string    `json:"comments,omitempty"`
	ReviewedAt    time.Time `json:"reviewed_at"`
}

// HeadApproval 部门负责人终批记录
type HeadApproval struct {
	ApprovedBy string    `json:"approved_by"`
	Comments   string    `json:"comments,omitempty"`
	ApprovedAt time.Time `json:"approved_at"`
}

// PettyCashForm 备用金表单
// 仅当付款方式为 cash 且终批通过时生成,金额为批准时点快照
type PettyCashForm struct {
	FormNumber  string          `json:"form_number"`
	Amount      decimal.Decimal `json:"amount"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// RejectionRecord 拒绝历史记录
type RejectionRecord struct {
	Level      int       `json:"level"`
	RejectedBy string    `json:"rejected_by"`
	Reason     string    `json:"reason,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

// ClarificationRecord 澄清历史记录(追加式审计,不参与状态判定)
type ClarificationRecord struct {
	FromLevel   int        `json:"from_level"`
	ToLevel     int        `json:"to_level"`
	RequestedBy string     `json:"requested_by"`
	Message     string     `json:"message"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedBy string     `json:"responded_by,omitempty"`
	Response    string     `json:"response,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Requisition 采购申请聚合
// 审批链与各环节记录作为值集合由聚合根持有,
// 外部只能通过工作流服务的操作修改
type Requisition struct {
	ID              string                     `json:"id"`
	Number          string                     `json:"number"`
	Requester       workflow.RequesterProfile  `json:"requester"`
	Items           []LineItem                 `json:"items"`
	RequestedAmount decimal.Decimal            `json:"requested_amount"`
	Justification   string                     `json:"justification,omitempty"`
	Urgency         workflow.Urgency           `json:"urgency"`
	PaymentMethod   workflow.PaymentMethod     `json:"payment_method"`
	Status          workflow.RequisitionStatus `json:"status"`
	// PreClarificationStatus 进入 pending_clarification 前的状态,
	// 澄清答复后恢复到这里记录的状态
	PreClarificationStatus workflow.RequisitionStatus `json:"pre_clarification_status,omitempty"`
	Chain                  []*workflow.ApprovalStep   `json:"chain,omitempty"`
	Finance         *FinanceVerification       `json:"finance,omitempty"`
	SupplyChain     *SupplyChainReview         `json:"supply_chain,omitempty"`
	Head            *HeadApproval              `json:"head,omitempty"`
	PettyCash       *PettyCashForm             `json:"petty_cash,omitempty"`
	ActualCost      *decimal.Decimal           `json:"actual_cost,omitempty"`
	Rejections      []RejectionRecord          `json:"rejections,omitempty"`
	Clarifications  []ClarificationRecord      `json:"clarifications,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	SubmittedAt     *time.Time                 `json:"submitted_at,omitempty"`
}

// CurrentStep 当前待审批节点
func (r *Requisition) CurrentStep() *workflow.ApprovalStep {
	return workflow.CurrentStep(r.Chain)
}

// HasActiveReservation 是否持有未结清的预算预留
func (r *Requisition) HasActiveReservation() bool {
	return r.Finance != nil && r.Finance.ReservationID != ""
}

// RequisitionModel 采购申请数据模型
// 聚合整体序列化到 Data,常用查询字段冗余为索引列
type RequisitionModel struct {
	ID              string          `gorm:"primaryKey;type:varchar(64)"`
	Number          string          `gorm:"type:varchar(32);not null;uniqueIndex"` // 申请编号 REQ-YYYY-NNNN
	RequesterID     string          `gorm:"type:varchar(64);not null;index"`
	Department      string          `gorm:"type:varchar(128);index"`
	Status          string          `gorm:"type:varchar(40);not null;index"`
	RequestedAmount decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	PaymentMethod   string          `gorm:"type:varchar(16);not null"`
	Version         int             `gorm:"not null;default:1"` // 乐观锁版本号
	Data            []byte          `gorm:"type:jsonb;not null"` // 序列化后的 Requisition 聚合
	CreatedAt       time.Time       `gorm:"not null;index"`
	UpdatedAt       time.Time       `gorm:"not null;index"`
	SubmittedAt     *time.Time      `gorm:"index"`
}

// TableName 指定表名
func (RequisitionModel) TableName() string {
	return "requisitions"
}

// Validate 验证申请模型
func (rm *RequisitionModel) Validate() error {
	if rm.ID == "" {
		return errors.New("requisition ID is required")
	}
	if rm.Number == "" {
		return errors.New("requisition number is required")
	}
	if rm.RequesterID == "" {
		return errors.New("requester ID is required")
	}
	if rm.Status == "" {
		return errors.New("requisition status is required")
	}
	if len(rm.Data) == 0 {
		return errors.New("requisition data is required")
	}
	return nil
}

// Aggregate 反序列化聚合
func (rm *RequisitionModel) Aggregate() (*Requisition, error) {
	var req Requisition
	if err := json.Unmarshal(rm.Data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// FromAggregate 由聚合构建数据模型,保留传入的版本号
func FromAggregate(req *Requisition, version int) (*RequisitionModel, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &RequisitionModel{
		ID:              req.ID,
		Number:          req.Number,
		RequesterID:     req.Requester.UserID,
		Department:      req.Requester.Department,
		Status:          string(req.Status),
		RequestedAmount: req.RequestedAmount,
		PaymentMethod:   string(req.PaymentMethod),
		Version:         version,
		Data:            data,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
		SubmittedAt:     req.SubmittedAt,
	}, nil
}
