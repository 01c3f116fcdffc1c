package service

import (
	"context"
	"strings"
	"time"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PettyCashService 备用金表单服务
// 现金付款的申请在终批通过时生成备用金表单;
// 生成失败不阻断审批,由 RetryPending 补偿
type PettyCashService interface {
	Generate(req *model.Requisition) (*model.PettyCashForm, error)
	// RetryPending 为已批准但缺少表单的现金申请补生成表单
	RetryPending(ctx context.Context) (int, error)
}

// pettyCashService 备用金表单服务实现
type pettyCashService struct {
	db      *gorm.DB
	reqRepo repository.RequisitionRepository
	log     *logrus.Logger
}

// NewPettyCashService 创建备用金表单服务
func NewPettyCashService(db *gorm.DB, log *logrus.Logger) PettyCashService {
	return &pettyCashService{
		db:      db,
		reqRepo: repository.NewRequisitionRepository(db),
		log:     log,
	}
}

// Generate 生成备用金表单
// 表单编号由申请编号派生(REQ-2026-0042 -> PC-2026-0042),
// 天然幂等且全局唯一;金额取财务核验金额
func (s *pettyCashService) Generate(req *model.Requisition) (*model.PettyCashForm, error) {
	if req.PaymentMethod != workflow.PaymentCash {
		return nil, workflow.NewValidationError("payment_method", "petty cash form only applies to cash payment")
	}
	if req.Finance == nil {
		return nil, workflow.NewValidationError("finance", "verification record is missing")
	}

	return &model.PettyCashForm{
		FormNumber:  strings.Replace(req.Number, "REQ-", "PC-", 1),
		Amount:      req.Finance.VerifiedAmount,
		GeneratedAt: time.Now(),
	}, nil
}

// RetryPending 补生成缺失的备用金表单
// 扫描已批准及后续状态的现金申请,聚合里没有表单的补上;
// 带乐观锁保存,并发冲突跳过等下一轮
func (s *pettyCashService) RetryPending(ctx context.Context) (int, error) {
	generated := 0
	statuses := []workflow.RequisitionStatus{
		workflow.StatusApproved,
		workflow.StatusInProcurement,
		workflow.StatusProcurementComplete,
	}

	for _, status := range statuses {
		select {
		case <-ctx.Done():
			return generated, ctx.Err()
		default:
		}

		st := string(status)
		rms, err := s.reqRepo.FindByFilter(&repository.RequisitionFilter{Status: &st})
		if err != nil {
			return generated, err
		}
		for _, rm := range rms {
			if rm.PaymentMethod != string(workflow.PaymentCash) {
				continue
			}
			req, err := rm.Aggregate()
			if err != nil {
				s.log.WithError(err).WithField("requisition_id", rm.ID).Warn("failed to unmarshal requisition, skipping")
				continue
			}
			if req.PettyCash != nil {
				continue
			}

			form, err := s.Generate(req)
			if err != nil {
				s.log.WithError(err).WithField("requisition_id", req.ID).Warn("petty cash form retry failed")
				continue
			}
			req.PettyCash = form
			req.UpdatedAt = time.Now()

			updated, err := model.FromAggregate(req, rm.Version)
			if err != nil {
				s.log.WithError(err).WithField("requisition_id", req.ID).Warn("failed to marshal requisition")
				continue
			}
			if err := s.reqRepo.SaveWithVersion(updated, rm.Version); err != nil {
				if _, ok := err.(*workflow.StaleStateError); ok {
					continue
				}
				return generated, err
			}
			generated++
			s.log.WithFields(logrus.Fields{
				"requisition_id": req.ID,
				"form_number":    form.FormNumber,
			}).Info("petty cash form generated on retry")
		}
	}
	return generated, nil
}
