package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/workflow"
	"github.com/sirupsen/logrus"
)

// NotificationConfig 通知分发配置
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"` // 通知网关地址
	Token   string `mapstructure:"token"`
}

// Notification 单条通知
type Notification struct {
	Recipient     string `json:"recipient"`      // 用户 ID 或角色名
	RecipientKind string `json:"recipient_kind"` // user/role
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	RequisitionID string `json:"requisition_id"`
	EventType     string `json:"event_type"`
}

// NotificationDispatcher 通知分发器
// 根据事件类型决定收件人: 状态推进通知下一个审批角色,
// 终态与澄清通知申请人或目标审批人
type NotificationDispatcher struct {
	config     *NotificationConfig
	httpClient *http.Client
	log        *logrus.Logger
}

// NewNotificationDispatcher 创建通知分发器
func NewNotificationDispatcher(config *NotificationConfig, log *logrus.Logger) *NotificationDispatcher {
	if config == nil {
		config = &NotificationConfig{}
	}
	return &NotificationDispatcher{
		config:     config,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

// Dispatch 分发事件对应的通知
// 投递失败只记录日志,不向上传播
func (d *NotificationDispatcher) Dispatch(payload *EventPayload) {
	if !d.config.Enabled {
		return
	}
	for _, n := range d.Build(payload) {
		if err := d.send(n); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"recipient":      n.Recipient,
				"event_type":     n.EventType,
				"requisition_id": n.RequisitionID,
			}).Warn("notification delivery failed")
		}
	}
}

// Build 根据事件构建通知列表(公开方法,供测试使用)
func (d *NotificationDispatcher) Build(payload *EventPayload) []*Notification {
	req := payload.Requisition
	if req == nil {
		return nil
	}

	var notifications []*Notification
	addForUser := func(userID, subject, body string) {
		notifications = append(notifications, &Notification{
			Recipient:     userID,
			RecipientKind: "user",
			Subject:       subject,
			Body:          body,
			RequisitionID: req.ID,
			EventType:     payload.Type,
		})
	}
	addForRole := func(role, subject, body string) {
		notifications = append(notifications, &Notification{
			Recipient:     role,
			RecipientKind: "role",
			Subject:       subject,
			Body:          body,
			RequisitionID: req.ID,
			EventType:     payload.Type,
		})
	}

	subject := fmt.Sprintf("采购申请 %s", req.Number)
	switch payload.Type {
	case service.EventRequisitionSubmitted,
		service.EventRequisitionSupervisorApproved,
		service.EventRequisitionFinanceVerified,
		service.EventRequisitionBuyerAssigned:
		// 链推进,通知下一个待审节点
		if step := req.CurrentStep(); step != nil && step.Status == workflow.StepPending {
			if step.ApproverID != "" {
				addForUser(step.ApproverID, subject, "有一笔申请等待你审批")
			} else {
				addForRole(string(step.Role), subject, "有一笔申请等待审批")
			}
		}
	case service.EventRequisitionSupplyChainApproved:
		if req.Status == workflow.StatusPendingBuyerAssignment {
			addForRole(string(workflow.RoleSupplyChain), subject, "申请已通过审核,等待指派采购员")
		} else if step := req.CurrentStep(); step != nil {
			addForRole(string(step.Role), subject, "有一笔申请等待审批")
		}
	case service.EventRequisitionApproved:
		addForUser(req.Requester.UserID, subject, "你的申请已批准")
		addForRole("procurement", subject, "申请已批准,等待启动采购")
	case service.EventRequisitionRejected, service.EventRequisitionSupplyChainRejected:
		addForUser(req.Requester.UserID, subject, "你的申请已被拒绝")
	case service.EventRequisitionClarificationRequest:
		// 通知被澄清的节点
		for _, step := range req.Chain {
			if step.Status == workflow.StepNeedsClarification {
				if step.ApproverID != "" {
					addForUser(step.ApproverID, subject, "你此前的批准被要求澄清")
				} else {
					addForRole(string(step.Role), subject, "此前的批准被要求澄清")
				}
			}
		}
	case service.EventRequisitionClarificationProvided:
		if step := req.CurrentStep(); step != nil {
			if step.ApproverID != "" {
				addForUser(step.ApproverID, subject, "澄清已答复,可继续审批")
			} else {
				addForRole(string(step.Role), subject, "澄清已答复,可继续审批")
			}
		}
	case service.EventRequisitionCancelled:
		addForUser(req.Requester.UserID, subject, "你的申请已撤销")
	case service.EventRequisitionProcurementComplete:
		addForUser(req.Requester.UserID, subject, "采购已完成")
	case service.EventRequisitionDelivered:
		addForUser(req.Requester.UserID, subject, "物品已交付")
	case service.EventPettyCashFormGenerated:
		if req.PettyCash != nil {
			addForUser(req.Requester.UserID, subject,
				fmt.Sprintf("备用金表单 %s 已生成", req.PettyCash.FormNumber))
		}
	}

	return notifications
}

func (d *NotificationDispatcher) send(n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, d.config.URL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway returned status code: %d", resp.StatusCode)
	}
	return nil
}
