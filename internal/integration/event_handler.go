package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookConfig 单个 Webhook 订阅配置
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	// bearer/basic/header
	AuthType  string `mapstructure:"auth_type"`
	AuthKey   string `mapstructure:"auth_key"`
	AuthToken string `mapstructure:"auth_token"`
}

// EventPayload 投递给订阅方的事件载荷
type EventPayload struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Requisition *model.Requisition `json:"requisition"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// EventHandler 事件处理器接口
// Emit 与 service.EventSink 签名一致,可直接作为工作流服务的事件出口
type EventHandler interface {
	Emit(eventType string, snapshot *model.Requisition) error
	RedeliverPending() (int, error)
	Stop()
}

// dbEventHandler 基于数据库 outbox 的事件处理器
// 实现 service.EventSink: 先落库再异步投递,
// 投递失败不影响已提交的工作流状态
type dbEventHandler struct {
	db          *gorm.DB
	eventRepo   repository.EventRepository
	webhooks    []*WebhookConfig
	notifier    *NotificationDispatcher
	procurement *ProcurementClient
	httpClient  *http.Client
	queue       chan *EventPayload
	workers     int
	log         *logrus.Logger
	stop        chan struct{}
}

// NewEventHandler 创建事件处理器并启动 worker
func NewEventHandler(db *gorm.DB, webhooks []*WebhookConfig, notifier *NotificationDispatcher, procurement *ProcurementClient, workers int, log *logrus.Logger) EventHandler {
	if workers <= 0 {
		workers = 1
	}

	handler := &dbEventHandler{
		db:          db,
		eventRepo:   repository.NewEventRepository(db),
		webhooks:    webhooks,
		notifier:    notifier,
		procurement: procurement,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan *EventPayload, 1000),
		workers:     workers,
		log:         log,
		stop:        make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		go handler.worker()
	}

	return handler
}

// Emit 持久化事件并异步投递
func (h *dbEventHandler) Emit(eventType string, snapshot *model.Requisition) error {
	payload := &EventPayload{
		ID:          uuid.New().String(),
		Type:        eventType,
		Requisition: snapshot,
		OccurredAt:  time.Now(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventModel := &model.EventModel{
		ID:            payload.ID,
		RequisitionID: snapshot.ID,
		Type:          eventType,
		Data:          data,
		Status:        model.EventPending,
		RetryCount:    0,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := h.eventRepo.Save(eventModel); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	select {
	case h.queue <- payload:
	default:
		// 队列满时不阻塞工作流,事件留在 outbox 等 RedeliverPending
		h.log.WithFields(logrus.Fields{
			"event_type":     eventType,
			"requisition_id": snapshot.ID,
		}).Warn("event queue full, delivery deferred to redelivery sweep")
	}

	return nil
}

// RedeliverPending 重新投递 outbox 中仍为 pending 的事件
// 进程重启或队列溢出后由调用方周期触发
func (h *dbEventHandler) RedeliverPending() (int, error) {
	events, err := h.eventRepo.FindPending()
	if err != nil {
		return 0, fmt.Errorf("failed to load pending events: %w", err)
	}

	enqueued := 0
	for _, em := range events {
		var payload EventPayload
		if err := json.Unmarshal(em.Data, &payload); err != nil {
			h.log.WithError(err).WithField("event_id", em.ID).Warn("failed to unmarshal pending event, marking failed")
			_ = h.eventRepo.MarkStatus(em.ID, model.EventFailed, em.RetryCount)
			continue
		}
		select {
		case h.queue <- &payload:
			enqueued++
		default:
			return enqueued, nil // 队列又满了,等下一轮
		}
	}
	return enqueued, nil
}

// worker 事件投递 worker
func (h *dbEventHandler) worker() {
	for {
		select {
		case payload := <-h.queue:
			h.deliver(payload)
		case <-h.stop:
			return
		}
	}
}

// deliver 投递事件: 通知分发 + 采购订单下发 + Webhook 推送,带指数退避重试
func (h *dbEventHandler) deliver(payload *EventPayload) {
	if h.notifier != nil {
		h.notifier.Dispatch(payload)
	}

	// 终批通过的申请下发给采购执行系统;
	// 采购系统不可用只记录日志,事件留在 outbox 不算投递失败
	if h.procurement != nil && payload.Type == service.EventRequisitionApproved && payload.Requisition != nil {
		if err := h.procurement.SubmitOrder(context.Background(), payload.Requisition); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"event_id":       payload.ID,
				"requisition_id": payload.Requisition.ID,
			}).Warn("procurement order submission failed")
		}
	}

	if len(h.webhooks) == 0 {
		// 没有订阅方,标记完成
		_ = h.eventRepo.MarkStatus(payload.ID, model.EventSuccess, 0)
		return
	}

	maxRetries := 3
	backoff := time.Second
	retryCount := 0

	for i := 0; i < maxRetries; i++ {
		success := true
		for _, webhook := range h.webhooks {
			if err := h.sendWebhookRequest(webhook, payload); err != nil {
				success = false
				h.log.WithError(err).WithFields(logrus.Fields{
					"event_id": payload.ID,
					"url":      webhook.URL,
				}).Warn("webhook delivery failed")
			}
		}

		if success {
			_ = h.eventRepo.MarkStatus(payload.ID, model.EventSuccess, retryCount)
			return
		}

		retryCount++
		_ = h.eventRepo.MarkStatus(payload.ID, model.EventPending, retryCount)

		if i < maxRetries-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	_ = h.eventRepo.MarkStatus(payload.ID, model.EventFailed, retryCount)
}

// sendWebhookRequest 发送单个 Webhook 请求
func (h *dbEventHandler) sendWebhookRequest(webhook *WebhookConfig, payload *EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	method := webhook.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, webhook.URL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}

	switch webhook.AuthType {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+webhook.AuthToken)
	case "basic":
		req.SetBasicAuth(webhook.AuthKey, webhook.AuthToken)
	case "header":
		req.Header.Set(webhook.AuthKey, webhook.AuthToken)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}

	return nil
}

// Stop 停止事件处理器
func (h *dbEventHandler) Stop() {
	close(h.stop)
}
