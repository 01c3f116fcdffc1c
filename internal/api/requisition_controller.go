package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/utils"
)

// RequisitionController 采购申请控制器
type RequisitionController struct {
	reqService service.RequisitionService
}

// NewRequisitionController 创建采购申请控制器
func NewRequisitionController(reqService service.RequisitionService) *RequisitionController {
	return &RequisitionController{
		reqService: reqService,
	}
}

// validateRequisitionID 验证申请 ID,无效时写错误响应
func (c *RequisitionController) validateRequisitionID(ctx *gin.Context, id string) bool {
	if err := utils.ValidateResourceID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid requisition ID", err.Error())
		return false
	}
	return true
}

// Create 创建申请
// @Summary      创建采购申请
// @Description  以 draft 状态创建采购申请
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        request body service.CreateRequisitionRequest true "申请信息"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /requisitions [post]
// @Security     BearerAuth
func (c *RequisitionController) Create(ctx *gin.Context) {
	var req service.CreateRequisitionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// Get 获取申请详情
// @Summary      获取申请详情
// @Tags         采购申请
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /requisitions/{id} [get]
// @Security     BearerAuth
func (c *RequisitionController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	requisition, err := c.reqService.Get(id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// Submit 提交申请
// @Summary      提交申请进入审批流
// @Description  根据申请人画像构建审批链并进入第一个审批节点
// @Tags         采购申请
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/submit [post]
// @Security     BearerAuth
func (c *RequisitionController) Submit(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	requisition, err := c.reqService.Submit(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// SupervisorDecision 主管审批
// @Summary      主管审批
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.DecisionRequest true "审批决定"
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/supervisor/decision [post]
// @Security     BearerAuth
func (c *RequisitionController) SupervisorDecision(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.DecisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.SupervisorDecision(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// FinanceVerify 财务核验
// @Summary      财务核验
// @Description  通过时在预算科目上预留金额,预留失败则核验不生效
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.FinanceVerifyRequest true "核验决定"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Router       /requisitions/{id}/finance/verify [post]
// @Security     BearerAuth
func (c *RequisitionController) FinanceVerify(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.FinanceVerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.FinanceVerify(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// SupplyChainReview 供应链审核
// @Summary      供应链审核
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.SupplyChainReviewRequest true "审核决定"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/supply-chain/review [post]
// @Security     BearerAuth
func (c *RequisitionController) SupplyChainReview(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.SupplyChainReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.SupplyChainReview(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// AssignBuyer 指派采购员
// @Summary      指派采购员
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.AssignBuyerRequest true "采购员"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/buyer [post]
// @Security     BearerAuth
func (c *RequisitionController) AssignBuyer(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.AssignBuyerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.AssignBuyer(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// HeadDecision 部门负责人终批
// @Summary      部门负责人终批
// @Description  通过即批准申请;现金付款生成备用金表单并结清预留
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.DecisionRequest true "审批决定"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/head/decision [post]
// @Security     BearerAuth
func (c *RequisitionController) HeadDecision(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.DecisionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.HeadDecision(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// RequestClarification 发起澄清
// @Summary      向更早的审批节点发起澄清
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.ClarificationRequestInput true "澄清请求"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/clarification/request [post]
// @Security     BearerAuth
func (c *RequisitionController) RequestClarification(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.ClarificationRequestInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.RequestClarification(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// ProvideClarification 答复澄清
// @Summary      答复澄清请求
// @Description  申请恢复到发起澄清前的待审状态
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.ClarificationResponseInput true "澄清答复"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/clarification/respond [post]
// @Security     BearerAuth
func (c *RequisitionController) ProvideClarification(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.ClarificationResponseInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.ProvideClarification(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// Cancel 撤销申请
// @Summary      撤销申请
// @Description  仅申请人可撤销,释放仍有效的预算预留
// @Tags         采购申请
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/cancel [post]
// @Security     BearerAuth
func (c *RequisitionController) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = ctx.ShouldBindJSON(&body)

	requisition, err := c.reqService.Cancel(ctx.Request.Context(), id, body.Reason)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// StartProcurement 启动采购
// @Summary      启动采购执行
// @Tags         采购执行
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/procurement/start [post]
// @Security     BearerAuth
func (c *RequisitionController) StartProcurement(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	requisition, err := c.reqService.StartProcurement(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// CompleteProcurement 采购完成
// @Summary      采购完成回报
// @Description  按实际成交金额结清预算预留
// @Tags         采购执行
// @Accept       json
// @Produce      json
// @Param        id path string true "申请 ID"
// @Param        request body service.CompleteProcurementRequest true "实际成本"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/procurement/complete [post]
// @Security     BearerAuth
func (c *RequisitionController) CompleteProcurement(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	var req service.CompleteProcurementRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requisition, err := c.reqService.CompleteProcurement(ctx.Request.Context(), id, &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}

// MarkDelivered 标记交付
// @Summary      标记交付完成
// @Tags         采购执行
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Router       /requisitions/{id}/delivered [post]
// @Security     BearerAuth
func (c *RequisitionController) MarkDelivered(ctx *gin.Context) {
	id := ctx.Param("id")
	if !c.validateRequisitionID(ctx, id) {
		return
	}

	requisition, err := c.reqService.MarkDelivered(ctx.Request.Context(), id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, requisition)
}
