package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/utils"
)

// BudgetController 预算科目控制器
type BudgetController struct {
	codeService service.BudgetCodeService
	ledger      service.LedgerService
}

// NewBudgetController 创建预算科目控制器
func NewBudgetController(codeService service.BudgetCodeService, ledger service.LedgerService) *BudgetController {
	return &BudgetController{
		codeService: codeService,
		ledger:      ledger,
	}
}

// requireFinance 预算科目管理仅限财务与管理员
func (c *BudgetController) requireFinance(ctx *gin.Context) bool {
	principal, ok := auth.PrincipalFromContext(ctx.Request.Context())
	if !ok || !principal.HasRole(auth.RoleFinanceOfficer) {
		Error(ctx, http.StatusForbidden, "forbidden", "budget administration requires finance role")
		return false
	}
	return true
}

// Create 创建预算科目
// @Summary      创建预算科目
// @Tags         预算管理
// @Accept       json
// @Produce      json
// @Param        request body service.CreateBudgetCodeRequest true "科目信息"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /budget-codes [post]
// @Security     BearerAuth
func (c *BudgetController) Create(ctx *gin.Context) {
	if !c.requireFinance(ctx) {
		return
	}

	var req service.CreateBudgetCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	code, err := c.codeService.Create(ctx.Request.Context(), &req)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, code)
}

// List 列出预算科目
// @Summary      列出预算科目
// @Tags         预算管理
// @Produce      json
// @Param        department query string false "部门"
// @Success      200  {object}  Response
// @Router       /budget-codes [get]
// @Security     BearerAuth
func (c *BudgetController) List(ctx *gin.Context) {
	codes, err := c.codeService.List(ctx.Query("department"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, codes)
}

// Get 获取预算科目
// @Summary      获取预算科目详情
// @Tags         预算管理
// @Produce      json
// @Param        id path string true "科目 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /budget-codes/{id} [get]
// @Security     BearerAuth
func (c *BudgetController) Get(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := utils.ValidateResourceID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid budget code ID", err.Error())
		return
	}

	code, err := c.codeService.Get(id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, code)
}

// Summary 预算科目概览
// @Summary      预算科目余额与使用率概览
// @Description  含 allocated 预留之和与剩余可用额度
// @Tags         预算管理
// @Produce      json
// @Param        id path string true "科目 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /budget-codes/{id}/summary [get]
// @Security     BearerAuth
func (c *BudgetController) Summary(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := utils.ValidateResourceID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid budget code ID", err.Error())
		return
	}

	summary, err := c.ledger.Summary(id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, summary)
}

// Deactivate 停用预算科目
// @Summary      停用预算科目
// @Description  归档而非删除,历史分配保持可查
// @Tags         预算管理
// @Produce      json
// @Param        id path string true "科目 ID"
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Router       /budget-codes/{id}/deactivate [post]
// @Security     BearerAuth
func (c *BudgetController) Deactivate(ctx *gin.Context) {
	if !c.requireFinance(ctx) {
		return
	}

	id := ctx.Param("id")
	if err := utils.ValidateResourceID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid budget code ID", err.Error())
		return
	}

	if err := c.codeService.Deactivate(ctx.Request.Context(), id); err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, gin.H{"id": id, "active": false})
}

// Sweep 手动触发过期预留清理
// @Summary      释放过期的预算预留
// @Tags         预算管理
// @Produce      json
// @Param        max_age_hours query int false "预留最长存活小时数" default(720)
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Router       /budget-codes/sweep [post]
// @Security     BearerAuth
func (c *BudgetController) Sweep(ctx *gin.Context) {
	principal, ok := auth.PrincipalFromContext(ctx.Request.Context())
	if !ok || !principal.HasRole(auth.RoleAdmin) {
		Error(ctx, http.StatusForbidden, "forbidden", "sweep requires admin role")
		return
	}

	maxAge := 720 * time.Hour
	if hoursStr := ctx.Query("max_age_hours"); hoursStr != "" {
		var hours int
		if _, err := fmt.Sscanf(hoursStr, "%d", &hours); err == nil && hours > 0 {
			maxAge = time.Duration(hours) * time.Hour
		}
	}

	result, err := c.ledger.ReleaseStale(ctx.Request.Context(), maxAge)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, result)
}
