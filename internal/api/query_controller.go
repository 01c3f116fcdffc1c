package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/workflow"
)

// QueryController 查询与统计控制器
type QueryController struct {
	queryService service.QueryService
	statsService service.StatisticsService
}

// NewQueryController 创建查询控制器
func NewQueryController(queryService service.QueryService, statsService service.StatisticsService) *QueryController {
	return &QueryController{
		queryService: queryService,
		statsService: statsService,
	}
}

// ListRequisitions 列出申请
// @Summary      获取申请列表
// @Description  分页获取申请列表,支持多条件查询、排序
// @Tags         查询统计
// @Produce      json
// @Param        status query string false "申请状态"
// @Param        requester_id query string false "申请人 ID"
// @Param        department query string false "部门"
// @Param        created_at_start query string false "创建时间起始"
// @Param        created_at_end query string false "创建时间结束"
// @Param        page query int false "页码" default(1)
// @Param        page_size query int false "每页数量" default(20)
// @Param        sort_by query string false "排序字段" default(created_at)
// @Param        order query string false "排序方向" Enums(asc, desc) default(desc)
// @Success      200  {object}  PaginatedResponse
// @Failure      400  {object}  ErrorResponse
// @Router       /requisitions [get]
// @Security     BearerAuth
func (c *QueryController) ListRequisitions(ctx *gin.Context) {
	filter := service.ListRequisitionsFilter{
		SortBy: ctx.DefaultQuery("sort_by", "created_at"),
		Order:  ctx.DefaultQuery("order", "desc"),
	}

	if statusStr := ctx.Query("status"); statusStr != "" {
		status := workflow.RequisitionStatus(statusStr)
		filter.Status = &status
	}
	if requester := ctx.Query("requester_id"); requester != "" {
		filter.RequesterID = &requester
	}
	if department := ctx.Query("department"); department != "" {
		filter.Department = &department
	}
	if start := ctx.Query("created_at_start"); start != "" {
		filter.StartTime = &start
	}
	if end := ctx.Query("created_at_end"); end != "" {
		filter.EndTime = &end
	}

	// 手动解析分页参数,下划线参数 Gin 不一定能正确绑定
	filter.Page = 1
	filter.PageSize = 20
	if pageStr := ctx.Query("page"); pageStr != "" {
		var page int
		if _, err := fmt.Sscanf(pageStr, "%d", &page); err == nil && page > 0 {
			filter.Page = page
		}
	}
	if pageSizeStr := ctx.Query("page_size"); pageSizeStr != "" {
		var pageSize int
		if _, err := fmt.Sscanf(pageSizeStr, "%d", &pageSize); err == nil && pageSize > 0 {
			filter.PageSize = pageSize
		}
	}

	requisitions, total, err := c.queryService.ListRequisitions(&filter)
	if err != nil {
		Error(ctx, http.StatusBadRequest, "failed to list requisitions", err.Error())
		return
	}

	totalPage := int((total + int64(filter.PageSize) - 1) / int64(filter.PageSize))
	Paginated(ctx, requisitions, PaginationInfo{
		Page:      filter.Page,
		PageSize:  filter.PageSize,
		Total:     total,
		TotalPage: totalPage,
	})
}

// GetHistory 获取状态历史
// @Summary      获取申请状态历史
// @Tags         查询统计
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Router       /requisitions/{id}/history [get]
// @Security     BearerAuth
func (c *QueryController) GetHistory(ctx *gin.Context) {
	history, err := c.queryService.GetHistory(ctx.Param("id"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, history)
}

// GetDecisions 获取审批决定记录
// @Summary      获取申请审批决定记录
// @Tags         查询统计
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Router       /requisitions/{id}/decisions [get]
// @Security     BearerAuth
func (c *QueryController) GetDecisions(ctx *gin.Context) {
	decisions, err := c.queryService.GetDecisions(ctx.Param("id"))
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, decisions)
}

// ListPending 获取角色待办
// @Summary      获取某个审批角色的待办申请
// @Tags         查询统计
// @Produce      json
// @Param        role query string true "审批角色"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Router       /requisitions/pending [get]
// @Security     BearerAuth
func (c *QueryController) ListPending(ctx *gin.Context) {
	role := ctx.Query("role")
	requisitions, err := c.queryService.ListPendingForRole(role)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, requisitions)
}

// Statistics 汇总统计
// @Summary      汇总统计
// @Description  申请按状态/部门/时间分布、审批统计与预算使用率
// @Tags         查询统计
// @Produce      json
// @Success      200  {object}  Response
// @Router       /statistics [get]
// @Security     BearerAuth
func (c *QueryController) Statistics(ctx *gin.Context) {
	byStatus, err := c.statsService.GetRequisitionStatisticsByStatus()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	byDepartment, err := c.statsService.GetRequisitionStatisticsByDepartment()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	byTime, err := c.statsService.GetRequisitionStatisticsByTime()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	approvals, err := c.statsService.GetApprovalStatistics()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	budgets, err := c.statsService.GetBudgetStatistics()
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}

	Success(ctx, gin.H{
		"by_status":     byStatus,
		"by_department": byDepartment,
		"by_time":       byTime,
		"approvals":     approvals,
		"budgets":       budgets,
	})
}
