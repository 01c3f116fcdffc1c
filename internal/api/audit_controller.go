package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/mautops/procure-gin/internal/model"
	"github.com/mautops/procure-gin/internal/service"
	"github.com/mautops/procure-gin/internal/utils"
)

// AuditController 审计日志控制器
type AuditController struct {
	auditService service.AuditLogService
}

// NewAuditController 创建审计日志控制器
func NewAuditController(auditService service.AuditLogService) *AuditController {
	return &AuditController{auditService: auditService}
}

// RequisitionTrail 获取申请的审计轨迹
// @Summary      获取申请的操作审计轨迹
// @Tags         审计
// @Produce      json
// @Param        id path string true "申请 ID"
// @Success      200  {object}  Response
// @Router       /requisitions/{id}/audit [get]
// @Security     BearerAuth
func (c *AuditController) RequisitionTrail(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := utils.ValidateResourceID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid requisition ID", err.Error())
		return
	}

	logs, err := c.auditService.Find(model.ResourceRequisition, id)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, logs)
}

// ListByUser 按用户查询操作记录
// @Summary      查询某个用户最近的操作记录
// @Description  仅管理员可查,用于合规排查
// @Tags         审计
// @Produce      json
// @Param        user_id query string true "用户 ID"
// @Param        limit query int false "返回条数" default(100)
// @Success      200  {object}  Response
// @Failure      403  {object}  ErrorResponse
// @Router       /audit-logs [get]
// @Security     BearerAuth
func (c *AuditController) ListByUser(ctx *gin.Context) {
	principal, ok := auth.PrincipalFromContext(ctx.Request.Context())
	if !ok || !principal.HasRole(auth.RoleAdmin) {
		Error(ctx, http.StatusForbidden, "forbidden", "audit log queries require admin role")
		return
	}

	userID := ctx.Query("user_id")
	if err := utils.ValidateResourceID(userID); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid user ID", err.Error())
		return
	}

	limit := 100
	if limitStr := ctx.Query("limit"); limitStr != "" {
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil || limit <= 0 {
			limit = 100
		}
	}

	logs, err := c.auditService.ListByUser(userID, limit)
	if err != nil {
		HandleServiceError(ctx, err)
		return
	}
	Success(ctx, logs)
}
