package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/procure-gin/internal/repository"
	"github.com/mautops/procure-gin/internal/workflow"
)

// HandleServiceError 把服务层错误映射为 HTTP 响应
// 状态转换与澄清规则冲突归为 409,预算不足 422,
// 乐观锁冲突 409 并提示重试
func HandleServiceError(c *gin.Context, err error) {
	var (
		validationErr    *workflow.ValidationError
		transitionErr    *workflow.InvalidTransitionError
		budgetErr        *workflow.InsufficientBudgetError
		reservationErr   *workflow.ReservationNotFoundError
		unauthorizedErr  *workflow.UnauthorizedActionError
		staleErr         *workflow.StaleStateError
		clarTargetErr    *workflow.InvalidClarificationTargetError
		clarPendingErr   *workflow.ClarificationAlreadyPendingError
		externalErr      *workflow.ExternalDependencyError
	)

	switch {
	case errors.As(err, &validationErr):
		Error(c, http.StatusBadRequest, "validation failed", validationErr.Error())
	case errors.As(err, &unauthorizedErr):
		Error(c, http.StatusForbidden, "forbidden", unauthorizedErr.Error())
	case repository.IsNotFound(err), errors.As(err, &reservationErr):
		Error(c, http.StatusNotFound, "not found", err.Error())
	case errors.As(err, &transitionErr):
		Error(c, http.StatusConflict, "invalid state transition", transitionErr.Error())
	case errors.As(err, &clarTargetErr):
		Error(c, http.StatusConflict, "invalid clarification target", clarTargetErr.Error())
	case errors.As(err, &clarPendingErr):
		Error(c, http.StatusConflict, "clarification already pending", clarPendingErr.Error())
	case errors.As(err, &staleErr):
		Error(c, http.StatusConflict, "concurrent modification, please retry", staleErr.Error())
	case errors.As(err, &budgetErr):
		Error(c, http.StatusUnprocessableEntity, "insufficient budget", budgetErr.Error())
	case errors.As(err, &externalErr):
		Error(c, http.StatusBadGateway, "external dependency unavailable", externalErr.Error())
	default:
		Error(c, http.StatusInternalServerError, "internal server error", err.Error())
	}
}
