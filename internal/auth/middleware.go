package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PrincipalMiddleware 从 Authorization 头解析操作主体并写入请求 context
// 缺失或非法的 token 直接拒绝,角色/节点归属校验在工作流服务内完成
func PrincipalMiddleware(parser *TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "missing authorization header",
			})
			return
		}

		principal, err := parser.Parse(authorization)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "invalid token",
				"detail":  err.Error(),
			})
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		c.Set("user_id", principal.UserID)
		c.Next()
	}
}
