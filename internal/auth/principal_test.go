package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mautops/procure-gin/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signToken 用 HMAC 签发一个测试 token
func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// TestTokenParser_WithSecret 测试带签名校验的解析
func TestTokenParser_WithSecret(t *testing.T) {
	parser := auth.NewTokenParser("test-secret")
	tokenString := signToken(t, "test-secret", jwt.MapClaims{
		"sub":        "emp-001",
		"role":       auth.RoleFinanceOfficer,
		"department": "finance",
		"name":       "王五",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})

	principal, err := parser.Parse("Bearer " + tokenString)
	require.NoError(t, err)
	assert.Equal(t, "emp-001", principal.UserID)
	assert.Equal(t, auth.RoleFinanceOfficer, principal.Role)
	assert.Equal(t, "finance", principal.Department)
	assert.Equal(t, "王五", principal.FullName)
}

// TestTokenParser_WrongSecret 测试签名不匹配被拒绝
func TestTokenParser_WrongSecret(t *testing.T) {
	parser := auth.NewTokenParser("test-secret")
	tokenString := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "emp-001",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := parser.Parse("Bearer " + tokenString)
	assert.Error(t, err)
}

// TestTokenParser_NoSecret 测试开发模式只解析不校验
func TestTokenParser_NoSecret(t *testing.T) {
	parser := auth.NewTokenParser("")
	tokenString := signToken(t, "anything", jwt.MapClaims{
		"sub":  "emp-001",
		"role": auth.RoleAdmin,
	})

	principal, err := parser.Parse("Bearer " + tokenString)
	require.NoError(t, err)
	assert.Equal(t, "emp-001", principal.UserID)
	assert.Equal(t, auth.RoleAdmin, principal.Role)
}

// TestTokenParser_Invalid 测试缺失或非法 token
func TestTokenParser_Invalid(t *testing.T) {
	parser := auth.NewTokenParser("")

	_, err := parser.Parse("")
	assert.Error(t, err)
	_, err = parser.Parse("Bearer ")
	assert.Error(t, err)
	_, err = parser.Parse("Bearer not-a-jwt")
	assert.Error(t, err)

	// 没有 subject 的 token 被拒绝
	tokenString := signToken(t, "x", jwt.MapClaims{"role": auth.RoleEmployee})
	_, err = parser.Parse("Bearer " + tokenString)
	assert.Error(t, err)
}

// TestPrincipal_HasRole 测试角色判定,admin 兼容所有角色
func TestPrincipal_HasRole(t *testing.T) {
	p := &auth.Principal{UserID: "u", Role: auth.RoleSupervisor}
	assert.True(t, p.HasRole(auth.RoleSupervisor))
	assert.False(t, p.HasRole(auth.RoleFinanceOfficer))

	adm := &auth.Principal{UserID: "a", Role: auth.RoleAdmin}
	assert.True(t, adm.HasRole(auth.RoleSupervisor))
	assert.True(t, adm.HasRole(auth.RoleDepartmentHead))
}

// TestPrincipalContext 测试 context 往返
func TestPrincipalContext(t *testing.T) {
	_, ok := auth.PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := auth.WithPrincipal(context.Background(), &auth.Principal{UserID: "emp-001"})
	principal, ok := auth.PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "emp-001", principal.UserID)
}
