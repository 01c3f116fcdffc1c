package model_test

import (
	"testing"

	"github.com/mautops/procure-gin/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestBudgetCodeModel_Validate 测试预算科目模型校验
func TestBudgetCodeModel_Validate(t *testing.T) {
	bc := &model.BudgetCodeModel{
		ID:          "bc-001",
		Code:        "IT-CAPEX-2026",
		TotalBudget: decimal.NewFromInt(1000),
		UsedBudget:  decimal.NewFromInt(200),
	}
	assert.NoError(t, bc.Validate())

	bad := *bc
	bad.UsedBudget = decimal.NewFromInt(1500)
	assert.Error(t, bad.Validate())

	bad = *bc
	bad.TotalBudget = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())

	bad = *bc
	bad.Code = ""
	assert.Error(t, bad.Validate())
}

// TestBudgetCodeModel_AlertLevel 测试使用率与告警级别
func TestBudgetCodeModel_AlertLevel(t *testing.T) {
	bc := &model.BudgetCodeModel{
		TotalBudget: decimal.NewFromInt(1000),
		UsedBudget:  decimal.Zero,
	}
	assert.Equal(t, float64(0), bc.UtilizationPercentage())
	assert.Equal(t, "ok", bc.AlertLevel())

	bc.UsedBudget = decimal.NewFromInt(750)
	assert.InDelta(t, 75.0, bc.UtilizationPercentage(), 0.01)
	assert.Equal(t, "warning", bc.AlertLevel())

	bc.UsedBudget = decimal.NewFromInt(950)
	assert.Equal(t, "critical", bc.AlertLevel())

	// 零预算科目使用率按 0 处理
	zero := &model.BudgetCodeModel{TotalBudget: decimal.Zero, UsedBudget: decimal.Zero}
	assert.Equal(t, float64(0), zero.UtilizationPercentage())
	assert.Equal(t, "ok", zero.AlertLevel())
}
