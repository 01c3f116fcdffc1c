package utils

import (
	"errors"
	"strings"
)

// 可用于排序的列,白名单之外一律拒绝
var sortableColumns = map[string]bool{
	"created_at":       true,
	"updated_at":       true,
	"submitted_at":     true,
	"number":           true,
	"status":           true,
	"department":       true,
	"requester_id":     true,
	"requested_amount": true,
	"payment_method":   true,
}

// ValidateSortField 验证排序字段,只接受白名单内的列名
func ValidateSortField(field string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	if !sortableColumns[strings.ToLower(field)] {
		return errors.New("sort field is not allowed")
	}
	return nil
}

// ValidateSortOrder 验证排序方向
func ValidateSortOrder(order string) error {
	upper := strings.ToUpper(strings.TrimSpace(order))
	if upper != "ASC" && upper != "DESC" {
		return errors.New("sort order must be ASC or DESC")
	}
	return nil
}
