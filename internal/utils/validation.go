package utils

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mautops/genqueue/internal/model"
)

const (
	// MaxIDLength 任务 ID 最大长度
	MaxIDLength = 64
	// MaxSearchLength 搜索关键字最大长度
	MaxSearchLength = 200
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateJobID 验证任务 ID 格式
func ValidateJobID(id string) error {
	// 1. 检查是否为空
	if id == "" {
		return ErrEmptyID
	}

	// 2. 检查长度
	if len(id) > MaxIDLength {
		return ErrIDTooLong
	}

	// 3. 检查格式(只允许字母、数字、连字符、下划线)
	if !idPattern.MatchString(id) {
		return ErrInvalidIDFormat
	}

	return nil
}

// CleanSearch 清理搜索关键字,移除控制字符,空字符串合法
func CleanSearch(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > MaxSearchLength {
		return "", ErrStringTooLong
	}

	var result strings.Builder
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			continue
		}
		result.WriteRune(r)
	}
	return result.String(), nil
}

// 错误定义
var (
	ErrEmptyID         = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrInvalidIDFormat = &ValidationError{Code: "INVALID_ID_FORMAT", Message: "id contains invalid characters"}
	ErrIDTooLong       = &ValidationError{Code: "ID_TOO_LONG", Message: "id exceeds maximum length"}
	ErrStringTooLong   = &ValidationError{Code: "STRING_TOO_LONG", Message: "string exceeds maximum length"}
)

// ValidationError 验证错误,可以通过 errors.Is 匹配 model.ErrValidation
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return model.ErrValidation
}
