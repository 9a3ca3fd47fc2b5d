package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeManifestInvalid ErrorCode = "MANIFEST_INVALID"
	CodePolicyDenied    ErrorCode = "POLICY_DENIED"
	CodeToolFailure     ErrorCode = "TOOL_FAILURE"
	CodeBackendFailure  ErrorCode = "BACKEND_FAILURE"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewManifestInvalidError 创建清单无效错误（启动期唯一致命错误）
func NewManifestInvalidError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeManifestInvalid,
		Message: message,
		Err:     cause,
	}
}

// NewPolicyDeniedError 创建策略拒绝错误
func NewPolicyDeniedError(message string) *AppError {
	return &AppError{
		Code:    CodePolicyDenied,
		Message: message,
	}
}

// NewToolFailureError 创建工具失败错误
func NewToolFailureError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeToolFailure,
		Message: message,
		Err:     cause,
	}
}

// NewBackendFailureError 创建模型后端失败错误
func NewBackendFailureError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeBackendFailure,
		Message: message,
		Err:     cause,
	}
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// IsManifestInvalid 判断是否为清单无效错误
func IsManifestInvalid(err error) bool {
	return hasCode(err, CodeManifestInvalid)
}

// IsPolicyDenied 判断是否为策略拒绝错误
func IsPolicyDenied(err error) bool {
	return hasCode(err, CodePolicyDenied)
}

// IsBackendFailure 判断是否为后端失败错误
func IsBackendFailure(err error) bool {
	return hasCode(err, CodeBackendFailure)
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
