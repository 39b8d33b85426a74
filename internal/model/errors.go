package model

import "errors"

// 错误分类,上层通过 errors.Is 判断并映射为 HTTP 状态码
var (
	// ErrNotFound 任务不存在
	ErrNotFound = errors.New("not found")
	// ErrValidation 参数错误或非法状态转换
	ErrValidation = errors.New("validation failed")
	// ErrPrecondition 前置条件不满足,例如从不可重试状态重试
	ErrPrecondition = errors.New("precondition failed")
	// ErrConflict 同一任务已有进行中的阶段
	ErrConflict = errors.New("conflict")
)
