package statemachine

import (
	"fmt"
	"strings"
)

// Status 生成任务状态
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusGenerated  Status = "generated"
	StatusInReview   Status = "in_review"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// all 按生命周期顺序排列的全部状态
var all = []Status{
	StatusQueued,
	StatusGenerating,
	StatusGenerated,
	StatusInReview,
	StatusApproved,
	StatusRejected,
	StatusScheduled,
	StatusPublishing,
	StatusPublished,
	StatusFailed,
	StatusCancelled,
}

// transitions 合法的状态转换图
var transitions = map[Status][]Status{
	StatusQueued:     {StatusGenerating, StatusCancelled},
	StatusGenerating: {StatusGenerated, StatusFailed, StatusCancelled},
	StatusGenerated:  {StatusInReview, StatusApproved, StatusRejected, StatusCancelled},
	StatusInReview:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusScheduled, StatusPublishing, StatusCancelled},
	StatusRejected:   {StatusQueued, StatusCancelled},
	StatusScheduled:  {StatusPublishing, StatusCancelled},
	StatusPublishing: {StatusPublished, StatusFailed},
	StatusFailed:     {StatusQueued, StatusCancelled},
	StatusPublished:  {},
	StatusCancelled:  {},
}

// All 返回全部状态
func All() []Status {
	out := make([]Status, len(all))
	copy(out, all)
	return out
}

// IsValid 判断状态是否属于已声明的状态集合
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// String 实现 fmt.Stringer
func (s Status) String() string {
	return string(s)
}

// Parse 解析状态字符串,大小写和首尾空白不敏感
func Parse(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// CanTransition 判断 from -> to 是否为合法转换
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates 返回某状态可以转换到的状态
func NextStates(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// IsTerminal 没有任何出边的状态
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsActive 进度字段仅在活动状态下有意义
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusGenerating
}

// IsTerminalForViewing 实时通道在这些状态下关闭
func (s Status) IsTerminalForViewing() bool {
	switch s {
	case StatusGenerated, StatusFailed, StatusPublished, StatusCancelled:
		return true
	}
	return false
}

// IsRetryable 只有 failed 和 rejected 可以重试
func (s Status) IsRetryable() bool {
	return s == StatusFailed || s == StatusRejected
}

// HasContent 内容阶段至少成功一次后才可能到达的状态
func (s Status) HasContent() bool {
	switch s {
	case StatusQueued, StatusGenerating:
		return false
	}
	return s.IsValid()
}
