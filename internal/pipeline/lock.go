package pipeline

import "sync"

// LockRegistry 按任务 ID 的互斥登记表
// 同一任务同时最多一个阶段尝试,获取失败时调用方返回冲突而不是等待
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockRegistry 创建锁登记表
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{held: make(map[string]struct{})}
}

// TryAcquire 尝试获取任务锁
func (l *LockRegistry) TryAcquire(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[jobID]; ok {
		return false
	}
	l.held[jobID] = struct{}{}
	return true
}

// Release 释放任务锁
func (l *LockRegistry) Release(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, jobID)
}

// IsHeld 任务锁是否被持有
func (l *LockRegistry) IsHeld(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[jobID]
	return ok
}

// Len 当前持有的锁数量
func (l *LockRegistry) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
