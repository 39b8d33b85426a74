package websocket

import (
	"sync"
)

// Hub 管理所有 WebSocket 连接,按任务分组
type Hub struct {
	// 任务 ID -> 订阅该任务的客户端
	jobs map[string]map[*Client]struct{}

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// 互斥锁，保护 jobs map
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		jobs:       make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub,Stop 后关闭全部客户端并返回
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			set, ok := h.jobs[client.JobID]
			if !ok {
				set = make(map[*Client]struct{})
				h.jobs[client.JobID] = set
			}
			set[client] = struct{}{}
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.remove(client)

		case <-h.done:
			h.mu.Lock()
			for jobID, set := range h.jobs {
				for client := range set {
					client.close()
				}
				delete(h.jobs, jobID)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.jobs[client.JobID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.jobs, client.JobID)
	}
	client.close()
}

// Add 注册客户端,Hub 已停止时返回 false
func (h *Hub) Add(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Remove 注销客户端,Hub 已停止时直接关闭
func (h *Hub) Remove(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
		client.close()
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, set := range h.jobs {
		for client := range set {
			if client.ID == clientID {
				return true
			}
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.jobs {
		n += len(set)
	}
	return n
}

// GetJobClientCount 获取订阅某任务的客户端数量
func (h *Hub) GetJobClientCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.jobs[jobID])
}
