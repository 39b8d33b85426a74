package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/mautops/genqueue/internal/metrics"
	"github.com/mautops/genqueue/internal/model"
	"github.com/sirupsen/logrus"
)

// Runner 执行排队任务
type Runner interface {
	Run(ctx context.Context, id string) error
}

// Dispatcher 有界工作池,从内存队列取任务 ID 执行
// 队列满时任务保持 queued,由清扫器稍后重新入队
type Dispatcher struct {
	runner  Runner
	workers int
	queue   chan string
	logger  *logrus.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher 创建调度器
func NewDispatcher(runner Runner, workers, queueSize int, logger *logrus.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:  runner,
		workers: workers,
		queue:   make(chan string, queueSize),
		logger:  logger,
		pending: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue 非阻塞入队,已在队列中的任务视为成功,队列满时返回 false
func (d *Dispatcher) Enqueue(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; ok {
		return true
	}
	select {
	case d.queue <- id:
		d.pending[id] = struct{}{}
		metrics.SetDispatchQueueDepth(len(d.queue))
		return true
	default:
		d.logger.WithField("job_id", id).Warn("Dispatch queue is full, job stays queued")
		return false
	}
}

// IsPending 任务是否在队列中等待
func (d *Dispatcher) IsPending(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}

// Len 等待中的任务数
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Start 启动工作协程
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	d.logger.WithField("workers", d.workers).Info("Dispatcher started")
}

// Stop 停止取新任务并等待执行中的任务结束,ctx 到期时直接返回
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(n int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case id := <-d.queue:
			d.mu.Lock()
			delete(d.pending, id)
			metrics.SetDispatchQueueDepth(len(d.queue))
			d.mu.Unlock()
			d.run(n, id)
		}
	}
}

// run 执行单个任务,panic 只影响该任务
func (d *Dispatcher) run(worker int, id string) {
	log := d.logger.WithFields(logrus.Fields{"job_id": id, "worker": worker})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Job run panicked")
		}
	}()

	// 执行中的阶段不随调度器停止而取消
	err := d.runner.Run(context.Background(), id)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrPrecondition), errors.Is(err, model.ErrNotFound):
		log.WithError(err).Debug("Skipping job")
	default:
		log.WithError(err).Error("Job run failed")
	}
}
