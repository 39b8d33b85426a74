package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 任务创建数
	jobsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genqueue_jobs_created_total",
			Help: "Total number of generation jobs created",
		},
	)

	// 阶段执行次数
	phaseAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genqueue_phase_attempts_total",
			Help: "Total number of phase attempts by outcome",
		},
		[]string{"phase", "outcome"}, // succeeded, failed, timeout, discarded
	)

	// 阶段耗时
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genqueue_phase_duration_seconds",
			Help:    "Phase attempt duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"phase"},
	)

	// 实时通道订阅数
	liveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_live_subscribers",
			Help: "Number of active live status subscribers",
		},
	)

	// 调度队列长度
	dispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "genqueue_dispatch_queue_depth",
			Help: "Number of job ids waiting for a worker",
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 任务状态分布
	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genqueue_jobs_by_status",
			Help: "Number of generation jobs by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	// 注册指标
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(jobsCreatedTotal)
	prometheus.MustRegister(phaseAttemptsTotal)
	prometheus.MustRegister(phaseDuration)
	prometheus.MustRegister(liveSubscribers)
	prometheus.MustRegister(dispatchQueueDepth)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(jobsByStatus)

	// 注册 Go 运行时指标（只注册一次）
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordJobCreated 记录任务创建
func RecordJobCreated() {
	jobsCreatedTotal.Inc()
}

// RecordPhaseAttempt 记录一次阶段执行
func RecordPhaseAttempt(phase, outcome string, seconds float64) {
	phaseAttemptsTotal.WithLabelValues(phase, outcome).Inc()
	phaseDuration.WithLabelValues(phase).Observe(seconds)
}

// AddLiveSubscribers 调整实时订阅数
func AddLiveSubscribers(delta int) {
	liveSubscribers.Add(float64(delta))
}

// SetDispatchQueueDepth 更新调度队列长度
func SetDispatchQueueDepth(depth int) {
	dispatchQueueDepth.Set(float64(depth))
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateJobsByStatus 更新任务状态分布指标
func UpdateJobsByStatus(status string, count float64) {
	jobsByStatus.WithLabelValues(status).Set(count)
}
