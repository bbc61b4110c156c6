package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conveyor"

// Metrics — Prometheus метрики выполнения pipeline.
//
// Все методы допускают nil-получатель: компонент без метрик
// просто не передаёт их в Config.
type Metrics struct {
	runsTotal       *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	gateWait        *prometheus.HistogramVec
	promotionsTotal *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	schedulesFired  *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// Для сервисов reg = prometheus.DefaultRegisterer, в тестах — prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by final status and reason.",
		}, []string{"pipeline", "status", "reason"}),

		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by kind, status and reason.",
		}, []string{"kind", "status", "reason"}),

		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution time including retries.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"kind", "status"}),

		gateWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time a run spent waiting for an approval decision.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}, []string{"outcome"}),

		promotionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_total",
			Help:      "Promotion requests by environment and result.",
		}, []string{"environment", "result"}),

		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executed by this orchestrator.",
		}),

		schedulesFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_triggers_total",
			Help:      "Runs created by schedules.",
		}, []string{"pipeline", "result"}),
	}
}

// RunFinished учитывает завершённый run.
func (m *Metrics) RunFinished(pipeline, status, reason string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(pipeline, status, reason).Inc()
}

// TaskFinished учитывает завершённую задачу.
func (m *Metrics) TaskFinished(kind, status, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(kind, status, reason).Inc()
	m.taskDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// GateResolved учитывает время ожидания решения.
func (m *Metrics) GateResolved(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gateWait.WithLabelValues(outcome).Observe(d.Seconds())
}

// Promotion учитывает запрос на promotion.
func (m *Metrics) Promotion(environment string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.promotionsTotal.WithLabelValues(environment, result).Inc()
}

// RunStarted увеличивает число активных runs.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunDone уменьшает число активных runs.
func (m *Metrics) RunDone() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}

// ScheduleFired учитывает срабатывание расписания.
func (m *Metrics) ScheduleFired(pipeline string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.schedulesFired.WithLabelValues(pipeline, result).Inc()
}
